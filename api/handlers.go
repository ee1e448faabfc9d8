/*
handlers.go - HTTP API handlers for the leave engine

PURPOSE:
  Exposes the leave workflow over REST. Handles HTTP request/response, JSON
  serialization and struct validation, and delegates to the services.

ENDPOINTS:
  Requests:
    POST   /api/requests                      Submit a leave request
    GET    /api/requests/{id}                 Get a request
    POST   /api/requests/{id}/withdraw        Withdraw a pending request
    GET    /api/employees/{id}/requests       An employee's requests

  Approvals:
    GET    /api/approvals/pending             Records awaiting a decision
    GET    /api/approvals/{id}                Get a record
    POST   /api/approvals/{id}/decision       Approve or reject

  Employees:
    GET    /api/employees                     List employees
    POST   /api/employees                     Create or update an employee
    GET    /api/employees/{id}/balance        Granted, used and remaining days
    GET    /api/employees/{id}/ledger         Ledger entries
    GET    /api/employees/{id}/work-status    Projected days (?from=&to=)
    POST   /api/attendance                    Check-in/check-out capture

  Internal:
    PUT    /internal/work-status              Project a status over a range
    POST   /internal/balance/grants           Grant balance (dedup-checked)

  Admin:
    GET    /api/admin/unreconciled            Sagas needing attention
    POST   /api/admin/reconcile               Run one reconciliation pass
    GET    /api/admin/accrual/failures        Queued accrual grants (?rule=)
    POST   /api/admin/accrual/{rule}/run      Run an accrual rule (?date=)

REQUEST FLOW:
  1. Decode and validate the body (validator/v10)
  2. Parse domain values (kinds, dates, decisions)
  3. Call the service
  4. Serialize the response, or map the error (errors.go)

SECURITY NOTE:
  No authentication. Callers are trusted to send their own employee id.

SEE ALSO:
  - dto.go: Request/response data structures
  - errors.go: Error to status mapping
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/accrual"
	"github.com/warp/leave-engine/approval"
	"github.com/warp/leave-engine/balance"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
	"github.com/warp/leave-engine/workflow"
	"github.com/warp/leave-engine/workstatus"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// HealthCheck reports whether a backing store is reachable.
type HealthCheck interface {
	Ping(ctx context.Context) error
}

// Deps groups the services behind the API.
type Deps struct {
	Orchestrator *workflow.Orchestrator
	Approvals    *approval.Machine
	Ledger       *balance.Ledger
	Projector    *workstatus.Projector
	Employees    accrual.Directory
	Failures     accrual.FailureQueue
	Accruals     *accrual.Timer
	Checks       map[string]HealthCheck
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	orchestrator *workflow.Orchestrator
	approvals    *approval.Machine
	ledger       *balance.Ledger
	projector    *workstatus.Projector
	employees    accrual.Directory
	failures     accrual.FailureQueue
	accruals     *accrual.Timer
	checks       map[string]HealthCheck

	validate *validator.Validate
	logger   *zap.Logger
}

// NewHandler creates a handler over the given services.
func NewHandler(deps Deps, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.L()
	}
	l := logger.Named("api")
	return &Handler{
		orchestrator: deps.Orchestrator,
		approvals:    deps.Approvals,
		ledger:       deps.Ledger,
		projector:    deps.Projector,
		employees:    deps.Employees,
		failures:     deps.Failures,
		accruals:     deps.Accruals,
		checks:       deps.Checks,
		validate:     newValidator(),
		logger:       l,
	}
}

// =============================================================================
// LEAVE REQUEST HANDLERS
// =============================================================================

// SubmitRequest stores a request and opens its approval record.
// POST /api/requests
func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if !h.decode(w, r, &req) {
		return
	}

	kind, err := timeoff.ParseKind(req.Kind)
	if err != nil {
		h.writeServiceError(w, r, "Invalid leave kind", err)
		return
	}
	dates, err := parseRange(req.StartDate, req.EndDate)
	if err != nil {
		h.writeServiceError(w, r, "Invalid date range", err)
		return
	}
	cmd := workflow.SubmitCommand{
		RequesterID: generic.EmployeeID(req.RequesterID),
		Kind:        kind,
		Range:       dates,
		Reason:      req.Reason,
	}
	if req.TimeRange != nil {
		cmd.TimeRange = &timeoff.TimeRange{Start: req.TimeRange.Start, End: req.TimeRange.End}
	}

	res, err := h.orchestrator.Submit(r.Context(), cmd)
	if err != nil {
		h.writeServiceError(w, r, "Failed to submit request", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// GetRequest returns one leave request.
// GET /api/requests/{id}
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.orchestrator.Request(r.Context(), generic.RequestID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, "Failed to get request", err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(req))
}

// WithdrawRequest closes a request that has no decision yet.
// POST /api/requests/{id}/withdraw
func (h *Handler) WithdrawRequest(w http.ResponseWriter, r *http.Request) {
	var body WithdrawRequest
	if !h.decode(w, r, &body) {
		return
	}
	req, err := h.orchestrator.Withdraw(r.Context(), generic.RequestID(chi.URLParam(r, "id")), generic.EmployeeID(body.RequesterID))
	if err != nil {
		h.writeServiceError(w, r, "Failed to withdraw request", err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(req))
}

// ListEmployeeRequests returns an employee's requests.
// GET /api/employees/{id}/requests
func (h *Handler) ListEmployeeRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.orchestrator.RequestsOf(r.Context(), generic.EmployeeID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, "Failed to list requests", err)
		return
	}
	dtos := make([]RequestDTO, len(reqs))
	for i, req := range reqs {
		dtos[i] = toRequestDTO(req)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// APPROVAL HANDLERS
// =============================================================================

// ListPendingApprovals returns records awaiting a decision, oldest first.
// GET /api/approvals/pending
func (h *Handler) ListPendingApprovals(w http.ResponseWriter, r *http.Request) {
	records, err := h.approvals.ListPending(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "Failed to list pending approvals", err)
		return
	}
	dtos := make([]ApprovalDTO, len(records))
	for i, rec := range records {
		dtos[i] = toApprovalDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetApproval returns one approval record.
// GET /api/approvals/{id}
func (h *Handler) GetApproval(w http.ResponseWriter, r *http.Request) {
	rec, err := h.approvals.Get(r.Context(), generic.ApprovalID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, "Failed to get approval", err)
		return
	}
	writeJSON(w, http.StatusOK, toApprovalDTO(rec))
}

// DecideApproval approves or rejects a pending record and fans the decision
// out to the ledger and the work-status projection.
// POST /api/approvals/{id}/decision
func (h *Handler) DecideApproval(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req DecisionRequest
	if !h.decode(w, r, &req) {
		return
	}
	decision, err := approval.ParseDecision(req.Decision)
	if err != nil {
		h.writeServiceError(w, r, "Invalid decision", err)
		return
	}

	rec, err := h.orchestrator.Decide(ctx, workflow.DecideCommand{
		ApprovalID: generic.ApprovalID(chi.URLParam(r, "id")),
		ApproverID: generic.EmployeeID(req.ApproverID),
		Decision:   decision,
		Comment:    req.Comment,
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to apply decision", err)
		return
	}

	resp := map[string]any{"approval": toApprovalDTO(rec)}
	if saga, err := h.orchestrator.Saga(ctx, rec.ID); err == nil {
		resp["workflow_state"] = saga.State
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListEmployees returns all employees.
// GET /api/employees
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.employees.ListEmployees(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "Failed to list employees", err)
		return
	}
	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = toEmployeeDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateEmployee creates or updates an employee. The hire date drives the
// anniversary accrual.
// POST /api/employees
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if !h.decode(w, r, &req) {
		return
	}
	hireDate, err := parseDate("hire_date", req.HireDate)
	if err != nil {
		h.writeServiceError(w, r, "Invalid hire_date format (use YYYY-MM-DD)", err)
		return
	}
	emp := accrual.Employee{
		ID:       generic.EmployeeID(req.ID),
		Name:     req.Name,
		HireDate: hireDate,
		Active:   req.Active == nil || *req.Active,
	}
	if err := h.employees.SaveEmployee(r.Context(), emp); err != nil {
		h.writeServiceError(w, r, "Failed to save employee", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(emp))
}

// GetBalance returns granted, used and remaining days.
// GET /api/employees/{id}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	summary, err := h.ledger.Balance(r.Context(), generic.EmployeeID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, "Failed to get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// GetLedger returns an employee's ledger entries in commit order.
// GET /api/employees/{id}/ledger
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	entries, err := h.ledger.Entries(r.Context(), generic.EmployeeID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, "Failed to get ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

// GetWorkStatus returns projected days within [from, to].
// GET /api/employees/{id}/work-status?from=YYYY-MM-DD&to=YYYY-MM-DD
func (h *Handler) GetWorkStatus(w http.ResponseWriter, r *http.Request) {
	dates, err := parseRange(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		h.writeServiceError(w, r, "Invalid date range", err)
		return
	}
	records, err := h.projector.ListRange(r.Context(), generic.EmployeeID(chi.URLParam(r, "id")), dates)
	if err != nil {
		h.writeServiceError(w, r, "Failed to get work status", err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkStatusDTOs(records))
}

// RecordAttendance stores check-in/check-out timestamps.
// POST /api/attendance
func (h *Handler) RecordAttendance(w http.ResponseWriter, r *http.Request) {
	var req AttendanceRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		h.writeServiceError(w, r, "Invalid date", err)
		return
	}
	ev := workstatus.AttendanceEvent{
		EmployeeID: generic.EmployeeID(req.EmployeeID),
		Date:       date,
		CheckIn:    req.CheckIn,
		CheckOut:   req.CheckOut,
	}
	if req.StatusType != "" {
		if ev.StatusType, err = workstatus.ParseStatusType(req.StatusType); err != nil {
			h.writeServiceError(w, r, "Invalid status type", err)
			return
		}
	}

	saved, err := h.projector.RecordAttendance(r.Context(), ev)
	if err != nil {
		h.writeServiceError(w, r, "Failed to record attendance", err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkStatusDTO(saved))
}

// =============================================================================
// INTERNAL HANDLERS
// =============================================================================

// UpsertWorkStatus projects one status over a date range.
// PUT /internal/work-status
func (h *Handler) UpsertWorkStatus(w http.ResponseWriter, r *http.Request) {
	var req WorkStatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	dates, err := parseRange(req.StartDate, req.EndDate)
	if err != nil {
		h.writeServiceError(w, r, "Invalid date range", err)
		return
	}
	status, err := workstatus.ParseStatusType(req.StatusType)
	if err != nil {
		h.writeServiceError(w, r, "Invalid status type", err)
		return
	}

	n, err := h.projector.UpsertRange(r.Context(), workstatus.UpsertCommand{
		EmployeeID: generic.EmployeeID(req.EmployeeID),
		Range:      dates,
		StatusType: status,
		Reason:     req.Reason,
		SourceRef:  req.SourceRef,
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to upsert work status", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": n})
}

// GrantBalance adds days to a balance. A period and rule make it an
// accrual grant applied at most once for that period.
// POST /internal/balance/grants
func (h *Handler) GrantBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req GrantRequest
	if !h.decode(w, r, &req) {
		return
	}
	employeeID := generic.EmployeeID(req.EmployeeID)

	if req.Period != "" {
		rule, err := accrual.ParseRule(req.Rule)
		if err != nil {
			h.writeServiceError(w, r, "Invalid accrual rule", err)
			return
		}
		applied, remaining, err := h.ledger.GrantAccrual(ctx, balance.AccrualGrant{
			EmployeeID: employeeID,
			Period:     generic.Period(req.Period),
			Rule:       string(rule),
			Amount:     req.Amount,
		})
		if err != nil {
			h.writeServiceError(w, r, "Failed to grant balance", err)
			return
		}
		writeJSON(w, http.StatusOK, GrantDTO{Applied: &applied, Remaining: remaining})
		return
	}

	remaining, err := h.ledger.Grant(ctx, employeeID, req.Amount, req.IdempotencyKey, req.Reason)
	if err != nil {
		h.writeServiceError(w, r, "Failed to grant balance", err)
		return
	}
	writeJSON(w, http.StatusOK, GrantDTO{Remaining: remaining})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// ListUnreconciled returns sagas in pending_reconciliation or failed.
// GET /api/admin/unreconciled
func (h *Handler) ListUnreconciled(w http.ResponseWriter, r *http.Request) {
	sagas, err := h.orchestrator.ListUnreconciled(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "Failed to list unreconciled workflows", err)
		return
	}
	if sagas == nil {
		sagas = []*workflow.Saga{}
	}
	writeJSON(w, http.StatusOK, sagas)
}

// Reconcile runs one reconciliation pass synchronously.
// POST /api/admin/reconcile
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.orchestrator.Reconcile(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "Reconciliation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ListAccrualFailures returns queued accrual grants.
// GET /api/admin/accrual/failures?rule=
func (h *Handler) ListAccrualFailures(w http.ResponseWriter, r *http.Request) {
	var rule accrual.Rule
	if q := r.URL.Query().Get("rule"); q != "" {
		var err error
		if rule, err = accrual.ParseRule(q); err != nil {
			h.writeServiceError(w, r, "Invalid accrual rule", err)
			return
		}
	}
	failures, err := h.failures.List(r.Context(), rule)
	if err != nil {
		h.writeServiceError(w, r, "Failed to list accrual failures", err)
		return
	}
	if failures == nil {
		failures = []accrual.Failure{}
	}
	writeJSON(w, http.StatusOK, failures)
}

// RunAccrual runs an accrual rule for a date, today by default. Re-running
// for the same period grants nothing twice.
// POST /api/admin/accrual/{rule}/run?date=
func (h *Handler) RunAccrual(w http.ResponseWriter, r *http.Request) {
	rule, err := accrual.ParseRule(chi.URLParam(r, "rule"))
	if err != nil {
		h.writeServiceError(w, r, "Invalid accrual rule", err)
		return
	}
	var date generic.Date
	if q := r.URL.Query().Get("date"); q != "" {
		if date, err = parseDate("date", q); err != nil {
			h.writeServiceError(w, r, "Invalid date", err)
			return
		}
	}

	report, err := h.accruals.RunNow(r.Context(), rule, date)
	if err != nil {
		h.writeServiceError(w, r, "Accrual run failed", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Health pings every registered store.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{}
	healthy := true
	for name, check := range h.checks {
		if err := check.Ping(r.Context()); err != nil {
			status[name] = err.Error()
			healthy = false
			continue
		}
		status[name] = "ok"
	}
	if !healthy {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "checks": status})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "checks": status})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// decode reads a JSON body into dst and runs struct validation. It writes
// the 400 response itself and reports whether the handler may continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			h.writeServiceError(w, r, "Invalid request body", err)
			return false
		}
		writeError(w, http.StatusBadRequest, CodeInvalidInput, "Invalid request body", mapValidationError(err))
		return false
	}
	return true
}

func parseDate(field, s string) (generic.Date, error) {
	if strings.TrimSpace(s) == "" {
		return generic.Date{}, &generic.ValidationError{Field: field, Message: "is required"}
	}
	d, err := generic.ParseDate(s)
	if err != nil {
		return generic.Date{}, &generic.ValidationError{Field: field, Message: "invalid date " + s + ", expected YYYY-MM-DD"}
	}
	return d, nil
}

func parseRange(from, to string) (generic.DateRange, error) {
	start, err := parseDate("start_date", from)
	if err != nil {
		return generic.DateRange{}, err
	}
	end, err := parseDate("end_date", to)
	if err != nil {
		return generic.DateRange{}, err
	}
	dates := generic.NewDateRange(start, end)
	return dates, dates.Validate()
}
