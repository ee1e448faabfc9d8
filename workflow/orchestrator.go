package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/warp/leave-engine/approval"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
	"github.com/warp/leave-engine/workstatus"
)

// Deps groups the collaborators of an Orchestrator.
type Deps struct {
	Requests  timeoff.Repository
	Approvals Approvals
	Sagas     SagaRepository
	Ledger    LedgerClient
	Projector ProjectorClient
}

// Orchestrator runs the leave lifecycle.
type Orchestrator struct {
	requests  timeoff.Repository
	approvals Approvals
	sagas     SagaRepository
	ledger    LedgerClient
	projector ProjectorClient
	call      generic.CallPolicy
	now       generic.NowFunc
	newID     func() string
	logger    *zap.Logger

	flight singleflight.Group
}

// NewOrchestrator wires the request, approval and saga stores to the two
// fan-out targets. Calls to the targets follow call.
func NewOrchestrator(deps Deps, call generic.CallPolicy, now generic.NowFunc, newID func() string, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.L()
	}
	l := logger.Named("workflow.orchestrator")
	if now == nil {
		now = generic.UTCNow
	}
	if newID == nil {
		newID = uuid.NewString
	}
	return &Orchestrator{
		requests:  deps.Requests,
		approvals: deps.Approvals,
		sagas:     deps.Sagas,
		ledger:    deps.Ledger,
		projector: deps.Projector,
		call:      call,
		now:       now,
		newID:     newID,
		logger:    l,
	}
}

// =============================================================================
// SUBMIT
// =============================================================================

type SubmitCommand struct {
	RequesterID generic.EmployeeID
	Kind        timeoff.Kind
	Range       generic.DateRange
	TimeRange   *timeoff.TimeRange
	Reason      string
}

type SubmitResult struct {
	RequestID  generic.RequestID  `json:"request_id"`
	ApprovalID generic.ApprovalID `json:"approval_id"`
}

// Submit stores a new request and opens its PENDING approval record.
func (o *Orchestrator) Submit(ctx context.Context, cmd SubmitCommand) (SubmitResult, error) {
	o.logger.Debug("submit leave requested",
		zap.String("employee_id", string(cmd.RequesterID)),
		zap.String("kind", string(cmd.Kind)),
		zap.Stringer("range", cmd.Range),
	)

	now := o.now()
	req, err := timeoff.NewLeaveRequest(generic.RequestID(o.newID()), cmd.RequesterID, cmd.Kind, cmd.Range, cmd.TimeRange, cmd.Reason, now)
	if err != nil {
		o.logger.Warn("submit leave validation failed", zap.String("employee_id", string(cmd.RequesterID)), zap.Error(err))
		return SubmitResult{}, err
	}
	if err := o.requests.Save(ctx, req); err != nil {
		o.logger.Error("submit leave persist failed", zap.String("request_id", string(req.ID)), zap.Error(err))
		return SubmitResult{}, fmt.Errorf("save leave request: %w", err)
	}

	rec, err := o.approvals.Create(ctx, req.RequesterID, string(req.Kind), req.ID)
	if err != nil {
		o.logger.Error("open approval failed", zap.String("request_id", string(req.ID)), zap.Error(err))
		return SubmitResult{}, o.abortSubmit(ctx, req, nil, fmt.Errorf("open approval: %w", err))
	}
	if err := req.AttachApproval(rec.ID, now); err != nil {
		return SubmitResult{}, o.abortSubmit(ctx, req, rec, err)
	}
	if err := o.requests.Save(ctx, req); err != nil {
		o.logger.Error("link approval persist failed", zap.String("request_id", string(req.ID)), zap.Error(err))
		return SubmitResult{}, o.abortSubmit(ctx, req, rec, fmt.Errorf("link approval: %w", err))
	}

	saga := &Saga{
		ApprovalID: rec.ID,
		RequestID:  req.ID,
		EmployeeID: req.RequesterID,
		State:      SagaAwaitingDecision,
		Decision:   approval.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := o.sagas.Save(ctx, saga); err != nil {
		o.logger.Error("saga persist failed", zap.String("approval_id", string(rec.ID)), zap.Error(err))
		return SubmitResult{}, o.abortSubmit(ctx, req, rec, fmt.Errorf("save saga: %w", err))
	}

	o.logger.Info("submit leave success",
		zap.String("employee_id", string(req.RequesterID)),
		zap.String("request_id", string(req.ID)),
		zap.String("approval_id", string(rec.ID)),
	)
	return SubmitResult{RequestID: req.ID, ApprovalID: rec.ID}, nil
}

// abortSubmit undoes a half-finished submission so no PENDING request is left
// without a live approval record and saga. The opened record, if any, is
// withdrawn and the request row is removed. Compensation failures are logged;
// cause is always returned.
func (o *Orchestrator) abortSubmit(ctx context.Context, req *timeoff.LeaveRequest, rec *approval.Record, cause error) error {
	ctx = context.WithoutCancel(ctx)
	log := o.logger.With(zap.String("request_id", string(req.ID)), zap.NamedError("cause", cause))
	if rec != nil {
		if _, err := o.approvals.Withdraw(ctx, rec.ID, req.RequesterID); err != nil {
			log.Error("submit compensation: close approval failed", zap.String("approval_id", string(rec.ID)), zap.Error(err))
		}
	}
	if err := o.requests.Delete(ctx, req.ID); err != nil {
		log.Error("submit compensation: delete request failed", zap.Error(err))
		return cause
	}
	log.Warn("submit aborted")
	return cause
}

// =============================================================================
// DECIDE
// =============================================================================

type DecideCommand struct {
	ApprovalID generic.ApprovalID
	ApproverID generic.EmployeeID
	Decision   approval.Decision
	Comment    string
}

// Decide persists the decision, then fans out. Validation, conflict and
// insufficient-balance errors are returned to the caller together with the
// persisted record. Transient fan-out failures are not: the decision stands
// and the saga waits for reconciliation.
func (o *Orchestrator) Decide(ctx context.Context, cmd DecideCommand) (*approval.Record, error) {
	var (
		rec *approval.Record
		err error
	)
	switch cmd.Decision {
	case approval.DecisionApprove:
		rec, err = o.approvals.Approve(ctx, cmd.ApprovalID, cmd.ApproverID)
	case approval.DecisionReject:
		rec, err = o.approvals.Reject(ctx, cmd.ApprovalID, cmd.ApproverID, cmd.Comment)
	default:
		err = &generic.ValidationError{Field: "decision", Message: fmt.Sprintf("must be APPROVE or REJECT, got %q", cmd.Decision)}
	}
	if err != nil {
		return nil, err
	}

	if _, err := o.OnDecision(ctx, rec.ID); err != nil {
		if errors.Is(err, generic.ErrTransient) {
			o.logger.Warn("decision fan-out deferred to reconciliation",
				zap.String("approval_id", string(rec.ID)),
				zap.Error(err),
			)
			return rec, nil
		}
		return rec, err
	}
	return rec, nil
}

// =============================================================================
// WITHDRAW
// =============================================================================

// Withdraw closes a request that is still PENDING. Once a decision exists
// the request is immutable and this fails with a ConflictError.
func (o *Orchestrator) Withdraw(ctx context.Context, requestID generic.RequestID, requesterID generic.EmployeeID) (*timeoff.LeaveRequest, error) {
	req, err := o.requests.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.RequesterID != requesterID {
		return nil, &generic.ValidationError{Field: "requester_id", Message: "only the requester can withdraw a request"}
	}
	if req.Status != timeoff.StatusPending {
		return nil, &generic.ConflictError{
			Resource: "leave_request",
			ID:       string(req.ID),
			Message:  fmt.Sprintf("request is %s; submit a new compensating request instead", req.Status),
		}
	}

	if _, err := o.approvals.Withdraw(ctx, req.ApprovalID, requesterID); err != nil {
		return nil, err
	}
	now := o.now()
	if err := req.Mirror(timeoff.StatusWithdrawn, now); err != nil {
		return nil, err
	}
	if err := o.requests.Save(ctx, req); err != nil {
		return nil, fmt.Errorf("save leave request: %w", err)
	}

	saga, err := o.loadSaga(ctx, req, now)
	if err != nil {
		return nil, err
	}
	saga.State = SagaWithdrawn
	saga.Decision = approval.StatusRejected
	saga.UpdatedAt = now
	if err := o.sagas.Save(ctx, saga); err != nil {
		return nil, fmt.Errorf("save saga: %w", err)
	}

	o.logger.Info("leave request withdrawn",
		zap.String("request_id", string(req.ID)),
		zap.String("approval_id", string(req.ApprovalID)),
	)
	return req, nil
}

// =============================================================================
// ON DECISION - The fan-out
// =============================================================================

// OnDecision converges the ledger and the projection with a terminal
// approval. It is safe to call any number of times; concurrent calls for
// the same approval share one execution.
func (o *Orchestrator) OnDecision(ctx context.Context, id generic.ApprovalID) (*Saga, error) {
	v, err, _ := o.flight.Do(string(id), func() (any, error) {
		return o.onDecision(ctx, id)
	})
	saga, _ := v.(*Saga)
	return saga, err
}

func (o *Orchestrator) onDecision(ctx context.Context, id generic.ApprovalID) (*Saga, error) {
	log := o.logger.With(zap.String("approval_id", string(id)))

	rec, err := o.approvals.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.IsTerminal() {
		return nil, &generic.ConflictError{Resource: "approval", ID: string(id), Message: "no decision has been recorded yet"}
	}

	req, err := o.requests.Get(ctx, rec.RequestID)
	if err != nil {
		return nil, fmt.Errorf("load request for approval %s: %w", id, err)
	}
	now := o.now()
	saga, err := o.loadSaga(ctx, req, now)
	if err != nil {
		return nil, err
	}
	if saga.State.IsFinal() {
		log.Debug("decision already handled", zap.String("state", string(saga.State)))
		return saga, nil
	}

	withdrawn := isWithdrawal(rec)
	if err := req.Mirror(requestStatusFor(rec, withdrawn), now); err != nil {
		return nil, &generic.InvariantViolationError{Invariant: "request mirrors approval", Detail: err.Error()}
	}
	if err := o.requests.Save(ctx, req); err != nil {
		return nil, fmt.Errorf("save leave request: %w", err)
	}

	saga.Decision = rec.Status
	saga.Attempts++
	saga.UpdatedAt = now

	if rec.Status == approval.StatusRejected {
		saga.State = SagaCompleted
		if withdrawn {
			saga.State = SagaWithdrawn
		}
		saga.LastError = ""
		if err := o.sagas.Save(ctx, saga); err != nil {
			return nil, fmt.Errorf("save saga: %w", err)
		}
		log.Info("rejection recorded, nothing to fan out")
		return saga, nil
	}

	if req.Kind.DebitsBalance() && !saga.LedgerApplied {
		if err := o.debit(ctx, rec, req, log); err != nil {
			return o.park(ctx, saga, err, log)
		}
		saga.LedgerApplied = true
		saga.UpdatedAt = o.now()
		if err := o.sagas.Save(ctx, saga); err != nil {
			return nil, fmt.Errorf("save saga: %w", err)
		}
	}

	if !saga.ProjectionApplied {
		if err := o.project(ctx, rec, req, log); err != nil {
			return o.park(ctx, saga, err, log)
		}
		saga.ProjectionApplied = true
	}

	saga.State = SagaCompleted
	saga.LastError = ""
	saga.UpdatedAt = o.now()
	if err := o.sagas.Save(ctx, saga); err != nil {
		return nil, fmt.Errorf("save saga: %w", err)
	}
	log.Info("decision fan-out completed",
		zap.String("employee_id", string(req.RequesterID)),
		zap.Bool("ledger_applied", saga.LedgerApplied),
	)
	return saga, nil
}

func (o *Orchestrator) debit(ctx context.Context, rec *approval.Record, req *timeoff.LeaveRequest, log *zap.Logger) error {
	days := req.Days()
	if !days.IsPositive() {
		return nil
	}
	reason := fmt.Sprintf("leave %s %s", req.Kind, req.Range)
	_, err := generic.Call(ctx, o.call, "ledger.Use", func(ctx context.Context) (generic.Amount, error) {
		return o.ledger.Use(ctx, req.RequesterID, days, LedgerKey(rec.ID), reason)
	}, retryLogger(log, "ledger.Use"))
	return err
}

func (o *Orchestrator) project(ctx context.Context, rec *approval.Record, req *timeoff.LeaveRequest, log *zap.Logger) error {
	reason := req.Reason
	if reason == "" {
		reason = string(req.Kind)
	}
	_, err := generic.Call(ctx, o.call, "projector.UpsertRange", func(ctx context.Context) (int, error) {
		return o.projector.UpsertRange(ctx, workstatus.UpsertCommand{
			EmployeeID: req.RequesterID,
			Range:      req.Range,
			StatusType: req.Kind.StatusType(),
			Reason:     reason,
			SourceRef:  ProjectionKey(rec.ID),
		})
	}, retryLogger(log, "projector.UpsertRange"))
	return err
}

// park records why the fan-out stopped. Permanent refusals end the saga in
// failed; everything else waits for reconciliation.
func (o *Orchestrator) park(ctx context.Context, saga *Saga, cause error, log *zap.Logger) (*Saga, error) {
	saga.LastError = cause.Error()
	saga.UpdatedAt = o.now()
	if generic.IsPermanent(cause) {
		saga.State = SagaFailed
		log.Warn("decision fan-out refused", zap.Error(cause))
	} else {
		saga.State = SagaPendingReconciliation
		log.Error("decision fan-out exhausted retries, pending reconciliation",
			zap.Bool("ledger_applied", saga.LedgerApplied),
			zap.Error(cause),
		)
	}
	if err := o.sagas.Save(ctx, saga); err != nil {
		log.Error("saga persist failed", zap.Error(err))
		return saga, errors.Join(cause, fmt.Errorf("save saga: %w", err))
	}
	return saga, cause
}

func retryLogger(log *zap.Logger, op string) func(int, error, time.Duration) {
	return func(attempt int, err error, next time.Duration) {
		log.Warn("call attempt failed",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("next", next),
			zap.Error(err),
		)
	}
}

// loadSaga returns the saga of a request, creating it for approvals that
// were opened outside Submit.
func (o *Orchestrator) loadSaga(ctx context.Context, req *timeoff.LeaveRequest, now time.Time) (*Saga, error) {
	saga, err := o.sagas.Get(ctx, req.ApprovalID)
	if err == nil {
		return saga, nil
	}
	if !generic.IsNotFound(err) {
		return nil, err
	}
	return &Saga{
		ApprovalID: req.ApprovalID,
		RequestID:  req.ID,
		EmployeeID: req.RequesterID,
		State:      SagaAwaitingDecision,
		Decision:   approval.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func isWithdrawal(rec *approval.Record) bool {
	return rec.Status == approval.StatusRejected &&
		rec.RejectComment == approval.WithdrawnComment &&
		rec.ApproverID == rec.ApplicantID
}

func requestStatusFor(rec *approval.Record, withdrawn bool) timeoff.RequestStatus {
	switch {
	case withdrawn:
		return timeoff.StatusWithdrawn
	case rec.Status == approval.StatusApproved:
		return timeoff.StatusApproved
	default:
		return timeoff.StatusRejected
	}
}

// =============================================================================
// QUERIES AND RECONCILIATION
// =============================================================================

// ListUnreconciled returns sagas an operator has to look at.
func (o *Orchestrator) ListUnreconciled(ctx context.Context) ([]*Saga, error) {
	return o.sagas.ListByState(ctx, SagaPendingReconciliation, SagaFailed)
}

// Saga returns the fan-out state for one approval.
func (o *Orchestrator) Saga(ctx context.Context, id generic.ApprovalID) (*Saga, error) {
	return o.sagas.Get(ctx, id)
}

func (o *Orchestrator) Request(ctx context.Context, id generic.RequestID) (*timeoff.LeaveRequest, error) {
	return o.requests.Get(ctx, id)
}

func (o *Orchestrator) RequestsOf(ctx context.Context, employeeID generic.EmployeeID) ([]*timeoff.LeaveRequest, error) {
	return o.requests.ListByRequester(ctx, employeeID)
}

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	Examined  int                  `json:"examined"`
	Completed []generic.ApprovalID `json:"completed"`
	Pending   []generic.ApprovalID `json:"pending"`
	Failed    []generic.ApprovalID `json:"failed"`
}

// Reconcile re-drives every unfinished saga whose approval is decided. A
// saga still awaiting a human decision is left alone; failed sagas need an
// operator and are not retried.
func (o *Orchestrator) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	sagas, err := o.sagas.ListByState(ctx, SagaAwaitingDecision, SagaPendingReconciliation)
	if err != nil {
		return report, fmt.Errorf("list unfinished sagas: %w", err)
	}

	for _, s := range sagas {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Examined++

		rec, err := o.approvals.Get(ctx, s.ApprovalID)
		if err != nil {
			o.logger.Error("reconcile approval lookup failed", zap.String("approval_id", string(s.ApprovalID)), zap.Error(err))
			report.Pending = append(report.Pending, s.ApprovalID)
			continue
		}
		if !rec.IsTerminal() {
			continue
		}

		result, err := o.OnDecision(ctx, s.ApprovalID)
		switch {
		case err == nil && result != nil && result.State == SagaFailed:
			report.Failed = append(report.Failed, s.ApprovalID)
		case err == nil:
			report.Completed = append(report.Completed, s.ApprovalID)
		case generic.IsPermanent(err):
			report.Failed = append(report.Failed, s.ApprovalID)
		default:
			report.Pending = append(report.Pending, s.ApprovalID)
		}
	}

	o.logger.Info("reconciliation pass completed",
		zap.Int("examined", report.Examined),
		zap.Int("completed", len(report.Completed)),
		zap.Int("pending", len(report.Pending)),
		zap.Int("failed", len(report.Failed)),
	)
	return report, nil
}
