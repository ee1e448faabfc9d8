// Package memory provides in-memory repository implementations (for testing/dev).
// Every type hands out copies, so callers never alias stored state.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/leave-engine/accrual"
	"github.com/warp/leave-engine/approval"
	"github.com/warp/leave-engine/balance"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
	"github.com/warp/leave-engine/workflow"
	"github.com/warp/leave-engine/workstatus"
)

// =============================================================================
// LEAVE REQUESTS
// =============================================================================

type Requests struct {
	mu   sync.RWMutex
	byID map[generic.RequestID]timeoff.LeaveRequest
}

var _ timeoff.Repository = (*Requests)(nil)

func NewRequests() *Requests {
	return &Requests{byID: make(map[generic.RequestID]timeoff.LeaveRequest)}
}

func (m *Requests) Save(_ context.Context, r *timeoff.LeaveRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[r.ID] = copyRequest(r)
	return nil
}

func (m *Requests) Delete(_ context.Context, id generic.RequestID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, id)
	return nil
}

func (m *Requests) Get(_ context.Context, id generic.RequestID) (*timeoff.LeaveRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.byID[id]
	if !ok {
		return nil, &generic.NotFoundError{Resource: "leave_request", ID: string(id)}
	}
	out := copyRequest(&r)
	return &out, nil
}

func (m *Requests) ListByRequester(_ context.Context, employeeID generic.EmployeeID) ([]*timeoff.LeaveRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*timeoff.LeaveRequest
	for _, r := range m.byID {
		if r.RequesterID == employeeID {
			c := copyRequest(&r)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Range.Start.Equal(out[j].Range.Start) {
			return out[i].Range.Start.Before(out[j].Range.Start)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func copyRequest(r *timeoff.LeaveRequest) timeoff.LeaveRequest {
	c := *r
	if r.TimeRange != nil {
		tr := *r.TimeRange
		c.TimeRange = &tr
	}
	return c
}

// =============================================================================
// APPROVALS
// =============================================================================

type Approvals struct {
	mu        sync.RWMutex
	byID      map[generic.ApprovalID]approval.Record
	byRequest map[generic.RequestID]generic.ApprovalID
}

var _ approval.Repository = (*Approvals)(nil)

func NewApprovals() *Approvals {
	return &Approvals{
		byID:      make(map[generic.ApprovalID]approval.Record),
		byRequest: make(map[generic.RequestID]generic.ApprovalID),
	}
}

func (m *Approvals) Create(_ context.Context, r *approval.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byRequest[r.RequestID]; exists {
		return &generic.ConflictError{Resource: "approval", ID: string(r.RequestID), Message: "an approval record already exists for this request"}
	}
	if _, exists := m.byID[r.ID]; exists {
		return &generic.ConflictError{Resource: "approval", ID: string(r.ID), Message: "duplicate id"}
	}
	m.byID[r.ID] = copyApproval(r)
	m.byRequest[r.RequestID] = r.ID
	return nil
}

func (m *Approvals) Get(_ context.Context, id generic.ApprovalID) (*approval.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.byID[id]
	if !ok {
		return nil, &generic.NotFoundError{Resource: "approval", ID: string(id)}
	}
	out := copyApproval(&r)
	return &out, nil
}

func (m *Approvals) FindByRequest(ctx context.Context, requestID generic.RequestID) (*approval.Record, error) {
	m.mu.RLock()
	id, ok := m.byRequest[requestID]
	m.mu.RUnlock()
	if !ok {
		return nil, &generic.NotFoundError{Resource: "approval", ID: "for request " + string(requestID)}
	}
	return m.Get(ctx, id)
}

func (m *Approvals) CompareAndSwap(_ context.Context, r *approval.Record, expected approval.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.byID[r.ID]
	if !ok {
		return &generic.NotFoundError{Resource: "approval", ID: string(r.ID)}
	}
	if current.Status != expected {
		return &generic.ConflictError{
			Resource: "approval",
			ID:       string(r.ID),
			Message:  "expected " + string(expected) + " but record is " + string(current.Status),
		}
	}
	m.byID[r.ID] = copyApproval(r)
	return nil
}

func (m *Approvals) ListPending(_ context.Context) ([]*approval.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*approval.Record
	for _, r := range m.byID {
		if r.Status == approval.StatusPending {
			c := copyApproval(&r)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

func copyApproval(r *approval.Record) approval.Record {
	c := *r
	if r.ProcessedAt != nil {
		t := *r.ProcessedAt
		c.ProcessedAt = &t
	}
	return c
}

// =============================================================================
// BALANCE LEDGER
// =============================================================================

type markerKey struct {
	employeeID generic.EmployeeID
	period     generic.Period
	rule       string
}

type Ledger struct {
	mu       sync.RWMutex
	accounts map[generic.EmployeeID]balance.Account
	entries  []balance.Entry
	keys     map[string]balance.Entry
	markers  map[markerKey]balance.AccrualGrant

	// CommitHook, when set, runs before every commit; a non-nil return
	// aborts the commit. Tests use it to inject failures.
	CommitHook func(c balance.Commit) error
}

var _ balance.Store = (*Ledger)(nil)

func NewLedger() *Ledger {
	return &Ledger{
		accounts: make(map[generic.EmployeeID]balance.Account),
		keys:     make(map[string]balance.Entry),
		markers:  make(map[markerKey]balance.AccrualGrant),
	}
}

func (m *Ledger) LoadAccount(_ context.Context, employeeID generic.EmployeeID) (balance.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acct, ok := m.accounts[employeeID]
	if !ok {
		return balance.Account{EmployeeID: employeeID, TotalGranted: generic.ZeroAmount(), UsedDays: generic.ZeroAmount()}, nil
	}
	return acct, nil
}

func (m *Ledger) FindEntry(_ context.Context, key string) (*balance.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.keys[key]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *Ledger) AccrualGranted(_ context.Context, employeeID generic.EmployeeID, period generic.Period, rule string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.markers[markerKey{employeeID, period, rule}]
	return ok, nil
}

func (m *Ledger) Commit(_ context.Context, c balance.Commit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CommitHook != nil {
		if err := m.CommitHook(c); err != nil {
			return err
		}
	}
	if _, ok := m.keys[c.Entry.IdempotencyKey]; ok {
		return generic.ErrDuplicateIdempotencyKey
	}
	if c.Marker != nil {
		if _, ok := m.markers[markerKey{c.Marker.EmployeeID, c.Marker.Period, c.Marker.Rule}]; ok {
			return generic.ErrDuplicateIdempotencyKey
		}
	}
	current, exists := m.accounts[c.Next.EmployeeID]
	switch {
	case !exists && c.PrevVersion != 0:
		return generic.ErrConcurrentModification
	case exists && current.Version != c.PrevVersion:
		return generic.ErrConcurrentModification
	}

	m.accounts[c.Next.EmployeeID] = c.Next
	m.entries = append(m.entries, c.Entry)
	m.keys[c.Entry.IdempotencyKey] = c.Entry
	if c.Marker != nil {
		m.markers[markerKey{c.Marker.EmployeeID, c.Marker.Period, c.Marker.Rule}] = *c.Marker
	}
	return nil
}

func (m *Ledger) ListEntries(_ context.Context, employeeID generic.EmployeeID) ([]balance.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []balance.Entry
	for _, e := range m.entries {
		if e.EmployeeID == employeeID {
			out = append(out, e)
		}
	}
	return out, nil
}

// SetAccount overwrites a balance row. Tests use it to plant corrupt state.
func (m *Ledger) SetAccount(acct balance.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[acct.EmployeeID] = acct
}

// =============================================================================
// EMPLOYEES
// =============================================================================

type Employees struct {
	mu   sync.RWMutex
	byID map[generic.EmployeeID]accrual.Employee
}

var _ accrual.Directory = (*Employees)(nil)

func NewEmployees() *Employees {
	return &Employees{byID: make(map[generic.EmployeeID]accrual.Employee)}
}

func (m *Employees) SaveEmployee(_ context.Context, e accrual.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[e.ID] = e
	return nil
}

func (m *Employees) GetEmployee(_ context.Context, id generic.EmployeeID) (*accrual.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byID[id]
	if !ok {
		return nil, &generic.NotFoundError{Resource: "employee", ID: string(id)}
	}
	return &e, nil
}

func (m *Employees) ListEmployees(_ context.Context) ([]accrual.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]accrual.Employee, 0, len(m.byID))
	for _, e := range m.byID {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// ACCRUAL FAILURES
// =============================================================================

type failureKey struct {
	rule       accrual.Rule
	period     generic.Period
	employeeID generic.EmployeeID
}

type Failures struct {
	mu    sync.RWMutex
	byKey map[failureKey]accrual.Failure
}

var _ accrual.FailureQueue = (*Failures)(nil)

func NewFailures() *Failures {
	return &Failures{byKey: make(map[failureKey]accrual.Failure)}
}

func (m *Failures) Put(_ context.Context, f accrual.Failure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := failureKey{f.Rule, f.Period, f.EmployeeID}
	if existing, ok := m.byKey[k]; ok {
		f.FirstFailedAt = existing.FirstFailedAt
	}
	m.byKey[k] = f
	return nil
}

func (m *Failures) Resolve(_ context.Context, rule accrual.Rule, period generic.Period, employeeID generic.EmployeeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byKey, failureKey{rule, period, employeeID})
	return nil
}

func (m *Failures) List(_ context.Context, rule accrual.Rule) ([]accrual.Failure, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []accrual.Failure
	for _, f := range m.byKey {
		if rule == "" || f.Rule == rule {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Period != out[j].Period {
			return out[i].Period < out[j].Period
		}
		return out[i].EmployeeID < out[j].EmployeeID
	})
	return out, nil
}

// =============================================================================
// WORKFLOW SAGAS
// =============================================================================

type Sagas struct {
	mu   sync.RWMutex
	byID map[generic.ApprovalID]workflow.Saga
}

var _ workflow.SagaRepository = (*Sagas)(nil)

func NewSagas() *Sagas {
	return &Sagas{byID: make(map[generic.ApprovalID]workflow.Saga)}
}

func (m *Sagas) Save(_ context.Context, s *workflow.Saga) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[s.ApprovalID] = *s
	return nil
}

func (m *Sagas) Get(_ context.Context, id generic.ApprovalID) (*workflow.Saga, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byID[id]
	if !ok {
		return nil, &generic.NotFoundError{Resource: "saga", ID: string(id)}
	}
	return &s, nil
}

func (m *Sagas) ListByState(_ context.Context, states ...workflow.SagaState) ([]*workflow.Saga, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	want := make(map[workflow.SagaState]bool, len(states))
	for _, st := range states {
		want[st] = true
	}
	var out []*workflow.Saga
	for _, s := range m.byID {
		if want[s.State] {
			c := s
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].ApprovalID < out[j].ApprovalID
	})
	return out, nil
}

// =============================================================================
// WORK STATUS
// =============================================================================

type dayKey struct {
	employeeID generic.EmployeeID
	date       string
}

type WorkStatus struct {
	mu      sync.RWMutex
	records map[dayKey]workstatus.Record
}

var _ workstatus.Repository = (*WorkStatus)(nil)

func NewWorkStatus() *WorkStatus {
	return &WorkStatus{records: make(map[dayKey]workstatus.Record)}
}

func (m *WorkStatus) UpsertStatus(_ context.Context, records []workstatus.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		k := dayKey{r.EmployeeID, r.Date.String()}
		existing, ok := m.records[k]
		if !ok {
			m.records[k] = r
			continue
		}
		existing.StatusType = r.StatusType
		existing.Reason = r.Reason
		existing.Source = r.Source
		existing.SourceRef = r.SourceRef
		existing.UpdatedAt = r.UpdatedAt
		m.records[k] = existing
	}
	return nil
}

func (m *WorkStatus) UpsertAttendance(_ context.Context, r workstatus.Record) (workstatus.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := dayKey{r.EmployeeID, r.Date.String()}
	existing, ok := m.records[k]
	if !ok {
		m.records[k] = r
		return r, nil
	}
	if r.CheckIn != nil {
		existing.CheckIn = r.CheckIn
	}
	if r.CheckOut != nil {
		existing.CheckOut = r.CheckOut
	}
	if existing.Source != workstatus.SourceApproval {
		existing.StatusType = r.StatusType
		existing.Source = workstatus.SourceAttendance
	}
	existing.UpdatedAt = r.UpdatedAt
	m.records[k] = existing
	return existing, nil
}

func (m *WorkStatus) ListRange(_ context.Context, employeeID generic.EmployeeID, dates generic.DateRange) ([]workstatus.Record, error) {
	return m.list(func(r workstatus.Record) bool {
		return r.EmployeeID == employeeID && dates.Contains(r.Date)
	}), nil
}

func (m *WorkStatus) ListAllInRange(_ context.Context, dates generic.DateRange) ([]workstatus.Record, error) {
	return m.list(func(r workstatus.Record) bool { return dates.Contains(r.Date) }), nil
}

func (m *WorkStatus) list(keep func(workstatus.Record) bool) []workstatus.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []workstatus.Record
	for _, r := range m.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EmployeeID != out[j].EmployeeID {
			return out[i].EmployeeID < out[j].EmployeeID
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out
}
