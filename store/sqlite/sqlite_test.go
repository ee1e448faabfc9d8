package sqlite_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/accrual"
	"github.com/warp/leave-engine/approval"
	"github.com/warp/leave-engine/balance"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/store/sqlite"
	"github.com/warp/leave-engine/timeoff"
	"github.com/warp/leave-engine/workflow"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var now = time.Date(2026, time.October, 1, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err, "create store")
	t.Cleanup(func() { store.Close() })
	return store
}

func day(s string) generic.Date {
	d, _ := generic.ParseDate(s)
	return d
}

// =============================================================================
// LEAVE REQUESTS
// =============================================================================

func TestRequests_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	repo := store.Requests()
	ctx := context.Background()

	req, err := timeoff.NewLeaveRequest("req-1", "emp-1", timeoff.KindShort,
		generic.NewDateRange(day("2026-10-05"), day("2026-10-05")),
		&timeoff.TimeRange{Start: "14:00", End: "16:00"}, "dentist", now)
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, req))

	require.NoError(t, req.AttachApproval("apr-1", now))
	require.NoError(t, req.Mirror(timeoff.StatusApproved, now.Add(time.Hour)))
	require.NoError(t, repo.Save(ctx, req))

	got, err := repo.Get(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, generic.ApprovalID("apr-1"), got.ApprovalID)
	assert.Equal(t, timeoff.StatusApproved, got.Status)
	assert.Equal(t, "2026-10-05", got.Range.Start.String())
	require.NotNil(t, got.TimeRange)
	assert.Equal(t, "14:00", got.TimeRange.Start)
	assert.True(t, got.UpdatedAt.Equal(now.Add(time.Hour)))

	list, err := repo.ListByRequester(ctx, "emp-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestRequests_Delete(t *testing.T) {
	store := newTestStore(t)
	repo := store.Requests()
	ctx := context.Background()

	req, err := timeoff.NewLeaveRequest("req-1", "emp-1", timeoff.KindAnnual,
		generic.NewDateRange(day("2026-10-05"), day("2026-10-06")), nil, "", now)
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, req))

	require.NoError(t, repo.Delete(ctx, "req-1"))
	_, err = repo.Get(ctx, "req-1")
	assert.ErrorIs(t, err, generic.ErrNotFound)
	list, err := repo.ListByRequester(ctx, "emp-1")
	require.NoError(t, err)
	assert.Empty(t, list)

	assert.NoError(t, repo.Delete(ctx, "req-1"), "deleting twice is harmless")
}

// =============================================================================
// APPROVALS
// =============================================================================

func TestApprovals_OnePerRequestAndCompareAndSwap(t *testing.T) {
	store := newTestStore(t)
	repo := store.Approvals()
	ctx := context.Background()

	rec := &approval.Record{ID: "apr-1", RequestID: "req-1", RequestKind: "ANNUAL", ApplicantID: "emp-1", Status: approval.StatusPending, RequestedAt: now}
	require.NoError(t, repo.Create(ctx, rec))

	dup := *rec
	dup.ID = "apr-2"
	assert.ErrorIs(t, repo.Create(ctx, &dup), generic.ErrConflict)

	processed := now.Add(time.Hour)
	decided := *rec
	decided.Status = approval.StatusApproved
	decided.ApproverID = "mgr-1"
	decided.ProcessedAt = &processed
	require.NoError(t, repo.CompareAndSwap(ctx, &decided, approval.StatusPending))

	again := decided
	again.Status = approval.StatusRejected
	assert.ErrorIs(t, repo.CompareAndSwap(ctx, &again, approval.StatusPending), generic.ErrConflict)

	missing := decided
	missing.ID = "apr-9"
	assert.ErrorIs(t, repo.CompareAndSwap(ctx, &missing, approval.StatusPending), generic.ErrNotFound)

	got, err := repo.FindByRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusApproved, got.Status)
	assert.Equal(t, generic.EmployeeID("mgr-1"), got.ApproverID)
	require.NotNil(t, got.ProcessedAt)
	assert.True(t, got.ProcessedAt.Equal(processed))

	pending, err := repo.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestApprovals_MachineOverSQLite(t *testing.T) {
	store := newTestStore(t)
	m := approval.NewMachine(store.Approvals(), func() time.Time { return now }, nil, nil)
	ctx := context.Background()

	rec, err := m.Create(ctx, "emp-1", "ANNUAL", "req-1")
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for _, approver := range []generic.EmployeeID{"mgr-1", "mgr-2"} {
		wg.Add(1)
		go func(approver generic.EmployeeID) {
			defer wg.Done()
			_, err := m.Approve(ctx, rec.ID, approver)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, generic.ErrConflict):
				conflicts++
			}
		}(approver)
	}
	wg.Wait()
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, conflicts)
}

// =============================================================================
// LEDGER
// =============================================================================

func TestLedger_ConcurrentUsesAgainstSQLite(t *testing.T) {
	// GIVEN: 15 days granted
	// WHEN: Two Use(10) calls race
	// THEN: Exactly one succeeds and remaining is 5

	store := newTestStore(t)
	ledger := balance.NewLedger(store.Ledger(), func() time.Time { return now }, nil, nil)
	ctx := context.Background()
	_, err := ledger.Grant(ctx, "emp-1", generic.NewAmount(15), "opening", "")
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		refusals  int
	)
	for _, key := range []string{"apr-1", "apr-2"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			_, err := ledger.Use(ctx, "emp-1", generic.NewAmount(10), key, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, generic.ErrInsufficientBalance):
				refusals++
			}
		}(key)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, refusals)
	summary, err := ledger.Balance(ctx, "emp-1")
	require.NoError(t, err)
	assert.True(t, summary.Remaining.Equal(generic.NewAmount(5)), "got %s", summary.Remaining)
	assert.True(t, summary.UsedDays.Equal(generic.NewAmount(10)))

	entries, err := ledger.Entries(ctx, "emp-1")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestLedger_CommitRules(t *testing.T) {
	store := newTestStore(t)
	repo := store.Ledger()
	ctx := context.Background()

	first := balance.Commit{
		PrevVersion: 0,
		Next:        balance.Account{EmployeeID: "emp-1", TotalGranted: generic.NewAmount(15), UsedDays: generic.ZeroAmount(), Version: 1, UpdatedAt: now},
		Entry:       balance.Entry{ID: "e-1", EmployeeID: "emp-1", Type: balance.EntryGrant, Amount: generic.NewAmount(15), IdempotencyKey: "accrual:ANNIVERSARY:2026:emp-1", CreatedAt: now},
		Marker:      &balance.AccrualGrant{EmployeeID: "emp-1", Period: "2026", Rule: "ANNIVERSARY", Amount: generic.NewAmount(15), GrantedAt: now},
	}
	require.NoError(t, repo.Commit(ctx, first))

	// Same key again.
	replay := first
	replay.PrevVersion = 1
	replay.Entry.ID = "e-2"
	assert.ErrorIs(t, repo.Commit(ctx, replay), generic.ErrDuplicateIdempotencyKey)

	// Stale version.
	stale := balance.Commit{
		PrevVersion: 0,
		Next:        balance.Account{EmployeeID: "emp-1", TotalGranted: generic.NewAmount(16), UsedDays: generic.ZeroAmount(), Version: 1, UpdatedAt: now},
		Entry:       balance.Entry{ID: "e-3", EmployeeID: "emp-1", Type: balance.EntryGrant, Amount: generic.NewAmount(1), IdempotencyKey: "k-3", CreatedAt: now},
	}
	assert.ErrorIs(t, repo.Commit(ctx, stale), generic.ErrConcurrentModification)

	// The failed commits left nothing behind.
	entries, err := repo.ListEntries(ctx, "emp-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	missing, err := repo.FindEntry(ctx, "k-3")
	require.NoError(t, err)
	assert.Nil(t, missing)
	found, err := repo.FindEntry(ctx, "accrual:ANNIVERSARY:2026:emp-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, generic.EmployeeID("emp-1"), found.EmployeeID)
	assert.True(t, found.Amount.Equal(generic.NewAmount(15)))

	acct, err := repo.LoadAccount(ctx, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), acct.Version)
	assert.True(t, acct.TotalGranted.Equal(generic.NewAmount(15)))

	granted, err := repo.AccrualGranted(ctx, "emp-1", "2026", "ANNIVERSARY")
	require.NoError(t, err)
	assert.True(t, granted)
}

// =============================================================================
// EMPLOYEES AND ACCRUAL FAILURES
// =============================================================================

func TestEmployees(t *testing.T) {
	store := newTestStore(t)
	repo := store.Employees()
	ctx := context.Background()

	require.NoError(t, repo.SaveEmployee(ctx, accrual.Employee{ID: "emp-2", Name: "Bo", HireDate: day("2020-02-29"), Active: true}))
	require.NoError(t, repo.SaveEmployee(ctx, accrual.Employee{ID: "emp-1", Name: "Al", HireDate: day("2021-06-01"), Active: true}))
	require.NoError(t, repo.SaveEmployee(ctx, accrual.Employee{ID: "emp-1", Name: "Al", HireDate: day("2021-06-01"), Active: false}))

	got, err := repo.GetEmployee(ctx, "emp-2")
	require.NoError(t, err)
	assert.Equal(t, "2020-02-29", got.HireDate.String())
	assert.True(t, got.Active)

	all, err := repo.ListEmployees(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, generic.EmployeeID("emp-1"), all[0].ID)
	assert.False(t, all[0].Active)

	_, err = repo.GetEmployee(ctx, "nobody")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestAccrualFailures_PutKeepsFirstFailure(t *testing.T) {
	store := newTestStore(t)
	repo := store.AccrualFailures()
	ctx := context.Background()

	f := accrual.Failure{
		Rule: accrual.RuleMonthlyAttendance, Period: "2026-09", EmployeeID: "emp-1",
		Amount: generic.OneDay(), Attempts: 1, LastError: "boom",
		FirstFailedAt: now, LastFailedAt: now,
	}
	require.NoError(t, repo.Put(ctx, f))

	later := now.Add(24 * time.Hour)
	f.Attempts = 2
	f.LastError = "still down"
	f.FirstFailedAt = later
	f.LastFailedAt = later
	require.NoError(t, repo.Put(ctx, f))

	list, err := repo.List(ctx, accrual.RuleMonthlyAttendance)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].Attempts)
	assert.Equal(t, "still down", list[0].LastError)
	assert.True(t, list[0].FirstFailedAt.Equal(now))
	assert.True(t, list[0].LastFailedAt.Equal(later))

	other, err := repo.List(ctx, accrual.RuleAnniversary)
	require.NoError(t, err)
	assert.Empty(t, other)

	require.NoError(t, repo.Resolve(ctx, f.Rule, f.Period, f.EmployeeID))
	list, err = repo.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, list)
}

// =============================================================================
// SAGAS
// =============================================================================

func TestSagas_ListByState(t *testing.T) {
	store := newTestStore(t)
	repo := store.Sagas()
	ctx := context.Background()

	for i, state := range []workflow.SagaState{workflow.SagaCompleted, workflow.SagaPendingReconciliation, workflow.SagaFailed} {
		require.NoError(t, repo.Save(ctx, &workflow.Saga{
			ApprovalID: generic.ApprovalID("apr-" + string(rune('a'+i))),
			RequestID:  "req",
			EmployeeID: "emp-1",
			State:      state,
			Decision:   approval.StatusApproved,
			CreatedAt:  now,
			UpdatedAt:  now.Add(time.Duration(i) * time.Minute),
		}))
	}

	stuck, err := repo.ListByState(ctx, workflow.SagaPendingReconciliation, workflow.SagaFailed)
	require.NoError(t, err)
	require.Len(t, stuck, 2)
	assert.Equal(t, generic.ApprovalID("apr-b"), stuck[0].ApprovalID)

	saga, err := repo.Get(ctx, "apr-b")
	require.NoError(t, err)
	saga.State = workflow.SagaCompleted
	saga.LedgerApplied = true
	require.NoError(t, repo.Save(ctx, saga))

	saga, err = repo.Get(ctx, "apr-b")
	require.NoError(t, err)
	assert.Equal(t, workflow.SagaCompleted, saga.State)
	assert.True(t, saga.LedgerApplied)

	_, err = repo.Get(ctx, "apr-z")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}
