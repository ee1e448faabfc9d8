package accrual_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/accrual"
	"github.com/warp/leave-engine/balance"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/store/memory"
	"github.com/warp/leave-engine/workstatus"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func fixedNow() time.Time { return time.Date(2026, time.October, 1, 3, 0, 0, 0, time.UTC) }

func day(s string) generic.Date {
	d, _ := generic.ParseDate(s)
	return d
}

func fastCalls() generic.CallPolicy {
	return generic.CallPolicy{Timeout: time.Second, MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
}

type fixture struct {
	employees  *memory.Employees
	attendance *memory.WorkStatus
	failures   *memory.Failures
	ledger     *balance.Ledger
	granter    *flakyGranter
	scheduler  *accrual.Scheduler
}

// flakyGranter fails GrantAccrual for the employees in failFor.
type flakyGranter struct {
	mu      sync.Mutex
	next    accrual.Granter
	failFor map[generic.EmployeeID]bool
	calls   int
}

func (g *flakyGranter) GrantAccrual(ctx context.Context, grant balance.AccrualGrant) (bool, generic.Amount, error) {
	g.mu.Lock()
	g.calls++
	fail := g.failFor[grant.EmployeeID]
	g.mu.Unlock()
	if fail {
		return false, generic.Amount{}, errors.New("ledger unavailable")
	}
	return g.next.GrantAccrual(ctx, grant)
}

func (g *flakyGranter) heal(id generic.EmployeeID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.failFor, id)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		employees:  memory.NewEmployees(),
		attendance: memory.NewWorkStatus(),
		failures:   memory.NewFailures(),
	}
	f.ledger = balance.NewLedger(memory.NewLedger(), fixedNow, nil, nil)
	f.granter = &flakyGranter{next: f.ledger, failFor: map[generic.EmployeeID]bool{}}
	f.scheduler = accrual.NewScheduler(accrual.Deps{
		Employees:  f.employees,
		Attendance: f.attendance,
		Grants:     f.granter,
		Failures:   f.failures,
	}, accrual.DefaultPolicy(), fastCalls(), fixedNow, nil)
	return f
}

// work writes one status per day starting at start.
func (f *fixture) work(t *testing.T, emp generic.EmployeeID, start string, statuses ...workstatus.StatusType) {
	t.Helper()
	first := day(start)
	records := make([]workstatus.Record, 0, len(statuses))
	for i, s := range statuses {
		records = append(records, workstatus.Record{
			EmployeeID: emp,
			Date:       first.AddDays(i),
			StatusType: s,
			Source:     workstatus.SourceAttendance,
		})
	}
	require.NoError(t, f.attendance.UpsertStatus(context.Background(), records))
}

func repeat(s workstatus.StatusType, n int) []workstatus.StatusType {
	out := make([]workstatus.StatusType, n)
	for i := range out {
		out[i] = s
	}
	return out
}

func (f *fixture) remaining(t *testing.T, emp generic.EmployeeID) generic.Amount {
	t.Helper()
	r, err := f.ledger.Remaining(context.Background(), emp)
	require.NoError(t, err)
	return r
}

// =============================================================================
// MONTHLY ATTENDANCE RULE
// =============================================================================

func TestMonthly_GrantsOncePerMonth(t *testing.T) {
	// GIVEN: emp-1 has 14 full days and 2 half days in September (15.0)
	// WHEN: The monthly rule runs on Oct 1, then runs again (restart)
	// THEN: One day is granted exactly once

	f := newFixture(t)
	statuses := append(repeat(workstatus.StatusPresent, 14), workstatus.StatusHalfDayLeave, workstatus.StatusHalfDayLeave)
	f.work(t, "emp-1", "2026-09-01", statuses...)
	ctx := context.Background()

	report, err := f.scheduler.RunMonthly(ctx, day("2026-10-01"))
	require.NoError(t, err)
	assert.Equal(t, generic.Period("2026-09"), report.Period)
	assert.Equal(t, []generic.EmployeeID{"emp-1"}, report.Granted)
	assert.True(t, f.remaining(t, "emp-1").Equal(generic.OneDay()))

	report, err = f.scheduler.RunMonthly(ctx, day("2026-10-01"))
	require.NoError(t, err)
	assert.Empty(t, report.Granted)
	assert.Equal(t, []generic.EmployeeID{"emp-1"}, report.Skipped)
	assert.True(t, f.remaining(t, "emp-1").Equal(generic.OneDay()))
}

func TestMonthly_BelowThresholdGetsNothing(t *testing.T) {
	f := newFixture(t)
	// 14 full days and one half day = 14.5
	f.work(t, "emp-1", "2026-09-01", append(repeat(workstatus.StatusPresent, 14), workstatus.StatusHalfDayLeave)...)

	report, err := f.scheduler.RunMonthly(context.Background(), day("2026-10-01"))
	require.NoError(t, err)
	assert.Empty(t, report.Granted)
	assert.Empty(t, report.Skipped)
	assert.True(t, f.remaining(t, "emp-1").IsZero())
}

func TestMonthly_OnlyCountsThePreviousMonth(t *testing.T) {
	f := newFixture(t)
	// 10 days at the end of August and 10 at the start of October.
	f.work(t, "emp-1", "2026-08-22", repeat(workstatus.StatusPresent, 10)...)
	f.work(t, "emp-1", "2026-10-01", repeat(workstatus.StatusPresent, 10)...)

	report, err := f.scheduler.RunMonthly(context.Background(), day("2026-10-01"))
	require.NoError(t, err)
	assert.Empty(t, report.Granted)
}

func TestAggregateWorkdays(t *testing.T) {
	totals := accrual.AggregateWorkdays([]workstatus.Record{
		{EmployeeID: "a", StatusType: workstatus.StatusPresent},
		{EmployeeID: "a", StatusType: workstatus.StatusHalfDayLeave},
		{EmployeeID: "a", StatusType: workstatus.StatusSickLeave},
		{EmployeeID: "b", StatusType: workstatus.StatusHalfDayLeave},
	})
	assert.True(t, totals["a"].Equal(generic.NewAmount(2.5)))
	assert.True(t, totals["b"].Equal(generic.HalfDay()))
}

// =============================================================================
// ANNIVERSARY RULE
// =============================================================================

func TestAnniversary_GrantsOnHireDateAnniversary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.employees.SaveEmployee(ctx, accrual.Employee{ID: "emp-1", HireDate: day("2023-10-01"), Active: true}))
	require.NoError(t, f.employees.SaveEmployee(ctx, accrual.Employee{ID: "emp-2", HireDate: day("2023-10-02"), Active: true}))
	require.NoError(t, f.employees.SaveEmployee(ctx, accrual.Employee{ID: "emp-3", HireDate: day("2020-10-01"), Active: false}))
	require.NoError(t, f.employees.SaveEmployee(ctx, accrual.Employee{ID: "emp-4", HireDate: day("2026-10-01"), Active: true}))

	report, err := f.scheduler.RunAnniversary(ctx, day("2026-10-01"))
	require.NoError(t, err)
	assert.Equal(t, generic.Period("2026"), report.Period)
	assert.Equal(t, []generic.EmployeeID{"emp-1"}, report.Granted)
	assert.True(t, f.remaining(t, "emp-1").Equal(generic.NewAmountFromInt(15)))
	assert.True(t, f.remaining(t, "emp-3").IsZero())
	assert.True(t, f.remaining(t, "emp-4").IsZero(), "the hire date itself is not an anniversary")

	// Same day again: the marker stops a second grant.
	report, err = f.scheduler.RunAnniversary(ctx, day("2026-10-01"))
	require.NoError(t, err)
	assert.Empty(t, report.Granted)
	assert.Equal(t, []generic.EmployeeID{"emp-1"}, report.Skipped)
	assert.True(t, f.remaining(t, "emp-1").Equal(generic.NewAmountFromInt(15)))
}

// =============================================================================
// FAILURE QUEUE
// =============================================================================

func TestAccrual_FailedGrantIsQueuedAndRecovered(t *testing.T) {
	// GIVEN: The ledger is down for emp-2 only
	// WHEN: The monthly run processes emp-1 and emp-2
	// THEN: emp-1 is granted, emp-2 is queued; the next run recovers emp-2

	f := newFixture(t)
	ctx := context.Background()
	f.work(t, "emp-1", "2026-09-01", repeat(workstatus.StatusPresent, 20)...)
	f.work(t, "emp-2", "2026-09-01", repeat(workstatus.StatusPresent, 20)...)
	f.granter.failFor["emp-2"] = true

	report, err := f.scheduler.RunMonthly(ctx, day("2026-10-01"))
	require.NoError(t, err)
	assert.Equal(t, []generic.EmployeeID{"emp-1"}, report.Granted)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, generic.EmployeeID("emp-2"), report.Failed[0].EmployeeID)

	queued, err := f.failures.List(ctx, accrual.RuleMonthlyAttendance)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, generic.Period("2026-09"), queued[0].Period)

	// Still down on the next run: attempts grow, nothing is granted.
	report, err = f.scheduler.RunMonthly(ctx, day("2026-10-01"))
	require.NoError(t, err)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, 2, report.Failed[0].Attempts)

	f.granter.heal("emp-2")
	report, err = f.scheduler.RunMonthly(ctx, day("2026-11-01"))
	require.NoError(t, err)
	assert.Equal(t, []generic.EmployeeID{"emp-2"}, report.Recovered)
	assert.True(t, f.remaining(t, "emp-2").Equal(generic.OneDay()))
	assert.True(t, f.remaining(t, "emp-1").Equal(generic.OneDay()))

	queued, err = f.failures.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, queued)
}

func TestRun_UnknownRule(t *testing.T) {
	f := newFixture(t)
	_, err := f.scheduler.Run(context.Background(), accrual.Rule("WEEKLY"), day("2026-10-01"))
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestParseRule(t *testing.T) {
	for in, want := range map[string]accrual.Rule{
		"anniversary":        accrual.RuleAnniversary,
		"ANNIVERSARY":        accrual.RuleAnniversary,
		"monthly":            accrual.RuleMonthlyAttendance,
		"MONTHLY_ATTENDANCE": accrual.RuleMonthlyAttendance,
	} {
		got, err := accrual.ParseRule(in)
		require.NoError(t, err, fmt.Sprintf("input %q", in))
		assert.Equal(t, want, got)
	}
	_, err := accrual.ParseRule("yearly")
	assert.ErrorIs(t, err, generic.ErrValidation)
}
