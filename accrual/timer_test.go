package accrual_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/accrual"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/workstatus"
)

func TestNewTimer_RejectsBadSpec(t *testing.T) {
	f := newFixture(t)
	_, err := accrual.NewTimer(f.scheduler, accrual.TimerConfig{AnniversarySpec: "every day"}, fixedNow, nil)
	assert.Error(t, err)
}

func TestTimer_TodayUsesLocation(t *testing.T) {
	f := newFixture(t)
	tokyo := time.FixedZone("JST", 9*60*60)

	// 2026-09-30 20:00 UTC is already October 1 in Tokyo.
	now := func() time.Time { return time.Date(2026, time.September, 30, 20, 0, 0, 0, time.UTC) }
	timer, err := accrual.NewTimer(f.scheduler, accrual.TimerConfig{Location: tokyo}, now, nil)
	require.NoError(t, err)

	assert.Equal(t, "2026-10-01", timer.Today().String())
}

func TestTimer_RunNowDefaultsToToday(t *testing.T) {
	f := newFixture(t)
	f.work(t, "emp-1", "2026-09-01", repeat(workstatus.StatusPresent, 15)...)
	timer, err := accrual.NewTimer(f.scheduler, accrual.DefaultTimerConfig(), fixedNow, nil)
	require.NoError(t, err)

	report, err := timer.RunNow(context.Background(), accrual.RuleMonthlyAttendance, generic.Date{})
	require.NoError(t, err)
	assert.Equal(t, generic.Period("2026-09"), report.Period)
	assert.Equal(t, []generic.EmployeeID{"emp-1"}, report.Granted)
}

func TestTimer_StartStop(t *testing.T) {
	f := newFixture(t)
	timer, err := accrual.NewTimer(f.scheduler, accrual.DefaultTimerConfig(), fixedNow, nil)
	require.NoError(t, err)

	timer.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, timer.Stop(ctx))
}
