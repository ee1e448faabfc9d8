package gormstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/store/gormstore"
	"github.com/warp/leave-engine/workstatus"
)

func fixedNow() time.Time { return time.Date(2026, time.October, 1, 9, 0, 0, 0, time.UTC) }

func span(start, end string) generic.DateRange {
	s, _ := generic.ParseDate(start)
	e, _ := generic.ParseDate(end)
	return generic.NewDateRange(s, e)
}

func newProjector(t *testing.T) (*workstatus.Projector, *gormstore.WorkStatusStore) {
	t.Helper()
	store, err := gormstore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return workstatus.NewProjector(store, fixedNow, nil), store
}

func TestWorkStatusStore_UpsertStatusIsIdempotent(t *testing.T) {
	p, store := newProjector(t)
	ctx := context.Background()
	require.NoError(t, store.Ping(ctx))

	cmd := workstatus.UpsertCommand{
		EmployeeID: "emp-1",
		Range:      span("2026-10-05", "2026-10-07"),
		StatusType: workstatus.StatusApprovedLeave,
		Reason:     "ANNUAL",
		SourceRef:  "apr-1-projection",
	}
	n, err := p.UpsertRange(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = p.UpsertRange(ctx, cmd)
	require.NoError(t, err)

	records, err := p.ListRange(ctx, "emp-1", span("2026-10-01", "2026-10-31"))
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "2026-10-05", records[0].Date.String())
	assert.Equal(t, "2026-10-07", records[2].Date.String())
	for _, r := range records {
		assert.Equal(t, workstatus.StatusApprovedLeave, r.StatusType)
		assert.Equal(t, workstatus.SourceApproval, r.Source)
		assert.Equal(t, "apr-1-projection", r.SourceRef)
	}
}

func TestWorkStatusStore_StatusUpsertKeepsCheckIn(t *testing.T) {
	// GIVEN: A check-in recorded on a day
	// WHEN: A half-day leave is projected over it
	// THEN: The status changes and the check-in survives

	p, _ := newProjector(t)
	ctx := context.Background()
	in := time.Date(2026, time.October, 5, 9, 0, 0, 0, time.UTC)
	d := span("2026-10-05", "2026-10-05")

	_, err := p.RecordAttendance(ctx, workstatus.AttendanceEvent{EmployeeID: "emp-1", Date: d.Start, CheckIn: &in})
	require.NoError(t, err)

	_, err = p.UpsertRange(ctx, workstatus.UpsertCommand{
		EmployeeID: "emp-1",
		Range:      d,
		StatusType: workstatus.StatusHalfDayLeave,
		SourceRef:  "apr-2-projection",
	})
	require.NoError(t, err)

	records, err := p.ListRange(ctx, "emp-1", d)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, workstatus.StatusHalfDayLeave, records[0].StatusType)
	require.NotNil(t, records[0].CheckIn)
	assert.True(t, in.Equal(*records[0].CheckIn))
}

func TestWorkStatusStore_AttendanceKeepsApprovedStatus(t *testing.T) {
	p, _ := newProjector(t)
	ctx := context.Background()
	d := span("2026-10-05", "2026-10-05")

	_, err := p.UpsertRange(ctx, workstatus.UpsertCommand{EmployeeID: "emp-1", Range: d, StatusType: workstatus.StatusBusinessTrip})
	require.NoError(t, err)

	in := time.Date(2026, time.October, 5, 8, 30, 0, 0, time.UTC)
	saved, err := p.RecordAttendance(ctx, workstatus.AttendanceEvent{EmployeeID: "emp-1", Date: d.Start, CheckIn: &in})
	require.NoError(t, err)
	assert.Equal(t, workstatus.StatusBusinessTrip, saved.StatusType)
	assert.Equal(t, workstatus.SourceApproval, saved.Source)

	out := time.Date(2026, time.October, 5, 17, 30, 0, 0, time.UTC)
	saved, err = p.RecordAttendance(ctx, workstatus.AttendanceEvent{EmployeeID: "emp-1", Date: d.Start, CheckOut: &out})
	require.NoError(t, err)
	require.NotNil(t, saved.CheckIn)
	require.NotNil(t, saved.CheckOut)
	assert.True(t, in.Equal(*saved.CheckIn))
	assert.True(t, out.Equal(*saved.CheckOut))
}

func TestWorkStatusStore_AttendanceReplacesAttendanceStatus(t *testing.T) {
	p, _ := newProjector(t)
	ctx := context.Background()
	d := span("2026-10-05", "2026-10-05")
	in := time.Date(2026, time.October, 5, 9, 40, 0, 0, time.UTC)

	_, err := p.RecordAttendance(ctx, workstatus.AttendanceEvent{EmployeeID: "emp-1", Date: d.Start, CheckIn: &in})
	require.NoError(t, err)
	saved, err := p.RecordAttendance(ctx, workstatus.AttendanceEvent{EmployeeID: "emp-1", Date: d.Start, CheckIn: &in, StatusType: workstatus.StatusLate})
	require.NoError(t, err)
	assert.Equal(t, workstatus.StatusLate, saved.StatusType)
	assert.Equal(t, workstatus.SourceAttendance, saved.Source)
}

func TestWorkStatusStore_ListAllInRange(t *testing.T) {
	p, _ := newProjector(t)
	ctx := context.Background()

	for _, emp := range []generic.EmployeeID{"emp-2", "emp-1"} {
		_, err := p.UpsertRange(ctx, workstatus.UpsertCommand{
			EmployeeID: emp,
			Range:      span("2026-09-29", "2026-10-02"),
			StatusType: workstatus.StatusPresent,
		})
		require.NoError(t, err)
	}

	records, err := p.ListAllInRange(ctx, span("2026-09-01", "2026-09-30"))
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, generic.EmployeeID("emp-1"), records[0].EmployeeID)
	assert.Equal(t, "2026-09-29", records[0].Date.String())
	assert.Equal(t, generic.EmployeeID("emp-2"), records[3].EmployeeID)
	assert.Equal(t, "2026-09-30", records[3].Date.String())
}
