package workstatus_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/store/memory"
	"github.com/warp/leave-engine/workstatus"
)

func fixedNow() time.Time { return time.Date(2026, time.October, 1, 9, 0, 0, 0, time.UTC) }

func span(start, end string) generic.DateRange {
	s, _ := generic.ParseDate(start)
	e, _ := generic.ParseDate(end)
	return generic.NewDateRange(s, e)
}

func day(s string) generic.Date {
	d, _ := generic.ParseDate(s)
	return d
}

func TestProjector_UpsertRangeWritesOneRecordPerDay(t *testing.T) {
	p := workstatus.NewProjector(memory.NewWorkStatus(), fixedNow, nil)
	ctx := context.Background()

	n, err := p.UpsertRange(ctx, workstatus.UpsertCommand{
		EmployeeID: "emp-1",
		Range:      span("2026-10-05", "2026-10-07"),
		StatusType: workstatus.StatusApprovedLeave,
		Reason:     "ANNUAL",
		SourceRef:  "apr-1-projection",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	records, err := p.ListRange(ctx, "emp-1", span("2026-10-01", "2026-10-31"))
	require.NoError(t, err)
	require.Len(t, records, 3)
	for _, r := range records {
		assert.Equal(t, workstatus.StatusApprovedLeave, r.StatusType)
		assert.Equal(t, workstatus.SourceApproval, r.Source)
		assert.Equal(t, "apr-1-projection", r.SourceRef)
	}
	assert.Equal(t, "2026-10-05", records[0].Date.String())
}

func TestProjector_UpsertRangeIsIdempotent(t *testing.T) {
	p := workstatus.NewProjector(memory.NewWorkStatus(), fixedNow, nil)
	ctx := context.Background()
	cmd := workstatus.UpsertCommand{
		EmployeeID: "emp-1",
		Range:      span("2026-10-05", "2026-10-06"),
		StatusType: workstatus.StatusSickLeave,
		SourceRef:  "apr-7-projection",
	}

	_, err := p.UpsertRange(ctx, cmd)
	require.NoError(t, err)
	first, _ := p.ListRange(ctx, "emp-1", cmd.Range)

	_, err = p.UpsertRange(ctx, cmd)
	require.NoError(t, err)
	second, _ := p.ListRange(ctx, "emp-1", cmd.Range)

	assert.Equal(t, first, second)
}

func TestProjector_UpsertKeepsAttendanceTimestamps(t *testing.T) {
	// GIVEN: The employee checked in and out on a day
	// WHEN: A leave status is later projected over that day
	// THEN: The status changes but check-in/out survive

	p := workstatus.NewProjector(memory.NewWorkStatus(), fixedNow, nil)
	ctx := context.Background()
	in := time.Date(2026, time.October, 5, 9, 0, 0, 0, time.UTC)
	out := time.Date(2026, time.October, 5, 12, 0, 0, 0, time.UTC)

	_, err := p.RecordAttendance(ctx, workstatus.AttendanceEvent{EmployeeID: "emp-1", Date: day("2026-10-05"), CheckIn: &in, CheckOut: &out})
	require.NoError(t, err)

	_, err = p.UpsertRange(ctx, workstatus.UpsertCommand{
		EmployeeID: "emp-1",
		Range:      span("2026-10-05", "2026-10-05"),
		StatusType: workstatus.StatusHalfDayLeave,
		SourceRef:  "apr-2-projection",
	})
	require.NoError(t, err)

	records, err := p.ListRange(ctx, "emp-1", span("2026-10-05", "2026-10-05"))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, workstatus.StatusHalfDayLeave, records[0].StatusType)
	require.NotNil(t, records[0].CheckIn)
	require.NotNil(t, records[0].CheckOut)
	assert.True(t, in.Equal(*records[0].CheckIn))
	assert.True(t, out.Equal(*records[0].CheckOut))
}

func TestProjector_AttendanceDoesNotOverrideApprovedStatus(t *testing.T) {
	p := workstatus.NewProjector(memory.NewWorkStatus(), fixedNow, nil)
	ctx := context.Background()

	_, err := p.UpsertRange(ctx, workstatus.UpsertCommand{
		EmployeeID: "emp-1",
		Range:      span("2026-10-05", "2026-10-05"),
		StatusType: workstatus.StatusHalfDayLeave,
	})
	require.NoError(t, err)

	in := time.Date(2026, time.October, 5, 13, 0, 0, 0, time.UTC)
	saved, err := p.RecordAttendance(ctx, workstatus.AttendanceEvent{EmployeeID: "emp-1", Date: day("2026-10-05"), CheckIn: &in})
	require.NoError(t, err)
	assert.Equal(t, workstatus.StatusHalfDayLeave, saved.StatusType)
	assert.Equal(t, workstatus.SourceApproval, saved.Source)
	require.NotNil(t, saved.CheckIn)

	// A later check-out keeps the earlier check-in.
	outAt := time.Date(2026, time.October, 5, 18, 0, 0, 0, time.UTC)
	saved, err = p.RecordAttendance(ctx, workstatus.AttendanceEvent{EmployeeID: "emp-1", Date: day("2026-10-05"), CheckOut: &outAt})
	require.NoError(t, err)
	require.NotNil(t, saved.CheckIn)
	assert.True(t, in.Equal(*saved.CheckIn))
}

func TestProjector_Validation(t *testing.T) {
	p := workstatus.NewProjector(memory.NewWorkStatus(), fixedNow, nil)
	ctx := context.Background()

	_, err := p.UpsertRange(ctx, workstatus.UpsertCommand{Range: span("2026-10-05", "2026-10-05"), StatusType: workstatus.StatusPresent})
	assert.ErrorIs(t, err, generic.ErrValidation)

	_, err = p.UpsertRange(ctx, workstatus.UpsertCommand{EmployeeID: "emp-1", Range: span("2026-10-06", "2026-10-05"), StatusType: workstatus.StatusPresent})
	assert.ErrorIs(t, err, generic.ErrValidation)

	_, err = p.UpsertRange(ctx, workstatus.UpsertCommand{EmployeeID: "emp-1", Range: span("2026-10-05", "2026-10-05"), StatusType: "NAPPING"})
	assert.ErrorIs(t, err, generic.ErrValidation)

	_, err = p.UpsertRange(ctx, workstatus.UpsertCommand{EmployeeID: "emp-1", Range: span("2025-01-01", "2026-12-31"), StatusType: workstatus.StatusPresent})
	assert.ErrorIs(t, err, generic.ErrValidation)

	_, err = p.RecordAttendance(ctx, workstatus.AttendanceEvent{EmployeeID: "emp-1", Date: day("2026-10-05")})
	assert.ErrorIs(t, err, generic.ErrValidation)

	in := time.Date(2026, time.October, 5, 18, 0, 0, 0, time.UTC)
	out := in.Add(-time.Hour)
	_, err = p.RecordAttendance(ctx, workstatus.AttendanceEvent{EmployeeID: "emp-1", Date: day("2026-10-05"), CheckIn: &in, CheckOut: &out})
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestWeight(t *testing.T) {
	assert.True(t, workstatus.Weight(workstatus.StatusHalfDayLeave).Equal(generic.HalfDay()))
	for _, s := range []workstatus.StatusType{
		workstatus.StatusPresent, workstatus.StatusLate, workstatus.StatusApprovedLeave,
		workstatus.StatusBusinessTrip, workstatus.StatusShortLeave,
	} {
		assert.True(t, workstatus.Weight(s).Equal(generic.OneDay()), "status %s", s)
	}
}
