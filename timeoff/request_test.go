package timeoff_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
	"github.com/warp/leave-engine/workstatus"
)

var now = time.Date(2026, time.October, 1, 9, 0, 0, 0, time.UTC)

func span(start, end string) generic.DateRange {
	s, _ := generic.ParseDate(start)
	e, _ := generic.ParseDate(end)
	return generic.NewDateRange(s, e)
}

func TestNewLeaveRequest_Annual(t *testing.T) {
	req, err := timeoff.NewLeaveRequest("req-1", "emp-1", timeoff.KindAnnual,
		span("2026-10-05", "2026-10-09"), nil, "family trip", now)

	require.NoError(t, err)
	assert.Equal(t, timeoff.StatusPending, req.Status)
	assert.True(t, req.Days().Equal(generic.NewAmount(5)))
	assert.True(t, req.Kind.DebitsBalance())
	assert.Equal(t, workstatus.StatusApprovedLeave, req.Kind.StatusType())
}

func TestNewLeaveRequest_Validation(t *testing.T) {
	tests := []struct {
		name      string
		requester generic.EmployeeID
		kind      timeoff.Kind
		dates     generic.DateRange
		timeRange *timeoff.TimeRange
		reason    string
		field     string
	}{
		{"missing requester", "", timeoff.KindAnnual, span("2026-10-05", "2026-10-05"), nil, "", "requester_id"},
		{"unknown kind", "emp-1", timeoff.Kind("NAP"), span("2026-10-05", "2026-10-05"), nil, "", "kind"},
		{"inverted range", "emp-1", timeoff.KindSick, span("2026-10-06", "2026-10-05"), nil, "", "date_range"},
		{"half day over two days", "emp-1", timeoff.KindHalfDayAM, span("2026-10-05", "2026-10-06"), nil, "", "date_range"},
		{"short leave without window", "emp-1", timeoff.KindShort, span("2026-10-05", "2026-10-05"), nil, "", "time_range"},
		{"short leave inverted window", "emp-1", timeoff.KindShort, span("2026-10-05", "2026-10-05"),
			&timeoff.TimeRange{Start: "16:00", End: "14:00"}, "", "time_range"},
		{"short leave bad clock", "emp-1", timeoff.KindShort, span("2026-10-05", "2026-10-05"),
			&timeoff.TimeRange{Start: "25:00", End: "26:00"}, "", "time_range.start"},
		{"reason too long", "emp-1", timeoff.KindSick, span("2026-10-05", "2026-10-05"), nil,
			strings.Repeat("x", timeoff.MaxReasonLength+1), "reason"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := timeoff.NewLeaveRequest("req-1", tt.requester, tt.kind, tt.dates, tt.timeRange, tt.reason, now)
			var verr *generic.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestLeaveRequest_Days(t *testing.T) {
	half, err := timeoff.NewLeaveRequest("req-1", "emp-1", timeoff.KindHalfDayPM,
		span("2026-10-05", "2026-10-05"), nil, "", now)
	require.NoError(t, err)
	assert.True(t, half.Days().Equal(generic.HalfDay()))

	short, err := timeoff.NewLeaveRequest("req-2", "emp-1", timeoff.KindShort,
		span("2026-10-05", "2026-10-05"), &timeoff.TimeRange{Start: "14:00", End: "16:00"}, "dentist", now)
	require.NoError(t, err)
	assert.True(t, short.Days().IsZero())
	require.NotNil(t, short.TimeRange)

	sick, err := timeoff.NewLeaveRequest("req-3", "emp-1", timeoff.KindSick,
		span("2026-10-05", "2026-10-07"), &timeoff.TimeRange{Start: "09:00", End: "10:00"}, "", now)
	require.NoError(t, err)
	assert.Nil(t, sick.TimeRange, "time range only applies to short leave")
	assert.False(t, sick.Kind.DebitsBalance())
}

func TestLeaveRequest_Mirror(t *testing.T) {
	req, err := timeoff.NewLeaveRequest("req-1", "emp-1", timeoff.KindAnnual,
		span("2026-10-05", "2026-10-05"), nil, "", now)
	require.NoError(t, err)

	later := now.Add(time.Hour)
	require.NoError(t, req.Mirror(timeoff.StatusApproved, later))
	assert.Equal(t, timeoff.StatusApproved, req.Status)
	assert.Equal(t, later, req.UpdatedAt)

	// Replaying the same mirror is harmless.
	require.NoError(t, req.Mirror(timeoff.StatusApproved, later.Add(time.Hour)))
	assert.Equal(t, later, req.UpdatedAt)

	err = req.Mirror(timeoff.StatusRejected, later)
	assert.ErrorIs(t, err, generic.ErrConflict)
}

func TestLeaveRequest_AttachApproval(t *testing.T) {
	req, err := timeoff.NewLeaveRequest("req-1", "emp-1", timeoff.KindAnnual,
		span("2026-10-05", "2026-10-05"), nil, "", now)
	require.NoError(t, err)

	require.NoError(t, req.AttachApproval("apr-1", now))
	require.NoError(t, req.AttachApproval("apr-1", now))
	assert.ErrorIs(t, req.AttachApproval("apr-2", now), generic.ErrConflict)
}

func TestParseKind(t *testing.T) {
	k, err := timeoff.ParseKind(" half_day_am ")
	require.NoError(t, err)
	assert.Equal(t, timeoff.KindHalfDayAM, k)
	assert.Equal(t, workstatus.StatusHalfDayLeave, k.StatusType())

	_, err = timeoff.ParseKind("vacation")
	assert.ErrorIs(t, err, generic.ErrValidation)
}
