// Package timeoff implements the leave/absence request aggregate.
// A request is what an employee submits; its lifecycle status is mirrored
// from the approval record that judges it.
package timeoff

import (
	"fmt"
	"strings"
	"time"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/workstatus"
)

// =============================================================================
// LEAVE KINDS
// =============================================================================

// Kind is what the employee is asking for.
type Kind string

// Absence kinds. They never touch the balance ledger.
const (
	KindSick         Kind = "SICK"
	KindOfficial     Kind = "OFFICIAL"
	KindShort        Kind = "SHORT"
	KindBusinessTrip Kind = "BUSINESS_TRIP"
	KindTraining     Kind = "TRAINING"
	KindOther        Kind = "OTHER"
)

// Vacation kinds. Approving one debits the balance ledger.
const (
	KindAnnual    Kind = "ANNUAL"
	KindHalfDayAM Kind = "HALF_DAY_AM"
	KindHalfDayPM Kind = "HALF_DAY_PM"
)

// Category groups kinds for the approval record.
type Category string

const (
	CategoryVacation Category = "VACATION"
	CategoryAbsence  Category = "ABSENCE"
)

var kinds = map[Kind]struct {
	category Category
	status   workstatus.StatusType
}{
	KindSick:         {CategoryAbsence, workstatus.StatusSickLeave},
	KindOfficial:     {CategoryAbsence, workstatus.StatusOfficialLeave},
	KindShort:        {CategoryAbsence, workstatus.StatusShortLeave},
	KindBusinessTrip: {CategoryAbsence, workstatus.StatusBusinessTrip},
	KindTraining:     {CategoryAbsence, workstatus.StatusTraining},
	KindOther:        {CategoryAbsence, workstatus.StatusOtherAbsence},
	KindAnnual:       {CategoryVacation, workstatus.StatusApprovedLeave},
	KindHalfDayAM:    {CategoryVacation, workstatus.StatusHalfDayLeave},
	KindHalfDayPM:    {CategoryVacation, workstatus.StatusHalfDayLeave},
}

// ParseKind accepts any casing and surrounding whitespace.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", &generic.ValidationError{Field: "kind", Message: fmt.Sprintf("unknown leave kind %q", s)}
	}
	return k, nil
}

func (k Kind) IsValid() bool {
	_, ok := kinds[k]
	return ok
}

func (k Kind) Category() Category { return kinds[k].category }

// DebitsBalance is true for vacation kinds.
func (k Kind) DebitsBalance() bool { return k.Category() == CategoryVacation }

func (k Kind) IsHalfDay() bool { return k == KindHalfDayAM || k == KindHalfDayPM }

// StatusType is the work-status written for each day of an approved request.
func (k Kind) StatusType() workstatus.StatusType { return kinds[k].status }

// =============================================================================
// TIME RANGE - Only meaningful for short leave
// =============================================================================

const ClockLayout = "15:04"

// TimeRange is a same-day window such as 14:00-16:00.
type TimeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func (tr TimeRange) Validate() error {
	start, err := time.Parse(ClockLayout, tr.Start)
	if err != nil {
		return &generic.ValidationError{Field: "time_range.start", Message: fmt.Sprintf("invalid time %q, expected HH:MM", tr.Start)}
	}
	end, err := time.Parse(ClockLayout, tr.End)
	if err != nil {
		return &generic.ValidationError{Field: "time_range.end", Message: fmt.Sprintf("invalid time %q, expected HH:MM", tr.End)}
	}
	if !start.Before(end) {
		return &generic.ValidationError{Field: "time_range", Message: "start must be before end"}
	}
	return nil
}

// =============================================================================
// REQUEST STATUS
// =============================================================================

type RequestStatus string

const (
	StatusPending   RequestStatus = "PENDING"
	StatusApproved  RequestStatus = "APPROVED"
	StatusRejected  RequestStatus = "REJECTED"
	StatusWithdrawn RequestStatus = "WITHDRAWN"
)

func (s RequestStatus) IsTerminal() bool { return s != StatusPending }
