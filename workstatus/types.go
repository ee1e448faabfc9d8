/*
Package workstatus owns the day-by-day work-status projection.

PURPOSE:
  Attendance and payroll read one record per (employee, date). Records are
  written by two producers:
    - the workflow orchestrator, after a leave request is approved
    - raw attendance capture (check-in / check-out)

  The two never clobber each other: an approval-derived write replaces the
  status and reason of a day but keeps its check-in/out timestamps, and an
  attendance event sets timestamps without demoting an approved leave.

SEE ALSO:
  - projector.go: The service both producers call
  - store/gormstore: Database-backed Repository
*/
package workstatus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// STATUS TYPES
// =============================================================================

type StatusType string

const (
	StatusPresent       StatusType = "PRESENT"
	StatusLate          StatusType = "LATE"
	StatusApprovedLeave StatusType = "APPROVED_LEAVE"
	StatusHalfDayLeave  StatusType = "HALF_DAY_LEAVE"
	StatusSickLeave     StatusType = "SICK_LEAVE"
	StatusOfficialLeave StatusType = "OFFICIAL_LEAVE"
	StatusBusinessTrip  StatusType = "BUSINESS_TRIP"
	StatusTraining      StatusType = "TRAINING"
	StatusShortLeave    StatusType = "SHORT_LEAVE"
	StatusOtherAbsence  StatusType = "OTHER_ABSENCE"
)

var knownStatuses = map[StatusType]bool{
	StatusPresent:       true,
	StatusLate:          true,
	StatusApprovedLeave: true,
	StatusHalfDayLeave:  true,
	StatusSickLeave:     true,
	StatusOfficialLeave: true,
	StatusBusinessTrip:  true,
	StatusTraining:      true,
	StatusShortLeave:    true,
	StatusOtherAbsence:  true,
}

func (s StatusType) IsValid() bool { return knownStatuses[s] }

func ParseStatusType(s string) (StatusType, error) {
	st := StatusType(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", &generic.ValidationError{Field: "status_type", Message: fmt.Sprintf("unknown status type %q", s)}
	}
	return st, nil
}

// IsHalfDay is true for statuses that cover half a working day.
func (s StatusType) IsHalfDay() bool { return s == StatusHalfDayLeave }

// Weight is what one record of this status contributes to the monthly
// attendance aggregate.
func Weight(s StatusType) generic.Amount {
	if s.IsHalfDay() {
		return generic.HalfDay()
	}
	return generic.OneDay()
}

// Source tells which producer last set the status of a record.
type Source string

const (
	SourceApproval   Source = "APPROVAL"
	SourceAttendance Source = "ATTENDANCE"
)

// =============================================================================
// RECORD
// =============================================================================

// Record is the projection of one employee on one calendar day.
type Record struct {
	EmployeeID generic.EmployeeID
	Date       generic.Date
	StatusType StatusType
	Reason     string
	Source     Source
	SourceRef  string
	CheckIn    *time.Time
	CheckOut   *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// =============================================================================
// REPOSITORY
// =============================================================================

// Repository stores records keyed by (EmployeeID, Date).
//
// UpsertStatus writes every record in one transaction. For an existing row it
// replaces StatusType, Reason, Source, SourceRef and UpdatedAt only.
//
// UpsertAttendance sets CheckIn and CheckOut (nil leaves a stored value
// alone). It replaces the status only when the row is absent or was itself
// written by attendance.
type Repository interface {
	UpsertStatus(ctx context.Context, records []Record) error
	UpsertAttendance(ctx context.Context, record Record) (Record, error)
	ListRange(ctx context.Context, employeeID generic.EmployeeID, dates generic.DateRange) ([]Record, error)
	ListAllInRange(ctx context.Context, dates generic.DateRange) ([]Record, error)
}
