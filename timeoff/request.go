package timeoff

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/warp/leave-engine/generic"
)

// MaxReasonLength bounds the free-text reason on a request.
const MaxReasonLength = 500

// =============================================================================
// LEAVE REQUEST - The aggregate an employee submits
// =============================================================================

// LeaveRequest is owned by the requester until a decision is recorded.
// After that only the status mirror and timestamps change.
type LeaveRequest struct {
	ID          generic.RequestID
	RequesterID generic.EmployeeID
	Kind        Kind
	Range       generic.DateRange
	TimeRange   *TimeRange
	Reason      string
	ApprovalID  generic.ApprovalID
	Status      RequestStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewLeaveRequest validates the submission and returns a PENDING request.
func NewLeaveRequest(
	id generic.RequestID,
	requesterID generic.EmployeeID,
	kind Kind,
	dates generic.DateRange,
	timeRange *TimeRange,
	reason string,
	now time.Time,
) (*LeaveRequest, error) {
	if strings.TrimSpace(string(requesterID)) == "" {
		return nil, &generic.ValidationError{Field: "requester_id", Message: "is required"}
	}
	if !kind.IsValid() {
		return nil, &generic.ValidationError{Field: "kind", Message: fmt.Sprintf("unknown leave kind %q", kind)}
	}
	if err := dates.Validate(); err != nil {
		return nil, err
	}
	if (kind.IsHalfDay() || kind == KindShort) && !dates.IsSingleDay() {
		return nil, &generic.ValidationError{Field: "date_range", Message: fmt.Sprintf("%s leave must cover a single day", kind)}
	}
	if kind == KindShort {
		if timeRange == nil {
			return nil, &generic.ValidationError{Field: "time_range", Message: "is required for short leave"}
		}
		if err := timeRange.Validate(); err != nil {
			return nil, err
		}
	} else {
		timeRange = nil
	}
	if utf8.RuneCountInString(reason) > MaxReasonLength {
		return nil, &generic.ValidationError{Field: "reason", Message: fmt.Sprintf("must be at most %d characters", MaxReasonLength)}
	}

	return &LeaveRequest{
		ID:          id,
		RequesterID: requesterID,
		Kind:        kind,
		Range:       dates,
		TimeRange:   timeRange,
		Reason:      reason,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Days is the amount a vacation request debits: calendar days inclusive for
// full-day kinds, half a day for half-day kinds, nothing for short leave.
func (r *LeaveRequest) Days() generic.Amount {
	switch {
	case r.Kind.IsHalfDay():
		return generic.HalfDay()
	case r.Kind == KindShort:
		return generic.ZeroAmount()
	default:
		return generic.NewAmountFromInt(r.Range.Len())
	}
}

// AttachApproval links the request to its approval record. A request has
// exactly one approval record.
func (r *LeaveRequest) AttachApproval(id generic.ApprovalID, now time.Time) error {
	if r.ApprovalID != "" && r.ApprovalID != id {
		return &generic.ConflictError{Resource: "leave_request", ID: string(r.ID), Message: "already linked to approval " + string(r.ApprovalID)}
	}
	r.ApprovalID = id
	r.UpdatedAt = now
	return nil
}

// Mirror copies a terminal decision onto the request. Mirroring the status
// it already has is a no-op so replays stay harmless.
func (r *LeaveRequest) Mirror(status RequestStatus, now time.Time) error {
	if r.Status == status {
		return nil
	}
	if r.Status != StatusPending {
		return &generic.ConflictError{
			Resource: "leave_request",
			ID:       string(r.ID),
			Message:  fmt.Sprintf("cannot move from %s to %s", r.Status, status),
		}
	}
	r.Status = status
	r.UpdatedAt = now
	return nil
}

// =============================================================================
// REPOSITORY
// =============================================================================

// Repository persists leave requests. Save inserts or replaces by ID.
// Delete is only used to roll back a submission that never got an approval
// record; deleting an unknown ID is not an error.
type Repository interface {
	Save(ctx context.Context, req *LeaveRequest) error
	Delete(ctx context.Context, id generic.RequestID) error
	Get(ctx context.Context, id generic.RequestID) (*LeaveRequest, error)
	ListByRequester(ctx context.Context, employeeID generic.EmployeeID) ([]*LeaveRequest, error)
}
