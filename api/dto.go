/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry validator/v10 tags for presence and length. Domain
  rules (half-day amounts, date order, kind-specific fields) stay in the
  services so every entry point enforces them.

SEE ALSO:
  - handlers.go: Uses these types
  - errors.go: ErrorResponse codes
*/
package api

import (
	"time"

	"github.com/warp/leave-engine/accrual"
	"github.com/warp/leave-engine/approval"
	"github.com/warp/leave-engine/balance"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
	"github.com/warp/leave-engine/workstatus"
)

// =============================================================================
// LEAVE REQUESTS
// =============================================================================

// TimeRangeDTO is the clock window of a short leave.
type TimeRangeDTO struct {
	Start string `json:"start" validate:"required"`
	End   string `json:"end" validate:"required"`
}

// SubmitRequest is the body of POST /api/requests.
type SubmitRequest struct {
	RequesterID string        `json:"requester_id" validate:"required"`
	Kind        string        `json:"kind" validate:"required"`
	StartDate   string        `json:"start_date" validate:"required"`
	EndDate     string        `json:"end_date" validate:"required"`
	TimeRange   *TimeRangeDTO `json:"time_range,omitempty"`
	Reason      string        `json:"reason" validate:"max=500"`
}

// WithdrawRequest is the body of POST /api/requests/{id}/withdraw.
type WithdrawRequest struct {
	RequesterID string `json:"requester_id" validate:"required"`
}

// RequestDTO represents a leave request in API responses.
type RequestDTO struct {
	ID          string        `json:"id"`
	RequesterID string        `json:"requester_id"`
	Kind        string        `json:"kind"`
	Category    string        `json:"category"`
	StartDate   string        `json:"start_date"`
	EndDate     string        `json:"end_date"`
	TimeRange   *TimeRangeDTO `json:"time_range,omitempty"`
	Days        string        `json:"days"`
	Reason      string        `json:"reason"`
	ApprovalID  string        `json:"approval_id,omitempty"`
	Status      string        `json:"status"`
	CreatedAt   string        `json:"created_at"`
	UpdatedAt   string        `json:"updated_at"`
}

func toRequestDTO(r *timeoff.LeaveRequest) RequestDTO {
	dto := RequestDTO{
		ID:          string(r.ID),
		RequesterID: string(r.RequesterID),
		Kind:        string(r.Kind),
		Category:    string(r.Kind.Category()),
		StartDate:   r.Range.Start.String(),
		EndDate:     r.Range.End.String(),
		Days:        r.Days().String(),
		Reason:      r.Reason,
		ApprovalID:  string(r.ApprovalID),
		Status:      string(r.Status),
		CreatedAt:   r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   r.UpdatedAt.Format(time.RFC3339),
	}
	if r.TimeRange != nil {
		dto.TimeRange = &TimeRangeDTO{Start: r.TimeRange.Start, End: r.TimeRange.End}
	}
	return dto
}

// =============================================================================
// APPROVALS
// =============================================================================

// DecisionRequest is the body of POST /api/approvals/{id}/decision.
type DecisionRequest struct {
	ApproverID string `json:"approver_id" validate:"required"`
	Decision   string `json:"decision" validate:"required"`
	Comment    string `json:"comment" validate:"max=500"`
}

// ApprovalDTO represents an approval record in API responses.
type ApprovalDTO struct {
	ID            string  `json:"id"`
	RequestID     string  `json:"request_id"`
	RequestKind   string  `json:"request_kind"`
	ApplicantID   string  `json:"applicant_id"`
	ApproverID    string  `json:"approver_id,omitempty"`
	Status        string  `json:"status"`
	RequestedAt   string  `json:"requested_at"`
	ProcessedAt   *string `json:"processed_at,omitempty"`
	RejectComment string  `json:"reject_comment,omitempty"`
}

func toApprovalDTO(r *approval.Record) ApprovalDTO {
	dto := ApprovalDTO{
		ID:            string(r.ID),
		RequestID:     string(r.RequestID),
		RequestKind:   r.RequestKind,
		ApplicantID:   string(r.ApplicantID),
		ApproverID:    string(r.ApproverID),
		Status:        string(r.Status),
		RequestedAt:   r.RequestedAt.Format(time.RFC3339),
		RejectComment: r.RejectComment,
	}
	if r.ProcessedAt != nil {
		s := r.ProcessedAt.Format(time.RFC3339)
		dto.ProcessedAt = &s
	}
	return dto
}

// =============================================================================
// EMPLOYEES AND BALANCES
// =============================================================================

// EmployeeDTO represents an employee in API responses.
type EmployeeDTO struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	HireDate string `json:"hire_date"`
	Active   bool   `json:"active"`
}

// CreateEmployeeRequest is the request to create or update an employee.
type CreateEmployeeRequest struct {
	ID       string `json:"id" validate:"required"`
	Name     string `json:"name" validate:"required"`
	HireDate string `json:"hire_date" validate:"required"`
	Active   *bool  `json:"active,omitempty"`
}

func toEmployeeDTO(e accrual.Employee) EmployeeDTO {
	return EmployeeDTO{
		ID:       string(e.ID),
		Name:     e.Name,
		HireDate: e.HireDate.String(),
		Active:   e.Active,
	}
}

// EntryDTO is one ledger entry.
type EntryDTO struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	Amount         generic.Amount `json:"amount"`
	IdempotencyKey string         `json:"idempotency_key"`
	Reason         string         `json:"reason,omitempty"`
	CreatedAt      string         `json:"created_at"`
}

func toEntryDTOs(entries []balance.Entry) []EntryDTO {
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = EntryDTO{
			ID:             e.ID,
			Type:           string(e.Type),
			Amount:         e.Amount,
			IdempotencyKey: e.IdempotencyKey,
			Reason:         e.Reason,
			CreatedAt:      e.CreatedAt.Format(time.RFC3339),
		}
	}
	return dtos
}

// GrantRequest is the body of POST /internal/balance/grants. Period and
// Rule together make it an accrual grant deduplicated per period;
// otherwise IdempotencyKey is required.
type GrantRequest struct {
	EmployeeID     string         `json:"employee_id" validate:"required"`
	Amount         generic.Amount `json:"amount"`
	Period         string         `json:"period" validate:"required_with=Rule"`
	Rule           string         `json:"rule" validate:"required_with=Period"`
	IdempotencyKey string         `json:"idempotency_key" validate:"required_without=Period"`
	Reason         string         `json:"reason" validate:"max=500"`
}

// GrantDTO acknowledges a grant. Applied is only reported for accrual
// grants.
type GrantDTO struct {
	Applied   *bool          `json:"applied,omitempty"`
	Remaining generic.Amount `json:"remaining"`
}

// =============================================================================
// WORK STATUS
// =============================================================================

// WorkStatusRequest is the body of PUT /internal/work-status.
type WorkStatusRequest struct {
	EmployeeID string `json:"employee_id" validate:"required"`
	StartDate  string `json:"start_date" validate:"required"`
	EndDate    string `json:"end_date" validate:"required"`
	StatusType string `json:"status_type" validate:"required"`
	Reason     string `json:"reason" validate:"max=500"`
	SourceRef  string `json:"source_ref"`
}

// AttendanceRequest is the body of POST /api/attendance.
type AttendanceRequest struct {
	EmployeeID string     `json:"employee_id" validate:"required"`
	Date       string     `json:"date" validate:"required"`
	CheckIn    *time.Time `json:"check_in,omitempty"`
	CheckOut   *time.Time `json:"check_out,omitempty"`
	StatusType string     `json:"status_type,omitempty"`
}

// WorkStatusDTO is one projected day.
type WorkStatusDTO struct {
	EmployeeID string  `json:"employee_id"`
	Date       string  `json:"date"`
	StatusType string  `json:"status_type"`
	Weight     string  `json:"weight"`
	Reason     string  `json:"reason,omitempty"`
	Source     string  `json:"source"`
	SourceRef  string  `json:"source_ref,omitempty"`
	CheckIn    *string `json:"check_in,omitempty"`
	CheckOut   *string `json:"check_out,omitempty"`
}

func toWorkStatusDTO(r workstatus.Record) WorkStatusDTO {
	dto := WorkStatusDTO{
		EmployeeID: string(r.EmployeeID),
		Date:       r.Date.String(),
		StatusType: string(r.StatusType),
		Weight:     workstatus.Weight(r.StatusType).String(),
		Reason:     r.Reason,
		Source:     string(r.Source),
		SourceRef:  r.SourceRef,
	}
	if r.CheckIn != nil {
		s := r.CheckIn.Format(time.RFC3339)
		dto.CheckIn = &s
	}
	if r.CheckOut != nil {
		s := r.CheckOut.Format(time.RFC3339)
		dto.CheckOut = &s
	}
	return dto
}

func toWorkStatusDTOs(records []workstatus.Record) []WorkStatusDTO {
	dtos := make([]WorkStatusDTO, len(records))
	for i, r := range records {
		dtos[i] = toWorkStatusDTO(r)
	}
	return dtos
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}
