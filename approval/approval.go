/*
Package approval implements the approval record state machine.

STATES:

	PENDING ──approve──▶ APPROVED (terminal)
	   │
	   └────reject────▶ REJECTED (terminal)

  No other edges exist. Self-loops are rejected, and deciding a record that
  is already terminal is a ConflictError, never a silent no-op.

CONCURRENCY:
  Decisions are persisted with Repository.CompareAndSwap, conditional on the
  record still being PENDING. Of two racing deciders exactly one wins; the
  loser gets a ConflictError.

SEE ALSO:
  - machine.go: The service API (Create, Approve, Reject)
  - workflow: Reacts to terminal records
*/
package approval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

func (s Status) IsTerminal() bool { return s == StatusApproved || s == StatusRejected }

// CanTransition reports whether from → to is an edge of the state machine.
func CanTransition(from, to Status) bool {
	return from == StatusPending && to.IsTerminal()
}

// Decision is what an approver submits.
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
)

func ParseDecision(s string) (Decision, error) {
	switch d := Decision(strings.ToUpper(strings.TrimSpace(s))); d {
	case DecisionApprove, DecisionReject:
		return d, nil
	default:
		return "", &generic.ValidationError{Field: "decision", Message: fmt.Sprintf("must be APPROVE or REJECT, got %q", s)}
	}
}

// =============================================================================
// RECORD
// =============================================================================

// Record tracks one human decision on one leave request.
type Record struct {
	ID            generic.ApprovalID
	RequestID     generic.RequestID
	RequestKind   string
	ApplicantID   generic.EmployeeID
	ApproverID    generic.EmployeeID
	Status        Status
	RequestedAt   time.Time
	ProcessedAt   *time.Time
	RejectComment string
}

func (r *Record) IsTerminal() bool { return r.Status.IsTerminal() }

func (r *Record) transition(to Status, approverID generic.EmployeeID, comment string, now time.Time) error {
	if !CanTransition(r.Status, to) {
		return &generic.ConflictError{
			Resource: "approval",
			ID:       string(r.ID),
			Message:  fmt.Sprintf("cannot move from %s to %s", r.Status, to),
		}
	}
	processed := now
	r.Status = to
	r.ApproverID = approverID
	r.ProcessedAt = &processed
	r.RejectComment = comment
	return nil
}

// =============================================================================
// REPOSITORY
// =============================================================================

// Repository persists approval records.
//
// Create fails with a *generic.ConflictError when a record already exists
// for the same RequestID. CompareAndSwap stores record only if the stored
// status still equals expected, otherwise it fails with a
// *generic.ConflictError. Get returns a *generic.NotFoundError for unknown ids.
type Repository interface {
	Create(ctx context.Context, record *Record) error
	Get(ctx context.Context, id generic.ApprovalID) (*Record, error)
	FindByRequest(ctx context.Context, requestID generic.RequestID) (*Record, error)
	CompareAndSwap(ctx context.Context, record *Record, expected Status) error
	ListPending(ctx context.Context) ([]*Record, error)
}
