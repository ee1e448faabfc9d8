package workflow

import (
	"context"

	"github.com/warp/leave-engine/approval"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/workstatus"
)

// =============================================================================
// CLIENTS - The remote services the orchestrator calls
// =============================================================================
//
// Each method is invoked through generic.Call, so timeout and retry are set
// at the call site. Implementations must be safe to repeat with the same key.

// LedgerClient debits the balance ledger. *balance.Ledger satisfies it.
type LedgerClient interface {
	Use(ctx context.Context, employeeID generic.EmployeeID, amount generic.Amount, key, reason string) (generic.Amount, error)
}

// ProjectorClient writes the work-status projection. *workstatus.Projector
// satisfies it.
type ProjectorClient interface {
	UpsertRange(ctx context.Context, cmd workstatus.UpsertCommand) (int, error)
}

// Approvals is the approval state machine. *approval.Machine satisfies it.
type Approvals interface {
	Create(ctx context.Context, applicantID generic.EmployeeID, requestKind string, requestID generic.RequestID) (*approval.Record, error)
	Approve(ctx context.Context, id generic.ApprovalID, approverID generic.EmployeeID) (*approval.Record, error)
	Reject(ctx context.Context, id generic.ApprovalID, approverID generic.EmployeeID, comment string) (*approval.Record, error)
	Withdraw(ctx context.Context, id generic.ApprovalID, applicantID generic.EmployeeID) (*approval.Record, error)
	Get(ctx context.Context, id generic.ApprovalID) (*approval.Record, error)
}
