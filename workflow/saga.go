/*
Package workflow coordinates the leave lifecycle across services.

PURPOSE:
  A leave request touches four pieces of state owned by different services:
  the request, its approval record, the balance ledger and the work-status
  projection. There is no shared transaction. The Orchestrator persists the
  decision first, then fans out to the ledger and the projector through
  idempotent, retried calls, and records progress in a Saga row per
  approval.

SAGA STATES:

	awaiting_decision ──decision──▶ (fan-out) ──▶ completed
	        │                           │
	        │                           ├── retries exhausted ──▶ pending_reconciliation ──▶ (re-driven)
	        │                           │
	        │                           └── ledger refused ─────▶ failed
	        │
	        └── requester withdrew ──▶ withdrawn

IDEMPOTENCY KEYS:
  ledger debit      approvalID
  projection write  approvalID + "-projection"

  A redelivered decision never produces a second debit. An applied debit
  is never rolled back automatically; sagas stuck after it are listed by
  ListUnreconciled for an operator.

SEE ALSO:
  - orchestrator.go: Submit, Decide, Withdraw, OnDecision
  - reconciler.go: Background re-drive of unfinished sagas
*/
package workflow

import (
	"context"
	"time"

	"github.com/warp/leave-engine/approval"
	"github.com/warp/leave-engine/generic"
)

type SagaState string

const (
	SagaAwaitingDecision      SagaState = "awaiting_decision"
	SagaCompleted             SagaState = "completed"
	SagaPendingReconciliation SagaState = "pending_reconciliation"
	SagaFailed                SagaState = "failed"
	SagaWithdrawn             SagaState = "withdrawn"
)

// IsFinal is true for states the orchestrator never leaves on its own.
func (s SagaState) IsFinal() bool {
	return s == SagaCompleted || s == SagaFailed || s == SagaWithdrawn
}

// Saga is the progress record of one approval's fan-out.
type Saga struct {
	ApprovalID        generic.ApprovalID `json:"approval_id"`
	RequestID         generic.RequestID  `json:"request_id"`
	EmployeeID        generic.EmployeeID `json:"employee_id"`
	State             SagaState          `json:"state"`
	Decision          approval.Status    `json:"decision"`
	LedgerApplied     bool               `json:"ledger_applied"`
	ProjectionApplied bool               `json:"projection_applied"`
	Attempts          int                `json:"attempts"`
	LastError         string             `json:"last_error,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// LedgerKey is the idempotency key of the balance debit.
func LedgerKey(id generic.ApprovalID) string { return string(id) }

// ProjectionKey is the idempotency key of the work-status write.
func ProjectionKey(id generic.ApprovalID) string { return string(id) + "-projection" }

// SagaRepository persists sagas. Save inserts or replaces by ApprovalID.
// Get returns a *generic.NotFoundError for unknown ids.
type SagaRepository interface {
	Save(ctx context.Context, saga *Saga) error
	Get(ctx context.Context, id generic.ApprovalID) (*Saga, error)
	ListByState(ctx context.Context, states ...SagaState) ([]*Saga, error)
}
