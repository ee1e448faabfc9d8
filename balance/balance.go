/*
Package balance implements the per-employee leave balance ledger.

PURPOSE:
  The ledger owns two totals per employee, TotalGranted and UsedDays, and
  enforces one invariant at all times:

      remaining = TotalGranted - UsedDays >= 0

  It is mutated only by Grant (additive) and Use (additive, guarded). Every
  mutation also appends an Entry, so the totals can be audited.

CONCURRENCY:
  The orchestrator and both accrual rules hit the same rows concurrently.
  Each Account carries a version; Store.Commit applies a change only if the
  version is unchanged, and the Ledger retries the whole read-check-write
  cycle on ErrConcurrentModification. Two concurrent Use calls therefore
  never both pass the balance check.

IDEMPOTENCY:
  Every mutation carries an idempotency key. A key that was already
  committed is a replay: nothing changes and the current remaining is
  returned. Accrual grants additionally write an AccrualGrant marker in the
  same commit, keyed by (employee, period, rule).

SEE ALSO:
  - ledger.go: The service
  - store/sqlite, store/memory: Store implementations
*/
package balance

import (
	"context"
	"time"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// ACCOUNT
// =============================================================================

// Account is the balance row of one employee. It is created lazily with a
// zero baseline on first grant.
type Account struct {
	EmployeeID   generic.EmployeeID
	TotalGranted generic.Amount
	UsedDays     generic.Amount
	Version      int64
	UpdatedAt    time.Time
}

func (a Account) Remaining() generic.Amount { return a.TotalGranted.Sub(a.UsedDays) }

// check detects stored state that can only come from a bug.
func (a Account) check() error {
	switch {
	case a.TotalGranted.IsNegative():
		return &generic.InvariantViolationError{Invariant: "total_granted >= 0", Detail: "total granted is " + a.TotalGranted.String() + " for " + string(a.EmployeeID)}
	case a.UsedDays.IsNegative():
		return &generic.InvariantViolationError{Invariant: "used_days >= 0", Detail: "used days is " + a.UsedDays.String() + " for " + string(a.EmployeeID)}
	case a.UsedDays.GreaterThan(a.TotalGranted):
		return &generic.InvariantViolationError{Invariant: "used_days <= total_granted", Detail: "used " + a.UsedDays.String() + " of " + a.TotalGranted.String() + " for " + string(a.EmployeeID)}
	}
	return nil
}

// Summary is what GetBalance reports.
type Summary struct {
	EmployeeID   generic.EmployeeID `json:"employee_id"`
	TotalGranted generic.Amount     `json:"total_granted"`
	UsedDays     generic.Amount     `json:"used_days"`
	Remaining    generic.Amount     `json:"remaining"`
}

func (a Account) Summary() Summary {
	return Summary{
		EmployeeID:   a.EmployeeID,
		TotalGranted: a.TotalGranted,
		UsedDays:     a.UsedDays,
		Remaining:    a.Remaining(),
	}
}

// =============================================================================
// ENTRIES - Append-only audit trail
// =============================================================================

type EntryType string

const (
	EntryGrant EntryType = "GRANT"
	EntryUse   EntryType = "USE"
)

type Entry struct {
	ID             string
	EmployeeID     generic.EmployeeID
	Type           EntryType
	Amount         generic.Amount
	IdempotencyKey string
	Reason         string
	CreatedAt      time.Time
}

// AccrualGrant is both the input of a scheduled grant and the dedup marker
// persisted with it.
type AccrualGrant struct {
	EmployeeID generic.EmployeeID
	Period     generic.Period
	Rule       string
	Amount     generic.Amount
	GrantedAt  time.Time
}

// IdempotencyKey derives the entry key of an accrual grant.
func (g AccrualGrant) IdempotencyKey() string {
	return "accrual:" + g.Rule + ":" + string(g.Period) + ":" + string(g.EmployeeID)
}

// =============================================================================
// STORE
// =============================================================================

// Commit is one atomic ledger write.
type Commit struct {
	// PrevVersion is the version the change was computed from. Zero means the
	// account row must not exist yet.
	PrevVersion int64
	Next        Account
	Entry       Entry
	Marker      *AccrualGrant
}

// Store persists accounts, entries and accrual markers.
//
// Commit applies Next, Entry and Marker together or not at all. It fails
// with generic.ErrConcurrentModification when the stored version differs
// from PrevVersion, and with generic.ErrDuplicateIdempotencyKey when the
// entry key or the (employee, period, rule) marker already exists.
//
// LoadAccount returns a zero Account (Version 0) for unknown employees.
type Store interface {
	LoadAccount(ctx context.Context, employeeID generic.EmployeeID) (Account, error)
	FindEntry(ctx context.Context, idempotencyKey string) (*Entry, error)
	Commit(ctx context.Context, c Commit) error
	ListEntries(ctx context.Context, employeeID generic.EmployeeID) ([]Entry, error)
	AccrualGranted(ctx context.Context, employeeID generic.EmployeeID, period generic.Period, rule string) (bool, error)
}
