package balance

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/generic"
)

// DefaultMaxAttempts bounds the optimistic read-check-write loop.
const DefaultMaxAttempts = 10

// Ledger is the balance service.
type Ledger struct {
	store       Store
	now         generic.NowFunc
	newID       func() string
	logger      *zap.Logger
	maxAttempts int
}

// NewLedger creates a ledger over store. Nil now, newID and logger fall back
// to UTC time, random UUIDs and zap.L().
func NewLedger(store Store, now generic.NowFunc, newID func() string, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.L()
	}
	l := logger.Named("balance.ledger")
	if now == nil {
		now = generic.UTCNow
	}
	if newID == nil {
		newID = uuid.NewString
	}
	return &Ledger{store: store, now: now, newID: newID, logger: l, maxAttempts: DefaultMaxAttempts}
}

// Grant adds amount to the employee's total and returns the new remaining.
// An empty key makes the grant non-idempotent.
func (l *Ledger) Grant(ctx context.Context, employeeID generic.EmployeeID, amount generic.Amount, key, reason string) (generic.Amount, error) {
	res, err := l.apply(ctx, mutation{
		employeeID: employeeID,
		typ:        EntryGrant,
		amount:     amount,
		key:        key,
		reason:     reason,
	})
	return res.remaining, err
}

// Use debits amount and returns the new remaining. It fails with
// *generic.InsufficientBalanceError when remaining < amount. A key that was
// already used is a replay and debits nothing.
func (l *Ledger) Use(ctx context.Context, employeeID generic.EmployeeID, amount generic.Amount, key, reason string) (generic.Amount, error) {
	res, err := l.apply(ctx, mutation{
		employeeID: employeeID,
		typ:        EntryUse,
		amount:     amount,
		key:        key,
		reason:     reason,
	})
	return res.remaining, err
}

// GrantAccrual grants a scheduled accrual together with its dedup marker.
// applied is false when the marker already existed.
func (l *Ledger) GrantAccrual(ctx context.Context, grant AccrualGrant) (applied bool, remaining generic.Amount, err error) {
	if strings.TrimSpace(grant.Rule) == "" {
		return false, generic.Amount{}, &generic.ValidationError{Field: "rule", Message: "is required"}
	}
	if strings.TrimSpace(string(grant.Period)) == "" {
		return false, generic.Amount{}, &generic.ValidationError{Field: "period", Message: "is required"}
	}
	res, err := l.apply(ctx, mutation{
		employeeID: grant.EmployeeID,
		typ:        EntryGrant,
		amount:     grant.Amount,
		key:        grant.IdempotencyKey(),
		reason:     fmt.Sprintf("accrual %s %s", grant.Rule, grant.Period),
		marker:     &grant,
	})
	return res.applied, res.remaining, err
}

// Remaining returns TotalGranted - UsedDays. Unknown employees have zero.
func (l *Ledger) Remaining(ctx context.Context, employeeID generic.EmployeeID) (generic.Amount, error) {
	acct, err := l.load(ctx, employeeID)
	if err != nil {
		return generic.Amount{}, err
	}
	return acct.Remaining(), nil
}

// Balance returns granted, used and remaining days for one employee.
func (l *Ledger) Balance(ctx context.Context, employeeID generic.EmployeeID) (Summary, error) {
	acct, err := l.load(ctx, employeeID)
	if err != nil {
		return Summary{}, err
	}
	return acct.Summary(), nil
}

// Entries lists the employee's entries in commit order.
func (l *Ledger) Entries(ctx context.Context, employeeID generic.EmployeeID) ([]Entry, error) {
	return l.store.ListEntries(ctx, employeeID)
}

// =============================================================================
// OPTIMISTIC APPLY LOOP
// =============================================================================

type mutation struct {
	employeeID generic.EmployeeID
	typ        EntryType
	amount     generic.Amount
	key        string
	reason     string
	marker     *AccrualGrant
}

type result struct {
	remaining generic.Amount
	applied   bool
}

func (l *Ledger) apply(ctx context.Context, m mutation) (result, error) {
	log := l.logger.With(
		zap.String("employee_id", string(m.employeeID)),
		zap.String("type", string(m.typ)),
		zap.Stringer("amount", m.amount),
		zap.String("idempotency_key", m.key),
	)
	log.Debug("ledger mutation requested")

	if strings.TrimSpace(string(m.employeeID)) == "" {
		return result{}, &generic.ValidationError{Field: "employee_id", Message: "is required"}
	}
	if err := m.amount.ValidateHalfDay(); err != nil {
		return result{}, err
	}
	if m.key == "" {
		m.key = l.newID()
	}

	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return result{}, err
		}

		seen, err := l.store.FindEntry(ctx, m.key)
		if err != nil {
			log.Error("ledger idempotency lookup failed", zap.Error(err))
			return result{}, err
		}
		if seen != nil {
			return l.replay(ctx, m, seen, log)
		}

		acct, err := l.load(ctx, m.employeeID)
		if err != nil {
			return result{}, err
		}

		next := acct
		next.EmployeeID = m.employeeID
		switch m.typ {
		case EntryUse:
			if acct.Remaining().LessThan(m.amount) {
				log.Warn("ledger use refused", zap.Stringer("remaining", acct.Remaining()))
				return result{remaining: acct.Remaining()}, &generic.InsufficientBalanceError{
					EmployeeID: m.employeeID,
					Available:  acct.Remaining(),
					Requested:  m.amount,
					Shortfall:  m.amount.Sub(acct.Remaining()),
				}
			}
			next.UsedDays = acct.UsedDays.Add(m.amount)
		case EntryGrant:
			next.TotalGranted = acct.TotalGranted.Add(m.amount)
		default:
			return result{}, &generic.InvariantViolationError{Invariant: "entry type", Detail: "unknown entry type " + string(m.typ)}
		}
		now := l.now()
		next.Version = acct.Version + 1
		next.UpdatedAt = now

		var marker *AccrualGrant
		if m.marker != nil {
			mk := *m.marker
			mk.GrantedAt = now
			marker = &mk
		}

		err = l.store.Commit(ctx, Commit{
			PrevVersion: acct.Version,
			Next:        next,
			Entry: Entry{
				ID:             l.newID(),
				EmployeeID:     m.employeeID,
				Type:           m.typ,
				Amount:         m.amount,
				IdempotencyKey: m.key,
				Reason:         m.reason,
				CreatedAt:      now,
			},
			Marker: marker,
		})
		switch {
		case err == nil:
			log.Info("ledger mutation committed", zap.Stringer("remaining", next.Remaining()), zap.Int64("version", next.Version))
			return result{remaining: next.Remaining(), applied: true}, nil
		case errors.Is(err, generic.ErrDuplicateIdempotencyKey):
			seen, ferr := l.store.FindEntry(ctx, m.key)
			if ferr != nil {
				return result{}, ferr
			}
			return l.replay(ctx, m, seen, log)
		case errors.Is(err, generic.ErrConcurrentModification):
			log.Debug("ledger version conflict, retrying", zap.Int("attempt", attempt))
			continue
		default:
			log.Error("ledger commit failed", zap.Error(err))
			return result{}, fmt.Errorf("commit ledger entry: %w", err)
		}
	}

	log.Error("ledger mutation gave up after version conflicts", zap.Int("attempts", l.maxAttempts))
	return result{}, fmt.Errorf("ledger %s for %s: %w", m.typ, m.employeeID, generic.ErrConcurrentModification)
}

// replay answers a mutation whose key is already committed. A key belongs to
// one employee and one entry type; reusing it for anything else is a
// conflict. seen is nil when the duplicate came from an accrual marker.
func (l *Ledger) replay(ctx context.Context, m mutation, seen *Entry, log *zap.Logger) (result, error) {
	if seen != nil && (seen.EmployeeID != m.employeeID || seen.Type != m.typ) {
		log.Warn("idempotency key owned by another mutation",
			zap.String("owner_employee_id", string(seen.EmployeeID)),
			zap.String("owner_type", string(seen.Type)),
		)
		return result{}, &generic.ConflictError{
			Resource: "ledger_entry",
			ID:       m.key,
			Message:  fmt.Sprintf("idempotency key already used for %s by %s", seen.Type, seen.EmployeeID),
		}
	}
	acct, err := l.load(ctx, m.employeeID)
	if err != nil {
		return result{}, err
	}
	log.Info("ledger mutation replayed", zap.Stringer("remaining", acct.Remaining()))
	return result{remaining: acct.Remaining(), applied: false}, nil
}

func (l *Ledger) load(ctx context.Context, employeeID generic.EmployeeID) (Account, error) {
	acct, err := l.store.LoadAccount(ctx, employeeID)
	if err != nil {
		l.logger.Error("ledger load failed", zap.String("employee_id", string(employeeID)), zap.Error(err))
		return Account{}, err
	}
	if acct.EmployeeID == "" {
		acct.EmployeeID = employeeID
		acct.TotalGranted = generic.ZeroAmount()
		acct.UsedDays = generic.ZeroAmount()
	}
	if err := acct.check(); err != nil {
		l.logger.Error("ledger invariant violated", zap.String("employee_id", string(employeeID)), zap.Error(err))
		return Account{}, err
	}
	return acct, nil
}
