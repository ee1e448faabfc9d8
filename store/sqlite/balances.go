package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/warp/leave-engine/balance"
	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// BALANCE LEDGER (balance.Store)
// =============================================================================

// LedgerRepository implements balance.Store.
type LedgerRepository struct {
	s *Store
}

var _ balance.Store = (*LedgerRepository)(nil)

func (s *Store) Ledger() *LedgerRepository { return &LedgerRepository{s: s} }

// LoadAccount returns the balance row, or a zero Account if none exists.
func (lr *LedgerRepository) LoadAccount(ctx context.Context, employeeID generic.EmployeeID) (balance.Account, error) {
	s := lr.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total, used, updatedAt string
	acct := balance.Account{EmployeeID: employeeID}
	err := s.db.QueryRowContext(ctx,
		"SELECT total_granted, used_days, version, updated_at FROM balances WHERE employee_id = ?",
		employeeID,
	).Scan(&total, &used, &acct.Version, &updatedAt)
	if err == sql.ErrNoRows {
		acct.TotalGranted = generic.ZeroAmount()
		acct.UsedDays = generic.ZeroAmount()
		return acct, nil
	}
	if err != nil {
		return balance.Account{}, fmt.Errorf("failed to load balance: %w", err)
	}

	if acct.TotalGranted, err = parseStoredAmount(total); err != nil {
		return balance.Account{}, err
	}
	if acct.UsedDays, err = parseStoredAmount(used); err != nil {
		return balance.Account{}, err
	}
	acct.UpdatedAt = parseTime(updatedAt)
	return acct, nil
}

// FindEntry returns the entry holding an idempotency key, or nil when the
// key is unused.
func (lr *LedgerRepository) FindEntry(ctx context.Context, idempotencyKey string) (*balance.Entry, error) {
	s := lr.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		e                 balance.Entry
		amount, createdAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, employee_id, entry_type, amount, idempotency_key, reason, created_at
		FROM ledger_entries
		WHERE idempotency_key = ?
	`, idempotencyKey).Scan(&e.ID, &e.EmployeeID, &e.Type, &amount, &e.IdempotencyKey, &e.Reason, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up ledger entry: %w", err)
	}
	if e.Amount, err = parseStoredAmount(amount); err != nil {
		return nil, err
	}
	e.CreatedAt = parseTime(createdAt)
	return &e, nil
}

// AccrualGranted checks the dedup marker.
func (lr *LedgerRepository) AccrualGranted(ctx context.Context, employeeID generic.EmployeeID, period generic.Period, rule string) (bool, error) {
	s := lr.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM accrual_grants WHERE employee_id = ? AND period = ? AND rule = ?",
		employeeID, period, rule,
	).Scan(&count)
	return count > 0, err
}

// Commit writes the entry, the optional marker and the new balance row in
// one transaction.
func (lr *LedgerRepository) Commit(ctx context.Context, c balance.Commit) error {
	s := lr.s
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertEntry(ctx, tx, c.Entry); err != nil {
		return err
	}
	if c.Marker != nil {
		if err := insertMarker(ctx, tx, *c.Marker); err != nil {
			return err
		}
	}
	if err := writeAccount(ctx, tx, c.PrevVersion, c.Next); err != nil {
		return err
	}

	return tx.Commit()
}

func insertEntry(ctx context.Context, db execer, e balance.Entry) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, employee_id, entry_type, amount, idempotency_key, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.EmployeeID, e.Type, e.Amount.String(), e.IdempotencyKey, e.Reason, formatTime(e.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

func insertMarker(ctx context.Context, db execer, g balance.AccrualGrant) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO accrual_grants (employee_id, period, rule, amount, granted_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		g.EmployeeID, g.Period, g.Rule, g.Amount.String(), formatTime(g.GrantedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to write accrual marker: %w", err)
	}
	return nil
}

func writeAccount(ctx context.Context, db execer, prevVersion int64, next balance.Account) error {
	if prevVersion == 0 {
		_, err := db.ExecContext(ctx, `
			INSERT INTO balances (employee_id, total_granted, used_days, version, updated_at)
			VALUES (?, ?, ?, ?, ?)
		`,
			next.EmployeeID, next.TotalGranted.String(), next.UsedDays.String(), next.Version, formatTime(next.UpdatedAt),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return generic.ErrConcurrentModification
			}
			return fmt.Errorf("failed to create balance: %w", err)
		}
		return nil
	}

	res, err := db.ExecContext(ctx, `
		UPDATE balances
		SET total_granted = ?, used_days = ?, version = ?, updated_at = ?
		WHERE employee_id = ? AND version = ?
	`,
		next.TotalGranted.String(), next.UsedDays.String(), next.Version, formatTime(next.UpdatedAt),
		next.EmployeeID, prevVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return generic.ErrConcurrentModification
	}
	return nil
}

// ListEntries returns an employee's ledger entries in commit order.
func (lr *LedgerRepository) ListEntries(ctx context.Context, employeeID generic.EmployeeID) ([]balance.Entry, error) {
	s := lr.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, employee_id, entry_type, amount, idempotency_key, reason, created_at
		FROM ledger_entries
		WHERE employee_id = ?
		ORDER BY created_at, rowid
	`, employeeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []balance.Entry
	for rows.Next() {
		var (
			e                 balance.Entry
			amount, createdAt string
		)
		if err := rows.Scan(&e.ID, &e.EmployeeID, &e.Type, &amount, &e.IdempotencyKey, &e.Reason, &createdAt); err != nil {
			return nil, err
		}
		if e.Amount, err = parseStoredAmount(amount); err != nil {
			return nil, err
		}
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
