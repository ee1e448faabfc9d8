/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements the repositories of the request, approval, ledger, accrual and
  workflow services on one SQLite database. The work-status projection lives
  in its own database (see store/gormstore), as it is owned by attendance.

INTERFACES IMPLEMENTED:
  timeoff.Repository:       Leave requests
  approval.Repository:      Approval records (conditional decision writes)
  balance.Store:            Balance rows, ledger entries, accrual markers
  accrual.Directory:        Employees and hire dates
  accrual.FailureQueue:     Accrual grants pending retry
  workflow.SagaRepository:  Fan-out progress per approval

KEY TABLES:
  balances:         One row per employee, optimistic version column
  ledger_entries:   Append-only audit trail, UNIQUE idempotency_key
  accrual_grants:   Dedup markers, PRIMARY KEY (employee_id, period, rule)
  approvals:        UNIQUE request_id (one approval per request)
  workflow_sagas:   One row per approval

CONCURRENCY:
  Uses sync.RWMutex for thread-safety on top of SQLite's own locking.
  Ledger writes are additionally guarded by the version column so that the
  same code is correct against a server database without the mutex.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/leave.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := balance.NewLedger(store.Ledger(), time.Now, uuid.NewString, logger)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - store/memory: In-memory implementation for tests
  - store/gormstore: Work-status projection
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/leave-engine/generic"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection; used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Employees (hire date drives the anniversary rule)
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		hire_date TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	-- Leave requests
	CREATE TABLE IF NOT EXISTS leave_requests (
		id TEXT PRIMARY KEY,
		requester_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		time_start TEXT,
		time_end TEXT,
		reason TEXT NOT NULL DEFAULT '',
		approval_id TEXT,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_leave_requests_requester
		ON leave_requests(requester_id, start_date);

	-- Approval records: exactly one per request
	CREATE TABLE IF NOT EXISTS approvals (
		id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL UNIQUE,
		request_kind TEXT NOT NULL,
		applicant_id TEXT NOT NULL,
		approver_id TEXT,
		status TEXT NOT NULL,
		requested_at TEXT NOT NULL,
		processed_at TEXT,
		reject_comment TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_approvals_status
		ON approvals(status);

	-- Balance rows (optimistic version per employee)
	CREATE TABLE IF NOT EXISTS balances (
		employee_id TEXT PRIMARY KEY,
		total_granted TEXT NOT NULL,
		used_days TEXT NOT NULL,
		version INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Ledger entries (append-only)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		entry_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		idempotency_key TEXT NOT NULL UNIQUE,
		reason TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_entries_employee
		ON ledger_entries(employee_id, created_at);

	-- Accrual dedup markers
	CREATE TABLE IF NOT EXISTS accrual_grants (
		employee_id TEXT NOT NULL,
		period TEXT NOT NULL,
		rule TEXT NOT NULL,
		amount TEXT NOT NULL,
		granted_at TEXT NOT NULL,
		PRIMARY KEY (employee_id, period, rule)
	);

	-- Accrual grants pending retry on the next run
	CREATE TABLE IF NOT EXISTS accrual_failures (
		rule TEXT NOT NULL,
		period TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 1,
		last_error TEXT NOT NULL DEFAULT '',
		first_failed_at TEXT NOT NULL,
		last_failed_at TEXT NOT NULL,
		PRIMARY KEY (rule, period, employee_id)
	);

	-- Workflow sagas (one per approval)
	CREATE TABLE IF NOT EXISTS workflow_sagas (
		approval_id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		state TEXT NOT NULL,
		decision TEXT NOT NULL,
		ledger_applied INTEGER NOT NULL DEFAULT 0,
		projection_applied INTEGER NOT NULL DEFAULT 0,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_workflow_sagas_state
		ON workflow_sagas(state);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Reset deletes all data (for testing/demo purposes).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{
		"workflow_sagas", "accrual_failures", "accrual_grants", "ledger_entries",
		"balances", "approvals", "leave_requests", "employees",
	} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type scanner interface {
	Scan(dest ...any) error
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func parseDate(s string) generic.Date {
	d, _ := generic.ParseDate(s)
	return d
}

func parseStoredAmount(s string) (generic.Amount, error) {
	a, err := generic.ParseAmount(s)
	if err != nil {
		return generic.Amount{}, &generic.InvariantViolationError{Invariant: "stored amount is a decimal", Detail: err.Error()}
	}
	return a, nil
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
