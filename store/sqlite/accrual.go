package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/warp/leave-engine/accrual"
	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// EMPLOYEES (accrual.Directory)
// =============================================================================

// EmployeeRepository implements accrual.Directory.
type EmployeeRepository struct {
	s *Store
}

var _ accrual.Directory = (*EmployeeRepository)(nil)

func (s *Store) Employees() *EmployeeRepository { return &EmployeeRepository{s: s} }

// SaveEmployee inserts or updates an employee.
func (er *EmployeeRepository) SaveEmployee(ctx context.Context, emp accrual.Employee) error {
	s := er.s
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO employees (id, name, hire_date, active, created_at)
		VALUES (?, ?, ?, ?, datetime('now'))
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			hire_date = excluded.hire_date,
			active = excluded.active
	`
	_, err := s.db.ExecContext(ctx, query, emp.ID, emp.Name, emp.HireDate.String(), emp.Active)
	if err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	return nil
}

// GetEmployee retrieves an employee by ID.
func (er *EmployeeRepository) GetEmployee(ctx context.Context, id generic.EmployeeID) (*accrual.Employee, error) {
	s := er.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		emp      accrual.Employee
		hireDate string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, hire_date, active FROM employees WHERE id = ?",
		id,
	).Scan(&emp.ID, &emp.Name, &hireDate, &emp.Active)
	if err == sql.ErrNoRows {
		return nil, &generic.NotFoundError{Resource: "employee", ID: string(id)}
	}
	if err != nil {
		return nil, err
	}
	emp.HireDate = parseDate(hireDate)
	return &emp, nil
}

// ListEmployees returns all employees.
func (er *EmployeeRepository) ListEmployees(ctx context.Context) ([]accrual.Employee, error) {
	s := er.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, name, hire_date, active FROM employees ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var employees []accrual.Employee
	for rows.Next() {
		var (
			emp      accrual.Employee
			hireDate string
		)
		if err := rows.Scan(&emp.ID, &emp.Name, &hireDate, &emp.Active); err != nil {
			return nil, err
		}
		emp.HireDate = parseDate(hireDate)
		employees = append(employees, emp)
	}
	return employees, rows.Err()
}

// =============================================================================
// ACCRUAL FAILURES (accrual.FailureQueue)
// =============================================================================

// FailureRepository implements accrual.FailureQueue.
type FailureRepository struct {
	s *Store
}

var _ accrual.FailureQueue = (*FailureRepository)(nil)

func (s *Store) AccrualFailures() *FailureRepository { return &FailureRepository{s: s} }

// Put inserts a failure or refreshes an existing one, keeping first_failed_at.
func (fr *FailureRepository) Put(ctx context.Context, f accrual.Failure) error {
	s := fr.s
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO accrual_failures
			(rule, period, employee_id, amount, attempts, last_error, first_failed_at, last_failed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(rule, period, employee_id) DO UPDATE SET
			amount = excluded.amount,
			attempts = excluded.attempts,
			last_error = excluded.last_error,
			last_failed_at = excluded.last_failed_at
	`
	_, err := s.db.ExecContext(ctx, query,
		f.Rule, f.Period, f.EmployeeID, f.Amount.String(), f.Attempts, f.LastError,
		formatTime(f.FirstFailedAt), formatTime(f.LastFailedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save accrual failure: %w", err)
	}
	return nil
}

// Resolve removes a failure once its grant went through.
func (fr *FailureRepository) Resolve(ctx context.Context, rule accrual.Rule, period generic.Period, employeeID generic.EmployeeID) error {
	s := fr.s
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"DELETE FROM accrual_failures WHERE rule = ? AND period = ? AND employee_id = ?",
		rule, period, employeeID,
	)
	return err
}

// List returns queued failures, optionally filtered by rule.
func (fr *FailureRepository) List(ctx context.Context, rule accrual.Rule) ([]accrual.Failure, error) {
	s := fr.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT rule, period, employee_id, amount, attempts, last_error, first_failed_at, last_failed_at
		FROM accrual_failures
	`
	var args []any
	if rule != "" {
		query += " WHERE rule = ?"
		args = append(args, rule)
	}
	query += " ORDER BY period, employee_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query accrual failures: %w", err)
	}
	defer rows.Close()

	var failures []accrual.Failure
	for rows.Next() {
		var (
			f                   accrual.Failure
			amount, first, last string
		)
		if err := rows.Scan(&f.Rule, &f.Period, &f.EmployeeID, &amount, &f.Attempts, &f.LastError, &first, &last); err != nil {
			return nil, err
		}
		if f.Amount, err = parseStoredAmount(amount); err != nil {
			return nil, err
		}
		f.FirstFailedAt = parseTime(first)
		f.LastFailedAt = parseTime(last)
		failures = append(failures, f)
	}
	return failures, rows.Err()
}
