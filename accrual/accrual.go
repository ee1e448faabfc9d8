/*
Package accrual produces scheduled balance grants.

RULES:
  ANNIVERSARY          Daily. Every employee whose hire-date anniversary is
                       today receives AnniversaryDays, once per anniversary
                       year (period key "YYYY").

  MONTHLY_ATTENDANCE   On the 1st of each month, over the prior full month.
                       Work-status records are summed per employee with
                       workstatus.Weight (1.0 full day, 0.5 half day). A sum
                       >= MonthlyThreshold grants MonthlyDays (period key
                       "YYYY-MM").

IDEMPOTENCY:
  A grant goes through balance.Ledger.GrantAccrual, which writes the grant
  and its (employee, period, rule) marker in one commit. Re-running a rule
  for the same period grants nothing new.

FAILURES:
  One employee's failed grant never aborts the batch. It is put on the
  failure queue and retried at the start of the next run of the same rule.

SEE ALSO:
  - scheduler.go: Rule execution
  - timer.go: Cron triggers
*/
package accrual

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/warp/leave-engine/balance"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/workstatus"
)

// =============================================================================
// RULES AND POLICY
// =============================================================================

type Rule string

const (
	RuleAnniversary       Rule = "ANNIVERSARY"
	RuleMonthlyAttendance Rule = "MONTHLY_ATTENDANCE"
)

func ParseRule(s string) (Rule, error) {
	switch r := Rule(strings.ToUpper(strings.TrimSpace(s))); r {
	case RuleAnniversary, RuleMonthlyAttendance:
		return r, nil
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "anniversary":
		return RuleAnniversary, nil
	case "monthly", "monthly-attendance", "monthly_attendance":
		return RuleMonthlyAttendance, nil
	}
	return "", &generic.ValidationError{Field: "rule", Message: fmt.Sprintf("unknown accrual rule %q", s)}
}

// Policy holds the amounts both rules grant.
type Policy struct {
	AnniversaryDays  generic.Amount
	MonthlyDays      generic.Amount
	MonthlyThreshold generic.Amount
}

func DefaultPolicy() Policy {
	return Policy{
		AnniversaryDays:  generic.NewAmountFromInt(15),
		MonthlyDays:      generic.OneDay(),
		MonthlyThreshold: generic.NewAmountFromInt(15),
	}
}

func (p Policy) Validate() error {
	if err := p.AnniversaryDays.ValidateHalfDay(); err != nil {
		return fmt.Errorf("anniversary days: %w", err)
	}
	if err := p.MonthlyDays.ValidateHalfDay(); err != nil {
		return fmt.Errorf("monthly days: %w", err)
	}
	if !p.MonthlyThreshold.IsPositive() {
		return &generic.ValidationError{Field: "monthly_threshold", Message: "must be greater than zero"}
	}
	return nil
}

// =============================================================================
// EMPLOYEES
// =============================================================================

// Employee is the slice of HR data the anniversary rule needs.
type Employee struct {
	ID       generic.EmployeeID `json:"id"`
	Name     string             `json:"name"`
	HireDate generic.Date       `json:"hire_date"`
	Active   bool               `json:"active"`
}

// Directory lists employees.
type Directory interface {
	SaveEmployee(ctx context.Context, e Employee) error
	GetEmployee(ctx context.Context, id generic.EmployeeID) (*Employee, error)
	ListEmployees(ctx context.Context) ([]Employee, error)
}

// =============================================================================
// COLLABORATORS
// =============================================================================

// AttendanceSource is the read side of the work-status projection.
type AttendanceSource interface {
	ListAllInRange(ctx context.Context, dates generic.DateRange) ([]workstatus.Record, error)
}

// Granter is the write side of the balance ledger.
type Granter interface {
	GrantAccrual(ctx context.Context, grant balance.AccrualGrant) (applied bool, remaining generic.Amount, err error)
}

// =============================================================================
// FAILURE QUEUE - pending retry on the next cycle
// =============================================================================

// Failure is a grant that could not be applied.
type Failure struct {
	Rule          Rule               `json:"rule"`
	Period        generic.Period     `json:"period"`
	EmployeeID    generic.EmployeeID `json:"employee_id"`
	Amount        generic.Amount     `json:"amount"`
	Attempts      int                `json:"attempts"`
	LastError     string             `json:"last_error"`
	FirstFailedAt time.Time          `json:"first_failed_at"`
	LastFailedAt  time.Time          `json:"last_failed_at"`
}

// FailureQueue persists failures keyed by (Rule, Period, EmployeeID).
// Put inserts, or overwrites Amount, Attempts, LastError and LastFailedAt
// of an existing entry while keeping its FirstFailedAt. List with an empty
// rule returns every entry.
type FailureQueue interface {
	Put(ctx context.Context, f Failure) error
	Resolve(ctx context.Context, rule Rule, period generic.Period, employeeID generic.EmployeeID) error
	List(ctx context.Context, rule Rule) ([]Failure, error)
}

// =============================================================================
// REPORT
// =============================================================================

// Report summarizes one run of one rule.
type Report struct {
	Rule      Rule                 `json:"rule"`
	Period    generic.Period       `json:"period"`
	Granted   []generic.EmployeeID `json:"granted"`
	Skipped   []generic.EmployeeID `json:"skipped"`
	Recovered []generic.EmployeeID `json:"recovered"`
	Failed    []Failure            `json:"failed"`
}
