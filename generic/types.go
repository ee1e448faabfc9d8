/*
Package generic provides the domain-agnostic primitives of the leave engine.

PURPOSE:
  Every service in this repository (approval, balance, workstatus, accrual,
  workflow) speaks in the same small vocabulary: amounts of leave expressed
  in days, calendar dates, date ranges, accrual periods, a shared error
  taxonomy, and a retry policy for calls that cross a service boundary.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A quantity of leave in days, moved in half-day steps
  - Identifiers: Type-safe ids for employees, requests and approvals

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point drift
  2. Type Safety: Strong typing for ids prevents mixing request/approval ids
  3. Half-day granularity: 0.5 is the smallest amount the ledger accepts

USAGE:
  amount := generic.NewAmount(1.5)
  if err := amount.ValidateHalfDay(); err != nil {
      return err
  }

SEE ALSO:
  - time.go: Date and DateRange
  - period.go: Accrual periods
  - errors.go: Error taxonomy
  - retry.go: CallPolicy for cross-service calls
*/
package generic

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Leave quantity in days
// =============================================================================

var (
	halfDay = decimal.NewFromFloat(0.5)
	oneDay  = decimal.NewFromInt(1)
)

// Amount is a quantity of leave in days.
type Amount struct {
	Value decimal.Decimal
}

func NewAmount(value float64) Amount { return Amount{Value: decimal.NewFromFloat(value)} }
func NewAmountFromInt(value int) Amount {
	return Amount{Value: decimal.NewFromInt(int64(value))}
}

// HalfDay and OneDay are the two weights used when counting attendance.
func HalfDay() Amount { return Amount{Value: halfDay} }
func OneDay() Amount  { return Amount{Value: oneDay} }
func ZeroAmount() Amount {
	return Amount{Value: decimal.Zero}
}

// ParseAmount parses a decimal string such as "1.5".
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Amount{}, &ValidationError{Field: "amount", Message: fmt.Sprintf("not a decimal: %q", s)}
	}
	return Amount{Value: d}, nil
}

// MustParseAmount parses s or panics. Use in tests and constants only.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Amount) Add(b Amount) Amount          { return Amount{Value: a.Value.Add(b.Value)} }
func (a Amount) Sub(b Amount) Amount          { return Amount{Value: a.Value.Sub(b.Value)} }
func (a Amount) Neg() Amount                  { return Amount{Value: a.Value.Neg()} }
func (a Amount) IsNegative() bool             { return a.Value.IsNegative() }
func (a Amount) IsZero() bool                 { return a.Value.IsZero() }
func (a Amount) IsPositive() bool             { return a.Value.IsPositive() }
func (a Amount) GreaterThan(b Amount) bool    { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool       { return a.Value.LessThan(b.Value) }
func (a Amount) Equal(b Amount) bool          { return a.Value.Equal(b.Value) }
func (a Amount) GreaterOrEqual(b Amount) bool { return a.Value.GreaterThanOrEqual(b.Value) }
func (a Amount) String() string               { return a.Value.String() }

// Float64 is for display and metrics only; arithmetic stays in decimal.
func (a Amount) Float64() float64 {
	f, _ := a.Value.Float64()
	return f
}

// IsHalfDayMultiple reports whether the amount is an exact multiple of 0.5.
func (a Amount) IsHalfDayMultiple() bool {
	return a.Value.Mod(halfDay).IsZero()
}

// ValidateHalfDay rejects non-positive amounts and amounts that are not a
// multiple of half a day.
func (a Amount) ValidateHalfDay() error {
	if !a.IsPositive() {
		return &ValidationError{Field: "amount", Message: "must be greater than zero"}
	}
	if !a.IsHalfDayMultiple() {
		return &ValidationError{Field: "amount", Message: fmt.Sprintf("%s is not a multiple of 0.5 days", a)}
	}
	return nil
}

// MarshalJSON renders the amount as a decimal string to keep precision.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.Value.String() + `"`), nil
}

// UnmarshalJSON accepts both "1.5" and 1.5.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type RequestID string
type ApprovalID string
