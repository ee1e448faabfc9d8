package accrual

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/warp/leave-engine/balance"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/workstatus"
)

// Scheduler runs the accrual rules. It has no clock of its own: callers
// pass "today", so a run is reproducible for any date.
type Scheduler struct {
	employees  Directory
	attendance AttendanceSource
	grants     Granter
	failures   FailureQueue
	policy     Policy
	call       generic.CallPolicy
	now        generic.NowFunc
	logger     *zap.Logger
}

// Deps groups the collaborators of a Scheduler.
type Deps struct {
	Employees  Directory
	Attendance AttendanceSource
	Grants     Granter
	Failures   FailureQueue
}

// NewScheduler creates a scheduler granting through deps.Grants. Failed
// grants go to deps.Failures.
func NewScheduler(deps Deps, policy Policy, call generic.CallPolicy, now generic.NowFunc, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.L()
	}
	l := logger.Named("accrual.scheduler")
	if now == nil {
		now = generic.UTCNow
	}
	return &Scheduler{
		employees:  deps.Employees,
		attendance: deps.Attendance,
		grants:     deps.Grants,
		failures:   deps.Failures,
		policy:     policy,
		call:       call,
		now:        now,
		logger:     l,
	}
}

// Run dispatches to the rule's entry point.
func (s *Scheduler) Run(ctx context.Context, rule Rule, today generic.Date) (Report, error) {
	switch rule {
	case RuleAnniversary:
		return s.RunAnniversary(ctx, today)
	case RuleMonthlyAttendance:
		return s.RunMonthly(ctx, today)
	default:
		return Report{}, &generic.ValidationError{Field: "rule", Message: fmt.Sprintf("unknown accrual rule %q", rule)}
	}
}

// RunAnniversary grants AnniversaryDays to every active employee whose
// anniversary is today.
func (s *Scheduler) RunAnniversary(ctx context.Context, today generic.Date) (Report, error) {
	period := generic.AnniversaryPeriod(today.Year())
	report := Report{Rule: RuleAnniversary, Period: period}
	log := s.logger.With(zap.String("rule", string(RuleAnniversary)), zap.String("period", string(period)))

	handled := s.retryFailures(ctx, RuleAnniversary, &report, log)

	employees, err := s.employees.ListEmployees(ctx)
	if err != nil {
		log.Error("list employees failed", zap.Error(err))
		return report, fmt.Errorf("list employees: %w", err)
	}
	sort.Slice(employees, func(i, j int) bool { return employees[i].ID < employees[j].ID })

	for _, emp := range employees {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if !emp.Active || handled[emp.ID] {
			continue
		}
		years, ok := generic.AnniversaryOn(emp.HireDate, today)
		if !ok {
			continue
		}
		log.Debug("anniversary reached", zap.String("employee_id", string(emp.ID)), zap.Int("years", years))
		s.grant(ctx, RuleAnniversary, period, emp.ID, s.policy.AnniversaryDays, &report, log)
	}

	log.Info("anniversary run completed",
		zap.Int("granted", len(report.Granted)),
		zap.Int("skipped", len(report.Skipped)),
		zap.Int("recovered", len(report.Recovered)),
		zap.Int("failed", len(report.Failed)),
	)
	return report, nil
}

// RunMonthly evaluates the calendar month before today.
func (s *Scheduler) RunMonthly(ctx context.Context, today generic.Date) (Report, error) {
	month, period := generic.PreviousMonth(today)
	report := Report{Rule: RuleMonthlyAttendance, Period: period}
	log := s.logger.With(zap.String("rule", string(RuleMonthlyAttendance)), zap.String("period", string(period)))

	handled := s.retryFailures(ctx, RuleMonthlyAttendance, &report, log)

	records, err := s.attendance.ListAllInRange(ctx, month)
	if err != nil {
		log.Error("list work status failed", zap.Error(err))
		return report, fmt.Errorf("list work status for %s: %w", month, err)
	}

	totals := AggregateWorkdays(records)
	ids := make([]generic.EmployeeID, 0, len(totals))
	for id := range totals {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if handled[id] {
			continue
		}
		total := totals[id]
		if total.LessThan(s.policy.MonthlyThreshold) {
			log.Debug("below monthly threshold", zap.String("employee_id", string(id)), zap.Stringer("workdays", total))
			continue
		}
		s.grant(ctx, RuleMonthlyAttendance, period, id, s.policy.MonthlyDays, &report, log)
	}

	log.Info("monthly run completed",
		zap.Int("employees", len(ids)),
		zap.Int("granted", len(report.Granted)),
		zap.Int("skipped", len(report.Skipped)),
		zap.Int("recovered", len(report.Recovered)),
		zap.Int("failed", len(report.Failed)),
	)
	return report, nil
}

// AggregateWorkdays sums workstatus.Weight per employee.
func AggregateWorkdays(records []workstatus.Record) map[generic.EmployeeID]generic.Amount {
	totals := make(map[generic.EmployeeID]generic.Amount)
	for _, r := range records {
		sum, ok := totals[r.EmployeeID]
		if !ok {
			sum = generic.ZeroAmount()
		}
		totals[r.EmployeeID] = sum.Add(workstatus.Weight(r.StatusType))
	}
	return totals
}

// =============================================================================
// GRANTING
// =============================================================================

func (s *Scheduler) grant(
	ctx context.Context,
	rule Rule,
	period generic.Period,
	employeeID generic.EmployeeID,
	amount generic.Amount,
	report *Report,
	log *zap.Logger,
) {
	applied, err := s.apply(ctx, rule, period, employeeID, amount, log)
	if err != nil {
		report.Failed = append(report.Failed, s.recordFailure(ctx, rule, period, employeeID, amount, err, log))
		return
	}
	if applied {
		report.Granted = append(report.Granted, employeeID)
	} else {
		report.Skipped = append(report.Skipped, employeeID)
	}
}

func (s *Scheduler) apply(ctx context.Context, rule Rule, period generic.Period, employeeID generic.EmployeeID, amount generic.Amount, log *zap.Logger) (bool, error) {
	return generic.Call(ctx, s.call, "balance.GrantAccrual", func(ctx context.Context) (bool, error) {
		applied, _, err := s.grants.GrantAccrual(ctx, balance.AccrualGrant{
			EmployeeID: employeeID,
			Period:     period,
			Rule:       string(rule),
			Amount:     amount,
		})
		return applied, err
	}, func(attempt int, err error, next time.Duration) {
		log.Warn("accrual grant attempt failed",
			zap.String("employee_id", string(employeeID)),
			zap.Int("attempt", attempt),
			zap.Duration("next", next),
			zap.Error(err),
		)
	})
}

func (s *Scheduler) recordFailure(
	ctx context.Context,
	rule Rule,
	period generic.Period,
	employeeID generic.EmployeeID,
	amount generic.Amount,
	cause error,
	log *zap.Logger,
) Failure {
	now := s.now()
	f := Failure{
		Rule:          rule,
		Period:        period,
		EmployeeID:    employeeID,
		Amount:        amount,
		Attempts:      1,
		LastError:     cause.Error(),
		FirstFailedAt: now,
		LastFailedAt:  now,
	}
	log.Error("accrual grant failed, queued for next run",
		zap.String("employee_id", string(employeeID)),
		zap.Error(cause),
	)
	if err := s.failures.Put(ctx, f); err != nil {
		log.Error("accrual failure queue write failed",
			zap.String("employee_id", string(employeeID)),
			zap.Error(err),
		)
	}
	return f
}

// retryFailures drains the queue for one rule before the new period runs.
// Entries of any period are retried; the dedup marker keeps a grant that
// did land from landing twice. It returns the employees it already handled
// for the report's own period.
func (s *Scheduler) retryFailures(ctx context.Context, rule Rule, report *Report, log *zap.Logger) map[generic.EmployeeID]bool {
	handled := make(map[generic.EmployeeID]bool)
	queued, err := s.failures.List(ctx, rule)
	if err != nil {
		log.Error("list queued accrual failures failed", zap.Error(err))
		return handled
	}
	for _, f := range queued {
		if ctx.Err() != nil {
			return handled
		}
		if f.Period == report.Period {
			handled[f.EmployeeID] = true
		}
		flog := log.With(zap.String("queued_period", string(f.Period)), zap.Int("previous_attempts", f.Attempts))
		if _, err := s.apply(ctx, f.Rule, f.Period, f.EmployeeID, f.Amount, flog); err != nil {
			f.Attempts++
			f.LastError = err.Error()
			f.LastFailedAt = s.now()
			if putErr := s.failures.Put(ctx, f); putErr != nil {
				flog.Error("accrual failure queue write failed", zap.Error(putErr))
			}
			flog.Warn("queued accrual grant still failing", zap.String("employee_id", string(f.EmployeeID)), zap.Error(err))
			if f.Period == report.Period {
				report.Failed = append(report.Failed, f)
			}
			continue
		}
		if err := s.failures.Resolve(ctx, f.Rule, f.Period, f.EmployeeID); err != nil {
			flog.Error("accrual failure resolve failed", zap.String("employee_id", string(f.EmployeeID)), zap.Error(err))
		}
		report.Recovered = append(report.Recovered, f.EmployeeID)
		flog.Info("queued accrual grant recovered", zap.String("employee_id", string(f.EmployeeID)))
	}
	return handled
}
