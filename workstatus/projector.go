package workstatus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/warp/leave-engine/generic"
)

// MaxRangeDays caps a single range upsert.
const MaxRangeDays = 366

// UpsertCommand projects one status over an inclusive date range.
type UpsertCommand struct {
	EmployeeID generic.EmployeeID
	Range      generic.DateRange
	StatusType StatusType
	Reason     string
	SourceRef  string
}

// AttendanceEvent is raw check-in/out capture for a single day. StatusType
// is optional and defaults to PRESENT.
type AttendanceEvent struct {
	EmployeeID generic.EmployeeID
	Date       generic.Date
	CheckIn    *time.Time
	CheckOut   *time.Time
	StatusType StatusType
}

// Projector is the work-status service.
type Projector struct {
	repo   Repository
	now    generic.NowFunc
	logger *zap.Logger
}

// NewProjector creates a projector writing to repo.
func NewProjector(repo Repository, now generic.NowFunc, logger *zap.Logger) *Projector {
	if logger == nil {
		logger = zap.L()
	}
	l := logger.Named("workstatus.projector")
	if now == nil {
		now = generic.UTCNow
	}
	return &Projector{repo: repo, now: now, logger: l}
}

// UpsertRange writes one approval-derived record per day in the range.
// Repeating the same command leaves the same records behind.
func (p *Projector) UpsertRange(ctx context.Context, cmd UpsertCommand) (int, error) {
	p.logger.Debug("upsert work status requested",
		zap.String("employee_id", string(cmd.EmployeeID)),
		zap.Stringer("range", cmd.Range),
		zap.String("status_type", string(cmd.StatusType)),
		zap.String("source_ref", cmd.SourceRef),
	)

	if strings.TrimSpace(string(cmd.EmployeeID)) == "" {
		return 0, &generic.ValidationError{Field: "employee_id", Message: "is required"}
	}
	if err := cmd.Range.Validate(); err != nil {
		return 0, err
	}
	if cmd.Range.Len() > MaxRangeDays {
		return 0, &generic.ValidationError{Field: "date_range", Message: fmt.Sprintf("covers more than %d days", MaxRangeDays)}
	}
	if !cmd.StatusType.IsValid() {
		return 0, &generic.ValidationError{Field: "status_type", Message: fmt.Sprintf("unknown status type %q", cmd.StatusType)}
	}

	now := p.now()
	days := cmd.Range.Days()
	records := make([]Record, 0, len(days))
	for _, day := range days {
		records = append(records, Record{
			EmployeeID: cmd.EmployeeID,
			Date:       day,
			StatusType: cmd.StatusType,
			Reason:     cmd.Reason,
			Source:     SourceApproval,
			SourceRef:  cmd.SourceRef,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}

	if err := p.repo.UpsertStatus(ctx, records); err != nil {
		p.logger.Error("upsert work status persist failed",
			zap.String("employee_id", string(cmd.EmployeeID)),
			zap.Error(err),
		)
		return 0, fmt.Errorf("upsert work status: %w", err)
	}

	p.logger.Info("upsert work status success",
		zap.String("employee_id", string(cmd.EmployeeID)),
		zap.Int("days", len(records)),
	)
	return len(records), nil
}

// RecordAttendance stores check-in/out timestamps for one day.
func (p *Projector) RecordAttendance(ctx context.Context, ev AttendanceEvent) (Record, error) {
	if strings.TrimSpace(string(ev.EmployeeID)) == "" {
		return Record{}, &generic.ValidationError{Field: "employee_id", Message: "is required"}
	}
	if ev.Date.IsZero() {
		return Record{}, &generic.ValidationError{Field: "date", Message: "is required"}
	}
	if ev.CheckIn == nil && ev.CheckOut == nil {
		return Record{}, &generic.ValidationError{Field: "check_in", Message: "check_in or check_out is required"}
	}
	if ev.CheckIn != nil && ev.CheckOut != nil && ev.CheckOut.Before(*ev.CheckIn) {
		return Record{}, &generic.ValidationError{Field: "check_out", Message: "is before check_in"}
	}
	status := ev.StatusType
	if status == "" {
		status = StatusPresent
	}
	if !status.IsValid() {
		return Record{}, &generic.ValidationError{Field: "status_type", Message: fmt.Sprintf("unknown status type %q", status)}
	}

	now := p.now()
	saved, err := p.repo.UpsertAttendance(ctx, Record{
		EmployeeID: ev.EmployeeID,
		Date:       ev.Date,
		StatusType: status,
		Source:     SourceAttendance,
		CheckIn:    ev.CheckIn,
		CheckOut:   ev.CheckOut,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		p.logger.Error("record attendance persist failed",
			zap.String("employee_id", string(ev.EmployeeID)),
			zap.Stringer("date", ev.Date),
			zap.Error(err),
		)
		return Record{}, fmt.Errorf("record attendance: %w", err)
	}
	return saved, nil
}

// ListRange returns one employee's records within dates, ordered by date.
func (p *Projector) ListRange(ctx context.Context, employeeID generic.EmployeeID, dates generic.DateRange) ([]Record, error) {
	if err := dates.Validate(); err != nil {
		return nil, err
	}
	return p.repo.ListRange(ctx, employeeID, dates)
}

// ListAllInRange returns every employee's records within dates.
func (p *Projector) ListAllInRange(ctx context.Context, dates generic.DateRange) ([]Record, error) {
	if err := dates.Validate(); err != nil {
		return nil, err
	}
	return p.repo.ListAllInRange(ctx, dates)
}
