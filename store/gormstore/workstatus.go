/*
Package gormstore keeps the work-status projection in its own SQLite database
through gorm.

PURPOSE:
  The attendance side owns the per-day work-status table. Leave approvals
  write into it through workstatus.Projector; check-in/check-out events write
  timestamps into the same rows. One row per (employee_id, work_date).

UPSERT RULES:
  UpsertStatus      ON CONFLICT (employee_id, work_date) DO UPDATE of the status
                    columns only; check_in/check_out are never touched.
  UpsertAttendance  read-modify-write in a transaction; a status written by an
                    approval survives later attendance events.

SEE ALSO:
  - workstatus/types.go: Repository contract
  - store/memory: In-memory equivalent
*/
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/workstatus"
)

// WorkStatusRow is the gorm model of one projected day.
type WorkStatusRow struct {
	ID         uint       `gorm:"primarykey"`
	EmployeeID string     `gorm:"type:varchar(64);not null;uniqueIndex:idx_work_status_employee_date,priority:1"`
	WorkDate   string     `gorm:"type:varchar(10);not null;uniqueIndex:idx_work_status_employee_date,priority:2;index"`
	StatusType string     `gorm:"type:varchar(32);not null"`
	Reason     string     `gorm:"type:varchar(500)"`
	Source     string     `gorm:"type:varchar(16);not null"`
	SourceRef  string     `gorm:"type:varchar(128)"`
	CheckIn    *time.Time
	CheckOut   *time.Time
	CreatedAt  time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime:false"`
}

func (WorkStatusRow) TableName() string { return "work_status" }

// WorkStatusStore implements workstatus.Repository.
type WorkStatusStore struct {
	db *gorm.DB
}

var _ workstatus.Repository = (*WorkStatusStore)(nil)

// Open connects to the attendance database and migrates the schema.
// Use ":memory:" for an in-memory database.
func Open(path string) (*WorkStatusStore, error) {
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000"), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open attendance database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	sqlDB.SetMaxOpenConns(1)

	return NewWorkStatusStore(db)
}

// NewWorkStatusStore wraps an existing gorm handle.
func NewWorkStatusStore(db *gorm.DB) (*WorkStatusStore, error) {
	if err := db.AutoMigrate(&WorkStatusRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate work_status: %w", err)
	}
	return &WorkStatusStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *WorkStatusStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the database connection.
func (s *WorkStatusStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// UpsertStatus writes every record in one transaction.
func (s *WorkStatusStore) UpsertStatus(ctx context.Context, records []workstatus.Record) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]WorkStatusRow, len(records))
	for i, r := range records {
		rows[i] = toRow(r)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "employee_id"}, {Name: "work_date"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status_type", "reason", "source", "source_ref", "updated_at",
			}),
		}).Create(&rows).Error
	})
}

// UpsertAttendance records check-in/check-out on a day.
func (s *WorkStatusStore) UpsertAttendance(ctx context.Context, r workstatus.Record) (workstatus.Record, error) {
	var saved WorkStatusRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("employee_id = ? AND work_date = ?", string(r.EmployeeID), r.Date.String()).
			First(&saved).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			saved = toRow(r)
			return tx.Create(&saved).Error
		}
		if err != nil {
			return err
		}

		if r.CheckIn != nil {
			saved.CheckIn = r.CheckIn
		}
		if r.CheckOut != nil {
			saved.CheckOut = r.CheckOut
		}
		if workstatus.Source(saved.Source) != workstatus.SourceApproval {
			saved.StatusType = string(r.StatusType)
			saved.Source = string(workstatus.SourceAttendance)
		}
		saved.UpdatedAt = r.UpdatedAt
		return tx.Save(&saved).Error
	})
	if err != nil {
		return workstatus.Record{}, fmt.Errorf("failed to record attendance: %w", err)
	}
	return fromRow(saved)
}

// ListRange returns one employee's records within dates, by date.
func (s *WorkStatusStore) ListRange(ctx context.Context, employeeID generic.EmployeeID, dates generic.DateRange) ([]workstatus.Record, error) {
	var rows []WorkStatusRow
	err := s.db.WithContext(ctx).
		Where("employee_id = ? AND work_date BETWEEN ? AND ?", string(employeeID), dates.Start.String(), dates.End.String()).
		Order("work_date").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query work status: %w", err)
	}
	return fromRows(rows)
}

// ListAllInRange returns every employee's records within dates.
func (s *WorkStatusStore) ListAllInRange(ctx context.Context, dates generic.DateRange) ([]workstatus.Record, error) {
	var rows []WorkStatusRow
	err := s.db.WithContext(ctx).
		Where("work_date BETWEEN ? AND ?", dates.Start.String(), dates.End.String()).
		Order("employee_id").Order("work_date").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query work status: %w", err)
	}
	return fromRows(rows)
}

func toRow(r workstatus.Record) WorkStatusRow {
	return WorkStatusRow{
		EmployeeID: string(r.EmployeeID),
		WorkDate:   r.Date.String(),
		StatusType: string(r.StatusType),
		Reason:     r.Reason,
		Source:     string(r.Source),
		SourceRef:  r.SourceRef,
		CheckIn:    r.CheckIn,
		CheckOut:   r.CheckOut,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

func fromRow(row WorkStatusRow) (workstatus.Record, error) {
	date, err := generic.ParseDate(row.WorkDate)
	if err != nil {
		return workstatus.Record{}, &generic.InvariantViolationError{
			Invariant: "work_status.work_date",
			Detail:    fmt.Sprintf("row %d has unreadable date %q", row.ID, row.WorkDate),
		}
	}
	return workstatus.Record{
		EmployeeID: generic.EmployeeID(row.EmployeeID),
		Date:       date,
		StatusType: workstatus.StatusType(row.StatusType),
		Reason:     row.Reason,
		Source:     workstatus.Source(row.Source),
		SourceRef:  row.SourceRef,
		CheckIn:    row.CheckIn,
		CheckOut:   row.CheckOut,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}, nil
}

func fromRows(rows []WorkStatusRow) ([]workstatus.Record, error) {
	out := make([]workstatus.Record, 0, len(rows))
	for _, row := range rows {
		r, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
