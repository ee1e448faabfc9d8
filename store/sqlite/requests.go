package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
)

// =============================================================================
// LEAVE REQUESTS (timeoff.Repository)
// =============================================================================

// RequestRepository implements timeoff.Repository.
type RequestRepository struct {
	s *Store
}

var _ timeoff.Repository = (*RequestRepository)(nil)

func (s *Store) Requests() *RequestRepository { return &RequestRepository{s: s} }

const requestColumns = `id, requester_id, kind, start_date, end_date, time_start, time_end,
	reason, approval_id, status, created_at, updated_at`

// Save inserts a request or updates its mutable columns.
func (rr *RequestRepository) Save(ctx context.Context, r *timeoff.LeaveRequest) error {
	s := rr.s
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO leave_requests (` + requestColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			approval_id = excluded.approval_id,
			status = excluded.status,
			updated_at = excluded.updated_at
	`

	var timeStart, timeEnd sql.NullString
	if r.TimeRange != nil {
		timeStart = nullString(r.TimeRange.Start)
		timeEnd = nullString(r.TimeRange.End)
	}

	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.RequesterID, r.Kind,
		r.Range.Start.String(), r.Range.End.String(),
		timeStart, timeEnd,
		r.Reason, nullString(string(r.ApprovalID)), r.Status,
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save leave request: %w", err)
	}
	return nil
}

// Delete removes a request row. Unknown IDs are ignored.
func (rr *RequestRepository) Delete(ctx context.Context, id generic.RequestID) error {
	s := rr.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM leave_requests WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete leave request: %w", err)
	}
	return nil
}

// Get retrieves a request by ID.
func (rr *RequestRepository) Get(ctx context.Context, id generic.RequestID) (*timeoff.LeaveRequest, error) {
	s := rr.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+requestColumns+" FROM leave_requests WHERE id = ?", id)
	r, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, &generic.NotFoundError{Resource: "leave_request", ID: string(id)}
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListByRequester returns an employee's requests, oldest period first.
func (rr *RequestRepository) ListByRequester(ctx context.Context, employeeID generic.EmployeeID) ([]*timeoff.LeaveRequest, error) {
	s := rr.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+requestColumns+" FROM leave_requests WHERE requester_id = ? ORDER BY start_date, created_at",
		employeeID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query leave requests: %w", err)
	}
	defer rows.Close()

	var requests []*timeoff.LeaveRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

func scanRequest(row scanner) (*timeoff.LeaveRequest, error) {
	var (
		r                    timeoff.LeaveRequest
		start, end           string
		timeStart, timeEnd   sql.NullString
		approvalID           sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(
		&r.ID, &r.RequesterID, &r.Kind, &start, &end, &timeStart, &timeEnd,
		&r.Reason, &approvalID, &r.Status, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	r.Range = generic.NewDateRange(parseDate(start), parseDate(end))
	if timeStart.Valid && timeEnd.Valid {
		r.TimeRange = &timeoff.TimeRange{Start: timeStart.String, End: timeEnd.String}
	}
	r.ApprovalID = generic.ApprovalID(approvalID.String)
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return &r, nil
}
