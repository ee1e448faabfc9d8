package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/warp/leave-engine/approval"
	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// APPROVALS (approval.Repository)
// =============================================================================

// ApprovalRepository implements approval.Repository.
type ApprovalRepository struct {
	s *Store
}

var _ approval.Repository = (*ApprovalRepository)(nil)

func (s *Store) Approvals() *ApprovalRepository { return &ApprovalRepository{s: s} }

const approvalColumns = `id, request_id, request_kind, applicant_id, approver_id, status,
	requested_at, processed_at, reject_comment`

// Create inserts a PENDING record. request_id is UNIQUE.
func (ar *ApprovalRepository) Create(ctx context.Context, r *approval.Record) error {
	s := ar.s
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO approvals (`+approvalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.RequestID, r.RequestKind, r.ApplicantID,
		nullString(string(r.ApproverID)), r.Status,
		formatTime(r.RequestedAt), nullTime(r.ProcessedAt), nullString(r.RejectComment),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &generic.ConflictError{Resource: "approval", ID: string(r.RequestID), Message: "an approval record already exists for this request"}
		}
		return fmt.Errorf("failed to create approval: %w", err)
	}
	return nil
}

// Get retrieves a record by ID.
func (ar *ApprovalRepository) Get(ctx context.Context, id generic.ApprovalID) (*approval.Record, error) {
	s := ar.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, err := scanApproval(s.db.QueryRowContext(ctx, "SELECT "+approvalColumns+" FROM approvals WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, &generic.NotFoundError{Resource: "approval", ID: string(id)}
	}
	return r, err
}

// FindByRequest retrieves the record linked to a request.
func (ar *ApprovalRepository) FindByRequest(ctx context.Context, requestID generic.RequestID) (*approval.Record, error) {
	s := ar.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, err := scanApproval(s.db.QueryRowContext(ctx, "SELECT "+approvalColumns+" FROM approvals WHERE request_id = ?", requestID))
	if err == sql.ErrNoRows {
		return nil, &generic.NotFoundError{Resource: "approval", ID: "for request " + string(requestID)}
	}
	return r, err
}

// CompareAndSwap writes the decision only while the stored status is still
// expected.
func (ar *ApprovalRepository) CompareAndSwap(ctx context.Context, r *approval.Record, expected approval.Status) error {
	s := ar.s
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE approvals
		SET status = ?, approver_id = ?, processed_at = ?, reject_comment = ?
		WHERE id = ? AND status = ?
	`,
		r.Status, nullString(string(r.ApproverID)), nullTime(r.ProcessedAt), nullString(r.RejectComment),
		r.ID, expected,
	)
	if err != nil {
		return fmt.Errorf("failed to update approval: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, "SELECT status FROM approvals WHERE id = ?", r.ID).Scan(&current)
	if err == sql.ErrNoRows {
		return &generic.NotFoundError{Resource: "approval", ID: string(r.ID)}
	}
	if err != nil {
		return err
	}
	return &generic.ConflictError{
		Resource: "approval",
		ID:       string(r.ID),
		Message:  fmt.Sprintf("expected %s but record is %s", expected, current),
	}
}

// ListPending returns records awaiting a decision, oldest first.
func (ar *ApprovalRepository) ListPending(ctx context.Context) ([]*approval.Record, error) {
	s := ar.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+approvalColumns+" FROM approvals WHERE status = ? ORDER BY requested_at",
		approval.StatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query approvals: %w", err)
	}
	defer rows.Close()

	var records []*approval.Record
	for rows.Next() {
		r, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func scanApproval(row scanner) (*approval.Record, error) {
	var (
		r                         approval.Record
		approverID, rejectComment sql.NullString
		requestedAt               string
		processedAt               sql.NullString
	)
	if err := row.Scan(
		&r.ID, &r.RequestID, &r.RequestKind, &r.ApplicantID, &approverID, &r.Status,
		&requestedAt, &processedAt, &rejectComment,
	); err != nil {
		return nil, err
	}
	r.ApproverID = generic.EmployeeID(approverID.String)
	r.RejectComment = rejectComment.String
	r.RequestedAt = parseTime(requestedAt)
	r.ProcessedAt = parseNullTime(processedAt)
	return &r, nil
}
