package approval

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/generic"
)

// WithdrawnComment is the reject comment recorded when the applicant
// withdraws a pending request.
const WithdrawnComment = "withdrawn by requester"

// Machine drives approval records through their lifecycle.
type Machine struct {
	repo   Repository
	now    generic.NowFunc
	newID  func() string
	logger *zap.Logger
}

// NewMachine returns a state machine persisting records through repo.
func NewMachine(repo Repository, now generic.NowFunc, newID func() string, logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.L()
	}
	l := logger.Named("approval.machine")
	if now == nil {
		now = generic.UTCNow
	}
	if newID == nil {
		newID = uuid.NewString
	}
	return &Machine{repo: repo, now: now, newID: newID, logger: l}
}

// Create opens a PENDING record for a request. A request gets exactly one
// record; asking for a second one is a validation failure.
func (m *Machine) Create(ctx context.Context, applicantID generic.EmployeeID, requestKind string, requestID generic.RequestID) (*Record, error) {
	if strings.TrimSpace(string(applicantID)) == "" {
		return nil, &generic.ValidationError{Field: "applicant_id", Message: "is required"}
	}
	if strings.TrimSpace(string(requestID)) == "" {
		return nil, &generic.ValidationError{Field: "request_id", Message: "is required"}
	}

	existing, err := m.repo.FindByRequest(ctx, requestID)
	if err != nil && !generic.IsNotFound(err) {
		return nil, err
	}
	if existing != nil {
		m.logger.Warn("approval already exists for request",
			zap.String("request_id", string(requestID)),
			zap.String("approval_id", string(existing.ID)),
			zap.String("status", string(existing.Status)),
		)
		return nil, duplicateForRequest(requestID, existing.Status)
	}

	record := &Record{
		ID:          generic.ApprovalID(m.newID()),
		RequestID:   requestID,
		RequestKind: requestKind,
		ApplicantID: applicantID,
		Status:      StatusPending,
		RequestedAt: m.now(),
	}
	if err := m.repo.Create(ctx, record); err != nil {
		if errors.Is(err, generic.ErrConflict) {
			return nil, duplicateForRequest(requestID, StatusPending)
		}
		m.logger.Error("create approval persist failed", zap.String("request_id", string(requestID)), zap.Error(err))
		return nil, err
	}

	m.logger.Info("approval created",
		zap.String("approval_id", string(record.ID)),
		zap.String("request_id", string(requestID)),
	)
	return record, nil
}

func duplicateForRequest(requestID generic.RequestID, status Status) error {
	return &generic.ValidationError{
		Field:   "request_id",
		Message: "an approval record (" + string(status) + ") already exists for request " + string(requestID),
	}
}

// Approve moves a PENDING record to APPROVED.
func (m *Machine) Approve(ctx context.Context, id generic.ApprovalID, approverID generic.EmployeeID) (*Record, error) {
	if strings.TrimSpace(string(approverID)) == "" {
		return nil, &generic.ValidationError{Field: "approver_id", Message: "is required"}
	}
	return m.decide(ctx, id, StatusApproved, approverID, "")
}

// Reject moves a PENDING record to REJECTED. The comment is mandatory.
func (m *Machine) Reject(ctx context.Context, id generic.ApprovalID, approverID generic.EmployeeID, comment string) (*Record, error) {
	if strings.TrimSpace(comment) == "" {
		return nil, &generic.ValidationError{Field: "comment", Message: "is required when rejecting"}
	}
	if strings.TrimSpace(string(approverID)) == "" {
		return nil, &generic.ValidationError{Field: "approver_id", Message: "is required"}
	}
	return m.decide(ctx, id, StatusRejected, approverID, strings.TrimSpace(comment))
}

// Withdraw lets the applicant close their own PENDING record. It is recorded
// as a rejection carrying WithdrawnComment.
func (m *Machine) Withdraw(ctx context.Context, id generic.ApprovalID, applicantID generic.EmployeeID) (*Record, error) {
	record, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.ApplicantID != applicantID {
		return nil, &generic.ValidationError{Field: "requester_id", Message: "only the applicant can withdraw a request"}
	}
	return m.decide(ctx, id, StatusRejected, applicantID, WithdrawnComment)
}

func (m *Machine) decide(ctx context.Context, id generic.ApprovalID, to Status, approverID generic.EmployeeID, comment string) (*Record, error) {
	m.logger.Debug("decide approval requested",
		zap.String("approval_id", string(id)),
		zap.String("to", string(to)),
		zap.String("approver_id", string(approverID)),
	)

	record, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := record.transition(to, approverID, comment, m.now()); err != nil {
		m.logger.Warn("decide approval rejected", zap.String("approval_id", string(id)), zap.Error(err))
		return nil, err
	}
	if err := m.repo.CompareAndSwap(ctx, record, StatusPending); err != nil {
		if errors.Is(err, generic.ErrConflict) {
			m.logger.Warn("decide approval lost race", zap.String("approval_id", string(id)), zap.Error(err))
		} else {
			m.logger.Error("decide approval persist failed", zap.String("approval_id", string(id)), zap.Error(err))
		}
		return nil, err
	}

	m.logger.Info("approval decided",
		zap.String("approval_id", string(id)),
		zap.String("status", string(record.Status)),
	)
	return record, nil
}

// Get returns one record or a *generic.NotFoundError.
func (m *Machine) Get(ctx context.Context, id generic.ApprovalID) (*Record, error) {
	return m.repo.Get(ctx, id)
}

// ListPending returns PENDING records, oldest first.
func (m *Machine) ListPending(ctx context.Context) ([]*Record, error) {
	return m.repo.ListPending(ctx)
}
