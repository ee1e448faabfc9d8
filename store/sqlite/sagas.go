package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/workflow"
)

// =============================================================================
// WORKFLOW SAGAS (workflow.SagaRepository)
// =============================================================================

// SagaRepository implements workflow.SagaRepository.
type SagaRepository struct {
	s *Store
}

var _ workflow.SagaRepository = (*SagaRepository)(nil)

func (s *Store) Sagas() *SagaRepository { return &SagaRepository{s: s} }

const sagaColumns = `approval_id, request_id, employee_id, state, decision, ledger_applied,
	projection_applied, attempts, last_error, created_at, updated_at`

// Save inserts or replaces a saga.
func (sr *SagaRepository) Save(ctx context.Context, saga *workflow.Saga) error {
	s := sr.s
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO workflow_sagas (` + sagaColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(approval_id) DO UPDATE SET
			state = excluded.state,
			decision = excluded.decision,
			ledger_applied = excluded.ledger_applied,
			projection_applied = excluded.projection_applied,
			attempts = excluded.attempts,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		saga.ApprovalID, saga.RequestID, saga.EmployeeID, saga.State, saga.Decision,
		saga.LedgerApplied, saga.ProjectionApplied, saga.Attempts, saga.LastError,
		formatTime(saga.CreatedAt), formatTime(saga.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save saga: %w", err)
	}
	return nil
}

// Get retrieves a saga by approval ID.
func (sr *SagaRepository) Get(ctx context.Context, id generic.ApprovalID) (*workflow.Saga, error) {
	s := sr.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	saga, err := scanSaga(s.db.QueryRowContext(ctx, "SELECT "+sagaColumns+" FROM workflow_sagas WHERE approval_id = ?", id))
	if err == sql.ErrNoRows {
		return nil, &generic.NotFoundError{Resource: "saga", ID: string(id)}
	}
	return saga, err
}

// ListByState returns sagas in any of the given states, oldest update first.
func (sr *SagaRepository) ListByState(ctx context.Context, states ...workflow.SagaState) ([]*workflow.Saga, error) {
	if len(states) == 0 {
		return nil, nil
	}
	s := sr.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(states)), ",")
	args := make([]any, len(states))
	for i, st := range states {
		args[i] = st
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+sagaColumns+" FROM workflow_sagas WHERE state IN ("+placeholders+") ORDER BY updated_at, approval_id",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query sagas: %w", err)
	}
	defer rows.Close()

	var sagas []*workflow.Saga
	for rows.Next() {
		saga, err := scanSaga(rows)
		if err != nil {
			return nil, err
		}
		sagas = append(sagas, saga)
	}
	return sagas, rows.Err()
}

func scanSaga(row scanner) (*workflow.Saga, error) {
	var (
		saga                 workflow.Saga
		createdAt, updatedAt string
	)
	if err := row.Scan(
		&saga.ApprovalID, &saga.RequestID, &saga.EmployeeID, &saga.State, &saga.Decision,
		&saga.LedgerApplied, &saga.ProjectionApplied, &saga.Attempts, &saga.LastError,
		&createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	saga.CreatedAt = parseTime(createdAt)
	saga.UpdatedAt = parseTime(updatedAt)
	return &saga, nil
}
