package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trailguard/audit-ledger/models"
	"github.com/trailguard/audit-ledger/repositories"
)

// SessionRepository implements the repositories.SessionRepository interface
type SessionRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *DB, logger *zap.Logger) repositories.SessionRepository {
	return &SessionRepository{
		db:     db,
		logger: logger,
	}
}

// Insert creates a new edit session row
func (r *SessionRepository) Insert(ctx context.Context, session *models.EditSession) error {
	query := `
		INSERT INTO edit_sessions (
			id, subject_id, status, created_by, rejection_reason, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		session.ID,
		session.SubjectID,
		session.Status,
		session.CreatedBy,
		session.RejectionReason,
		session.CreatedAt,
		session.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to insert edit session: %w", err)
	}

	r.logger.Debug("edit session inserted",
		zap.String("id", session.ID.String()),
		zap.String("subject_id", session.SubjectID))

	return nil
}

// GetByID retrieves a session by ID
func (r *SessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.EditSession, error) {
	query := `
		SELECT id, subject_id, status, created_by, rejection_reason, created_at, updated_at
		FROM edit_sessions
		WHERE id = $1
	`

	return r.getSession(ctx, query, id)
}

// GetByIDForUpdate retrieves a session by ID and locks its row for the
// remainder of the transaction, so concurrent transitions on the same
// session serialize on the persisted status.
func (r *SessionRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.EditSession, error) {
	query := `
		SELECT id, subject_id, status, created_by, rejection_reason, created_at, updated_at
		FROM edit_sessions
		WHERE id = $1
		FOR UPDATE
	`

	return r.getSession(ctx, query, id)
}

// Update persists the session's mutable fields
func (r *SessionRepository) Update(ctx context.Context, session *models.EditSession) error {
	query := `
		UPDATE edit_sessions
		SET status = $2, rejection_reason = $3, updated_at = $4
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query,
		session.ID,
		session.Status,
		session.RejectionReason,
		session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update edit session: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return repositories.ErrNotFound
	}

	r.logger.Debug("edit session updated",
		zap.String("id", session.ID.String()),
		zap.String("status", string(session.Status)))

	return nil
}

// ListBySubject retrieves sessions for a subject with pagination
func (r *SessionRepository) ListBySubject(ctx context.Context, subjectID string, limit, offset int) ([]*models.EditSession, error) {
	query := `
		SELECT id, subject_id, status, created_by, rejection_reason, created_at, updated_at
		FROM edit_sessions
		WHERE subject_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, subjectID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query edit sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.EditSession
	for rows.Next() {
		session := &models.EditSession{}
		err := rows.Scan(
			&session.ID,
			&session.SubjectID,
			&session.Status,
			&session.CreatedBy,
			&session.RejectionReason,
			&session.CreatedAt,
			&session.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan edit session: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating edit session rows: %w", err)
	}

	return sessions, nil
}

// WithTx returns a new repository instance bound to the transaction
func (r *SessionRepository) WithTx(tx repositories.Transaction) repositories.SessionRepository {
	return &SessionRepository{
		db:     r.db,
		logger: r.logger,
	}
}

// getSession scans a single session row for the given query
func (r *SessionRepository) getSession(ctx context.Context, query string, id uuid.UUID) (*models.EditSession, error) {
	executor := GetExecutor(ctx, r.db)
	session := &models.EditSession{}

	err := executor.QueryRowContext(ctx, query, id).Scan(
		&session.ID,
		&session.SubjectID,
		&session.Status,
		&session.CreatedBy,
		&session.RejectionReason,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get edit session: %w", err)
	}

	return session, nil
}
