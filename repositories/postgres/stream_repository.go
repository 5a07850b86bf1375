package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trailguard/audit-ledger/models"
	"github.com/trailguard/audit-ledger/repositories"
)

// StreamRepository implements the repositories.StreamRepository interface
type StreamRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewStreamRepository creates a new stream repository
func NewStreamRepository(db *DB, logger *zap.Logger) repositories.StreamRepository {
	return &StreamRepository{
		db:     db,
		logger: logger,
	}
}

// Resolve returns the stream for (streamType, streamKey), creating it when
// absent, then locks its row with FOR UPDATE. The insert ignores conflicts so
// concurrent first references converge on a single row; the subsequent locked
// select serializes every writer that resolves the same stream.
func (r *StreamRepository) Resolve(ctx context.Context, streamType models.StreamType, streamKey string) (*models.AuditStream, error) {
	executor := GetExecutor(ctx, r.db)

	insert := `
		INSERT INTO audit_streams (stream_id, stream_type, stream_key, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (stream_type, stream_key) DO NOTHING
	`

	candidate := models.NewAuditStream(streamType, streamKey)
	if _, err := executor.ExecContext(ctx, insert,
		candidate.ID,
		candidate.StreamType,
		candidate.StreamKey,
		candidate.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to create audit stream: %w", err)
	}

	query := `
		SELECT stream_id, stream_type, stream_key, created_at
		FROM audit_streams
		WHERE stream_type = $1 AND stream_key = $2
		FOR UPDATE
	`

	stream := &models.AuditStream{}
	err := executor.QueryRowContext(ctx, query, streamType, streamKey).Scan(
		&stream.ID,
		&stream.StreamType,
		&stream.StreamKey,
		&stream.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock audit stream: %w", err)
	}

	r.logger.Debug("audit stream resolved",
		zap.String("stream_id", stream.ID.String()),
		zap.String("stream_type", string(stream.StreamType)),
		zap.String("stream_key", stream.StreamKey))

	return stream, nil
}

// Lookup returns the stream for (streamType, streamKey) without creating or
// locking it
func (r *StreamRepository) Lookup(ctx context.Context, streamType models.StreamType, streamKey string) (*models.AuditStream, error) {
	query := `
		SELECT stream_id, stream_type, stream_key, created_at
		FROM audit_streams
		WHERE stream_type = $1 AND stream_key = $2
	`

	executor := GetExecutor(ctx, r.db)
	stream := &models.AuditStream{}

	err := executor.QueryRowContext(ctx, query, streamType, streamKey).Scan(
		&stream.ID,
		&stream.StreamType,
		&stream.StreamKey,
		&stream.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get audit stream: %w", err)
	}

	return stream, nil
}

// GetByID retrieves a stream by its identifier
func (r *StreamRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AuditStream, error) {
	query := `
		SELECT stream_id, stream_type, stream_key, created_at
		FROM audit_streams
		WHERE stream_id = $1
	`

	executor := GetExecutor(ctx, r.db)
	stream := &models.AuditStream{}

	err := executor.QueryRowContext(ctx, query, id).Scan(
		&stream.ID,
		&stream.StreamType,
		&stream.StreamKey,
		&stream.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get audit stream: %w", err)
	}

	return stream, nil
}

// List retrieves streams with pagination, optionally filtered by type
func (r *StreamRepository) List(ctx context.Context, streamType *models.StreamType, limit, offset int) ([]*models.AuditStream, error) {
	var (
		query string
		args  []interface{}
	)

	if streamType != nil {
		query = `
			SELECT stream_id, stream_type, stream_key, created_at
			FROM audit_streams
			WHERE stream_type = $1
			ORDER BY created_at ASC
			LIMIT $2 OFFSET $3
		`
		args = []interface{}{*streamType, limit, offset}
	} else {
		query = `
			SELECT stream_id, stream_type, stream_key, created_at
			FROM audit_streams
			ORDER BY created_at ASC
			LIMIT $1 OFFSET $2
		`
		args = []interface{}{limit, offset}
	}

	return r.queryStreams(ctx, query, args...)
}

// ListActiveSince retrieves streams that received at least one event after
// the given instant
func (r *StreamRepository) ListActiveSince(ctx context.Context, since time.Time, limit int) ([]*models.AuditStream, error) {
	query := `
		SELECT s.stream_id, s.stream_type, s.stream_key, s.created_at
		FROM audit_streams s
		WHERE EXISTS (
			SELECT 1 FROM audit_events e
			WHERE e.stream_id = s.stream_id AND e.created_at > $1
		)
		ORDER BY s.created_at ASC
		LIMIT $2
	`

	return r.queryStreams(ctx, query, since, limit)
}

// WithTx returns a new repository instance bound to the transaction
func (r *StreamRepository) WithTx(tx repositories.Transaction) repositories.StreamRepository {
	return &StreamRepository{
		db:     r.db,
		logger: r.logger,
	}
}

// queryStreams is a helper method to query multiple streams
func (r *StreamRepository) queryStreams(ctx context.Context, query string, args ...interface{}) ([]*models.AuditStream, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit streams: %w", err)
	}
	defer rows.Close()

	var streams []*models.AuditStream
	for rows.Next() {
		stream := &models.AuditStream{}
		err := rows.Scan(
			&stream.ID,
			&stream.StreamType,
			&stream.StreamKey,
			&stream.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit stream: %w", err)
		}
		streams = append(streams, stream)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit stream rows: %w", err)
	}

	return streams, nil
}
