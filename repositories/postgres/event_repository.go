package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/trailguard/audit-ledger/models"
	"github.com/trailguard/audit-ledger/repositories"
)

// EventRepository implements the repositories.EventRepository interface
type EventRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *DB, logger *zap.Logger) repositories.EventRepository {
	return &EventRepository{
		db:     db,
		logger: logger,
	}
}

// Insert persists a fully assembled event row. A unique violation on
// (stream_id, seq) or (stream_id, dedupe_key) surfaces as ErrDuplicate;
// under correct stream locking it should never happen.
func (r *EventRepository) Insert(ctx context.Context, event *models.AuditEvent) error {
	query := `
		INSERT INTO audit_events (
			id, stream_id, seq, created_at, run_id, trace_id, node_id,
			actor_type, actor_id, service, action, resource_type, resource_id,
			before_hash, after_hash, payload_json, payload_hash,
			prev_event_hash, event_hash, dedupe_key
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20
		)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		event.ID,
		event.StreamID,
		event.Seq,
		event.CreatedAt,
		event.RunID,
		event.TraceID,
		event.NodeID,
		event.ActorType,
		event.ActorID,
		event.Service,
		event.Action,
		event.ResourceType,
		event.ResourceID,
		event.BeforeHash,
		event.AfterHash,
		event.PayloadJSON,
		event.PayloadHash,
		event.PrevEventHash,
		event.EventHash,
		event.DedupeKey,
	)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return fmt.Errorf("audit event seq %d on stream %s: %w", event.Seq, event.StreamID, repositories.ErrDuplicate)
		}
		return fmt.Errorf("failed to insert audit event: %w", err)
	}

	r.logger.Debug("audit event inserted",
		zap.String("id", event.ID.String()),
		zap.String("stream_id", event.StreamID.String()),
		zap.Int64("seq", event.Seq),
		zap.String("action", event.Action))

	return nil
}

// GetLastForStream returns the highest-seq event of a stream, or nil when the
// stream has no events yet. Callers must hold the stream row lock so the
// result stays stable until their transaction ends.
func (r *EventRepository) GetLastForStream(ctx context.Context, streamID uuid.UUID) (*models.AuditEvent, error) {
	query := `
		SELECT id, stream_id, seq, created_at, run_id, trace_id, node_id,
		       actor_type, actor_id, service, action, resource_type, resource_id,
		       before_hash, after_hash, payload_json, payload_hash,
		       prev_event_hash, event_hash, dedupe_key
		FROM audit_events
		WHERE stream_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`

	executor := GetExecutor(ctx, r.db)
	event, err := scanEvent(executor.QueryRowContext(ctx, query, streamID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get last audit event: %w", err)
	}

	return event, nil
}

// GetByDedupeKey returns the most recent event on the stream carrying the
// dedupe key, or nil when no such event exists
func (r *EventRepository) GetByDedupeKey(ctx context.Context, streamID uuid.UUID, dedupeKey string) (*models.AuditEvent, error) {
	query := `
		SELECT id, stream_id, seq, created_at, run_id, trace_id, node_id,
		       actor_type, actor_id, service, action, resource_type, resource_id,
		       before_hash, after_hash, payload_json, payload_hash,
		       prev_event_hash, event_hash, dedupe_key
		FROM audit_events
		WHERE stream_id = $1 AND dedupe_key = $2
		ORDER BY seq DESC
		LIMIT 1
	`

	executor := GetExecutor(ctx, r.db)
	event, err := scanEvent(executor.QueryRowContext(ctx, query, streamID, dedupeKey))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get audit event by dedupe key: %w", err)
	}

	return event, nil
}

// GetByID retrieves an event by ID
func (r *EventRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AuditEvent, error) {
	query := `
		SELECT id, stream_id, seq, created_at, run_id, trace_id, node_id,
		       actor_type, actor_id, service, action, resource_type, resource_id,
		       before_hash, after_hash, payload_json, payload_hash,
		       prev_event_hash, event_hash, dedupe_key
		FROM audit_events
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	event, err := scanEvent(executor.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get audit event: %w", err)
	}

	return event, nil
}

// ListByStream retrieves a stream's events ordered by seq ascending
func (r *EventRepository) ListByStream(ctx context.Context, streamID uuid.UUID, limit, offset int) ([]*models.AuditEvent, error) {
	query := `
		SELECT id, stream_id, seq, created_at, run_id, trace_id, node_id,
		       actor_type, actor_id, service, action, resource_type, resource_id,
		       before_hash, after_hash, payload_json, payload_hash,
		       prev_event_hash, event_hash, dedupe_key
		FROM audit_events
		WHERE stream_id = $1
		ORDER BY seq ASC
		LIMIT $2 OFFSET $3
	`

	return r.queryEvents(ctx, query, streamID, limit, offset)
}

// CountByStream returns the number of events in a stream
func (r *EventRepository) CountByStream(ctx context.Context, streamID uuid.UUID) (int64, error) {
	query := `SELECT COUNT(*) FROM audit_events WHERE stream_id = $1`

	executor := GetExecutor(ctx, r.db)

	var count int64
	if err := executor.QueryRowContext(ctx, query, streamID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count audit events: %w", err)
	}

	return count, nil
}

// WithTx returns a new repository instance bound to the transaction
func (r *EventRepository) WithTx(tx repositories.Transaction) repositories.EventRepository {
	return &EventRepository{
		db:     r.db,
		logger: r.logger,
	}
}

// queryEvents is a helper method to query multiple events
func (r *EventRepository) queryEvents(ctx context.Context, query string, args ...interface{}) ([]*models.AuditEvent, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []*models.AuditEvent
	for rows.Next() {
		event := &models.AuditEvent{}
		err := rows.Scan(
			&event.ID,
			&event.StreamID,
			&event.Seq,
			&event.CreatedAt,
			&event.RunID,
			&event.TraceID,
			&event.NodeID,
			&event.ActorType,
			&event.ActorID,
			&event.Service,
			&event.Action,
			&event.ResourceType,
			&event.ResourceID,
			&event.BeforeHash,
			&event.AfterHash,
			&event.PayloadJSON,
			&event.PayloadHash,
			&event.PrevEventHash,
			&event.EventHash,
			&event.DedupeKey,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit event rows: %w", err)
	}

	return events, nil
}

// scanEvent scans a single event row
func scanEvent(row *sql.Row) (*models.AuditEvent, error) {
	event := &models.AuditEvent{}
	err := row.Scan(
		&event.ID,
		&event.StreamID,
		&event.Seq,
		&event.CreatedAt,
		&event.RunID,
		&event.TraceID,
		&event.NodeID,
		&event.ActorType,
		&event.ActorID,
		&event.Service,
		&event.Action,
		&event.ResourceType,
		&event.ResourceID,
		&event.BeforeHash,
		&event.AfterHash,
		&event.PayloadJSON,
		&event.PayloadHash,
		&event.PrevEventHash,
		&event.EventHash,
		&event.DedupeKey,
	)
	if err != nil {
		return nil, err
	}
	return event, nil
}
