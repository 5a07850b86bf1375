package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/trailguard/audit-ledger/models"
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// StreamRepository handles audit stream registry operations
type StreamRepository interface {
	// Resolve returns the stream for (streamType, streamKey), creating it if
	// absent, and locks its row for the remainder of the transaction. The lock
	// serializes sequence allocation for the stream.
	Resolve(ctx context.Context, streamType models.StreamType, streamKey string) (*models.AuditStream, error)

	// Lookup returns the stream for (streamType, streamKey) without creating
	// or locking it. Returns ErrNotFound for unknown streams.
	Lookup(ctx context.Context, streamType models.StreamType, streamKey string) (*models.AuditStream, error)

	// GetByID retrieves a stream by its identifier
	GetByID(ctx context.Context, id uuid.UUID) (*models.AuditStream, error)

	// List retrieves streams with pagination, optionally filtered by type
	List(ctx context.Context, streamType *models.StreamType, limit, offset int) ([]*models.AuditStream, error)

	// ListActiveSince retrieves streams that received at least one event after
	// the given instant, oldest first
	ListActiveSince(ctx context.Context, since time.Time, limit int) ([]*models.AuditStream, error)

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) StreamRepository
}

// EventRepository handles hash-chained audit event operations
type EventRepository interface {
	// Insert persists a fully assembled event row. Rows are append-only.
	Insert(ctx context.Context, event *models.AuditEvent) error

	// GetLastForStream returns the highest-seq event of a stream, or nil when
	// the stream has no events yet. Callers must hold the stream row lock.
	GetLastForStream(ctx context.Context, streamID uuid.UUID) (*models.AuditEvent, error)

	// GetByDedupeKey returns the most recent event on the stream carrying the
	// dedupe key, or nil when no such event exists
	GetByDedupeKey(ctx context.Context, streamID uuid.UUID, dedupeKey string) (*models.AuditEvent, error)

	// GetByID retrieves an event by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.AuditEvent, error)

	// ListByStream retrieves a stream's events ordered by seq ascending
	ListByStream(ctx context.Context, streamID uuid.UUID, limit, offset int) ([]*models.AuditEvent, error)

	// CountByStream returns the number of events in a stream
	CountByStream(ctx context.Context, streamID uuid.UUID) (int64, error)

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) EventRepository
}

// SessionRepository handles edit session persistence
type SessionRepository interface {
	// Insert creates a new edit session row
	Insert(ctx context.Context, session *models.EditSession) error

	// GetByID retrieves a session by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.EditSession, error)

	// GetByIDForUpdate retrieves a session by ID and locks its row for the
	// remainder of the transaction
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.EditSession, error)

	// Update persists the session's mutable fields (status, rejection reason)
	Update(ctx context.Context, session *models.EditSession) error

	// ListBySubject retrieves sessions for a subject with pagination
	ListBySubject(ctx context.Context, subjectID string, limit, offset int) ([]*models.EditSession, error)

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) SessionRepository
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Streams  StreamRepository
	Events   EventRepository
	Sessions SessionRepository
}
