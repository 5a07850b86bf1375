package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/trailguard/audit-ledger/internal/metrics"
	"github.com/trailguard/audit-ledger/models"
	"github.com/trailguard/audit-ledger/repositories"
	"github.com/trailguard/audit-ledger/services"
	"go.uber.org/zap"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// AppendInput carries everything needed to append one event to a stream.
// The stream is resolved (created on first reference) and locked as part of
// the append.
type AppendInput struct {
	StreamType   models.StreamType
	StreamKey    string
	RunID        *string
	TraceID      *string
	NodeID       *string
	ActorType    models.ActorType
	ActorID      *string
	Service      string
	Action       string
	ResourceType string
	ResourceID   string
	BeforeHash   *string
	AfterHash    *string
	Payload      json.RawMessage
	DedupeKey    *string
}

// Service is the ledger writer plus the read side of the audit store. All
// sequencing correctness is delegated to the stream row lock taken inside
// the append transaction, so multiple service instances can share one
// database safely.
type Service struct {
	streams   repositories.StreamRepository
	events    repositories.EventRepository
	txManager repositories.TransactionManager
	sanitizer *Sanitizer
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewService creates a new ledger Service instance
func NewService(
	streams repositories.StreamRepository,
	events repositories.EventRepository,
	txManager repositories.TransactionManager,
	sanitizer *Sanitizer,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Service {
	return &Service{
		streams:   streams,
		events:    events,
		txManager: txManager,
		sanitizer: sanitizer,
		metrics:   m,
		logger:    logger,
	}
}

// Resolve maps (streamType, streamKey) to its stream, creating it on first
// reference. Idempotent: concurrent resolves of the same pair converge on
// one row.
func (s *Service) Resolve(ctx context.Context, streamType models.StreamType, streamKey string) (*models.AuditStream, error) {
	if !streamType.IsValid() {
		return nil, services.ErrInvalidStreamType
	}
	if streamKey == "" {
		return nil, services.ErrEmptyStreamKey
	}

	return services.WithTransactionResult(ctx, s.txManager, func(txCtx context.Context, _ repositories.Transaction) (*models.AuditStream, error) {
		stream, err := s.streams.Resolve(txCtx, streamType, streamKey)
		if err != nil {
			return nil, services.WrapInternal("failed to resolve stream", err)
		}
		return stream, nil
	})
}

// Append validates the input, opens a transaction and appends one event to
// the stream, resolving and locking the stream row first. Identical
// dedupe_key replays return the previously persisted event without
// consuming a seq.
func (s *Service) Append(ctx context.Context, in AppendInput) (*models.AuditEvent, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	out, err := services.WithTransactionResult(ctx, s.txManager, func(txCtx context.Context, _ repositories.Transaction) (appendOutcome, error) {
		return s.appendInTx(txCtx, in)
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordAppendFailure(string(in.StreamType))
		}
		return nil, err
	}

	if s.metrics != nil && !out.replayed {
		s.metrics.ObserveAppendDuration(time.Since(start))
	}
	return out.event, nil
}

// AppendTx appends one event within the caller's open transaction. The
// workflow layer uses this to commit an entity mutation and its audit event
// atomically; a failed append must fail the whole transaction.
func (s *Service) AppendTx(tx repositories.Transaction, in AppendInput) (*models.AuditEvent, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	out, err := s.appendInTx(tx.Context(), in)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordAppendFailure(string(in.StreamType))
		}
		return nil, err
	}
	return out.event, nil
}

type appendOutcome struct {
	event    *models.AuditEvent
	replayed bool
}

// appendInTx runs the append algorithm. The ctx must carry an open
// transaction: the FOR UPDATE lock taken by Resolve is the sole
// concurrency-control mechanism and must span the last-event read and the
// insert.
func (s *Service) appendInTx(ctx context.Context, in AppendInput) (appendOutcome, error) {
	stream, err := s.streams.Resolve(ctx, in.StreamType, in.StreamKey)
	if err != nil {
		return appendOutcome{}, services.WrapInternal("failed to resolve stream", err)
	}

	// Idempotent replay: same dedupe_key returns the persisted event, no
	// new row, no seq consumed.
	if in.DedupeKey != nil {
		existing, err := s.events.GetByDedupeKey(ctx, stream.ID, *in.DedupeKey)
		if err != nil {
			return appendOutcome{}, services.WrapInternal("failed to check dedupe key", err)
		}
		if existing != nil {
			if s.metrics != nil {
				s.metrics.RecordDedupeHit(string(in.StreamType))
			}
			s.logger.Debug("append replayed via dedupe key",
				zap.String("stream_id", stream.ID.String()),
				zap.String("dedupe_key", *in.DedupeKey),
				zap.Int64("seq", existing.Seq))
			return appendOutcome{event: existing, replayed: true}, nil
		}
	}

	sanitized, err := s.sanitizer.Sanitize(in.ResourceType, in.Payload)
	if err != nil {
		return appendOutcome{}, services.NewDomainError(services.ErrorTypeValidation, "payload is not serializable", err)
	}
	canonical, err := CanonicalizePayload(sanitized)
	if err != nil {
		return appendOutcome{}, services.NewDomainError(services.ErrorTypeValidation, "payload is not serializable", err)
	}

	last, err := s.events.GetLastForStream(ctx, stream.ID)
	if err != nil {
		return appendOutcome{}, services.WrapInternal("failed to read last event", err)
	}

	event := models.NewAuditEvent(stream.ID, in.ActorType, in.Service, in.Action, in.ResourceType, in.ResourceID)
	if in.ActorID != nil {
		event.WithActor(*in.ActorID)
	}
	if in.RunID != nil {
		event.WithRun(*in.RunID)
	}
	event.WithTrace(strOrEmpty(in.TraceID), strOrEmpty(in.NodeID))
	event.WithStateHashes(strOrEmpty(in.BeforeHash), strOrEmpty(in.AfterHash))
	if in.DedupeKey != nil {
		event.WithDedupeKey(*in.DedupeKey)
	}

	event.Seq = 1
	if last != nil {
		event.Seq = last.Seq + 1
		event.PrevEventHash = &last.EventHash
	}
	event.PayloadJSON = canonical
	event.PayloadHash = ComputePayloadHash(canonical)
	event.EventHash = ComputeEventHash(event)

	if err := s.events.Insert(ctx, event); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return appendOutcome{}, services.ErrDuplicateSeq
		}
		return appendOutcome{}, services.WrapInternal("failed to insert audit event", err)
	}

	if s.metrics != nil {
		s.metrics.RecordAppend(string(in.StreamType))
	}
	s.logger.Info("audit event appended",
		zap.String("stream_id", stream.ID.String()),
		zap.String("stream_type", string(in.StreamType)),
		zap.String("stream_key", in.StreamKey),
		zap.Int64("seq", event.Seq),
		zap.String("action", in.Action))

	return appendOutcome{event: event}, nil
}

// GetStream looks a stream up without creating it.
func (s *Service) GetStream(ctx context.Context, streamType models.StreamType, streamKey string) (*models.AuditStream, error) {
	if !streamType.IsValid() {
		return nil, services.ErrInvalidStreamType
	}
	if streamKey == "" {
		return nil, services.ErrEmptyStreamKey
	}

	stream, err := s.streams.Lookup(ctx, streamType, streamKey)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrStreamNotFound
		}
		return nil, services.WrapInternal("failed to look up stream", err)
	}
	return stream, nil
}

// ListStreams returns registered streams, optionally filtered by type.
func (s *Service) ListStreams(ctx context.Context, streamType *models.StreamType, limit, offset int) ([]*models.AuditStream, error) {
	if streamType != nil && !streamType.IsValid() {
		return nil, services.ErrInvalidStreamType
	}
	limit = normalizeLimit(limit)
	if offset < 0 {
		offset = 0
	}

	streams, err := s.streams.List(ctx, streamType, limit, offset)
	if err != nil {
		return nil, services.WrapInternal("failed to list streams", err)
	}
	return streams, nil
}

// ListEvents returns a stream's events ordered by seq ascending, plus the
// stream's total event count for pagination.
func (s *Service) ListEvents(ctx context.Context, streamType models.StreamType, streamKey string, limit, offset int) ([]*models.AuditEvent, int64, error) {
	stream, err := s.GetStream(ctx, streamType, streamKey)
	if err != nil {
		return nil, 0, err
	}

	limit = normalizeLimit(limit)
	if offset < 0 {
		offset = 0
	}

	events, err := s.events.ListByStream(ctx, stream.ID, limit, offset)
	if err != nil {
		return nil, 0, services.WrapInternal("failed to list events", err)
	}
	total, err := s.events.CountByStream(ctx, stream.ID)
	if err != nil {
		return nil, 0, services.WrapInternal("failed to count events", err)
	}
	return events, total, nil
}

// GetEvent fetches one event by id.
func (s *Service) GetEvent(ctx context.Context, id uuid.UUID) (*models.AuditEvent, error) {
	event, err := s.events.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrEventNotFound
		}
		return nil, services.WrapInternal("failed to get event", err)
	}
	return event, nil
}

func (in *AppendInput) validate() error {
	if !in.StreamType.IsValid() {
		return services.NewDomainError(services.ErrorTypeValidation, fmt.Sprintf("invalid stream type %q", in.StreamType), nil)
	}
	if in.StreamKey == "" {
		return services.ErrEmptyStreamKey
	}
	if !in.ActorType.IsValid() {
		return services.NewDomainError(services.ErrorTypeValidation, fmt.Sprintf("invalid actor type %q", in.ActorType), nil)
	}
	if in.Service == "" {
		return services.NewDomainError(services.ErrorTypeValidation, "service is required", nil)
	}
	if in.Action == "" {
		return services.NewDomainError(services.ErrorTypeValidation, "action is required", nil)
	}
	if in.ResourceType == "" {
		return services.NewDomainError(services.ErrorTypeValidation, "resource_type is required", nil)
	}
	if in.ResourceID == "" {
		return services.NewDomainError(services.ErrorTypeValidation, "resource_id is required", nil)
	}
	if in.BeforeHash != nil && !HashPattern.MatchString(*in.BeforeHash) {
		return services.NewDomainError(services.ErrorTypeValidation, "before_hash must be 64 lowercase hex chars", nil)
	}
	if in.AfterHash != nil && !HashPattern.MatchString(*in.AfterHash) {
		return services.NewDomainError(services.ErrorTypeValidation, "after_hash must be 64 lowercase hex chars", nil)
	}
	if in.DedupeKey != nil && *in.DedupeKey == "" {
		return services.NewDomainError(services.ErrorTypeValidation, "dedupe_key cannot be empty when present", nil)
	}
	return nil
}

func strOrEmpty(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
