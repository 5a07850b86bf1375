package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/trailguard/audit-ledger/middleware"
	"github.com/trailguard/audit-ledger/models"
	"github.com/trailguard/audit-ledger/services/ledger"
	"github.com/trailguard/audit-ledger/utils"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// StreamResponse represents an audit stream in API responses
type StreamResponse struct {
	StreamID   uuid.UUID `json:"stream_id"`
	StreamType string    `json:"stream_type"`
	StreamKey  string    `json:"stream_key"`
	CreatedAt  string    `json:"created_at"`
}

// EventResponse represents an audit event in API responses
type EventResponse struct {
	ID            uuid.UUID       `json:"id"`
	StreamID      uuid.UUID       `json:"stream_id"`
	Seq           int64           `json:"seq"`
	CreatedAt     string          `json:"created_at"`
	RunID         *string         `json:"run_id,omitempty"`
	TraceID       *string         `json:"trace_id,omitempty"`
	NodeID        *string         `json:"node_id,omitempty"`
	ActorType     string          `json:"actor_type"`
	ActorID       *string         `json:"actor_id,omitempty"`
	Service       string          `json:"service"`
	Action        string          `json:"action"`
	ResourceType  string          `json:"resource_type"`
	ResourceID    string          `json:"resource_id"`
	BeforeHash    *string         `json:"before_hash,omitempty"`
	AfterHash     *string         `json:"after_hash,omitempty"`
	PayloadJSON   json.RawMessage `json:"payload_json"`
	PayloadHash   string          `json:"payload_hash"`
	PrevEventHash *string         `json:"prev_event_hash,omitempty"`
	EventHash     string          `json:"event_hash"`
	DedupeKey     *string         `json:"dedupe_key,omitempty"`
}

// StreamListResponse is a page of streams
type StreamListResponse struct {
	Streams []StreamResponse `json:"streams"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}

// EventListResponse pairs a page of events with the stream's total count
type EventListResponse struct {
	Events []EventResponse `json:"events"`
	Total  int64           `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

// EventHandler serves the read and verify side of the ledger
type EventHandler struct {
	ledger LedgerReader
	logger *zap.Logger
}

// LedgerReader defines the read and verification operations the query API uses
type LedgerReader interface {
	ListStreams(ctx context.Context, streamType *models.StreamType, limit, offset int) ([]*models.AuditStream, error)
	ListEvents(ctx context.Context, streamType models.StreamType, streamKey string, limit, offset int) ([]*models.AuditEvent, int64, error)
	GetEvent(ctx context.Context, id uuid.UUID) (*models.AuditEvent, error)
	VerifyStream(ctx context.Context, streamType models.StreamType, streamKey string) (*ledger.VerifyReport, error)
}

// NewEventHandler creates a new EventHandler
func NewEventHandler(ledgerService LedgerReader, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		ledger: ledgerService,
		logger: logger,
	}
}

// HandleListStreams handles GET /api/v1/streams
func (h *EventHandler) HandleListStreams(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var streamType *models.StreamType
	if typeStr := r.URL.Query().Get("stream_type"); typeStr != "" {
		parsed := models.StreamType(typeStr)
		streamType = &parsed
	}
	limit, offset := parsePagination(r)

	h.logger.Debug("listing streams",
		zap.String("request_id", requestID))

	streams, err := h.ledger.ListStreams(ctx, streamType, limit, offset)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	responses := make([]StreamResponse, len(streams))
	for i, s := range streams {
		responses[i] = streamToResponse(s)
	}

	h.logger.Info("listed streams",
		zap.String("request_id", requestID),
		zap.Int("count", len(responses)))

	_ = utils.WriteOK(w, StreamListResponse{
		Streams: responses,
		Limit:   limit,
		Offset:  offset,
	})
}

// HandleListStreamEvents handles GET /api/v1/streams/{streamType}/{streamKey}/events
func (h *EventHandler) HandleListStreamEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	streamType := models.StreamType(chi.URLParam(r, "streamType"))
	streamKey := chi.URLParam(r, "streamKey")
	limit, offset := parsePagination(r)

	h.logger.Debug("listing stream events",
		zap.String("request_id", requestID),
		zap.String("stream_type", string(streamType)),
		zap.String("stream_key", streamKey))

	events, total, err := h.ledger.ListEvents(ctx, streamType, streamKey, limit, offset)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	responses := make([]EventResponse, len(events))
	for i, e := range events {
		responses[i] = eventToResponse(e)
	}

	h.logger.Info("listed stream events",
		zap.String("request_id", requestID),
		zap.String("stream_type", string(streamType)),
		zap.String("stream_key", streamKey),
		zap.Int("count", len(responses)),
		zap.Int64("total", total))

	_ = utils.WriteOK(w, EventListResponse{
		Events: responses,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// HandleGetEvent handles GET /api/v1/events/{id}
func (h *EventHandler) HandleGetEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	eventIDStr := chi.URLParam(r, "id")
	eventID, err := uuid.Parse(eventIDStr)
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid event ID format", nil)
		return
	}

	h.logger.Debug("fetching event",
		zap.String("request_id", requestID),
		zap.String("event_id", eventID.String()))

	event, err := h.ledger.GetEvent(ctx, eventID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, eventToResponse(event))
}

// HandleVerifyStream handles POST /api/v1/streams/{streamType}/{streamKey}/verify.
// A completed verification returns 200 whether or not the chain is intact;
// the report's ok field carries the verdict.
func (h *EventHandler) HandleVerifyStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	streamType := models.StreamType(chi.URLParam(r, "streamType"))
	streamKey := chi.URLParam(r, "streamKey")

	h.logger.Debug("verifying stream",
		zap.String("request_id", requestID),
		zap.String("stream_type", string(streamType)),
		zap.String("stream_key", streamKey))

	report, err := h.ledger.VerifyStream(ctx, streamType, streamKey)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("stream verification completed",
		zap.String("request_id", requestID),
		zap.String("stream_id", report.StreamID.String()),
		zap.Bool("ok", report.OK),
		zap.Int("checked", report.Checked))

	_ = utils.WriteOK(w, report)
}

// parsePagination reads limit and offset query params with the service defaults
func parsePagination(r *http.Request) (int, int) {
	limit := defaultPageSize
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	offset := 0
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if parsed, err := strconv.Atoi(offsetStr); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	return limit, offset
}

// streamToResponse converts an AuditStream model to a StreamResponse
func streamToResponse(s *models.AuditStream) StreamResponse {
	return StreamResponse{
		StreamID:   s.ID,
		StreamType: string(s.StreamType),
		StreamKey:  s.StreamKey,
		CreatedAt:  s.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// eventToResponse converts an AuditEvent model to an EventResponse.
// Timestamps use RFC3339Nano so consumers can recompute event hashes
// from what the API returns.
func eventToResponse(e *models.AuditEvent) EventResponse {
	return EventResponse{
		ID:            e.ID,
		StreamID:      e.StreamID,
		Seq:           e.Seq,
		CreatedAt:     e.CreatedAt.UTC().Format(time.RFC3339Nano),
		RunID:         e.RunID,
		TraceID:       e.TraceID,
		NodeID:        e.NodeID,
		ActorType:     string(e.ActorType),
		ActorID:       e.ActorID,
		Service:       e.Service,
		Action:        e.Action,
		ResourceType:  e.ResourceType,
		ResourceID:    e.ResourceID,
		BeforeHash:    e.BeforeHash,
		AfterHash:     e.AfterHash,
		PayloadJSON:   e.PayloadJSON,
		PayloadHash:   e.PayloadHash,
		PrevEventHash: e.PrevEventHash,
		EventHash:     e.EventHash,
		DedupeKey:     e.DedupeKey,
	}
}
