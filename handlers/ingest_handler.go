package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/trailguard/audit-ledger/middleware"
	"github.com/trailguard/audit-ledger/models"
	"github.com/trailguard/audit-ledger/services"
	"github.com/trailguard/audit-ledger/services/ledger"
	"github.com/trailguard/audit-ledger/utils"
	"go.uber.org/zap"
)

// AppendEventRequest represents a request to append one audit event
type AppendEventRequest struct {
	StreamType   string          `json:"stream_type" validate:"required,oneof=EDIT_SESSION RUN MANUSCRIPT DATASET SERVICE"`
	StreamKey    string          `json:"stream_key" validate:"required,max=255"`
	RunID        *string         `json:"run_id,omitempty"`
	TraceID      *string         `json:"trace_id,omitempty"`
	NodeID       *string         `json:"node_id,omitempty"`
	ActorType    string          `json:"actor_type" validate:"required,oneof=user service agent system"`
	ActorID      *string         `json:"actor_id,omitempty"`
	Service      string          `json:"service" validate:"required,max=255"`
	Action       string          `json:"action" validate:"required,max=255"`
	ResourceType string          `json:"resource_type" validate:"required,max=255"`
	ResourceID   string          `json:"resource_id" validate:"required,max=255"`
	BeforeHash   *string         `json:"before_hash,omitempty" validate:"omitempty,len=64,hexadecimal"`
	AfterHash    *string         `json:"after_hash,omitempty" validate:"omitempty,len=64,hexadecimal"`
	PayloadJSON  json.RawMessage `json:"payload_json,omitempty"`
	DedupeKey    *string         `json:"dedupe_key,omitempty" validate:"omitempty,min=1,max=255"`
}

// AppendEventResponse represents a successful append in the ingest envelope
type AppendEventResponse struct {
	OK           bool      `json:"ok"`
	AuditEventID uuid.UUID `json:"audit_event_id"`
	StreamID     uuid.UUID `json:"stream_id"`
	Seq          int64     `json:"seq"`
	EventHash    string    `json:"event_hash"`
}

// LedgerWriter defines the append operation the ingest gateway uses
type LedgerWriter interface {
	Append(ctx context.Context, in ledger.AppendInput) (*models.AuditEvent, error)
}

// IngestHandler handles audit event ingestion from emitter services
type IngestHandler struct {
	ledger LedgerWriter
	logger *zap.Logger
}

// NewIngestHandler creates a new IngestHandler
func NewIngestHandler(ledgerService LedgerWriter, logger *zap.Logger) *IngestHandler {
	return &IngestHandler{
		ledger: ledgerService,
		logger: logger,
	}
}

// HandleAppendEvent handles POST /api/v1/audit/events.
// Payload contents are never logged; only routing metadata is.
func (h *IngestHandler) HandleAppendEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	// Parse request body
	var req AppendEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to parse ingest request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		writeIngestError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Validate request
	if err := utils.ValidateStruct(&req); err != nil {
		h.logger.Warn("ingest request validation failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		writeIngestError(w, http.StatusBadRequest, ingestValidationMessage(err))
		return
	}

	// An omitted payload is recorded as an empty object
	if len(req.PayloadJSON) == 0 {
		req.PayloadJSON = json.RawMessage("{}")
	}

	h.logger.Debug("appending ingest event",
		zap.String("request_id", requestID),
		zap.String("stream_type", req.StreamType),
		zap.String("stream_key", req.StreamKey),
		zap.String("action", req.Action))

	event, err := h.ledger.Append(ctx, ledger.AppendInput{
		StreamType:   models.StreamType(req.StreamType),
		StreamKey:    req.StreamKey,
		RunID:        req.RunID,
		TraceID:      req.TraceID,
		NodeID:       req.NodeID,
		ActorType:    models.ActorType(req.ActorType),
		ActorID:      req.ActorID,
		Service:      req.Service,
		Action:       req.Action,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		BeforeHash:   req.BeforeHash,
		AfterHash:    req.AfterHash,
		Payload:      req.PayloadJSON,
		DedupeKey:    req.DedupeKey,
	})
	if err != nil {
		if services.IsValidationError(err) {
			h.logger.Warn("ingest append rejected",
				zap.String("request_id", requestID),
				zap.String("stream_type", req.StreamType),
				zap.String("stream_key", req.StreamKey),
				zap.Error(err))
			writeIngestError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("ingest append failed",
			zap.String("request_id", requestID),
			zap.String("stream_type", req.StreamType),
			zap.String("stream_key", req.StreamKey),
			zap.Error(err))
		writeIngestError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.logger.Info("ingest event appended",
		zap.String("request_id", requestID),
		zap.String("stream_id", event.StreamID.String()),
		zap.Int64("seq", event.Seq),
		zap.String("action", event.Action))

	_ = utils.WriteJSON(w, http.StatusOK, AppendEventResponse{
		OK:           true,
		AuditEventID: event.ID,
		StreamID:     event.StreamID,
		Seq:          event.Seq,
		EventHash:    event.EventHash,
	})
}

// writeIngestError writes an error in the ingest envelope shape
func writeIngestError(w http.ResponseWriter, status int, message string) {
	_ = utils.WriteJSON(w, status, map[string]interface{}{
		"ok":    false,
		"error": message,
	})
}

// ingestValidationMessage flattens validator field errors into one string
// since the ingest envelope has no details slot
func ingestValidationMessage(err error) string {
	if !utils.IsValidationError(err) {
		return err.Error()
	}
	fields := utils.GetValidationFields(err)
	parts := make([]string, 0, len(fields))
	for field, msg := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
	}
	sort.Strings(parts)
	return "validation failed: " + strings.Join(parts, "; ")
}
