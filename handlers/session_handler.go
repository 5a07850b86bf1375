package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/trailguard/audit-ledger/middleware"
	"github.com/trailguard/audit-ledger/models"
	"github.com/trailguard/audit-ledger/utils"
	"go.uber.org/zap"
)

// CreateSessionRequest represents a request to open a draft edit session
type CreateSessionRequest struct {
	SubjectID string `json:"subject_id" validate:"required,max=255"`
}

// RejectSessionRequest carries the optional free-text rejection reason.
// The reason is redacted before anything is persisted.
type RejectSessionRequest struct {
	Reason *string `json:"reason,omitempty"`
}

// SessionResponse represents an edit session in API responses
type SessionResponse struct {
	ID              uuid.UUID `json:"id"`
	SubjectID       string    `json:"subject_id"`
	Status          string    `json:"status"`
	CreatedBy       string    `json:"created_by"`
	RejectionReason *string   `json:"rejection_reason,omitempty"`
	CreatedAt       string    `json:"created_at"`
	UpdatedAt       string    `json:"updated_at"`
}

// SessionHandler handles edit session workflow HTTP requests
type SessionHandler struct {
	workflow WorkflowService
	logger   *zap.Logger
}

// WorkflowService defines the edit session operations the HTTP layer uses
type WorkflowService interface {
	Create(ctx context.Context, subjectID, createdBy string) (*models.EditSession, error)
	Get(ctx context.Context, id uuid.UUID) (*models.EditSession, error)
	ListBySubject(ctx context.Context, subjectID string, limit, offset int) ([]*models.EditSession, error)
	Submit(ctx context.Context, id uuid.UUID, actorID string) (*models.EditSession, error)
	Approve(ctx context.Context, id uuid.UUID, actorID string) (*models.EditSession, error)
	Merge(ctx context.Context, id uuid.UUID, actorID string) (*models.EditSession, error)
	Reject(ctx context.Context, id uuid.UUID, actorID string, reason *string) (*models.EditSession, error)
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(workflowService WorkflowService, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		workflow: workflowService,
		logger:   logger,
	}
}

// HandleCreateSession handles POST /api/v1/sessions
func (h *SessionHandler) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	claims := middleware.GetClaimsFromContext(ctx)
	if claims == nil {
		h.logger.Error("missing claims in context")
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	// Parse request body
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	// Validate request
	if err := utils.ValidateStruct(&req); err != nil {
		h.logger.Warn("request validation failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleValidationError(w, err, h.logger)
		return
	}

	h.logger.Debug("creating edit session",
		zap.String("request_id", requestID),
		zap.String("subject_id", req.SubjectID))

	session, err := h.workflow.Create(ctx, req.SubjectID, claims.Sub)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("edit session created",
		zap.String("request_id", requestID),
		zap.String("session_id", session.ID.String()),
		zap.String("subject_id", session.SubjectID))

	_ = utils.WriteCreated(w, sessionToResponse(session))
}

// HandleGetSession handles GET /api/v1/sessions/{id}
func (h *SessionHandler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid session ID format", nil)
		return
	}

	h.logger.Debug("fetching edit session",
		zap.String("request_id", requestID),
		zap.String("session_id", sessionID.String()))

	session, err := h.workflow.Get(ctx, sessionID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, sessionToResponse(session))
}

// HandleListSessions handles GET /api/v1/sessions
func (h *SessionHandler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	subjectID := r.URL.Query().Get("subject_id")
	if subjectID == "" {
		_ = utils.WriteBadRequest(w, "subject_id query parameter is required", nil)
		return
	}
	limit, offset := parsePagination(r)

	h.logger.Debug("listing edit sessions",
		zap.String("request_id", requestID),
		zap.String("subject_id", subjectID))

	sessions, err := h.workflow.ListBySubject(ctx, subjectID, limit, offset)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	responses := make([]SessionResponse, len(sessions))
	for i, s := range sessions {
		responses[i] = sessionToResponse(s)
	}

	h.logger.Info("listed edit sessions",
		zap.String("request_id", requestID),
		zap.String("subject_id", subjectID),
		zap.Int("count", len(responses)))

	_ = utils.WriteOK(w, responses)
}

// HandleSubmitSession handles POST /api/v1/sessions/{id}/submit
func (h *SessionHandler) HandleSubmitSession(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, "submit", h.workflow.Submit)
}

// HandleApproveSession handles POST /api/v1/sessions/{id}/approve
func (h *SessionHandler) HandleApproveSession(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, "approve", h.workflow.Approve)
}

// HandleMergeSession handles POST /api/v1/sessions/{id}/merge
func (h *SessionHandler) HandleMergeSession(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, "merge", h.workflow.Merge)
}

// HandleRejectSession handles POST /api/v1/sessions/{id}/reject.
// The body is optional; a supplied reason is redacted before persistence.
func (h *SessionHandler) HandleRejectSession(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestIDFromContext(r.Context())

	var req RejectSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	h.handleTransition(w, r, "reject", func(ctx context.Context, id uuid.UUID, actorID string) (*models.EditSession, error) {
		return h.workflow.Reject(ctx, id, actorID, req.Reason)
	})
}

// handleTransition runs one state machine transition addressed by the id
// path param, acting as the authenticated caller
func (h *SessionHandler) handleTransition(
	w http.ResponseWriter,
	r *http.Request,
	name string,
	apply func(ctx context.Context, id uuid.UUID, actorID string) (*models.EditSession, error),
) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	claims := middleware.GetClaimsFromContext(ctx)
	if claims == nil {
		h.logger.Error("missing claims in context")
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid session ID format", nil)
		return
	}

	h.logger.Debug("applying session transition",
		zap.String("request_id", requestID),
		zap.String("session_id", sessionID.String()),
		zap.String("transition", name))

	session, err := apply(ctx, sessionID, claims.Sub)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("session transition applied",
		zap.String("request_id", requestID),
		zap.String("session_id", sessionID.String()),
		zap.String("transition", name),
		zap.String("status", string(session.Status)))

	_ = utils.WriteOK(w, sessionToResponse(session))
}

// sessionToResponse converts an EditSession model to a SessionResponse
func sessionToResponse(s *models.EditSession) SessionResponse {
	return SessionResponse{
		ID:              s.ID,
		SubjectID:       s.SubjectID,
		Status:          string(s.Status),
		CreatedBy:       s.CreatedBy,
		RejectionReason: s.RejectionReason,
		CreatedAt:       s.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       s.UpdatedAt.Format(time.RFC3339),
	}
}
