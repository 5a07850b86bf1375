package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/trailguard/audit-ledger/middleware"
	"github.com/trailguard/audit-ledger/models"
	"github.com/trailguard/audit-ledger/services"
	"go.uber.org/zap"
)

// MockWorkflowService is a mock implementation of WorkflowService
type MockWorkflowService struct {
	mock.Mock
}

func (m *MockWorkflowService) Create(ctx context.Context, subjectID, createdBy string) (*models.EditSession, error) {
	args := m.Called(ctx, subjectID, createdBy)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EditSession), args.Error(1)
}

func (m *MockWorkflowService) Get(ctx context.Context, id uuid.UUID) (*models.EditSession, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EditSession), args.Error(1)
}

func (m *MockWorkflowService) ListBySubject(ctx context.Context, subjectID string, limit, offset int) ([]*models.EditSession, error) {
	args := m.Called(ctx, subjectID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.EditSession), args.Error(1)
}

func (m *MockWorkflowService) Submit(ctx context.Context, id uuid.UUID, actorID string) (*models.EditSession, error) {
	args := m.Called(ctx, id, actorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EditSession), args.Error(1)
}

func (m *MockWorkflowService) Approve(ctx context.Context, id uuid.UUID, actorID string) (*models.EditSession, error) {
	args := m.Called(ctx, id, actorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EditSession), args.Error(1)
}

func (m *MockWorkflowService) Merge(ctx context.Context, id uuid.UUID, actorID string) (*models.EditSession, error) {
	args := m.Called(ctx, id, actorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EditSession), args.Error(1)
}

func (m *MockWorkflowService) Reject(ctx context.Context, id uuid.UUID, actorID string, reason *string) (*models.EditSession, error) {
	args := m.Called(ctx, id, actorID, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EditSession), args.Error(1)
}

func sessionFixture(status models.SessionStatus) *models.EditSession {
	now := time.Now().UTC()
	return &models.EditSession{
		ID:        uuid.New(),
		SubjectID: "manuscript-42",
		Status:    status,
		CreatedBy: "author-1",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// sessionRequest builds a request carrying authenticated claims and, when id
// is non-empty, the chi id path param
func sessionRequest(method, target string, body []byte, id string) *http.Request {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.Header.Set("Content-Type", "application/json")

	ctx := middleware.WithClaims(req.Context(), &middleware.Claims{Sub: "reviewer-7", Role: "editor"})
	if id != "" {
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("id", id)
		ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
	}
	return req.WithContext(ctx)
}

func TestHandleCreateSession(t *testing.T) {
	logger := zap.NewNop()

	t.Run("successful creation", func(t *testing.T) {
		mockWorkflow := new(MockWorkflowService)
		handler := NewSessionHandler(mockWorkflow, logger)

		session := sessionFixture(models.SessionStatusDraft)
		mockWorkflow.On("Create", mock.Anything, "manuscript-42", "reviewer-7").
			Return(session, nil)

		body, _ := json.Marshal(map[string]string{"subject_id": "manuscript-42"})
		req := sessionRequest(http.MethodPost, "/api/v1/sessions", body, "")
		w := httptest.NewRecorder()
		handler.HandleCreateSession(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)

		data := decodeDataEnvelope(t, w)
		assert.Equal(t, session.ID.String(), data["id"])
		assert.Equal(t, "manuscript-42", data["subject_id"])
		assert.Equal(t, "draft", data["status"])

		mockWorkflow.AssertExpectations(t)
	})

	t.Run("missing claims", func(t *testing.T) {
		mockWorkflow := new(MockWorkflowService)
		handler := NewSessionHandler(mockWorkflow, logger)

		body, _ := json.Marshal(map[string]string{"subject_id": "manuscript-42"})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", bytes.NewReader(body))
		w := httptest.NewRecorder()
		handler.HandleCreateSession(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		mockWorkflow.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("invalid request body", func(t *testing.T) {
		mockWorkflow := new(MockWorkflowService)
		handler := NewSessionHandler(mockWorkflow, logger)

		req := sessionRequest(http.MethodPost, "/api/v1/sessions", []byte("{not json"), "")
		w := httptest.NewRecorder()
		handler.HandleCreateSession(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		mockWorkflow.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("missing subject id", func(t *testing.T) {
		mockWorkflow := new(MockWorkflowService)
		handler := NewSessionHandler(mockWorkflow, logger)

		body, _ := json.Marshal(map[string]string{})
		req := sessionRequest(http.MethodPost, "/api/v1/sessions", body, "")
		w := httptest.NewRecorder()
		handler.HandleCreateSession(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var response map[string]interface{}
		err := json.NewDecoder(w.Body).Decode(&response)
		require.NoError(t, err)
		assert.Equal(t, "bad_request", response["error"])

		mockWorkflow.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestHandleGetSession(t *testing.T) {
	logger := zap.NewNop()

	t.Run("successful get", func(t *testing.T) {
		mockWorkflow := new(MockWorkflowService)
		handler := NewSessionHandler(mockWorkflow, logger)

		session := sessionFixture(models.SessionStatusSubmitted)
		mockWorkflow.On("Get", mock.Anything, session.ID).Return(session, nil)

		req := sessionRequest(http.MethodGet, "/api/v1/sessions/"+session.ID.String(), nil, session.ID.String())
		w := httptest.NewRecorder()
		handler.HandleGetSession(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		data := decodeDataEnvelope(t, w)
		assert.Equal(t, session.ID.String(), data["id"])
		assert.Equal(t, "submitted", data["status"])

		mockWorkflow.AssertExpectations(t)
	})

	t.Run("invalid session id", func(t *testing.T) {
		mockWorkflow := new(MockWorkflowService)
		handler := NewSessionHandler(mockWorkflow, logger)

		req := sessionRequest(http.MethodGet, "/api/v1/sessions/not-a-uuid", nil, "not-a-uuid")
		w := httptest.NewRecorder()
		handler.HandleGetSession(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		mockWorkflow.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
	})

	t.Run("session not found", func(t *testing.T) {
		mockWorkflow := new(MockWorkflowService)
		handler := NewSessionHandler(mockWorkflow, logger)

		sessionID := uuid.New()
		mockWorkflow.On("Get", mock.Anything, sessionID).Return(nil, services.ErrSessionNotFound)

		req := sessionRequest(http.MethodGet, "/api/v1/sessions/"+sessionID.String(), nil, sessionID.String())
		w := httptest.NewRecorder()
		handler.HandleGetSession(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHandleListSessions(t *testing.T) {
	logger := zap.NewNop()

	t.Run("successful list", func(t *testing.T) {
		mockWorkflow := new(MockWorkflowService)
		handler := NewSessionHandler(mockWorkflow, logger)

		sessions := []*models.EditSession{
			sessionFixture(models.SessionStatusDraft),
			sessionFixture(models.SessionStatusMerged),
		}
		mockWorkflow.On("ListBySubject", mock.Anything, "manuscript-42", 50, 0).
			Return(sessions, nil)

		req := sessionRequest(http.MethodGet, "/api/v1/sessions?subject_id=manuscript-42", nil, "")
		w := httptest.NewRecorder()
		handler.HandleListSessions(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var response map[string]interface{}
		err := json.NewDecoder(w.Body).Decode(&response)
		require.NoError(t, err)
		list, ok := response["data"].([]interface{})
		require.True(t, ok)
		assert.Len(t, list, 2)

		mockWorkflow.AssertExpectations(t)
	})

	t.Run("missing subject id", func(t *testing.T) {
		mockWorkflow := new(MockWorkflowService)
		handler := NewSessionHandler(mockWorkflow, logger)

		req := sessionRequest(http.MethodGet, "/api/v1/sessions", nil, "")
		w := httptest.NewRecorder()
		handler.HandleListSessions(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		mockWorkflow.AssertNotCalled(t, "ListBySubject", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestHandleSessionTransitions(t *testing.T) {
	logger := zap.NewNop()

	transitions := []struct {
		name       string
		mockMethod string
		endStatus  models.SessionStatus
		invoke     func(h *SessionHandler, w http.ResponseWriter, r *http.Request)
	}{
		{"submit", "Submit", models.SessionStatusSubmitted, (*SessionHandler).HandleSubmitSession},
		{"approve", "Approve", models.SessionStatusApproved, (*SessionHandler).HandleApproveSession},
		{"merge", "Merge", models.SessionStatusMerged, (*SessionHandler).HandleMergeSession},
	}

	for _, tc := range transitions {
		t.Run(tc.name+" succeeds", func(t *testing.T) {
			mockWorkflow := new(MockWorkflowService)
			handler := NewSessionHandler(mockWorkflow, logger)

			session := sessionFixture(tc.endStatus)
			mockWorkflow.On(tc.mockMethod, mock.Anything, session.ID, "reviewer-7").
				Return(session, nil)

			req := sessionRequest(http.MethodPost, "/api/v1/sessions/"+session.ID.String()+"/"+tc.name, nil, session.ID.String())
			w := httptest.NewRecorder()
			tc.invoke(handler, w, req)

			assert.Equal(t, http.StatusOK, w.Code)

			data := decodeDataEnvelope(t, w)
			assert.Equal(t, string(tc.endStatus), data["status"])

			mockWorkflow.AssertExpectations(t)
		})
	}

	t.Run("invalid transition maps to conflict", func(t *testing.T) {
		mockWorkflow := new(MockWorkflowService)
		handler := NewSessionHandler(mockWorkflow, logger)

		sessionID := uuid.New()
		transitionErr := services.NewDomainError(services.ErrorTypeInvalidTransition,
			`cannot approve a session in status "draft"`, nil).
			WithDetail("current_status", "draft").
			WithDetail("attempted", "approve")
		mockWorkflow.On("Approve", mock.Anything, sessionID, "reviewer-7").
			Return(nil, transitionErr)

		req := sessionRequest(http.MethodPost, "/api/v1/sessions/"+sessionID.String()+"/approve", nil, sessionID.String())
		w := httptest.NewRecorder()
		handler.HandleApproveSession(w, req)

		assert.Equal(t, http.StatusConflict, w.Code)

		var response map[string]interface{}
		err := json.NewDecoder(w.Body).Decode(&response)
		require.NoError(t, err)
		assert.Equal(t, "invalid_transition", response["error"])
		assert.Contains(t, response["message"], "cannot approve")
	})

	t.Run("missing claims", func(t *testing.T) {
		mockWorkflow := new(MockWorkflowService)
		handler := NewSessionHandler(mockWorkflow, logger)

		sessionID := uuid.New()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+sessionID.String()+"/submit", nil)
		w := httptest.NewRecorder()
		handler.HandleSubmitSession(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		mockWorkflow.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("invalid session id", func(t *testing.T) {
		mockWorkflow := new(MockWorkflowService)
		handler := NewSessionHandler(mockWorkflow, logger)

		req := sessionRequest(http.MethodPost, "/api/v1/sessions/not-a-uuid/merge", nil, "not-a-uuid")
		w := httptest.NewRecorder()
		handler.HandleMergeSession(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		mockWorkflow.AssertNotCalled(t, "Merge", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestHandleRejectSession(t *testing.T) {
	logger := zap.NewNop()

	t.Run("reject with reason stores only the sentinel", func(t *testing.T) {
		mockWorkflow := new(MockWorkflowService)
		handler := NewSessionHandler(mockWorkflow, logger)

		session := sessionFixture(models.SessionStatusRejected)
		sentinel := models.RejectionSentinel
		session.RejectionReason = &sentinel

		mockWorkflow.On("Reject", mock.Anything, session.ID, "reviewer-7", mock.MatchedBy(func(reason *string) bool {
			return reason != nil && *reason == "Patient name John Doe should not be stored."
		})).Return(session, nil)

		body, _ := json.Marshal(map[string]string{"reason": "Patient name John Doe should not be stored."})
		req := sessionRequest(http.MethodPost, "/api/v1/sessions/"+session.ID.String()+"/reject", body, session.ID.String())
		w := httptest.NewRecorder()
		handler.HandleRejectSession(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		data := decodeDataEnvelope(t, w)
		assert.Equal(t, "rejected", data["status"])
		assert.Equal(t, models.RejectionSentinel, data["rejection_reason"])

		mockWorkflow.AssertExpectations(t)
	})

	t.Run("reject without body passes a nil reason", func(t *testing.T) {
		mockWorkflow := new(MockWorkflowService)
		handler := NewSessionHandler(mockWorkflow, logger)

		session := sessionFixture(models.SessionStatusRejected)
		mockWorkflow.On("Reject", mock.Anything, session.ID, "reviewer-7", (*string)(nil)).
			Return(session, nil)

		req := sessionRequest(http.MethodPost, "/api/v1/sessions/"+session.ID.String()+"/reject", nil, session.ID.String())
		w := httptest.NewRecorder()
		handler.HandleRejectSession(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		mockWorkflow.AssertExpectations(t)
	})

	t.Run("invalid request body", func(t *testing.T) {
		mockWorkflow := new(MockWorkflowService)
		handler := NewSessionHandler(mockWorkflow, logger)

		sessionID := uuid.New()
		req := sessionRequest(http.MethodPost, "/api/v1/sessions/"+sessionID.String()+"/reject", []byte("{not json"), sessionID.String())
		w := httptest.NewRecorder()
		handler.HandleRejectSession(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		mockWorkflow.AssertNotCalled(t, "Reject", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}
