package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/trailguard/audit-ledger/models"
	"github.com/trailguard/audit-ledger/repositories"
	"github.com/trailguard/audit-ledger/services"
	"github.com/trailguard/audit-ledger/services/ledger"
	"go.uber.org/zap"
)

const (
	actionCreate  = "EDIT_SESSION_CREATE"
	actionSubmit  = "EDIT_SESSION_SUBMIT"
	actionApprove = "EDIT_SESSION_APPROVE"
	actionMerge   = "EDIT_SESSION_MERGE"
	actionReject  = "EDIT_SESSION_REJECT"

	resourceTypeEditSession = "edit_session"

	defaultListLimit = 50
	maxListLimit     = 500
)

// Service drives edit sessions through their approval lifecycle. Every
// successful mutation commits the row change and exactly one audit event in
// the same transaction; if the ledger append fails, the entity change rolls
// back with it.
type Service struct {
	sessions    repositories.SessionRepository
	ledger      *ledger.Service
	txManager   repositories.TransactionManager
	serviceName string
	logger      *zap.Logger
}

// NewService creates a new workflow Service instance
func NewService(
	sessions repositories.SessionRepository,
	ledgerSvc *ledger.Service,
	txManager repositories.TransactionManager,
	serviceName string,
	logger *zap.Logger,
) *Service {
	return &Service{
		sessions:    sessions,
		ledger:      ledgerSvc,
		txManager:   txManager,
		serviceName: serviceName,
		logger:      logger,
	}
}

// Create opens a new draft session for a subject and appends its CREATE
// event atomically.
func (s *Service) Create(ctx context.Context, subjectID, createdBy string) (*models.EditSession, error) {
	if subjectID == "" {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "subject_id is required", nil)
	}
	if createdBy == "" {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "created_by is required", nil)
	}

	session := models.NewEditSession(subjectID, createdBy)

	return services.WithTransactionResult(ctx, s.txManager, func(txCtx context.Context, tx repositories.Transaction) (*models.EditSession, error) {
		if err := s.sessions.Insert(txCtx, session); err != nil {
			if errors.Is(err, repositories.ErrDuplicate) {
				return nil, services.ErrConcurrentUpdate
			}
			return nil, services.WrapInternal("failed to insert session", err)
		}

		after := sessionStateHash(session)
		if err := s.appendTransitionEvent(tx, session, createdBy, "create", actionCreate, nil, &after, nil); err != nil {
			return nil, err
		}

		s.logger.Info("edit session created",
			zap.String("session_id", session.ID.String()),
			zap.String("subject_id", subjectID))
		return session, nil
	})
}

// Submit moves a draft session into review.
func (s *Service) Submit(ctx context.Context, id uuid.UUID, actorID string) (*models.EditSession, error) {
	return s.applyTransition(ctx, id, actorID, "submit", actionSubmit, models.SessionStatusDraft,
		func(session *models.EditSession) { session.MarkSubmitted() }, nil)
}

// Approve records reviewer approval of a submitted session.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, actorID string) (*models.EditSession, error) {
	return s.applyTransition(ctx, id, actorID, "approve", actionApprove, models.SessionStatusSubmitted,
		func(session *models.EditSession) { session.MarkApproved() }, nil)
}

// Merge lands an approved session. Merged is terminal.
func (s *Service) Merge(ctx context.Context, id uuid.UUID, actorID string) (*models.EditSession, error) {
	return s.applyTransition(ctx, id, actorID, "merge", actionMerge, models.SessionStatusApproved,
		func(session *models.EditSession) { session.MarkMerged() }, nil)
}

// Reject closes a submitted session. A supplied reason is never persisted:
// the row stores the redaction sentinel and the audit payload carries the
// reason under "note", which the sanitizer reduces to its length.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, actorID string, reason *string) (*models.EditSession, error) {
	hadReason := reason != nil && *reason != ""

	var extra map[string]interface{}
	if hadReason {
		extra = map[string]interface{}{"note": *reason}
	}

	return s.applyTransition(ctx, id, actorID, "reject", actionReject, models.SessionStatusSubmitted,
		func(session *models.EditSession) { session.MarkRejected(hadReason) }, extra)
}

// Get retrieves a session by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.EditSession, error) {
	session, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrSessionNotFound
		}
		return nil, services.WrapInternal("failed to get session", err)
	}
	return session, nil
}

// ListBySubject retrieves a subject's sessions with pagination.
func (s *Service) ListBySubject(ctx context.Context, subjectID string, limit, offset int) ([]*models.EditSession, error) {
	if subjectID == "" {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "subject_id is required", nil)
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	sessions, err := s.sessions.ListBySubject(ctx, subjectID, limit, offset)
	if err != nil {
		return nil, services.WrapInternal("failed to list sessions", err)
	}
	return sessions, nil
}

// applyTransition runs one state-machine step: lock the row, check that the
// persisted status permits the transition, mutate, and append the audit
// event. The guard runs against the locked row, so a stale caller loses
// cleanly with InvalidTransition and zero ledger writes.
func (s *Service) applyTransition(
	ctx context.Context,
	id uuid.UUID,
	actorID string,
	verb string,
	action string,
	requires models.SessionStatus,
	mutate func(*models.EditSession),
	extra map[string]interface{},
) (*models.EditSession, error) {
	if actorID == "" {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "actor_id is required", nil)
	}

	return services.WithTransactionResult(ctx, s.txManager, func(txCtx context.Context, tx repositories.Transaction) (*models.EditSession, error) {
		session, err := s.sessions.GetByIDForUpdate(txCtx, id)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return nil, services.ErrSessionNotFound
			}
			return nil, services.WrapInternal("failed to load session", err)
		}

		if session.Status != requires {
			return nil, invalidTransition(verb, session.Status)
		}

		before := sessionStateHash(session)
		mutate(session)
		after := sessionStateHash(session)

		if err := s.sessions.Update(txCtx, session); err != nil {
			return nil, services.WrapInternal("failed to update session", err)
		}

		if err := s.appendTransitionEvent(tx, session, actorID, verb, action, &before, &after, extra); err != nil {
			return nil, err
		}

		s.logger.Info("edit session transitioned",
			zap.String("session_id", session.ID.String()),
			zap.String("transition", verb),
			zap.String("status", string(session.Status)))
		return session, nil
	})
}

// appendTransitionEvent writes the transition's single audit event inside
// the caller's transaction. A ledger failure is returned as-is so the whole
// transaction rolls back.
func (s *Service) appendTransitionEvent(
	tx repositories.Transaction,
	session *models.EditSession,
	actorID string,
	verb string,
	action string,
	beforeHash, afterHash *string,
	extra map[string]interface{},
) error {
	payload := map[string]interface{}{
		"subject_id": session.SubjectID,
		"status":     string(session.Status),
	}
	for k, v := range extra {
		payload[k] = v
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return services.NewDomainError(services.ErrorTypeValidation, "payload is not serializable", err)
	}

	dedupeKey := fmt.Sprintf("%s:%s", session.ID, verb)

	_, err = s.ledger.AppendTx(tx, ledger.AppendInput{
		StreamType:   models.StreamTypeEditSession,
		StreamKey:    session.ID.String(),
		ActorType:    models.ActorTypeUser,
		ActorID:      &actorID,
		Service:      s.serviceName,
		Action:       action,
		ResourceType: resourceTypeEditSession,
		ResourceID:   session.ID.String(),
		BeforeHash:   beforeHash,
		AfterHash:    afterHash,
		Payload:      json.RawMessage(raw),
		DedupeKey:    &dedupeKey,
	})
	return err
}

// sessionStateHash digests the audited fields of a session row. The reason
// column only ever holds the sentinel, so the digest never covers free text.
func sessionStateHash(session *models.EditSession) string {
	snapshot := map[string]interface{}{
		"id":         session.ID.String(),
		"subject_id": session.SubjectID,
		"status":     string(session.Status),
		"created_by": session.CreatedBy,
	}
	if session.RejectionReason != nil {
		snapshot["rejection_reason"] = *session.RejectionReason
	}
	raw, _ := json.Marshal(snapshot)
	return ledger.ComputePayloadHash(raw)
}

func invalidTransition(verb string, current models.SessionStatus) error {
	return services.NewDomainError(services.ErrorTypeInvalidTransition,
		fmt.Sprintf("cannot %s a session in status %q", verb, current), nil).
		WithDetail("current_status", string(current)).
		WithDetail("attempted", verb)
}
