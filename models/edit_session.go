package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus represents the lifecycle state of an edit session
type SessionStatus string

const (
	SessionStatusDraft     SessionStatus = "draft"
	SessionStatusSubmitted SessionStatus = "submitted"
	SessionStatusApproved  SessionStatus = "approved"
	SessionStatusRejected  SessionStatus = "rejected"
	SessionStatusMerged    SessionStatus = "merged"
)

// IsTerminal reports whether no further transitions are possible
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusMerged || s == SessionStatusRejected
}

// RejectionSentinel is the only value ever persisted in RejectionReason when
// a reject carries free text. The raw text itself is never stored.
const RejectionSentinel = "[REDACTED]"

// EditSession is a reviewed change to a subject resource. Its status moves
// through draft → submitted → approved → merged, with reject as the other
// exit from submitted. Every successful transition appends one audit event
// in the same transaction as the row update.
type EditSession struct {
	ID              uuid.UUID     `json:"id" db:"id"`
	SubjectID       string        `json:"subject_id" db:"subject_id"`
	Status          SessionStatus `json:"status" db:"status"`
	CreatedBy       string        `json:"created_by" db:"created_by"`
	RejectionReason *string       `json:"rejection_reason,omitempty" db:"rejection_reason"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the EditSession model
func (EditSession) TableName() string {
	return "edit_sessions"
}

// NewEditSession creates a new EditSession in the draft state
func NewEditSession(subjectID, createdBy string) *EditSession {
	now := time.Now().UTC()
	return &EditSession{
		ID:        uuid.New(),
		SubjectID: subjectID,
		Status:    SessionStatusDraft,
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// MarkSubmitted moves the session into review
func (s *EditSession) MarkSubmitted() {
	s.Status = SessionStatusSubmitted
	s.UpdatedAt = time.Now().UTC()
}

// MarkApproved records reviewer approval
func (s *EditSession) MarkApproved() {
	s.Status = SessionStatusApproved
	s.UpdatedAt = time.Now().UTC()
}

// MarkMerged records the terminal merge of an approved session
func (s *EditSession) MarkMerged() {
	s.Status = SessionStatusMerged
	s.UpdatedAt = time.Now().UTC()
}

// MarkRejected records the terminal rejection. hadReason notes whether the
// caller supplied free text; the text itself is replaced by the sentinel.
func (s *EditSession) MarkRejected(hadReason bool) {
	s.Status = SessionStatusRejected
	if hadReason {
		sentinel := RejectionSentinel
		s.RejectionReason = &sentinel
	}
	s.UpdatedAt = time.Now().UTC()
}
