package models

import (
	"time"

	"github.com/google/uuid"
)

// StreamType identifies the kind of partition an audit stream covers
type StreamType string

const (
	StreamTypeEditSession StreamType = "EDIT_SESSION"
	StreamTypeRun         StreamType = "RUN"
	StreamTypeManuscript  StreamType = "MANUSCRIPT"
	StreamTypeDataset     StreamType = "DATASET"
	StreamTypeService     StreamType = "SERVICE"
)

// IsValid reports whether the stream type is a known partition kind
func (s StreamType) IsValid() bool {
	switch s {
	case StreamTypeEditSession, StreamTypeRun, StreamTypeManuscript, StreamTypeDataset, StreamTypeService:
		return true
	}
	return false
}

// AuditStream is an independently ordered partition of the audit ledger.
// Events within a stream are totally ordered; streams never block each other.
type AuditStream struct {
	ID         uuid.UUID  `json:"stream_id" db:"stream_id"`
	StreamType StreamType `json:"stream_type" db:"stream_type"`
	StreamKey  string     `json:"stream_key" db:"stream_key"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the AuditStream model
func (AuditStream) TableName() string {
	return "audit_streams"
}

// NewAuditStream creates a new AuditStream instance
func NewAuditStream(streamType StreamType, streamKey string) *AuditStream {
	return &AuditStream{
		ID:         uuid.New(),
		StreamType: streamType,
		StreamKey:  streamKey,
		CreatedAt:  time.Now().UTC(),
	}
}
