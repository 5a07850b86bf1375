package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ActorType classifies the principal behind an audited action
type ActorType string

const (
	ActorTypeUser    ActorType = "user"
	ActorTypeService ActorType = "service"
	ActorTypeAgent   ActorType = "agent"
	ActorTypeSystem  ActorType = "system"
)

// IsValid reports whether the actor type is one of the known kinds
func (a ActorType) IsValid() bool {
	switch a {
	case ActorTypeUser, ActorTypeService, ActorTypeAgent, ActorTypeSystem:
		return true
	}
	return false
}

// AuditEvent is one hash-chained row of an audit stream.
//
// Seq, PayloadHash, PrevEventHash and EventHash are assigned by the ledger
// writer under the stream row lock; callers only populate the descriptive
// fields. Rows are append-only once persisted.
type AuditEvent struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	StreamID      uuid.UUID       `json:"stream_id" db:"stream_id"`
	Seq           int64           `json:"seq" db:"seq"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	RunID         *string         `json:"run_id,omitempty" db:"run_id"`
	TraceID       *string         `json:"trace_id,omitempty" db:"trace_id"`
	NodeID        *string         `json:"node_id,omitempty" db:"node_id"`
	ActorType     ActorType       `json:"actor_type" db:"actor_type"`
	ActorID       *string         `json:"actor_id,omitempty" db:"actor_id"`
	Service       string          `json:"service" db:"service"`
	Action        string          `json:"action" db:"action"`
	ResourceType  string          `json:"resource_type" db:"resource_type"`
	ResourceID    string          `json:"resource_id" db:"resource_id"`
	BeforeHash    *string         `json:"before_hash,omitempty" db:"before_hash"`
	AfterHash     *string         `json:"after_hash,omitempty" db:"after_hash"`
	PayloadJSON   json.RawMessage `json:"payload_json" db:"payload_json"` // sanitized before hashing and storage
	PayloadHash   string          `json:"payload_hash" db:"payload_hash"`
	PrevEventHash *string         `json:"prev_event_hash,omitempty" db:"prev_event_hash"`
	EventHash     string          `json:"event_hash" db:"event_hash"`
	DedupeKey     *string         `json:"dedupe_key,omitempty" db:"dedupe_key"`
}

// TableName returns the table name for the AuditEvent model
func (AuditEvent) TableName() string {
	return "audit_events"
}

// NewAuditEvent creates a new AuditEvent with its descriptive fields set.
// Chain fields are left zero for the ledger writer to fill in.
// CreatedAt is truncated to microseconds so the timestamptz round-trip
// reproduces the exact value that went into the event hash.
func NewAuditEvent(streamID uuid.UUID, actorType ActorType, service, action, resourceType, resourceID string) *AuditEvent {
	return &AuditEvent{
		ID:           uuid.New(),
		StreamID:     streamID,
		CreatedAt:    time.Now().UTC().Truncate(time.Microsecond),
		ActorType:    actorType,
		Service:      service,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithActor sets the acting principal's identifier
func (e *AuditEvent) WithActor(actorID string) *AuditEvent {
	e.ActorID = &actorID
	return e
}

// WithRun sets the run correlation identifier
func (e *AuditEvent) WithRun(runID string) *AuditEvent {
	e.RunID = &runID
	return e
}

// WithTrace sets the trace and node correlation identifiers
func (e *AuditEvent) WithTrace(traceID, nodeID string) *AuditEvent {
	if traceID != "" {
		e.TraceID = &traceID
	}
	if nodeID != "" {
		e.NodeID = &nodeID
	}
	return e
}

// WithStateHashes sets the digests of the resource before and after the action
func (e *AuditEvent) WithStateHashes(beforeHash, afterHash string) *AuditEvent {
	if beforeHash != "" {
		e.BeforeHash = &beforeHash
	}
	if afterHash != "" {
		e.AfterHash = &afterHash
	}
	return e
}

// WithDedupeKey scopes the event to at most one occurrence per stream
func (e *AuditEvent) WithDedupeKey(key string) *AuditEvent {
	e.DedupeKey = &key
	return e
}
