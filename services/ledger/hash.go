package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/trailguard/audit-ledger/models"
)

// HashPattern matches a lowercase hex-encoded SHA-256 digest.
var HashPattern = regexp.MustCompile(`^[a-f0-9]{64}$`)

// nullField stands in for absent optional fields in the event hash input.
const nullField = "null"

// CanonicalizePayload returns the canonical JSON encoding of raw: object keys
// sorted at every depth, no insignificant whitespace, numbers normalized.
// The canonical bytes are what gets persisted, so recomputing the payload
// digest from the stored column reproduces the original value.
func CanonicalizePayload(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}

	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("payload is not valid JSON: %w", err)
	}

	canonical, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("payload is not serializable: %w", err)
	}

	return canonical, nil
}

// ComputePayloadHash returns the SHA-256 digest of the canonical payload bytes.
func ComputePayloadHash(canonical json.RawMessage) string {
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// ComputeEventHash derives the chain digest for an event from its assigned
// seq, prev_event_hash and descriptive fields. The input is a fixed-order
// pipe-joined string; optional fields contribute the literal "null" when
// absent so the encoding is unambiguous.
func ComputeEventHash(e *models.AuditEvent) string {
	fields := []string{
		e.StreamID.String(),
		strconv.FormatInt(e.Seq, 10),
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
		orNull(e.RunID),
		orNull(e.TraceID),
		orNull(e.NodeID),
		string(e.ActorType),
		orNull(e.ActorID),
		e.Service,
		e.Action,
		e.ResourceType,
		e.ResourceID,
		orNull(e.BeforeHash),
		orNull(e.AfterHash),
		e.PayloadHash,
		orNull(e.PrevEventHash),
	}

	sum := sha256.Sum256([]byte(strings.Join(fields, "|")))
	return hex.EncodeToString(sum[:])
}

func orNull(s *string) string {
	if s == nil {
		return nullField
	}
	return *s
}
