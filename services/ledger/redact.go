package ledger

import (
	"encoding/json"
	"fmt"

	"github.com/trailguard/audit-ledger/config"
)

// RedactionAction says what the sanitizer does with a matched field.
type RedactionAction string

const (
	// ActionStrip removes the field entirely.
	ActionStrip RedactionAction = "STRIP"
	// ActionLengthOnly replaces the field with derived, non-reversible
	// descriptors: <field>_length and <field>_redacted.
	ActionLengthOnly RedactionAction = "LENGTH_ONLY"
	// ActionPassthrough keeps the field unchanged.
	ActionPassthrough RedactionAction = "PASSTHROUGH"
)

// AnyResource matches every resource type in a policy key.
const AnyResource = "*"

// PolicyKey addresses one field of one resource type. ResourceType may be
// AnyResource to match the field on every resource.
type PolicyKey struct {
	ResourceType string
	Field        string
}

// RedactionPolicy is a declarative table mapping payload fields to the
// action taken before the payload is hashed and stored. Lookups prefer an
// exact resource-type match over an AnyResource match; unmatched fields
// pass through.
type RedactionPolicy map[PolicyKey]RedactionAction

// ActionFor resolves the action for a field of the given resource type.
func (p RedactionPolicy) ActionFor(resourceType, field string) RedactionAction {
	if action, ok := p[PolicyKey{ResourceType: resourceType, Field: field}]; ok {
		return action
	}
	if action, ok := p[PolicyKey{ResourceType: AnyResource, Field: field}]; ok {
		return action
	}
	return ActionPassthrough
}

// DefaultRedactionPolicy denylists the free-text fields that commonly carry
// clinical or personal prose. Structural, numeric and identifier fields are
// untouched.
func DefaultRedactionPolicy() RedactionPolicy {
	return RedactionPolicy{
		{AnyResource, "note"}:        ActionLengthOnly,
		{AnyResource, "reason"}:      ActionLengthOnly,
		{AnyResource, "comment"}:     ActionLengthOnly,
		{AnyResource, "description"}: ActionLengthOnly,
	}
}

// Sanitizer applies a RedactionPolicy to raw payloads before they reach the
// ledger writer. In unsafe mode payloads pass through verbatim; that mode is
// an explicit debug opt-in and never the default.
type Sanitizer struct {
	mode   string
	policy RedactionPolicy
}

// NewSanitizer creates a Sanitizer for the given mode and policy.
// A nil policy falls back to DefaultRedactionPolicy.
func NewSanitizer(mode string, policy RedactionPolicy) *Sanitizer {
	if policy == nil {
		policy = DefaultRedactionPolicy()
	}
	return &Sanitizer{mode: mode, policy: policy}
}

// Sanitize applies the policy to every object field of the payload,
// recursing through nested objects and arrays. The output never contains
// any substring of a denylisted field's raw value.
func (s *Sanitizer) Sanitize(resourceType string, raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}

	if s.mode == config.RedactionModeUnsafe {
		if !json.Valid(raw) {
			return nil, fmt.Errorf("payload is not valid JSON")
		}
		return raw, nil
	}

	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("payload is not valid JSON: %w", err)
	}

	out, err := json.Marshal(s.apply(resourceType, value))
	if err != nil {
		return nil, fmt.Errorf("payload is not serializable: %w", err)
	}
	return out, nil
}

func (s *Sanitizer) apply(resourceType string, value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for field, fieldValue := range v {
			switch s.policy.ActionFor(resourceType, field) {
			case ActionStrip:
				// dropped
			case ActionLengthOnly:
				out[field+"_length"] = fieldLength(fieldValue)
				out[field+"_redacted"] = true
			default:
				out[field] = s.apply(resourceType, fieldValue)
			}
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = s.apply(resourceType, item)
		}
		return out
	default:
		return value
	}
}

// fieldLength measures a redacted value: byte length for strings, encoded
// length otherwise, zero for null.
func fieldLength(value interface{}) int {
	if value == nil {
		return 0
	}
	if s, ok := value.(string); ok {
		return len(s)
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return 0
	}
	return len(encoded)
}
