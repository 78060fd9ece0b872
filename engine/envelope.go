// ABOUTME: Typed envelope carrying every value that moves between nodes: body, content type, and metadata.
// ABOUTME: Readers fail loudly on content-type mismatch; WithMeta derives copies instead of mutating.
package engine

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/2389-research/dipeo/conversation"
)

// ContentType tags an envelope's body representation.
type ContentType string

const (
	ContentRawText           ContentType = "raw_text"
	ContentObject            ContentType = "object"
	ContentConversationState ContentType = "conversation_state"
	ContentBinary            ContentType = "binary"
)

// Well-known metadata keys set by the engine and handlers.
const (
	metaProducedBy   = "produced_by"
	metaTimestamp    = "timestamp"
	MetaBranch       = "branch_id"     // condition handlers: "condtrue" or "condfalse"
	MetaSetVariables = "set_variables" // staged variable writes, map[string]any
	MetaError        = "is_error"
	MetaIteration    = "iteration"
)

// Envelope is the immutable value container. The zero value is not
// usable; construct via the New* functions so IDs and timestamps are
// always present.
type Envelope struct {
	id          string
	traceID     string
	schemaID    string
	format      string // serialization format hint, "json" unless binary
	contentType ContentType
	body        any
	meta        map[string]any
}

func newEnvelope(ct ContentType, body any, producedBy string) *Envelope {
	format := "json"
	if ct == ContentBinary {
		format = "msgpack"
	}
	return &Envelope{
		id:          uuid.NewString(),
		traceID:     uuid.NewString(),
		format:      format,
		contentType: ct,
		body:        body,
		meta: map[string]any{
			metaProducedBy: producedBy,
			metaTimestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		},
	}
}

// NewTextEnvelope wraps a string as raw_text.
func NewTextEnvelope(text, producedBy string) *Envelope {
	return newEnvelope(ContentRawText, text, producedBy)
}

// NewObjectEnvelope wraps a JSON-compatible value as object. A nil body
// is the canonical "null envelope" used for skipped branches.
func NewObjectEnvelope(body any, producedBy string) *Envelope {
	return newEnvelope(ContentObject, body, producedBy)
}

// NewConversationEnvelope wraps a conversation state snapshot.
func NewConversationEnvelope(state conversation.State, producedBy string) *Envelope {
	return newEnvelope(ContentConversationState, state, producedBy)
}

// NewBinaryEnvelope wraps raw bytes. The slice is copied so later caller
// mutation cannot leak into the envelope.
func NewBinaryEnvelope(data []byte, producedBy string) *Envelope {
	body := make([]byte, len(data))
	copy(body, data)
	return newEnvelope(ContentBinary, body, producedBy)
}

// NewErrorEnvelope wraps a handler error as an object body with the
// is_error marker, used when a downstream consumer wants the failure
// itself as data.
func NewErrorEnvelope(err error, producedBy string) *Envelope {
	env := newEnvelope(ContentObject, map[string]any{"error": err.Error()}, producedBy)
	env.meta[MetaError] = true
	return env
}

// ID returns the envelope's unique identifier.
func (e *Envelope) ID() string { return e.id }

// TraceID returns the trace identifier, shared by envelopes derived via
// WithMeta and friends.
func (e *Envelope) TraceID() string { return e.traceID }

// SchemaID returns the optional schema identifier for object bodies.
func (e *Envelope) SchemaID() string { return e.schemaID }

// SerializationFormat returns the body's wire format hint.
func (e *Envelope) SerializationFormat() string { return e.format }

// WithSchemaID returns a copy of the envelope carrying a schema id.
func (e *Envelope) WithSchemaID(schemaID string) *Envelope {
	clone := e.clone()
	clone.schemaID = schemaID
	return clone
}

// withTrace returns a copy bound to an execution's trace id. The
// scheduler stamps this on every envelope it records so stored outputs
// always carry the execution they belong to.
func (e *Envelope) withTrace(id string) *Envelope {
	if e.traceID == id {
		return e
	}
	clone := e.clone()
	clone.traceID = id
	return clone
}

func (e *Envelope) clone() *Envelope {
	meta := make(map[string]any, len(e.meta))
	for k, v := range e.meta {
		meta[k] = v
	}
	return &Envelope{
		id:          e.id,
		traceID:     e.traceID,
		schemaID:    e.schemaID,
		format:      e.format,
		contentType: e.contentType,
		body:        e.body,
		meta:        meta,
	}
}

// ContentType returns the envelope's content type tag.
func (e *Envelope) ContentType() ContentType { return e.contentType }

// ProducedBy returns the node id that produced this envelope.
func (e *Envelope) ProducedBy() string {
	s, _ := e.meta[metaProducedBy].(string)
	return s
}

// Meta returns the metadata value for key, or nil when absent.
func (e *Envelope) Meta(key string) any { return e.meta[key] }

// MetaString returns the metadata value for key as a string.
func (e *Envelope) MetaString(key string) string {
	s, _ := e.meta[key].(string)
	return s
}

// WithMeta returns a copy of the envelope with one metadata entry added
// or replaced. The receiver is never modified.
func (e *Envelope) WithMeta(key string, value any) *Envelope {
	clone := e.clone()
	clone.meta[key] = value
	return clone
}

// IsNull reports whether this is an object envelope with a nil body,
// the marker a skipped branch propagates.
func (e *Envelope) IsNull() bool {
	return e.contentType == ContentObject && e.body == nil
}

// AsText returns the body as a string. Fails unless the content type is
// raw_text; no silent coercion.
func (e *Envelope) AsText() (string, error) {
	if e.contentType != ContentRawText {
		return "", fmt.Errorf("envelope %s: AsText on %s content", e.id, e.contentType)
	}
	s, ok := e.body.(string)
	if !ok {
		return "", fmt.Errorf("envelope %s: raw_text body is %T, not string", e.id, e.body)
	}
	return s, nil
}

// AsObject returns the body as a JSON-compatible value. Fails unless the
// content type is object.
func (e *Envelope) AsObject() (any, error) {
	if e.contentType != ContentObject {
		return nil, fmt.Errorf("envelope %s: AsObject on %s content", e.id, e.contentType)
	}
	return e.body, nil
}

// AsConversation returns the body as a conversation state. Fails unless
// the content type is conversation_state.
func (e *Envelope) AsConversation() (conversation.State, error) {
	if e.contentType != ContentConversationState {
		return conversation.State{}, fmt.Errorf("envelope %s: AsConversation on %s content", e.id, e.contentType)
	}
	state, ok := e.body.(conversation.State)
	if !ok {
		return conversation.State{}, fmt.Errorf("envelope %s: conversation body is %T", e.id, e.body)
	}
	return state, nil
}

// AsBinary returns a copy of the body bytes. Fails unless the content
// type is binary.
func (e *Envelope) AsBinary() ([]byte, error) {
	if e.contentType != ContentBinary {
		return nil, fmt.Errorf("envelope %s: AsBinary on %s content", e.id, e.contentType)
	}
	data, ok := e.body.([]byte)
	if !ok {
		return nil, fmt.Errorf("envelope %s: binary body is %T", e.id, e.body)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// AsObjectWithSchema returns the body as an object after validating it
// against a JSON schema document. Validation errors carry the schema's
// precise failure path.
func (e *Envelope) AsObjectWithSchema(schemaJSON string) (any, error) {
	body, err := e.AsObject()
	if err != nil {
		return nil, err
	}
	schema, err := jsonschema.CompileString("envelope.schema.json", schemaJSON)
	if err != nil {
		return nil, fmt.Errorf("envelope %s: compile schema: %w", e.id, err)
	}
	// Normalize through JSON so typed bodies validate the same as
	// decoded ones.
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("envelope %s: encode body for validation: %w", e.id, err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("envelope %s: decode body for validation: %w", e.id, err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("envelope %s: schema validation: %w", e.id, err)
	}
	return body, nil
}

// RawBody returns the body without a content-type check. Resolver
// internals use this for pack/spread; handlers should use the typed
// readers.
func (e *Envelope) RawBody() any { return e.body }

// envelopeWire is the JSON shape with the envelope_format discriminator.
type envelopeWire struct {
	EnvelopeFormat bool           `json:"envelope_format"`
	ID             string         `json:"id"`
	TraceID        string         `json:"trace_id,omitempty"`
	SchemaID       string         `json:"schema_id,omitempty"`
	Format         string         `json:"serialization_format,omitempty"`
	ContentType    ContentType    `json:"content_type"`
	Body           any            `json:"body,omitempty"`
	BodyBinary     string         `json:"body_binary,omitempty"`
	Meta           map[string]any `json:"meta,omitempty"`
}

// MarshalJSON encodes the envelope with the envelope_format marker so
// decoders can distinguish envelopes from bare values. Binary bodies go
// through msgpack then base64 to stay compact inside JSON.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	wire := envelopeWire{
		EnvelopeFormat: true,
		ID:             e.id,
		TraceID:        e.traceID,
		SchemaID:       e.schemaID,
		Format:         e.format,
		ContentType:    e.contentType,
		Meta:           e.meta,
	}
	if e.contentType == ContentBinary {
		data, ok := e.body.([]byte)
		if !ok {
			return nil, fmt.Errorf("envelope %s: binary body is %T", e.id, e.body)
		}
		packed, err := msgpack.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("envelope %s: pack binary body: %w", e.id, err)
		}
		wire.BodyBinary = base64.StdEncoding.EncodeToString(packed)
	} else {
		wire.Body = e.body
	}
	return json.Marshal(wire)
}

// UnmarshalJSON decodes an envelope produced by MarshalJSON. Documents
// without the envelope_format marker are rejected.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var wire envelopeWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if !wire.EnvelopeFormat {
		return fmt.Errorf("not an envelope document (missing envelope_format marker)")
	}
	e.id = wire.ID
	e.traceID = wire.TraceID
	e.schemaID = wire.SchemaID
	e.format = wire.Format
	e.contentType = wire.ContentType
	e.meta = wire.Meta
	if e.meta == nil {
		e.meta = map[string]any{}
	}
	switch wire.ContentType {
	case ContentBinary:
		packed, err := base64.StdEncoding.DecodeString(wire.BodyBinary)
		if err != nil {
			return fmt.Errorf("decode envelope binary body: %w", err)
		}
		var raw []byte
		if err := msgpack.Unmarshal(packed, &raw); err != nil {
			return fmt.Errorf("unpack envelope binary body: %w", err)
		}
		e.body = raw
	case ContentConversationState:
		// Re-decode the body into the typed conversation state so
		// AsConversation works after a round trip.
		body, err := json.Marshal(wire.Body)
		if err != nil {
			return fmt.Errorf("re-encode conversation body: %w", err)
		}
		var state conversation.State
		if err := json.Unmarshal(body, &state); err != nil {
			return fmt.Errorf("decode conversation body: %w", err)
		}
		e.body = state
	default:
		e.body = wire.Body
	}
	return nil
}

// BodyPreview renders a short human-readable form of the body for event
// payloads and logs.
func (e *Envelope) BodyPreview(limit int) string {
	var s string
	switch e.contentType {
	case ContentRawText:
		s, _ = e.body.(string)
	case ContentBinary:
		if data, ok := e.body.([]byte); ok {
			s = fmt.Sprintf("<%d bytes>", len(data))
		}
	default:
		data, err := json.Marshal(e.body)
		if err != nil {
			s = fmt.Sprintf("%v", e.body)
		} else {
			s = string(data)
		}
	}
	if limit > 0 && len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
