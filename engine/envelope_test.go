// ABOUTME: Tests for the typed envelope: constructors, readers, metadata derivation, and wire codec.
// ABOUTME: Covers the envelope_format marker, binary msgpack round trips, and schema-validated reads.
package engine

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/2389-research/dipeo/conversation"
)

func TestTextEnvelope(t *testing.T) {
	env := NewTextEnvelope("hello", "node1")
	if env.ContentType() != ContentRawText {
		t.Errorf("content type = %s", env.ContentType())
	}
	if env.ID() == "" || env.TraceID() == "" {
		t.Error("missing id or trace id")
	}
	if env.ProducedBy() != "node1" {
		t.Errorf("produced by = %q", env.ProducedBy())
	}
	text, err := env.AsText()
	if err != nil {
		t.Fatalf("AsText: %v", err)
	}
	if text != "hello" {
		t.Errorf("text = %q", text)
	}
}

func TestReadersRejectMismatchedContentType(t *testing.T) {
	text := NewTextEnvelope("x", "n")
	obj := NewObjectEnvelope(map[string]any{"k": 1}, "n")
	bin := NewBinaryEnvelope([]byte{1, 2}, "n")

	if _, err := text.AsObject(); err == nil {
		t.Error("AsObject on raw_text should fail")
	}
	if _, err := obj.AsText(); err == nil {
		t.Error("AsText on object should fail")
	}
	if _, err := obj.AsBinary(); err == nil {
		t.Error("AsBinary on object should fail")
	}
	if _, err := bin.AsConversation(); err == nil {
		t.Error("AsConversation on binary should fail")
	}
}

func TestWithMetaDoesNotMutateReceiver(t *testing.T) {
	base := NewTextEnvelope("x", "n")
	derived := base.WithMeta(MetaBranch, "condtrue")
	if base.Meta(MetaBranch) != nil {
		t.Error("receiver gained metadata")
	}
	if derived.MetaString(MetaBranch) != "condtrue" {
		t.Errorf("derived branch = %q", derived.MetaString(MetaBranch))
	}
	if derived.ID() != base.ID() || derived.TraceID() != base.TraceID() {
		t.Error("derivation changed identity")
	}
}

func TestBinaryEnvelopeCopiesBody(t *testing.T) {
	src := []byte{1, 2, 3}
	env := NewBinaryEnvelope(src, "n")
	src[0] = 99
	data, err := env.AsBinary()
	if err != nil {
		t.Fatal(err)
	}
	if data[0] != 1 {
		t.Error("caller mutation leaked into envelope")
	}
	data[1] = 99
	again, _ := env.AsBinary()
	if again[1] != 2 {
		t.Error("reader result aliases the body")
	}
}

func TestWithTraceBindsWithoutMutating(t *testing.T) {
	env := NewTextEnvelope("payload", "node1")
	before := env.TraceID()

	bound := env.withTrace("exec-42")
	if bound.TraceID() != "exec-42" {
		t.Errorf("bound trace = %q", bound.TraceID())
	}
	if env.TraceID() != before {
		t.Error("receiver trace id mutated")
	}
	if bound.ID() != env.ID() {
		t.Error("binding changed the envelope id")
	}
	if again := bound.withTrace("exec-42"); again != bound {
		t.Error("re-binding the same trace should not clone")
	}
}

func TestNullEnvelope(t *testing.T) {
	if !NewObjectEnvelope(nil, "n").IsNull() {
		t.Error("object envelope with nil body should be null")
	}
	if NewObjectEnvelope(map[string]any{}, "n").IsNull() {
		t.Error("empty map is not null")
	}
	if NewTextEnvelope("", "n").IsNull() {
		t.Error("empty text is not null")
	}
}

func TestErrorEnvelope(t *testing.T) {
	env := NewErrorEnvelope(errors.New("boom"), "n")
	if env.Meta(MetaError) != true {
		t.Error("is_error marker not set")
	}
	body, err := env.AsObject()
	if err != nil {
		t.Fatal(err)
	}
	m, ok := body.(map[string]any)
	if !ok || m["error"] != "boom" {
		t.Errorf("body = %v", body)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	env := NewObjectEnvelope(map[string]any{"answer": 42.0}, "n").
		WithSchemaID("result.v1").
		WithMeta(MetaIteration, 3)

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"envelope_format":true`) {
		t.Error("marshal missing envelope_format marker")
	}

	var out Envelope
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out.ID() != env.ID() || out.TraceID() != env.TraceID() {
		t.Error("identity lost in round trip")
	}
	if out.SchemaID() != "result.v1" {
		t.Errorf("schema id = %q", out.SchemaID())
	}
	body, err := out.AsObject()
	if err != nil {
		t.Fatal(err)
	}
	if body.(map[string]any)["answer"] != 42.0 {
		t.Errorf("body = %v", body)
	}
}

func TestUnmarshalRejectsBareValues(t *testing.T) {
	var env Envelope
	if err := json.Unmarshal([]byte(`{"answer":42}`), &env); err == nil {
		t.Fatal("expected rejection of document without envelope_format marker")
	}
}

func TestBinaryRoundTrip(t *testing.T) {
	payload := []byte("raw \x00 bytes")
	env := NewBinaryEnvelope(payload, "n")
	if env.SerializationFormat() != "msgpack" {
		t.Errorf("format = %q", env.SerializationFormat())
	}

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}
	var out Envelope
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	got, err := out.AsBinary()
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(payload) {
		t.Errorf("binary body = %q", got)
	}
}

func TestConversationRoundTrip(t *testing.T) {
	state := conversation.State{
		PersonID: "alice",
		Messages: []conversation.Message{
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "hello"},
		},
	}
	env := NewConversationEnvelope(state, "n")

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}
	var out Envelope
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	got, err := out.AsConversation()
	if err != nil {
		t.Fatal(err)
	}
	if got.PersonID != "alice" || len(got.Messages) != 2 {
		t.Errorf("state = %+v", got)
	}
	if got.Messages[1].Content != "hello" {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestAsObjectWithSchema(t *testing.T) {
	schema := `{
		"type": "object",
		"required": ["decision"],
		"properties": {"decision": {"type": "boolean"}}
	}`

	good := NewObjectEnvelope(map[string]any{"decision": true}, "n")
	if _, err := good.AsObjectWithSchema(schema); err != nil {
		t.Errorf("valid body rejected: %v", err)
	}

	bad := NewObjectEnvelope(map[string]any{"decision": "yes"}, "n")
	if _, err := bad.AsObjectWithSchema(schema); err == nil {
		t.Error("string decision should fail boolean schema")
	}

	missing := NewObjectEnvelope(map[string]any{}, "n")
	if _, err := missing.AsObjectWithSchema(schema); err == nil {
		t.Error("missing required key should fail")
	}
}

func TestBodyPreview(t *testing.T) {
	long := NewTextEnvelope(strings.Repeat("a", 100), "n")
	if got := long.BodyPreview(10); got != strings.Repeat("a", 10)+"..." {
		t.Errorf("preview = %q", got)
	}
	bin := NewBinaryEnvelope(make([]byte, 7), "n")
	if got := bin.BodyPreview(0); got != "<7 bytes>" {
		t.Errorf("binary preview = %q", got)
	}
	obj := NewObjectEnvelope(map[string]any{"k": "v"}, "n")
	if got := obj.BodyPreview(0); got != `{"k":"v"}` {
		t.Errorf("object preview = %q", got)
	}
}
