// ABOUTME: Tests for the scripted mock client used across engine tests.
// ABOUTME: Verifies response ordering, last-response repetition, and request recording.
package llm

import (
	"context"
	"errors"
	"testing"
)

func TestMockClientReplaysInOrder(t *testing.T) {
	mock := NewMockClient("one", "two")
	ctx := context.Background()

	for i, want := range []string{"one", "two", "two"} {
		resp, err := mock.Complete(ctx, Request{Model: "mock"})
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if resp.Text != want {
			t.Errorf("call %d text = %q, want %q", i, resp.Text, want)
		}
		if resp.Usage.TotalTokens == 0 {
			t.Errorf("call %d has no usage", i)
		}
	}
}

func TestMockClientRecordsCalls(t *testing.T) {
	mock := NewMockClient("ok")
	req := Request{
		Model:    "mock",
		System:   "be terse",
		Messages: []Message{{Role: RoleUser, Content: "hello"}},
	}
	if _, err := mock.Complete(context.Background(), req); err != nil {
		t.Fatal(err)
	}

	calls := mock.Calls()
	if len(calls) != 1 {
		t.Fatalf("recorded %d calls", len(calls))
	}
	if calls[0].System != "be terse" || calls[0].Messages[0].Content != "hello" {
		t.Errorf("recorded = %+v", calls[0])
	}
}

func TestMockClientScriptedError(t *testing.T) {
	mock := NewMockClient("unreachable")
	mock.Err = errors.New("boom")
	if _, err := mock.Complete(context.Background(), Request{}); err == nil {
		t.Error("scripted error not returned")
	}
}

func TestMockClientEmptyScript(t *testing.T) {
	mock := NewMockClient()
	if _, err := mock.Complete(context.Background(), Request{}); err == nil {
		t.Error("empty script should fail")
	}
}
