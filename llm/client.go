// ABOUTME: The Client interface the engine calls, plus a scripted mock for tests and dry runs.
// ABOUTME: Implementations must be safe for concurrent use; the engine calls Complete from parallel handlers.
package llm

import (
	"context"
	"fmt"
	"sync"
)

// Client is the completion port the engine's handlers depend on.
type Client interface {
	// Complete performs one chat completion.
	Complete(ctx context.Context, req Request) (*Response, error)
	// AvailableModels lists model ids the backing provider offers.
	AvailableModels(ctx context.Context, apiKey string) ([]string, error)
}

// MockClient replays scripted responses in order and records the
// requests it saw. When the script runs out, the last response repeats.
type MockClient struct {
	mu        sync.Mutex
	Responses []Response
	Err       error
	calls     []Request
	next      int
}

// NewMockClient scripts responses from plain strings.
func NewMockClient(texts ...string) *MockClient {
	responses := make([]Response, 0, len(texts))
	for _, t := range texts {
		responses = append(responses, Response{
			Text:  t,
			Model: "mock",
			Usage: TokenUsage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2},
		})
	}
	return &MockClient{Responses: responses}
}

func (m *MockClient) Complete(_ context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Responses) == 0 {
		return nil, fmt.Errorf("mock client has no scripted responses")
	}
	idx := m.next
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	m.next++
	resp := m.Responses[idx]
	return &resp, nil
}

func (m *MockClient) AvailableModels(context.Context, string) ([]string, error) {
	return []string{"mock"}, nil
}

// Calls returns a copy of the requests seen so far.
func (m *MockClient) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}
