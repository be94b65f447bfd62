package testutil

import (
	"context"
	"sync"

	"github.com/personachat/personachat/internal/llm"
)

// MockCompleter implements a completion backend for testing.
type MockCompleter struct {
	CompleteFunc func(ctx context.Context, req llm.Request) (*llm.Response, error)

	mu    sync.Mutex
	calls []llm.Request
}

// Complete records req and calls the mock function if set. Without one it
// answers "ok".
func (m *MockCompleter) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return TextResponse("ok"), nil
}

// Calls returns the recorded requests.
func (m *MockCompleter) Calls() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.Request(nil), m.calls...)
}

// MockRater implements a persona-rating backend for testing.
type MockRater struct {
	RateRawFunc func(ctx context.Context, system string) ([]byte, error)

	mu    sync.Mutex
	calls int
}

// RateRaw calls the mock function if set, otherwise returns SampleRatingBody.
func (m *MockRater) RateRaw(ctx context.Context, system string) ([]byte, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.RateRawFunc != nil {
		return m.RateRawFunc(ctx, system)
	}
	return []byte(SampleRatingBody), nil
}

// CallCount is the number of RateRaw calls.
func (m *MockRater) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// TextResponse builds a one-block completion.
func TextResponse(text string) *llm.Response {
	return &llm.Response{
		Type:       "message",
		Role:       "assistant",
		Content:    []llm.ContentBlock{{Type: "text", Text: text}},
		StopReason: "end_turn",
	}
}
