package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/personachat/personachat/internal/core"
)

// mockCompleter records calls and returns a canned response
type mockCompleter struct {
	configured bool
	resp       *Response
	err        error
	calls      int
	last       Request
}

func (m *mockCompleter) Complete(_ context.Context, req Request) (*Response, error) {
	m.calls++
	m.last = req
	if m.err != nil {
		return nil, m.err
	}
	return m.resp, nil
}

func (m *mockCompleter) IsConfigured() bool { return m.configured }

func okResponse(text string) *Response {
	return &Response{
		Content: []ContentBlock{{Type: "text", Text: text}},
		Usage:   Usage{InputTokens: 10, OutputTokens: 5},
	}
}

func TestProviderFor(t *testing.T) {
	tests := []struct {
		model string
		want  Provider
	}{
		{"claude-sonnet-4-20250514", ProviderAnthropic},
		{"gpt-4o", ProviderOpenAI},
		{"GPT-4.1", ProviderOpenAI},
		{"o1-mini", ProviderOpenAI},
		{"o3", ProviderOpenAI},
		{"o4-mini", ProviderOpenAI},
		{"opus", ProviderAnthropic},
		{"", ProviderAnthropic},
	}
	for _, tt := range tests {
		if got := ProviderFor(tt.model); got != tt.want {
			t.Errorf("ProviderFor(%q) = %v, want %v", tt.model, got, tt.want)
		}
	}
}

func TestRouter_Complete_Routes(t *testing.T) {
	anthropic := &mockCompleter{configured: true, resp: okResponse("from claude")}
	openai := &mockCompleter{configured: true, resp: okResponse("from gpt")}
	router := NewRouter(RouterConfig{Anthropic: anthropic, OpenAI: openai, DefaultModel: "claude-x"})

	msgs := []Message{{Role: "user", Content: "hi"}}

	resp, err := router.Complete(context.Background(), Request{Messages: msgs})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.Text() != "from claude" {
		t.Errorf("Text() = %q, want from claude", resp.Text())
	}
	if anthropic.last.Model != "claude-x" {
		t.Errorf("model = %q, want default claude-x", anthropic.last.Model)
	}

	resp, err = router.Complete(context.Background(), Request{Model: "gpt-4o", Messages: msgs})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.Text() != "from gpt" {
		t.Errorf("Text() = %q, want from gpt", resp.Text())
	}

	stats := router.GetStats()
	if stats.AnthropicRequests != 1 || stats.OpenAIRequests != 1 {
		t.Errorf("stats = %+v, want one request each", stats)
	}
	if stats.InputTokens != 20 || stats.OutputTokens != 10 {
		t.Errorf("token stats = %d/%d, want 20/10", stats.InputTokens, stats.OutputTokens)
	}
}

func TestRouter_Complete_Errors(t *testing.T) {
	upstream := core.E(core.KindTransient, "anthropic.Complete", core.ErrServiceUnavailable)

	tests := []struct {
		name     string
		router   *Router
		req      Request
		wantKind core.Kind
	}{
		{
			name:     "no model anywhere",
			router:   NewRouter(RouterConfig{Anthropic: &mockCompleter{configured: true}}),
			req:      Request{Messages: []Message{{Role: "user", Content: "x"}}},
			wantKind: core.KindValidation,
		},
		{
			name:     "empty messages",
			router:   NewRouter(RouterConfig{Anthropic: &mockCompleter{configured: true}, DefaultModel: "claude"}),
			req:      Request{},
			wantKind: core.KindValidation,
		},
		{
			name:     "provider missing",
			router:   NewRouter(RouterConfig{Anthropic: &mockCompleter{configured: true}}),
			req:      Request{Model: "gpt-4o", Messages: []Message{{Role: "user", Content: "x"}}},
			wantKind: core.KindConfiguration,
		},
		{
			name:     "provider without key",
			router:   NewRouter(RouterConfig{Anthropic: &mockCompleter{configured: false}}),
			req:      Request{Model: "claude", Messages: []Message{{Role: "user", Content: "x"}}},
			wantKind: core.KindConfiguration,
		},
		{
			name:     "upstream failure passes through",
			router:   NewRouter(RouterConfig{Anthropic: &mockCompleter{configured: true, err: upstream}}),
			req:      Request{Model: "claude", Messages: []Message{{Role: "user", Content: "x"}}},
			wantKind: core.KindTransient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.router.Complete(context.Background(), tt.req)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := core.KindOf(err); got != tt.wantKind {
				t.Errorf("KindOf() = %v, want %v", got, tt.wantKind)
			}
		})
	}
}

func TestRouter_NoRetryOnFailure(t *testing.T) {
	failing := &mockCompleter{configured: true, err: errors.New("boom")}
	other := &mockCompleter{configured: true, resp: okResponse("x")}
	router := NewRouter(RouterConfig{Anthropic: failing, OpenAI: other})

	_, err := router.Complete(context.Background(), Request{Model: "claude", Messages: []Message{{Role: "user", Content: "x"}}})
	if err == nil {
		t.Fatal("expected error")
	}
	if failing.calls != 1 || other.calls != 0 {
		t.Errorf("calls = %d/%d, want 1/0", failing.calls, other.calls)
	}
	if router.GetStats().Failures != 1 {
		t.Errorf("Failures = %d, want 1", router.GetStats().Failures)
	}
}

func TestRouter_HealthCheck(t *testing.T) {
	router := NewRouter(RouterConfig{
		Anthropic: &mockCompleter{configured: true},
		OpenAI:    &mockCompleter{configured: false},
	})
	health := router.HealthCheck()
	if !health[ProviderAnthropic] {
		t.Error("anthropic should be healthy")
	}
	if health[ProviderOpenAI] {
		t.Error("openai should not be healthy")
	}
}
