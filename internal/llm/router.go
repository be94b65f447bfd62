package llm

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/personachat/personachat/internal/core"
)

// Provider represents an LLM provider
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// Completer is anything that answers the completion contract.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	IsConfigured() bool
}

// RouterConfig configures the router
type RouterConfig struct {
	Anthropic    Completer
	OpenAI       Completer
	DefaultModel string // Used when a request names no model
}

// Router sends each request to the provider that serves its model. Failures
// are returned to the caller as-is; nothing is retried or re-routed.
type Router struct {
	anthropic    Completer
	openai       Completer
	defaultModel string

	// Stats
	mu    sync.RWMutex
	stats RouterStats
}

// RouterStats tracks router usage
type RouterStats struct {
	AnthropicRequests int64 `json:"anthropic_requests"`
	OpenAIRequests    int64 `json:"openai_requests"`
	Failures          int64 `json:"failures"`
	InputTokens       int64 `json:"input_tokens"`
	OutputTokens      int64 `json:"output_tokens"`
	AverageLatencyMs  int64 `json:"average_latency_ms"`
}

// NewRouter creates a new router
func NewRouter(cfg RouterConfig) *Router {
	return &Router{
		anthropic:    cfg.Anthropic,
		openai:       cfg.OpenAI,
		defaultModel: cfg.DefaultModel,
	}
}

// ProviderFor picks the provider from the model name.
func ProviderFor(model string) Provider {
	m := strings.ToLower(strings.TrimSpace(model))
	for _, prefix := range []string{"gpt-", "o1", "o3", "o4", "chatgpt-"} {
		if strings.HasPrefix(m, prefix) {
			return ProviderOpenAI
		}
	}
	return ProviderAnthropic
}

func (r *Router) client(p Provider) Completer {
	if p == ProviderOpenAI {
		return r.openai
	}
	return r.anthropic
}

// Complete validates the request, routes it, and records usage.
func (r *Router) Complete(ctx context.Context, req Request) (*Response, error) {
	const op = "llm.Complete"

	if req.Model == "" {
		req.Model = r.defaultModel
	}
	if req.Model == "" {
		return nil, core.Ef(core.KindValidation, op, "%w: model", core.ErrMissingRequired)
	}
	if err := req.Validate(op); err != nil {
		return nil, err
	}

	provider := ProviderFor(req.Model)
	c := r.client(provider)
	if c == nil || !c.IsConfigured() {
		return nil, core.Ef(core.KindConfiguration, op, "%w: %s", core.ErrNotConfigured, provider)
	}

	start := time.Now()
	resp, err := c.Complete(ctx, req)
	r.updateStats(provider, resp, err, time.Since(start).Milliseconds())
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// updateStats updates router statistics
func (r *Router) updateStats(provider Provider, resp *Response, err error, latencyMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err != nil {
		r.stats.Failures++
		return
	}

	switch provider {
	case ProviderAnthropic:
		r.stats.AnthropicRequests++
	case ProviderOpenAI:
		r.stats.OpenAIRequests++
	}
	if resp != nil {
		r.stats.InputTokens += int64(resp.Usage.InputTokens)
		r.stats.OutputTokens += int64(resp.Usage.OutputTokens)
	}

	// Simple moving average
	total := r.stats.AnthropicRequests + r.stats.OpenAIRequests
	r.stats.AverageLatencyMs = (r.stats.AverageLatencyMs*(total-1) + latencyMs) / total
}

// GetStats returns router statistics
func (r *Router) GetStats() RouterStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats
}

// HealthCheck reports which providers are configured
func (r *Router) HealthCheck() map[Provider]bool {
	health := make(map[Provider]bool)
	if r.anthropic != nil {
		health[ProviderAnthropic] = r.anthropic.IsConfigured()
	}
	if r.openai != nil {
		health[ProviderOpenAI] = r.openai.IsConfigured()
	}
	return health
}

// DefaultModel is the model used when a request names none.
func (r *Router) DefaultModel() string {
	return r.defaultModel
}
