// Package llm talks to the completion service (Anthropic or an
// OpenAI-compatible API) and to the persona-rating service.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/personachat/personachat/internal/core"
)

const (
	defaultAnthropicURL   = "https://api.anthropic.com"
	defaultAnthropicModel = "claude-sonnet-4-20250514"
	anthropicVersion      = "2023-06-01"
	defaultMaxTokens      = 1024
)

// Client handles Anthropic Messages API calls
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// Config for the Anthropic client
type Config struct {
	APIKey  string // Anthropic API key
	BaseURL string // API base URL
	Model   string // Model used when a request names none
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
		BaseURL: defaultAnthropicURL,
		Model:   defaultAnthropicModel,
		Timeout: 60 * time.Second,
	}
}

// NewClient creates a new Anthropic client
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAnthropicURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultAnthropicModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Message represents a conversation message
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Request is the completion request contract
type Request struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
}

// ContentBlock is one piece of a completion
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Usage counts tokens
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the completion response contract. Callers read Content[0].Text.
type Response struct {
	ID         string         `json:"id,omitempty"`
	Type       string         `json:"type,omitempty"`
	Role       string         `json:"role,omitempty"`
	Content    []ContentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// Text returns the first content block's text.
func (r *Response) Text() string {
	if r == nil || len(r.Content) == 0 {
		return ""
	}
	return r.Content[0].Text
}

// Validate rejects requests that cannot be sent.
func (r Request) Validate(op string) error {
	if len(r.Messages) == 0 {
		return core.E(core.KindValidation, op, core.ErrNoMessages)
	}
	for i, m := range r.Messages {
		if m.Role != "user" && m.Role != "assistant" {
			return core.Ef(core.KindValidation, op, "%w: message %d has role %q", core.ErrInvalidInput, i, m.Role)
		}
	}
	return nil
}

// Complete sends a completion request
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	const op = "anthropic.Complete"
	if !c.IsConfigured() {
		return nil, core.E(core.KindConfiguration, op, core.ErrMissingAPIKey)
	}
	if err := req.Validate(op); err != nil {
		return nil, err
	}
	if req.Model == "" {
		req.Model = c.model
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = defaultMaxTokens
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, core.Ef(core.KindInternal, op, "failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, core.Ef(core.KindInternal, op, "failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError(op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(op, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(op, resp.StatusCode, respBody)
	}

	var out Response
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, core.Ef(core.KindTransient, op, "failed to decode response: %w", err)
	}
	if len(out.Content) == 0 {
		return nil, core.E(core.KindTransient, op, core.ErrEmptyCompletion)
	}
	return &out, nil
}

// ChatWithHistory handles multi-turn conversation
func (c *Client) ChatWithHistory(ctx context.Context, system string, messages []Message) (string, error) {
	resp, err := c.Complete(ctx, Request{
		System:   system,
		Messages: messages,
	})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// IsConfigured checks if API key is set
func (c *Client) IsConfigured() bool {
	return c.apiKey != ""
}

// Model returns the default model
func (c *Client) Model() string {
	return c.model
}
