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
	defaultOpenAIURL   = "https://api.openai.com"
	defaultOpenAIModel = "gpt-4o"
)

// OpenAIClient handles OpenAI-compatible chat completion calls
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// OpenAIConfig for the OpenAI client
type OpenAIConfig struct {
	BaseURL string        // API base URL, without /v1
	APIKey  string        // Bearer token
	Model   string        // Model used when a request names none
	Timeout time.Duration // Request timeout
}

// DefaultOpenAIConfig returns config from environment
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		BaseURL: getEnvOrDefault("OPENAI_BASE_URL", defaultOpenAIURL),
		APIKey:  os.Getenv("OPENAI_API_KEY"),
		Model:   defaultOpenAIModel,
		Timeout: 60 * time.Second,
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// NewOpenAIClient creates a new OpenAI client
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &OpenAIClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// openAIMessage is a chat message on the wire
type openAIMessage struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_completion_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
}

type openAIChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int           `json:"index"`
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// toOpenAI turns the completion contract into a chat request. The system
// prompt becomes a leading system message.
func toOpenAI(req Request) openAIChatRequest {
	msgs := make([]openAIMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openAIMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, openAIMessage{Role: m.Role, Content: m.Content})
	}
	return openAIChatRequest{
		Model:       req.Model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
}

// fromOpenAI maps a chat response onto the completion contract.
func fromOpenAI(r openAIChatResponse) *Response {
	out := &Response{
		ID:    r.ID,
		Type:  "message",
		Role:  "assistant",
		Model: r.Model,
		Usage: Usage{InputTokens: r.Usage.PromptTokens, OutputTokens: r.Usage.CompletionTokens},
	}
	if len(r.Choices) > 0 {
		c := r.Choices[0]
		out.Content = []ContentBlock{{Type: "text", Text: c.Message.Content}}
		out.StopReason = c.FinishReason
	}
	return out
}

// Complete sends a chat completion request
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	const op = "openai.Complete"
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

	body, err := json.Marshal(toOpenAI(req))
	if err != nil {
		return nil, core.Ef(core.KindInternal, op, "failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, core.Ef(core.KindInternal, op, "failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

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

	var chat openAIChatResponse
	if err := json.Unmarshal(respBody, &chat); err != nil {
		return nil, core.Ef(core.KindTransient, op, "failed to decode response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return nil, core.E(core.KindTransient, op, core.ErrEmptyCompletion)
	}
	return fromOpenAI(chat), nil
}

// IsConfigured checks if the client has a key
func (c *OpenAIClient) IsConfigured() bool {
	return c.apiKey != ""
}

// Model returns the default model
func (c *OpenAIClient) Model() string {
	return c.model
}
