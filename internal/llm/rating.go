package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/personachat/personachat/internal/core"
	"github.com/personachat/personachat/internal/persona"
)

// RatingClient calls the persona-rating service.
type RatingClient struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

// RatingConfig for the rating client
type RatingConfig struct {
	URL     string // Full endpoint URL
	APIKey  string // Optional bearer token
	Timeout time.Duration
}

// DefaultRatingConfig returns config from environment
func DefaultRatingConfig() RatingConfig {
	return RatingConfig{
		URL:     os.Getenv("PERSONA_RATING_URL"),
		APIKey:  os.Getenv("PERSONA_RATING_API_KEY"),
		Timeout: 90 * time.Second,
	}
}

// NewRatingClient creates a rating client
func NewRatingClient(cfg RatingConfig) *RatingClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 90 * time.Second
	}
	return &RatingClient{
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// IsConfigured checks if an endpoint is set
func (c *RatingClient) IsConfigured() bool {
	return c.url != ""
}

type ratingRequest struct {
	System string `json:"system"`
}

// RateRaw posts {system} and returns the successful response body untouched.
func (c *RatingClient) RateRaw(ctx context.Context, system string) ([]byte, error) {
	const op = "rating.Rate"
	if !c.IsConfigured() {
		return nil, core.E(core.KindConfiguration, op, core.ErrNotConfigured)
	}
	if strings.TrimSpace(system) == "" {
		return nil, core.E(core.KindValidation, op, core.ErrPromptEmpty)
	}

	body, err := json.Marshal(ratingRequest{System: system})
	if err != nil {
		return nil, core.Ef(core.KindInternal, op, "failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, core.Ef(core.KindInternal, op, "failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError(op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(op, resp.StatusCode, respBody)
	}
	return respBody, nil
}

// Rate returns the persona vector for a system prompt, in the order the
// service listed the traits.
func (c *RatingClient) Rate(ctx context.Context, system string) ([]core.TraitRating, error) {
	body, err := c.RateRaw(ctx, system)
	if err != nil {
		return nil, err
	}
	ratings, err := ParseRatings(body)
	if err != nil {
		return nil, err
	}
	return ratings, nil
}

// ParseRatings extracts the trait map from a rating response. The map may sit
// under "persona_vector_ratings" or "content", either as an object or as a
// string holding one (possibly wrapped in prose or a code fence).
func ParseRatings(body []byte) ([]core.TraitRating, error) {
	const op = "rating.Parse"
	if !gjson.ValidBytes(body) {
		return nil, core.Ef(core.KindTransient, op, "%w: response is not JSON", core.ErrInvalidInput)
	}

	for _, path := range []string{"persona_vector_ratings", "content"} {
		r := gjson.GetBytes(body, path)
		if !r.Exists() {
			continue
		}
		obj := asObject(r)
		if !obj.IsObject() {
			continue
		}
		if ratings := persona.RatingsFromJSON(obj); len(ratings) > 0 {
			return ratings, nil
		}
	}
	return nil, core.E(core.KindTransient, op, core.ErrMissingTraitMap)
}

// asObject unwraps a JSON-in-a-string value.
func asObject(r gjson.Result) gjson.Result {
	if r.IsObject() {
		return r
	}
	if r.Type != gjson.String {
		return gjson.Result{}
	}
	s := r.String()
	start, end := strings.IndexByte(s, '{'), strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return gjson.Result{}
	}
	inner := s[start : end+1]
	if !gjson.Valid(inner) {
		return gjson.Result{}
	}
	return gjson.Parse(inner)
}
