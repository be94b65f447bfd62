package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/personachat/personachat/internal/llm"
	"github.com/personachat/personachat/internal/testutil"
	"github.com/personachat/personachat/internal/testutil/mockservers"
)

// upstreamServer wires the real HTTP clients against mock upstreams.
func upstreamServer(t *testing.T) (*testEnv, *mockservers.AnthropicMockServer, *mockservers.RatingMockServer) {
	t.Helper()

	anthropic := mockservers.NewAnthropicMockServer(t)
	rating := mockservers.NewRatingMockServer(t, testutil.SampleRatingBody)

	router := llm.NewRouter(llm.RouterConfig{
		Anthropic: llm.NewClient(llm.Config{
			APIKey:  "test-key",
			BaseURL: anthropic.URL(),
			Model:   "claude-test",
		}),
		DefaultModel: "claude-test",
	})
	rater := llm.NewRatingClient(llm.RatingConfig{URL: rating.Server.URL})

	env := testServer(t, func(c *Config) {
		c.Completer = router
		c.Rater = rater
	})
	return env, anthropic, rating
}

func TestAPI_Upstream_ChatRoundTrip(t *testing.T) {
	env, anthropic, _ := upstreamServer(t)
	env.toChat(t, "p_up")

	rr := env.do(t, "POST", "/api/v1/sessions/p_up/chat", map[string]string{"message": "hello there"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	var resp chatResponse
	decode(t, rr, &resp)
	if resp.Reply != "echo: hello there" {
		t.Errorf("reply = %q", resp.Reply)
	}

	reqs := anthropic.Requests()
	if len(reqs) != 1 {
		t.Fatalf("upstream requests = %d, want 1", len(reqs))
	}
	if reqs[0]["system"] != testutil.LongPrompt {
		t.Errorf("system = %v, want the submitted prompt", reqs[0]["system"])
	}
	if reqs[0]["model"] != "claude-test" {
		t.Errorf("model = %v", reqs[0]["model"])
	}
}

func TestAPI_Upstream_PersonaCheck(t *testing.T) {
	env, _, _ := upstreamServer(t)
	env.do(t, "POST", "/api/v1/sessions?skipSurvey=1", map[string]string{"participant_id": "p_uprate"})
	env.do(t, "POST", "/api/v1/sessions/p_uprate/avatar", map[string]string{"avatar": "avatar1"})

	rr := env.do(t, "POST", "/api/v1/sessions/p_uprate/persona", map[string]string{"prompt": testutil.LongPrompt})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "Non-toxic") {
		t.Errorf("negative toxicity should resolve to its antonym: %s", rr.Body.String())
	}
}

func TestAPI_Upstream_RatingFailure(t *testing.T) {
	env, _, rating := upstreamServer(t)
	rating.Status = http.StatusServiceUnavailable
	rating.Body = `{"error":"model overloaded"}`

	env.do(t, "POST", "/api/v1/sessions?skipSurvey=1", map[string]string{"participant_id": "p_down"})
	env.do(t, "POST", "/api/v1/sessions/p_down/avatar", map[string]string{"avatar": "avatar1"})

	rr := env.do(t, "POST", "/api/v1/sessions/p_down/persona", map[string]string{"prompt": testutil.LongPrompt})
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502: %s", rr.Code, rr.Body.String())
	}

	// The in-flight guard is released, so a retry proceeds.
	rating.Status = http.StatusOK
	rating.Body = testutil.SampleRatingBody
	rr = env.do(t, "POST", "/api/v1/sessions/p_down/persona", map[string]string{"prompt": testutil.LongPrompt})
	if rr.Code != http.StatusOK {
		t.Fatalf("retry status = %d: %s", rr.Code, rr.Body.String())
	}
}
