package mockservers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// AnthropicMockServer provides a mock Messages API for testing.
type AnthropicMockServer struct {
	Server   *httptest.Server
	Handlers map[string]http.HandlerFunc
	t        *testing.T

	mu       sync.Mutex
	requests []map[string]interface{}
}

// NewAnthropicMockServer creates a mock server that echoes the last user turn.
func NewAnthropicMockServer(t *testing.T) *AnthropicMockServer {
	t.Helper()

	mock := &AnthropicMockServer{
		Handlers: make(map[string]http.HandlerFunc),
		t:        t,
	}
	mock.SetupDefaults()

	mock.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if handler, ok := mock.Handlers[r.URL.Path]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"type":  "error",
			"error": map[string]string{"type": "not_found_error", "message": "unknown path"},
		})
	}))

	t.Cleanup(func() {
		mock.Server.Close()
	})

	return mock
}

// SetupDefaults installs the /v1/messages echo handler.
func (m *AnthropicMockServer) SetupDefaults() {
	m.Handlers["/v1/messages"] = func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]interface{}{"error": map[string]string{"message": err.Error()}})
			return
		}
		m.mu.Lock()
		m.requests = append(m.requests, body)
		m.mu.Unlock()

		reply := "echo"
		if msgs, ok := body["messages"].([]interface{}); ok && len(msgs) > 0 {
			if last, ok := msgs[len(msgs)-1].(map[string]interface{}); ok {
				reply = "echo: " + toString(last["content"])
			}
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":          "msg_mock",
			"type":        "message",
			"role":        "assistant",
			"model":       body["model"],
			"content":     []map[string]string{{"type": "text", "text": reply}},
			"stop_reason": "end_turn",
			"usage":       map[string]int{"input_tokens": 10, "output_tokens": 3},
		})
	}
}

// URL is the server base URL.
func (m *AnthropicMockServer) URL() string {
	return m.Server.URL
}

// Requests returns the decoded request bodies received so far.
func (m *AnthropicMockServer) Requests() []map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]map[string]interface{}(nil), m.requests...)
}

func toString(v interface{}) string {
	s, _ := v.(string)
	return s
}
