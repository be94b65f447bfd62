package mockservers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// RatingMockServer provides a mock persona-rating endpoint for testing.
type RatingMockServer struct {
	Server *httptest.Server
	// Body is returned for every well-formed request.
	Body   string
	Status int
}

// NewRatingMockServer creates a mock rating service answering with body.
func NewRatingMockServer(t *testing.T, body string) *RatingMockServer {
	t.Helper()

	mock := &RatingMockServer{Body: body, Status: http.StatusOK}
	mock.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		var req struct {
			System string `json:"system"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.System == "" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "system is required"})
			return
		}
		w.WriteHeader(mock.Status)
		w.Write([]byte(mock.Body))
	}))

	t.Cleanup(func() {
		mock.Server.Close()
	})

	return mock
}
