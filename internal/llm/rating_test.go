package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/personachat/personachat/internal/core"
)

func TestParseRatings(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    []core.TraitRating
		wantErr bool
	}{
		{
			name: "persona_vector_ratings object",
			body: `{"persona_vector_ratings":{"warmth":1.5,"evil":-0.25}}`,
			want: []core.TraitRating{{Name: "warmth", RawValue: 1.5}, {Name: "evil", RawValue: -0.25}},
		},
		{
			name: "content object",
			body: `{"content":{"toxicity":-0.3,"empathy":-0.5}}`,
			want: []core.TraitRating{{Name: "toxicity", RawValue: -0.3}, {Name: "empathy", RawValue: -0.5}},
		},
		{
			name: "content as JSON string in prose",
			body: `{"content":"Here you go:\n` + "```json" + `\n{\"humor\": 2, \"honesty\": \"-1\"}\n` + "```" + `"}`,
			want: []core.TraitRating{{Name: "humor", RawValue: 2}, {Name: "honesty", RawValue: -1}},
		},
		{
			name:    "no map",
			body:    `{"content":"I cannot rate that"}`,
			wantErr: true,
		},
		{
			name:    "not json",
			body:    `<html>`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRatings([]byte(tt.body))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseRatings() = %v, want error", got)
				}
				if core.KindOf(err) != core.KindTransient {
					t.Errorf("KindOf() = %v, want transient", core.KindOf(err))
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRatings() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d (%v)", len(got), len(tt.want), got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("rating[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestRatingClient_Rate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ratingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.System != "You are terse." {
			t.Errorf("system = %q", req.System)
		}
		if r.Header.Get("Authorization") != "Bearer rk" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		w.Write([]byte(`{"persona_vector_ratings":{"verbosity":-1.2}}`))
	}))
	defer server.Close()

	client := NewRatingClient(RatingConfig{URL: server.URL, APIKey: "rk"})
	got, err := client.Rate(context.Background(), "You are terse.")
	if err != nil {
		t.Fatalf("Rate() error = %v", err)
	}
	if len(got) != 1 || got[0].Name != "verbosity" || got[0].RawValue != -1.2 {
		t.Errorf("Rate() = %v", got)
	}
}

func TestRatingClient_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"model loading"}`))
	}))
	defer server.Close()

	tests := []struct {
		name     string
		client   *RatingClient
		system   string
		wantKind core.Kind
	}{
		{"not configured", NewRatingClient(RatingConfig{}), "x", core.KindConfiguration},
		{"empty prompt", NewRatingClient(RatingConfig{URL: server.URL}), "  ", core.KindValidation},
		{"upstream 503", NewRatingClient(RatingConfig{URL: server.URL}), "x", core.KindTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.client.Rate(context.Background(), tt.system)
			if core.KindOf(err) != tt.wantKind {
				t.Errorf("KindOf(%v) = %v, want %v", err, core.KindOf(err), tt.wantKind)
			}
		})
	}
}
