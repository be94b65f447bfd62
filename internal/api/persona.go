package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/personachat/personachat/internal/core"
	"github.com/personachat/personachat/internal/llm"
	"github.com/personachat/personachat/internal/logging"
	"github.com/personachat/personachat/internal/persona"
	"github.com/personachat/personachat/internal/radial"
)

type personaResponse struct {
	SnapshotID string                  `json:"snapshot_id,omitempty"`
	Ratings    []core.TraitRating      `json:"ratings"`
	Traits     []persona.ResolvedTrait `json:"traits"`
	Categories []persona.Category      `json:"categories"`
	Chart      *radial.Chart           `json:"chart,omitempty"`
	Session    interface{}             `json:"session,omitempty"`
	Stale      bool                    `json:"stale,omitempty"`
}

// rate calls the rating service once per distinct prompt, whoever asks.
func (s *Server) rate(ctx context.Context, system string) ([]byte, error) {
	if s.rater == nil {
		return nil, core.E(core.KindConfiguration, "api.Rate", core.ErrNotConfigured)
	}
	v, err, _ := s.ratings.Do(system, func() (interface{}, error) {
		return s.rater.RateRaw(context.WithoutCancel(ctx), system)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (s *Server) handleCheckPersona(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	var input struct {
		Prompt string `json:"prompt"`
	}
	if err := decodeJSON(r, &input); err != nil {
		s.respondErr(w, err)
		return
	}
	if !s.limiter.Allow(string(sess.ID())) {
		s.respondErr(w, core.E(core.KindTransient, "api.CheckPersona", core.ErrRateLimited))
		return
	}

	ticket, err := sess.BeginPersonaCheck(input.Prompt)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	body, err := s.rate(r.Context(), ticket.Prompt)
	var ratings []core.TraitRating
	if err == nil {
		ratings, err = llm.ParseRatings(body)
	}
	if err != nil {
		sess.FailPersonaCheck(ticket)
		s.record(r.Context(), "request.failed", s.recorder.RequestFailed(r.Context(), sess.ID(), "persona", err))
		s.respondErr(w, err)
		return
	}

	if err := sess.FinishPersonaCheck(ticket, ratings); err != nil {
		if errors.Is(err, core.ErrStaleResponse) {
			s.record(r.Context(), "response.stale", s.recorder.ResponseStale(r.Context(), sess.ID(), "persona"))
			s.respondJSON(w, http.StatusOK, personaResponse{Stale: true, Session: sess.Snapshot()})
			return
		}
		s.respondErr(w, err)
		return
	}

	snap := &core.PersonaSnapshot{
		ParticipantID: sess.ID(),
		StudyID:       s.recorder.StudyID(),
		SystemPrompt:  ticket.Prompt,
		Ratings:       ratings,
	}
	if err := s.snapshots.Save(r.Context(), snap); err != nil {
		logging.Error("failed to save persona snapshot for %s: %v", sess.ID(), err)
	} else if s.index != nil {
		if err := s.index.Upsert(r.Context(), *snap); err != nil {
			logging.Warn("persona index upsert failed for %s: %v", snap.ID, err)
		}
	}
	s.record(r.Context(), "persona.checked", s.recorder.PersonaChecked(r.Context(), sess.ID(), snap.ID, ratings))

	resp := describe(ratings)
	resp.SnapshotID = snap.ID
	resp.Session = sess.Snapshot()
	if sess.ShowChart() {
		resp.Chart = radial.Render(persona.FlatInput{Ratings: ratings}, "persona-"+string(sess.ID()), s.chart)
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func describe(ratings []core.TraitRating) personaResponse {
	traits := make([]persona.ResolvedTrait, 0, len(ratings))
	for _, r := range ratings {
		traits = append(traits, persona.ResolveRating(r))
	}
	return personaResponse{
		Ratings:    ratings,
		Traits:     traits,
		Categories: persona.Group(persona.FlatInput{Ratings: ratings}),
	}
}

// handleRenderPersona draws a chart for a flat trait map or a categorised
// input, sent bare or as {"id", "options", "data"}.
func (s *Server) handleRenderPersona(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		s.respondErr(w, core.Ef(core.KindValidation, "api.RenderPersona", "%w: body", core.ErrInvalidInput))
		return
	}

	env, data, err := splitRenderEnvelope(raw)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	in, err := persona.DecodeInput(data)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	opts := s.chart
	if env.Options != nil {
		opts = *env.Options
	}
	s.respondJSON(w, http.StatusOK, radial.Render(in, env.ID, opts))
}

func (s *Server) handleSimilarPersonas(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		s.respondErr(w, core.Ef(core.KindConfiguration, "api.SimilarPersonas", "%w: vector index", core.ErrNotConfigured))
		return
	}
	var input struct {
		Ratings map[string]float64 `json:"ratings"`
		Limit   int                `json:"limit"`
	}
	if err := decodeJSON(r, &input); err != nil {
		s.respondErr(w, err)
		return
	}
	if len(input.Ratings) == 0 {
		s.respondErr(w, core.E(core.KindValidation, "api.SimilarPersonas", core.ErrMissingTraitMap))
		return
	}

	ratings := make([]core.TraitRating, 0, len(input.Ratings))
	for name, v := range input.Ratings {
		ratings = append(ratings, core.TraitRating{Name: name, RawValue: v})
	}
	matches, err := s.index.Similar(r.Context(), ratings, input.Limit)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"matches": matches,
		"count":   len(matches),
	})
}

// handleRatingProxy forwards {system} to the rating service and relays the
// body unchanged.
func (s *Server) handleRatingProxy(w http.ResponseWriter, r *http.Request) {
	var input struct {
		System string `json:"system"`
	}
	if err := decodeJSON(r, &input); err != nil {
		s.respondErr(w, err)
		return
	}
	if !s.limiter.Allow(clientKey(r)) {
		s.respondErr(w, core.E(core.KindTransient, "api.RatingProxy", core.ErrRateLimited))
		return
	}
	body, err := s.rate(r.Context(), input.System)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
