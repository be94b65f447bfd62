package api

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/personachat/personachat/internal/core"
	"github.com/personachat/personachat/internal/logging"
	"github.com/personachat/personachat/internal/session"
)

var participantIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// resolveParticipant picks the participant id for a new session: a pseudonym
// of the external id when a secret is configured, else the supplied id, else a
// fresh one.
func (s *Server) resolveParticipant(externalID, participantID string) (core.ParticipantID, string, error) {
	const op = "api.OpenSession"
	externalID = strings.TrimSpace(externalID)

	if externalID != "" && s.pseudonyms != nil {
		sealed, err := s.pseudonyms.Seal(externalID)
		if err != nil {
			return "", "", core.E(core.KindInternal, op, err)
		}
		return s.pseudonyms.ID(externalID), sealed, nil
	}
	if externalID != "" {
		return "", "", core.Ef(core.KindConfiguration, op, "%w: external ids need a pseudonym secret", core.ErrNotConfigured)
	}
	if participantID != "" {
		if !participantIDPattern.MatchString(participantID) {
			return "", "", core.Ef(core.KindValidation, op, "%w: participant id", core.ErrInvalidInput)
		}
		return core.ParticipantID(participantID), "", nil
	}
	return core.ParticipantID("p_" + strings.ReplaceAll(uuid.New().String(), "-", "")), "", nil
}

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var input struct {
		ParticipantID string `json:"participant_id"`
		ExternalID    string `json:"external_id"`
	}
	if err := decodeJSON(r, &input); err != nil {
		s.respondErr(w, err)
		return
	}

	id, sealed, err := s.resolveParticipant(input.ExternalID, input.ParticipantID)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	flags := session.ParseFlags(r.URL.Query())
	sess, created, err := s.sessions.Open(r.Context(), id, flags)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	now := time.Now().UTC()
	if _, err := s.participants.Upsert(r.Context(), &core.Participant{
		ID:         id,
		StudyID:    s.recorder.StudyID(),
		ExternalID: sealed,
		CreatedAt:  now,
		LastSeenAt: now,
	}); err != nil {
		logging.Warn("participant upsert failed for %s: %v", id, err)
	}

	if created {
		s.record(r.Context(), "session.opened", s.recorder.SessionOpened(r.Context(), id, sess.Condition(), sess.Flags()))
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	s.respondJSON(w, status, sess.Snapshot())
}

// sessionFor loads the session named in the URL.
func (s *Server) sessionFor(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessions.Get(core.ParticipantID(chi.URLParam(r, "id")))
	if err != nil {
		s.respondErr(w, err)
		return nil, false
	}
	return sess, true
}

// record logs ledger write failures; the participant flow never stops for them.
func (s *Server) record(_ context.Context, what string, err error) {
	if err != nil {
		logging.Error("ledger write %s failed: %v", what, err)
	}
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	s.respondJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleSelectAvatar(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	var input struct {
		Avatar string `json:"avatar"`
	}
	if err := decodeJSON(r, &input); err != nil {
		s.respondErr(w, err)
		return
	}
	if err := sess.SelectAvatar(input.Avatar); err != nil {
		s.respondErr(w, err)
		return
	}
	s.record(r.Context(), "avatar.selected", s.recorder.AvatarSelected(r.Context(), sess.ID(), input.Avatar))
	s.respondJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleCompleteSurvey(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	sess.CompleteSurvey()
	s.record(r.Context(), "survey.completed", s.recorder.SurveyCompleted(r.Context(), sess.ID()))
	s.respondJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleSubmitPrompt(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	var input struct {
		Prompt string `json:"prompt"`
		Draft  bool   `json:"draft"` // Only store the text, no submission
	}
	if err := decodeJSON(r, &input); err != nil {
		s.respondErr(w, err)
		return
	}

	if input.Draft {
		sess.SetPromptDraft(input.Prompt)
		s.respondJSON(w, http.StatusOK, sess.Snapshot())
		return
	}

	res, err := sess.SubmitPrompt(input.Prompt)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.record(r.Context(), "prompt.submitted", s.recorder.PromptSubmitted(r.Context(), sess.ID(), input.Prompt, res.Reset))
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"result":  res,
		"session": sess.Snapshot(),
	})
}

func (s *Server) handleBackToConfig(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	if err := sess.BackToConfig(); err != nil {
		s.respondErr(w, err)
		return
	}
	s.record(r.Context(), "phase.back", s.recorder.BackToConfig(r.Context(), sess.ID()))
	s.respondJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleNextPhase(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	phase, err := sess.NextPhase()
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.record(r.Context(), "phase.advanced", s.recorder.PhaseAdvanced(r.Context(), sess.ID(), phase))
	s.respondJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleClientEvent(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	var input struct {
		Event string      `json:"event"`
		Data  interface{} `json:"data"`
	}
	if err := decodeJSON(r, &input); err != nil {
		s.respondErr(w, err)
		return
	}
	if strings.TrimSpace(input.Event) == "" {
		s.respondErr(w, core.Ef(core.KindValidation, "api.ClientEvent", "%w: event", core.ErrMissingRequired))
		return
	}
	if err := s.recorder.ClientEvent(r.Context(), sess.ID(), input.Event, input.Data); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}
