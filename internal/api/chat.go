package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/personachat/personachat/internal/core"
	"github.com/personachat/personachat/internal/llm"
	"github.com/personachat/personachat/internal/logging"
	"github.com/personachat/personachat/internal/session"
)

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	var input struct {
		Message string `json:"message"`
	}
	if err := decodeJSON(r, &input); err != nil {
		s.respondErr(w, err)
		return
	}
	if !s.limiter.Allow(string(sess.ID())) {
		s.respondErr(w, core.E(core.KindTransient, "api.Chat", core.ErrRateLimited))
		return
	}

	req, err := sess.BeginChat(input.Message)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	userTurn := req.Messages[len(req.Messages)-1]
	s.record(r.Context(), "message.user", s.recorder.Message(r.Context(), sess.ID(), core.Turn{
		Role:      core.Role(userTurn.Role),
		Content:   userTurn.Content,
		Timestamp: time.Now().UTC(),
	}, map[string]interface{}{"phase": req.Ticket.Phase}))

	resp, err := s.completer.Complete(r.Context(), llm.Request{
		Model:     s.model,
		MaxTokens: s.maxTokens,
		System:    req.System,
		Messages:  req.Messages,
	})
	if err == nil && strings.TrimSpace(resp.Text()) == "" {
		err = core.E(core.KindTransient, "api.Chat", core.ErrEmptyCompletion)
	}
	if err != nil {
		sess.FailChat(req.Ticket)
		s.record(r.Context(), "request.failed", s.recorder.RequestFailed(r.Context(), sess.ID(), "chat", err))
		s.respondErr(w, err)
		return
	}

	turn, err := sess.FinishChat(req.Ticket, resp.Text())
	if errors.Is(err, core.ErrStaleResponse) {
		logging.Warn("chat reply for %s arrived after the context changed", sess.ID())
		s.record(r.Context(), "response.stale", s.recorder.ResponseStale(r.Context(), sess.ID(), "chat"))
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"stale":   true,
			"session": sess.Snapshot(),
		})
		return
	}
	if err != nil {
		s.respondErr(w, err)
		return
	}

	s.record(r.Context(), "message.assistant", s.recorder.Message(r.Context(), sess.ID(), turn, map[string]interface{}{
		"model":         resp.Model,
		"input_tokens":  resp.Usage.InputTokens,
		"output_tokens": resp.Usage.OutputTokens,
		"phase":         req.Ticket.Phase,
	}))

	s.respondJSON(w, http.StatusOK, chatResponse{
		Reply:   turn.Content,
		HTML:    renderMarkdown(turn.Content),
		Session: sess.Snapshot(),
	})
}

type chatResponse struct {
	Reply   string       `json:"reply"`
	HTML    string       `json:"html"`
	Session session.View `json:"session"`
}

// handleCompletionProxy forwards {system, messages} to the completion service
// and returns {content: <reply>}.
func (s *Server) handleCompletionProxy(w http.ResponseWriter, r *http.Request) {
	var input struct {
		System   string        `json:"system"`
		Messages []llm.Message `json:"messages"`
		Model    string        `json:"model"`
	}
	if err := decodeJSON(r, &input); err != nil {
		s.respondErr(w, err)
		return
	}
	if !s.limiter.Allow(clientKey(r)) {
		s.respondErr(w, core.E(core.KindTransient, "api.CompletionProxy", core.ErrRateLimited))
		return
	}
	model := input.Model
	if model == "" {
		model = s.model
	}

	resp, err := s.completer.Complete(r.Context(), llm.Request{
		Model:     model,
		MaxTokens: s.maxTokens,
		System:    input.System,
		Messages:  input.Messages,
	})
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"content": resp.Text()})
}
