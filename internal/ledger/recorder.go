package ledger

import (
	"context"

	"github.com/personachat/personachat/internal/core"
)

// Recorder writes the study's participant events
type Recorder struct {
	store   *Store
	studyID string
}

// NewRecorder creates a recorder for one study
func NewRecorder(store *Store, studyID string) *Recorder {
	return &Recorder{store: store, studyID: studyID}
}

// Store returns the underlying ledger
func (r *Recorder) Store() *Store { return r.store }

// StudyID returns the study the recorder writes to
func (r *Recorder) StudyID() string { return r.studyID }

func (r *Recorder) append(ctx context.Context, id core.ParticipantID, action, actor string, details interface{}) error {
	_, err := r.store.Append(ctx, Record{
		StudyID:       r.studyID,
		ParticipantID: id,
		Action:        action,
		Actor:         actor,
		Details:       details,
	})
	return err
}

// SessionOpened records a session start with its URL flags
func (r *Recorder) SessionOpened(ctx context.Context, id core.ParticipantID, condition int, flags interface{}) error {
	return r.append(ctx, id, ActionSessionOpened, ActorSystem, map[string]interface{}{
		"visualization_condition": condition,
		"flags":                   flags,
	})
}

// AvatarSelected records an avatar choice
func (r *Recorder) AvatarSelected(ctx context.Context, id core.ParticipantID, avatar string) error {
	return r.append(ctx, id, ActionAvatarSelected, ActorParticipant, map[string]interface{}{
		"avatar": avatar,
	})
}

// SurveyCompleted records the pre-task survey
func (r *Recorder) SurveyCompleted(ctx context.Context, id core.ParticipantID) error {
	return r.append(ctx, id, ActionSurveyCompleted, ActorParticipant, nil)
}

// PromptSubmitted records a system prompt submission
func (r *Recorder) PromptSubmitted(ctx context.Context, id core.ParticipantID, prompt string, reset bool) error {
	return r.append(ctx, id, ActionPromptSubmitted, ActorParticipant, map[string]interface{}{
		"system_prompt":        prompt,
		"length":               len([]rune(prompt)),
		"conversation_cleared": reset,
	})
}

// PhaseAdvanced records an instructions step
func (r *Recorder) PhaseAdvanced(ctx context.Context, id core.ParticipantID, phase int) error {
	return r.append(ctx, id, ActionPhaseAdvanced, ActorParticipant, map[string]interface{}{
		"phase": phase,
	})
}

// BackToConfig records a return to the config screen
func (r *Recorder) BackToConfig(ctx context.Context, id core.ParticipantID) error {
	return r.append(ctx, id, ActionBackToConfig, ActorParticipant, nil)
}

// Message records one chat turn
func (r *Recorder) Message(ctx context.Context, id core.ParticipantID, turn core.Turn, details map[string]interface{}) error {
	action, actor := ActionMessageUser, ActorParticipant
	if turn.Role == core.RoleAssistant {
		action, actor = ActionMessageAssistant, ActorAssistant
	}
	d := map[string]interface{}{
		"role":    turn.Role,
		"content": turn.Content,
		"sent_at": turn.Timestamp,
	}
	for k, v := range details {
		d[k] = v
	}
	return r.append(ctx, id, action, actor, d)
}

// PersonaChecked records a persona vector
func (r *Recorder) PersonaChecked(ctx context.Context, id core.ParticipantID, snapshotID string, ratings []core.TraitRating) error {
	return r.append(ctx, id, ActionPersonaChecked, ActorSystem, map[string]interface{}{
		"snapshot_id": snapshotID,
		"ratings":     ratings,
	})
}

// ResponseStale records a discarded late response
func (r *Recorder) ResponseStale(ctx context.Context, id core.ParticipantID, request string) error {
	return r.append(ctx, id, ActionResponseStale, ActorSystem, map[string]interface{}{
		"request": request,
	})
}

// RequestFailed records a failed upstream call
func (r *Recorder) RequestFailed(ctx context.Context, id core.ParticipantID, request string, err error) error {
	return r.append(ctx, id, ActionRequestFailed, ActorSystem, map[string]interface{}{
		"request": request,
		"kind":    core.KindOf(err).String(),
		"error":   err.Error(),
	})
}

// ClientEvent records an event reported by the browser
func (r *Recorder) ClientEvent(ctx context.Context, id core.ParticipantID, name string, data interface{}) error {
	return r.append(ctx, id, ActionClientEvent, ActorParticipant, map[string]interface{}{
		"event": name,
		"data":  data,
	})
}
