package session

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/personachat/personachat/internal/core"
	"github.com/personachat/personachat/internal/llm"
	"github.com/personachat/personachat/internal/logging"
)

// Persisted session keys.
const (
	KeySelectedAvatar         = "selectedAvatar"
	KeyCustomSystemPrompt     = "customSystemPrompt"
	KeyPreTaskSurveyCompleted = "preTaskSurveyCompleted"
	KeyVisualizationCondition = "visualizationCondition"
)

// Stage is the screen a participant is on.
type Stage int

const (
	StageAvatar Stage = iota
	StageConfig
	StageInstructions
	StageChat
)

func (s Stage) String() string {
	switch s {
	case StageAvatar:
		return "avatar"
	case StageConfig:
		return "config"
	case StageInstructions:
		return "instructions"
	case StageChat:
		return "chat"
	default:
		return "unknown"
	}
}

// MarshalText encodes the stage by name.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Settings are the study-wide parameters every session shares.
type Settings struct {
	StudyID            string
	Avatars            []string
	MinPromptLength    int
	TotalPhases        int
	VisualizationPhase int
	TaskDuration       time.Duration
	DebugTaskDuration  time.Duration
	Welcome            string
}

// DefaultSettings mirrors the study defaults of the config package.
func DefaultSettings() Settings {
	return Settings{
		StudyID:            "default",
		Avatars:            []string{"avatar1", "avatar2", "avatar3", "avatar4"},
		MinPromptLength:    200,
		TotalPhases:        4,
		VisualizationPhase: 2,
		TaskDuration:       10 * time.Minute,
		DebugTaskDuration:  30 * time.Second,
		Welcome:            DefaultWelcome,
	}
}

// Ticket captures the context a request was sent in. A result is applied only
// while the ticket still matches the session.
type Ticket struct {
	Epoch  uint64 `json:"epoch"`
	Prompt string `json:"-"`
	Phase  int    `json:"phase"`
}

// ChatRequest is what a chat send hands to the completion service.
type ChatRequest struct {
	Ticket   Ticket
	System   string
	Messages []llm.Message
}

// SubmitResult reports the outcome of a prompt submission.
type SubmitResult struct {
	Reset bool  `json:"reset"`
	Stage Stage `json:"stage"`
}

// View is a read-only copy of a session for the API.
type View struct {
	ParticipantID   core.ParticipantID `json:"participant_id"`
	Stage           Stage              `json:"stage"`
	Avatar          string             `json:"avatar,omitempty"`
	Prompt          PromptConfig       `json:"prompt"`
	CanSubmit       bool               `json:"can_submit"`
	SurveyCompleted bool               `json:"survey_completed"`
	SurveyRequired  bool               `json:"survey_required"`
	Condition       int                `json:"visualization_condition"`
	ShowChart       bool               `json:"show_chart"`
	Phase           int                `json:"phase"`
	TotalPhases     int                `json:"total_phases"`
	CompletedPhases []int              `json:"completed_phases"`
	Turns           []core.Turn        `json:"turns"`
	ChatInFlight    bool               `json:"chat_in_flight"`
	PersonaInFlight bool               `json:"persona_in_flight"`
	LastPersona     []core.TraitRating `json:"last_persona,omitempty"`
	TimeRemaining   float64            `json:"time_remaining_seconds"`
	Flags           Flags              `json:"flags"`
}

// persistFunc writes one key through to durable storage.
type persistFunc func(key, value string)

// Session is one participant's pass through the experiment. Every method is
// atomic with respect to the others; network calls happen between a Begin and
// its Finish or Fail, outside the lock.
type Session struct {
	mu sync.Mutex

	id        core.ParticipantID
	flags     Flags
	settings  Settings
	condition int
	now       func() time.Time
	persist   persistFunc
	log       *logging.Logger

	stage      Stage
	avatar     string
	prompt     PromptConfig
	surveyDone bool
	phases     *PhaseController
	conv       *ConversationState

	epoch           uint64
	chatInFlight    bool
	personaInFlight bool
	lastPersona     []core.TraitRating
	taskStarted     time.Time
}

// New creates a session at the avatar stage.
func New(id core.ParticipantID, flags Flags, settings Settings, condition int, now func() time.Time) *Session {
	if now == nil {
		now = time.Now
	}
	s := &Session{
		id:        id,
		flags:     flags,
		settings:  settings,
		condition: condition,
		now:       now,
		log:       logging.WithField("participant", string(id)),
		prompt: PromptConfig{
			MinLength:      settings.MinPromptLength,
			LengthBypassed: flags.ShortenPrompt,
		},
		phases: NewPhaseController(settings.TotalPhases, SkipSetFor(condition, settings.VisualizationPhase)),
		conv:   NewConversationState("", settings.Welcome, now),
	}
	return s
}

// restore applies persisted keys. Called before the session is shared.
func (s *Session) restore(kv map[string]string) {
	if a, ok := kv[KeySelectedAvatar]; ok && s.validAvatar(a) {
		s.avatar = a
		s.stage = StageConfig
	}
	if p, ok := kv[KeyCustomSystemPrompt]; ok {
		s.prompt.Text = p
	}
	if v, ok := kv[KeyPreTaskSurveyCompleted]; ok {
		s.surveyDone, _ = strconv.ParseBool(v)
	}
}

// ID returns the participant id.
func (s *Session) ID() core.ParticipantID { return s.id }

// Flags returns the frozen URL flags.
func (s *Session) Flags() Flags { return s.flags }

// Condition is the visualization condition in force.
func (s *Session) Condition() int { return s.condition }

// ShowChart reports whether persona checks should render the chart.
func (s *Session) ShowChart() bool { return s.condition == 1 || s.flags.Sunburst }

func (s *Session) validAvatar(name string) bool {
	if len(s.settings.Avatars) == 0 {
		return name != ""
	}
	for _, a := range s.settings.Avatars {
		if a == name {
			return true
		}
	}
	return false
}

func (s *Session) write(key, value string) {
	if s.persist != nil {
		s.persist(key, value)
	}
}

func (s *Session) debugf(msg string, args ...interface{}) {
	if s.flags.Debug {
		s.log.Info(msg, args...)
	}
}

// SelectAvatar records the avatar choice and moves to the config stage.
func (s *Session) SelectAvatar(name string) error {
	const op = "session.SelectAvatar"
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stage != StageAvatar && s.stage != StageConfig {
		return core.E(core.KindValidation, op, core.ErrWrongStage)
	}
	if !s.validAvatar(name) {
		return core.Ef(core.KindValidation, op, "%w: %q", core.ErrUnknownAvatar, name)
	}
	s.avatar = name
	s.stage = StageConfig
	s.write(KeySelectedAvatar, name)
	s.debugf("avatar selected: %s", name)
	return nil
}

// CompleteSurvey marks the pre-task survey as done.
func (s *Session) CompleteSurvey() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.surveyDone {
		return
	}
	s.surveyDone = true
	s.write(KeyPreTaskSurveyCompleted, "true")
	s.debugf("pre-task survey completed")
}

// SetPromptDraft stores prompt text without submitting it.
func (s *Session) SetPromptDraft(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompt.Text = text
}

// SubmitPrompt applies a system prompt. The conversation is reset when the
// prompt differs from the active one, which invalidates in-flight results.
func (s *Session) SubmitPrompt(text string) (SubmitResult, error) {
	const op = "session.SubmitPrompt"
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stage != StageConfig {
		return SubmitResult{}, core.E(core.KindValidation, op, core.ErrWrongStage)
	}
	if err := s.gateLocked(op, text); err != nil {
		return SubmitResult{}, err
	}

	s.prompt.Text = text
	s.write(KeyCustomSystemPrompt, text)

	reset := s.conv.ResetIfPromptChanged(text)
	if reset {
		s.epoch++
	}

	if s.phases.Done() {
		s.enterChatLocked()
	} else {
		s.stage = StageInstructions
	}
	s.debugf("prompt submitted: reset=%v stage=%s", reset, s.stage)
	return SubmitResult{Reset: reset, Stage: s.stage}, nil
}

// gateLocked evaluates the prompt and survey gates fresh.
func (s *Session) gateLocked(op, text string) error {
	if strings.TrimSpace(text) == "" {
		return core.E(core.KindValidation, op, core.ErrPromptEmpty)
	}
	if !CanSubmit(text, s.prompt.MinLength, s.prompt.LengthBypassed) {
		return core.Ef(core.KindValidation, op, "%w: need %d characters",
			core.ErrPromptTooShort, s.prompt.MinLength)
	}
	if !CanProceedWithoutSurvey(s.surveyDone, s.flags.SkipSurvey) {
		return core.E(core.KindValidation, op, core.ErrSurveyRequired)
	}
	return nil
}

func (s *Session) enterChatLocked() {
	s.stage = StageChat
	if s.taskStarted.IsZero() {
		s.taskStarted = s.now()
	}
}

// NextPhase advances the instructions and returns the new phase index.
// Reaching Terminal opens the chat.
func (s *Session) NextPhase() (int, error) {
	const op = "session.NextPhase"
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stage != StageInstructions {
		return s.phases.Current(), core.E(core.KindValidation, op, core.ErrWrongStage)
	}
	p := s.phases.Next()
	if p == Terminal {
		s.enterChatLocked()
	}
	s.debugf("phase advanced to %d", p)
	return p, nil
}

// BackToConfig leaves the phase sequence for the config screen. Results of
// requests still in flight become stale.
func (s *Session) BackToConfig() error {
	const op = "session.BackToConfig"
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.stage {
	case StageInstructions, StageChat:
	default:
		return core.E(core.KindValidation, op, core.ErrWrongStage)
	}
	s.stage = StageConfig
	s.epoch++
	s.debugf("back to config")
	return nil
}

func (s *Session) ticketLocked(prompt string) Ticket {
	return Ticket{Epoch: s.epoch, Prompt: prompt, Phase: s.phases.Current()}
}

func (s *Session) staleLocked(t Ticket) bool {
	return t.Epoch != s.epoch || t.Phase != s.phases.Current()
}

// BeginChat appends the user turn and marks a completion call in flight. Only
// one call may be outstanding, so turns keep their send order.
func (s *Session) BeginChat(text string) (ChatRequest, error) {
	const op = "session.BeginChat"
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stage != StageChat {
		return ChatRequest{}, core.E(core.KindValidation, op, core.ErrWrongStage)
	}
	if strings.TrimSpace(text) == "" {
		return ChatRequest{}, core.E(core.KindValidation, op, core.ErrEmptyUserMessage)
	}
	if !CanProceedWithoutSurvey(s.surveyDone, s.flags.SkipSurvey) {
		return ChatRequest{}, core.E(core.KindValidation, op, core.ErrSurveyRequired)
	}
	if s.remainingLocked() <= 0 {
		return ChatRequest{}, core.E(core.KindValidation, op, core.ErrTaskTimeExhausted)
	}
	if s.chatInFlight {
		return ChatRequest{}, core.E(core.KindConflict, op, core.ErrRequestInFlight)
	}

	s.chatInFlight = true
	s.conv.AppendUser(text)
	return ChatRequest{
		Ticket:   s.ticketLocked(s.conv.Prompt()),
		System:   s.conv.Prompt(),
		Messages: s.conv.Messages(),
	}, nil
}

// FinishChat applies a completion reply. A reply for an outdated context is
// dropped and reported as KindStale.
func (s *Session) FinishChat(t Ticket, reply string) (core.Turn, error) {
	const op = "session.FinishChat"
	s.mu.Lock()
	defer s.mu.Unlock()

	s.chatInFlight = false
	if s.staleLocked(t) || t.Prompt != s.conv.Prompt() {
		s.log.Warn("discarding stale completion (epoch %d, now %d)", t.Epoch, s.epoch)
		return core.Turn{}, core.E(core.KindStale, op, core.ErrStaleResponse)
	}
	return s.conv.AppendAssistant(reply), nil
}

// FailChat releases the in-flight guard after a failed completion call. The
// user turn stays so a manual retry can resend it.
func (s *Session) FailChat(Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chatInFlight = false
}

// BeginPersonaCheck marks a rating call in flight for text, or for the current
// prompt when text is empty.
func (s *Session) BeginPersonaCheck(text string) (Ticket, error) {
	const op = "session.BeginPersonaCheck"
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stage == StageAvatar {
		return Ticket{}, core.E(core.KindValidation, op, core.ErrWrongStage)
	}
	if text == "" {
		text = s.prompt.Text
	}
	if err := s.gateLocked(op, text); err != nil {
		return Ticket{}, err
	}
	if s.personaInFlight {
		return Ticket{}, core.E(core.KindConflict, op, core.ErrRequestInFlight)
	}
	s.personaInFlight = true
	return s.ticketLocked(text), nil
}

// FinishPersonaCheck records the ratings for the checked prompt.
func (s *Session) FinishPersonaCheck(t Ticket, ratings []core.TraitRating) error {
	const op = "session.FinishPersonaCheck"
	s.mu.Lock()
	defer s.mu.Unlock()

	s.personaInFlight = false
	if s.staleLocked(t) {
		s.log.Warn("discarding stale persona ratings (epoch %d, now %d)", t.Epoch, s.epoch)
		return core.E(core.KindStale, op, core.ErrStaleResponse)
	}
	s.lastPersona = append([]core.TraitRating(nil), ratings...)
	return nil
}

// FailPersonaCheck releases the in-flight guard after a failed rating call.
func (s *Session) FailPersonaCheck(Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.personaInFlight = false
}

// Busy reports whether a completion or rating call is outstanding.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatInFlight || s.personaInFlight
}

func (s *Session) taskDuration() time.Duration {
	if s.flags.DebugTimer && s.settings.DebugTaskDuration > 0 {
		return s.settings.DebugTaskDuration
	}
	return s.settings.TaskDuration
}

func (s *Session) remainingLocked() time.Duration {
	d := s.taskDuration()
	if d <= 0 {
		return time.Duration(1<<63 - 1)
	}
	if s.taskStarted.IsZero() {
		return d
	}
	left := d - s.now().Sub(s.taskStarted)
	if left < 0 {
		return 0
	}
	return left
}

// TimeRemaining is the chat task time left. The timer starts when the chat
// opens; a non-positive task duration means no limit.
func (s *Session) TimeRemaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remainingLocked()
}

// Snapshot copies the session state.
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		ParticipantID:   s.id,
		Stage:           s.stage,
		Avatar:          s.avatar,
		Prompt:          s.prompt,
		CanSubmit:       s.prompt.Ready(),
		SurveyCompleted: s.surveyDone,
		SurveyRequired:  !CanProceedWithoutSurvey(s.surveyDone, s.flags.SkipSurvey),
		Condition:       s.condition,
		ShowChart:       s.ShowChart(),
		Phase:           s.phases.Current(),
		TotalPhases:     s.phases.Total(),
		CompletedPhases: s.phases.Completed(),
		Turns:           s.conv.Turns(),
		ChatInFlight:    s.chatInFlight,
		PersonaInFlight: s.personaInFlight,
		LastPersona:     append([]core.TraitRating(nil), s.lastPersona...),
		Flags:           s.flags,
	}
	if d := s.taskDuration(); d > 0 {
		v.TimeRemaining = s.remainingLocked().Seconds()
	}
	return v
}
