package session

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/personachat/personachat/internal/core"
	"github.com/personachat/personachat/internal/llm"
)

func TestPhaseController_ZeroGoesTerminal(t *testing.T) {
	for _, total := range []int{1, 2, 4, 9} {
		pc := NewPhaseController(total, nil)
		assert.Equal(t, Terminal, pc.Next(), "total=%d", total)
		assert.True(t, pc.Done())
		assert.True(t, pc.IsCompleted(0))
	}
}

func TestPhaseController_SkipsConfiguredPhase(t *testing.T) {
	pc := NewPhaseController(4, []int{2})
	pc.Restore(1, nil)
	require.Equal(t, 1, pc.Current())

	assert.Equal(t, 3, pc.Next())
	assert.True(t, pc.IsCompleted(1))
	assert.True(t, pc.IsCompleted(2))
	assert.False(t, pc.IsCompleted(3))

	assert.Equal(t, Terminal, pc.Next())
	assert.Equal(t, []int{1, 2, 3}, pc.Completed())
}

func TestPhaseController_NeverSkipsLastPhase(t *testing.T) {
	pc := NewPhaseController(3, []int{2})
	pc.Restore(1, nil)
	assert.Equal(t, 2, pc.Next())
	assert.False(t, pc.IsCompleted(2))
}

func TestPhaseController_Monotonic(t *testing.T) {
	pc := NewPhaseController(5, []int{3})
	pc.Restore(1, nil)
	prev := pc.Current()
	completed := 0
	for !pc.Done() {
		next := pc.Next()
		if next != Terminal {
			assert.Greater(t, next, prev)
			prev = next
		}
		assert.GreaterOrEqual(t, len(pc.Completed()), completed)
		completed = len(pc.Completed())
	}
	assert.Equal(t, Terminal, pc.Next(), "terminal is absorbing")

	pc.Restore(2, nil)
	assert.Equal(t, Terminal, pc.Current(), "restore never moves backwards")
}

func TestSkipSetFor(t *testing.T) {
	assert.Equal(t, []int{2}, SkipSetFor(0, 2))
	assert.Nil(t, SkipSetFor(1, 2))
}

func TestCanSubmit(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		min    int
		bypass bool
		want   bool
	}{
		{"empty", "", 200, false, false},
		{"exact length", strings.Repeat("x", 200), 200, false, true},
		{"bypass", "short", 200, true, true},
		{"too short", "short", 200, false, false},
		{"blank with bypass", "   \n", 0, true, false},
		{"runes not bytes", strings.Repeat("é", 10), 10, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanSubmit(tt.text, tt.min, tt.bypass))
		})
	}
}

func TestPromptConfig_Remaining(t *testing.T) {
	assert.Equal(t, 195, PromptConfig{Text: "hello", MinLength: 200}.Remaining())
	assert.Equal(t, 0, PromptConfig{Text: "hello", MinLength: 200, LengthBypassed: true}.Remaining())
	assert.Equal(t, 0, PromptConfig{Text: "hello", MinLength: 3}.Remaining())
}

func TestCanProceedWithoutSurvey(t *testing.T) {
	assert.False(t, CanProceedWithoutSurvey(false, false))
	assert.True(t, CanProceedWithoutSurvey(true, false))
	assert.True(t, CanProceedWithoutSurvey(false, true))
}

func TestConversationState_ResetIfPromptChanged(t *testing.T) {
	c := NewConversationState("be kind", "", nil)
	c.AppendUser("hi")
	c.AppendAssistant("hello")
	require.Equal(t, 3, c.Len())

	assert.False(t, c.ResetIfPromptChanged("be kind"))
	assert.Equal(t, 3, c.Len(), "same prompt leaves turns untouched")

	assert.True(t, c.ResetIfPromptChanged("be rude"))
	turns := c.Turns()
	require.Len(t, turns, 1)
	assert.True(t, turns[0].Synthetic)
	assert.Equal(t, DefaultWelcome, turns[0].Content)
	assert.Equal(t, "be rude", c.Prompt())
}

func TestConversationState_MessagesMirrorOrder(t *testing.T) {
	c := NewConversationState("p", "welcome", nil)
	c.AppendUser("one")
	c.AppendAssistant("two")
	c.AppendUser("three")

	assert.Equal(t, []llm.Message{
		{Role: "user", Content: "one"},
		{Role: "assistant", Content: "two"},
		{Role: "user", Content: "three"},
	}, c.Messages())
	assert.Equal(t, 2, c.UserTurns())
}

func TestParseFlags(t *testing.T) {
	q, err := url.ParseQuery("debug&skipSurvey=true&shortenPrompt=1&sunburst=no&visualizationCondition=0&other=x")
	require.NoError(t, err)
	f := ParseFlags(q)

	assert.True(t, f.Debug)
	assert.True(t, f.SkipSurvey)
	assert.True(t, f.ShortenPrompt)
	assert.False(t, f.Sunburst)
	assert.False(t, f.Fresh)
	require.NotNil(t, f.VisualizationCondition)
	assert.Equal(t, 0, f.Condition(nil))

	back := ParseFlags(f.Query())
	assert.Equal(t, f, back)
}

func TestFlags_Condition(t *testing.T) {
	one, zero, bad := 1, 0, 7
	assert.Equal(t, DefaultVisualizationCondition, Flags{}.Condition(nil))
	assert.Equal(t, 0, Flags{}.Condition(&zero))
	assert.Equal(t, DefaultVisualizationCondition, Flags{}.Condition(&bad))
	assert.Equal(t, 1, Flags{VisualizationCondition: &one}.Condition(&zero))

	f := ParseFlags(url.Values{"visualizationCondition": {"5"}})
	assert.Nil(t, f.VisualizationCondition)
}

type memStore struct {
	mu   sync.Mutex
	keys map[core.ParticipantID]map[string]string
}

func newMemStore() *memStore {
	return &memStore{keys: make(map[core.ParticipantID]map[string]string)}
}

func (m *memStore) LoadKeys(_ context.Context, id core.ParticipantID) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]string{}
	for k, v := range m.keys[id] {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) SaveKey(_ context.Context, id core.ParticipantID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys[id] == nil {
		m.keys[id] = map[string]string{}
	}
	m.keys[id][key] = value
	return nil
}

func (m *memStore) ClearKeys(_ context.Context, id core.ParticipantID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, id)
	return nil
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newTestSession(t *testing.T, flags Flags) (*Session, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	m := NewManager(DefaultSettings(), newMemStore())
	m.now = clock.Now
	s, created, err := m.Open(context.Background(), "p1", flags)
	require.NoError(t, err)
	require.True(t, created)
	return s, clock
}

var longPrompt = strings.Repeat("You are a patient tutor. ", 10)

func TestSession_HappyPath(t *testing.T) {
	s, _ := newTestSession(t, Flags{})

	require.NoError(t, s.SelectAvatar("avatar2"))
	s.CompleteSurvey()

	res, err := s.SubmitPrompt(longPrompt)
	require.NoError(t, err)
	assert.True(t, res.Reset)
	assert.Equal(t, StageInstructions, res.Stage)

	p, err := s.NextPhase()
	require.NoError(t, err)
	assert.Equal(t, Terminal, p)
	assert.Equal(t, StageChat, s.Snapshot().Stage)

	req, err := s.BeginChat("hello")
	require.NoError(t, err)
	assert.Equal(t, longPrompt, req.System)
	assert.Equal(t, []llm.Message{{Role: "user", Content: "hello"}}, req.Messages)

	turn, err := s.FinishChat(req.Ticket, "hi there")
	require.NoError(t, err)
	assert.Equal(t, core.RoleAssistant, turn.Role)

	view := s.Snapshot()
	assert.Len(t, view.Turns, 3)
	assert.False(t, view.ChatInFlight)
}

func TestSession_Gates(t *testing.T) {
	s, _ := newTestSession(t, Flags{})

	_, err := s.SubmitPrompt(longPrompt)
	assert.True(t, core.IsKind(err, core.KindValidation), "no avatar yet")

	require.NoError(t, s.SelectAvatar("avatar1"))

	_, err = s.SubmitPrompt("too short")
	assert.ErrorIs(t, err, core.ErrPromptTooShort)

	_, err = s.SubmitPrompt("   ")
	assert.ErrorIs(t, err, core.ErrPromptEmpty)

	_, err = s.SubmitPrompt(longPrompt)
	assert.ErrorIs(t, err, core.ErrSurveyRequired)

	err = s.SelectAvatar("nobody")
	assert.ErrorIs(t, err, core.ErrUnknownAvatar)
}

func TestSession_FlagsOpenGates(t *testing.T) {
	s, _ := newTestSession(t, Flags{SkipSurvey: true, ShortenPrompt: true})
	require.NoError(t, s.SelectAvatar("avatar1"))

	_, err := s.SubmitPrompt("tiny")
	require.NoError(t, err)
}

func TestSession_ChatInFlightGuard(t *testing.T) {
	s := chattingSession(t)

	req, err := s.BeginChat("first")
	require.NoError(t, err)

	_, err = s.BeginChat("second")
	assert.True(t, core.IsKind(err, core.KindConflict))

	s.FailChat(req.Ticket)
	_, err = s.BeginChat("second")
	assert.NoError(t, err)
}

func TestSession_StaleChatReply(t *testing.T) {
	s := chattingSession(t)

	req, err := s.BeginChat("hello")
	require.NoError(t, err)

	require.NoError(t, s.BackToConfig())
	_, err = s.SubmitPrompt(longPrompt + " Be brief.")
	require.NoError(t, err)

	_, err = s.FinishChat(req.Ticket, "late reply")
	assert.True(t, core.IsKind(err, core.KindStale))
	assert.ErrorIs(t, err, core.ErrStaleResponse)

	view := s.Snapshot()
	assert.False(t, view.ChatInFlight, "guard released even when stale")
	assert.Len(t, view.Turns, 1, "only the welcome turn after the reset")
	assert.Equal(t, StageChat, view.Stage, "finished instructions are not repeated")
}

func TestSession_PersonaCheck(t *testing.T) {
	s, _ := newTestSession(t, Flags{SkipSurvey: true})
	require.NoError(t, s.SelectAvatar("avatar1"))

	tk, err := s.BeginPersonaCheck(longPrompt)
	require.NoError(t, err)
	_, err = s.BeginPersonaCheck(longPrompt)
	assert.True(t, core.IsKind(err, core.KindConflict))

	ratings := []core.TraitRating{{Name: "empathy", RawValue: 1.2}}
	require.NoError(t, s.FinishPersonaCheck(tk, ratings))
	assert.Equal(t, ratings, s.Snapshot().LastPersona)

	tk, err = s.BeginPersonaCheck(longPrompt)
	require.NoError(t, err)
	_, err = s.SubmitPrompt(longPrompt)
	require.NoError(t, err)
	err = s.FinishPersonaCheck(tk, nil)
	assert.True(t, core.IsKind(err, core.KindStale))
}

func TestSession_TaskTimer(t *testing.T) {
	s, clock := newTestSession(t, Flags{SkipSurvey: true, DebugTimer: true})
	require.NoError(t, s.SelectAvatar("avatar1"))
	assert.Equal(t, 30*time.Second, s.TimeRemaining())

	_, err := s.SubmitPrompt(longPrompt)
	require.NoError(t, err)
	_, err = s.NextPhase()
	require.NoError(t, err)

	clock.t = clock.t.Add(20 * time.Second)
	assert.Equal(t, 10*time.Second, s.TimeRemaining())

	clock.t = clock.t.Add(time.Minute)
	assert.Equal(t, time.Duration(0), s.TimeRemaining())
	_, err = s.BeginChat("anyone there?")
	assert.ErrorIs(t, err, core.ErrTaskTimeExhausted)
}

func TestSession_ConditionZeroSkipsVisualizationPhase(t *testing.T) {
	zero := 0
	s, _ := newTestSession(t, Flags{SkipSurvey: true, VisualizationCondition: &zero})
	assert.False(t, s.ShowChart())
	assert.Equal(t, 0, s.Condition())

	s.phases.Restore(1, nil)
	require.NoError(t, s.SelectAvatar("avatar1"))
	_, err := s.SubmitPrompt(longPrompt)
	require.NoError(t, err)

	p, err := s.NextPhase()
	require.NoError(t, err)
	assert.Equal(t, 3, p)

	forced, _ := newTestSession(t, Flags{VisualizationCondition: &zero, Sunburst: true})
	assert.True(t, forced.ShowChart())
}

func TestManager_PersistsAndRestores(t *testing.T) {
	store := newMemStore()
	m := NewManager(DefaultSettings(), store)
	ctx := context.Background()

	s, _, err := m.Open(ctx, "p9", Flags{SkipSurvey: true})
	require.NoError(t, err)
	require.NoError(t, s.SelectAvatar("avatar3"))
	s.CompleteSurvey()
	_, err = s.SubmitPrompt(longPrompt)
	require.NoError(t, err)

	keys, _ := store.LoadKeys(ctx, "p9")
	assert.Equal(t, map[string]string{
		KeySelectedAvatar:         "avatar3",
		KeyCustomSystemPrompt:     longPrompt,
		KeyPreTaskSurveyCompleted: "true",
		KeyVisualizationCondition: "1",
	}, keys)

	again, created, err := m.Open(ctx, "p9", Flags{})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, s, again)

	m.Close("p9")
	restored, created, err := m.Open(ctx, "p9", Flags{})
	require.NoError(t, err)
	assert.True(t, created)
	view := restored.Snapshot()
	assert.Equal(t, StageConfig, view.Stage)
	assert.Equal(t, "avatar3", view.Avatar)
	assert.Equal(t, longPrompt, view.Prompt.Text)
	assert.True(t, view.SurveyCompleted)

	fresh, _, err := m.Open(ctx, "p9", Flags{Fresh: true})
	require.NoError(t, err)
	assert.Equal(t, StageAvatar, fresh.Snapshot().Stage)
	keys, _ = store.LoadKeys(ctx, "p9")
	assert.Equal(t, map[string]string{KeyVisualizationCondition: "1"}, keys)
}

func TestManager_Get(t *testing.T) {
	m := NewManager(DefaultSettings(), nil)
	_, err := m.Get("missing")
	assert.True(t, core.IsKind(err, core.KindNotFound))

	_, _, err = m.Open(context.Background(), "p1", Flags{})
	require.NoError(t, err)
	_, err = m.Get("p1")
	assert.NoError(t, err)
	assert.Equal(t, 1, m.Len())
}

func chattingSession(t *testing.T) *Session {
	t.Helper()
	s, _ := newTestSession(t, Flags{SkipSurvey: true})
	require.NoError(t, s.SelectAvatar("avatar1"))
	_, err := s.SubmitPrompt(longPrompt)
	require.NoError(t, err)
	_, err = s.NextPhase()
	require.NoError(t, err)
	return s
}

func TestManager_EvictIdle(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	m := NewManager(DefaultSettings(), newMemStore())
	m.now = clock.Now
	ctx := context.Background()

	_, _, err := m.Open(ctx, "idle", Flags{})
	require.NoError(t, err)
	busy, _, err := m.Open(ctx, "busy", Flags{SkipSurvey: true})
	require.NoError(t, err)
	_, _, err = m.Open(ctx, "active", Flags{})
	require.NoError(t, err)

	require.NoError(t, busy.SelectAvatar("avatar1"))
	_, err = busy.BeginPersonaCheck(longPrompt)
	require.NoError(t, err)

	clock.t = clock.t.Add(time.Hour)
	_, err = m.Get("active")
	require.NoError(t, err)

	assert.Equal(t, 1, m.EvictIdle(30*time.Minute))
	assert.Equal(t, 2, m.Len())
	_, err = m.Get("idle")
	assert.True(t, core.IsKind(err, core.KindNotFound))

	// An evicted participant comes back from persisted keys
	s, created, err := m.Open(ctx, "idle", Flags{})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, StageAvatar, s.Snapshot().Stage)
}
