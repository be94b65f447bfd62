package session

import (
	"time"

	"github.com/personachat/personachat/internal/core"
	"github.com/personachat/personachat/internal/llm"
)

// DefaultWelcome seeds every fresh conversation.
const DefaultWelcome = "Hello! I'm your assistant for this study. What would you like to talk about?"

// ConversationState is the ordered chat log for the active system prompt.
// It is owned by a Session and relies on the Session's lock.
type ConversationState struct {
	prompt  string
	welcome string
	turns   []core.Turn
	now     func() time.Time
}

// NewConversationState starts a log for prompt with one welcome turn.
func NewConversationState(prompt, welcome string, now func() time.Time) *ConversationState {
	if welcome == "" {
		welcome = DefaultWelcome
	}
	if now == nil {
		now = time.Now
	}
	c := &ConversationState{prompt: prompt, welcome: welcome, now: now}
	c.seed()
	return c
}

func (c *ConversationState) seed() {
	c.turns = []core.Turn{{
		Role:      core.RoleAssistant,
		Content:   c.welcome,
		Timestamp: c.now().UTC(),
		Synthetic: true,
	}}
}

// Prompt is the system prompt the log belongs to.
func (c *ConversationState) Prompt() string { return c.prompt }

// AppendUser records a participant turn.
func (c *ConversationState) AppendUser(text string) core.Turn {
	return c.append(core.RoleUser, text)
}

// AppendAssistant records a completion-service turn.
func (c *ConversationState) AppendAssistant(text string) core.Turn {
	return c.append(core.RoleAssistant, text)
}

func (c *ConversationState) append(role core.Role, text string) core.Turn {
	t := core.Turn{Role: role, Content: text, Timestamp: c.now().UTC()}
	c.turns = append(c.turns, t)
	return t
}

// ResetIfPromptChanged clears the log and reseeds the welcome turn when
// newPrompt differs from the active prompt. It reports whether it reset.
func (c *ConversationState) ResetIfPromptChanged(newPrompt string) bool {
	if newPrompt == c.prompt {
		return false
	}
	c.prompt = newPrompt
	c.seed()
	return true
}

// Turns returns a copy of the log including the synthetic welcome turn.
func (c *ConversationState) Turns() []core.Turn {
	out := make([]core.Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Len counts all turns.
func (c *ConversationState) Len() int { return len(c.turns) }

// UserTurns counts participant turns.
func (c *ConversationState) UserTurns() int {
	n := 0
	for _, t := range c.turns {
		if t.Role == core.RoleUser {
			n++
		}
	}
	return n
}

// Messages is the completion-service view of the log: appended turns in
// order, without synthetic ones.
func (c *ConversationState) Messages() []llm.Message {
	msgs := make([]llm.Message, 0, len(c.turns))
	for _, t := range c.turns {
		if t.Synthetic {
			continue
		}
		msgs = append(msgs, llm.Message{Role: string(t.Role), Content: t.Content})
	}
	return msgs
}
