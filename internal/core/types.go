// Package core defines the fundamental types for personachat.
package core

import (
	"time"
)

// -----------------------------------------------------------------------------
// PARTICIPANT - one person taking part in the study
// -----------------------------------------------------------------------------

// ParticipantID is a type-safe identifier for participants
type ParticipantID string

// Participant is the durable record of a study participant.
type Participant struct {
	ID         ParticipantID `json:"id"`
	StudyID    string        `json:"study_id"`
	ExternalID string        `json:"external_id,omitempty"` // Never the raw panel id, only its pseudonym source hint
	CreatedAt  time.Time     `json:"created_at"`
	LastSeenAt time.Time     `json:"last_seen_at"`
}

// -----------------------------------------------------------------------------
// CONVERSATION
// -----------------------------------------------------------------------------

// Role of a conversation turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in the chat log.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Synthetic bool      `json:"synthetic,omitempty"` // Welcome turn, never sent upstream
}

// -----------------------------------------------------------------------------
// PERSONA
// -----------------------------------------------------------------------------

// TraitRating is one raw (name, signed value) pair from the rating service.
type TraitRating struct {
	Name     string  `json:"name"`
	RawValue float64 `json:"raw_value"`
}

// PersonaSnapshot is a rated persona vector captured at a persona check.
type PersonaSnapshot struct {
	ID            string        `json:"id"`
	ParticipantID ParticipantID `json:"participant_id"`
	StudyID       string        `json:"study_id"`
	SystemPrompt  string        `json:"system_prompt"`
	Ratings       []TraitRating `json:"ratings"`
	CreatedAt     time.Time     `json:"created_at"`
}
