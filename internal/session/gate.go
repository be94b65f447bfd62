// Package session drives one participant through the experiment: avatar
// selection, system-prompt configuration, survey gating, instructions, chat and
// persona checks.
package session

import (
	"strings"
	"unicode/utf8"
)

// PromptConfig is the system prompt under edit plus its length rule.
type PromptConfig struct {
	Text           string `json:"text"`
	MinLength      int    `json:"min_length"`
	LengthBypassed bool   `json:"length_bypassed"`
}

// CanSubmit reports whether a prompt may be submitted. Length is counted in
// characters, not bytes.
func CanSubmit(promptText string, minLength int, bypass bool) bool {
	if strings.TrimSpace(promptText) == "" {
		return false
	}
	return bypass || utf8.RuneCountInString(promptText) >= minLength
}

// Ready is CanSubmit for a PromptConfig.
func (c PromptConfig) Ready() bool {
	return CanSubmit(c.Text, c.MinLength, c.LengthBypassed)
}

// Remaining is how many more characters are needed, 0 once the gate is open.
func (c PromptConfig) Remaining() int {
	if c.LengthBypassed {
		return 0
	}
	n := c.MinLength - utf8.RuneCountInString(c.Text)
	if n < 0 {
		return 0
	}
	return n
}

// CanProceedWithoutSurvey gates chat and persona checks on the pre-task survey.
func CanProceedWithoutSurvey(surveyCompleted, skipSurvey bool) bool {
	return surveyCompleted || skipSurvey
}
