// Package core defines the fundamental types and errors for personachat.
package core

import (
	"errors"
	"fmt"
	"net/http"
)

// Core errors that can occur across the system
var (
	// Configuration errors
	ErrNotConfigured = errors.New("service not configured")
	ErrMissingAPIKey = errors.New("missing API key")

	// Validation errors
	ErrInvalidInput      = errors.New("invalid input")
	ErrMissingRequired   = errors.New("missing required field")
	ErrPromptTooShort    = errors.New("system prompt is too short")
	ErrPromptEmpty       = errors.New("system prompt is empty")
	ErrSurveyRequired    = errors.New("pre-task survey not completed")
	ErrNoMessages        = errors.New("message list is empty")
	ErrMissingTraitMap   = errors.New("missing trait map")
	ErrWrongStage        = errors.New("action not allowed in current stage")
	ErrUnknownAvatar     = errors.New("unknown avatar")
	ErrInvalidCondition  = errors.New("visualization condition must be 0 or 1")
	ErrEmptyUserMessage  = errors.New("user message is empty")
	ErrTaskTimeExhausted = errors.New("chat task time is over")

	// Session errors
	ErrSessionNotFound = errors.New("session not found")
	ErrRequestInFlight = errors.New("a request is already in progress")
	ErrStaleResponse   = errors.New("response arrived after its context changed")

	// Storage errors
	ErrMigrationFailed = errors.New("migration failed")
	ErrRecordNotFound  = errors.New("record not found")

	// Service errors
	ErrServiceUnavailable = errors.New("upstream service unavailable")
	ErrRateLimited        = errors.New("upstream rate limit")
	ErrEmptyCompletion    = errors.New("empty completion")
)

// Kind classifies an error for propagation decisions.
type Kind int

const (
	KindInternal Kind = iota
	KindConfiguration
	KindValidation
	KindTransient
	KindStale
	KindConflict
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindValidation:
		return "validation"
	case KindTransient:
		return "transient"
	case KindStale:
		return "stale"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// HTTPStatus is the response status for errors of this kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindConfiguration:
		return http.StatusServiceUnavailable
	case KindValidation:
		return http.StatusBadRequest
	case KindTransient:
		return http.StatusBadGateway
	case KindStale, KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Error carries a Kind alongside the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// E builds a typed error.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Ef builds a typed error from a format string.
func Ef(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of the first typed error in the chain.
// Untyped errors are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
