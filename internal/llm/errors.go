package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/personachat/personachat/internal/core"
)

// KindForStatus classifies an upstream HTTP status.
func KindForStatus(status int) core.Kind {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return core.KindConfiguration
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity,
		status == http.StatusRequestEntityTooLarge:
		return core.KindValidation
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests,
		status >= 500:
		return core.KindTransient
	case status == http.StatusNotFound:
		return core.KindConfiguration
	default:
		return core.KindInternal
	}
}

// upstreamMessage pulls a human-readable message out of an error body.
// Anthropic and OpenAI nest it under error.message, the rating proxies use a
// plain {"error": "..."}.
func upstreamMessage(body []byte) string {
	if gjson.ValidBytes(body) {
		for _, path := range []string{"error.message", "error", "message"} {
			if r := gjson.GetBytes(body, path); r.Exists() && r.Type == gjson.String && r.String() != "" {
				return r.String()
			}
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	return msg
}

func statusError(op string, status int, body []byte) error {
	base := core.ErrServiceUnavailable
	if status == http.StatusTooManyRequests {
		base = core.ErrRateLimited
	}
	return core.Ef(KindForStatus(status), op, "%w: status %d: %s", base, status, upstreamMessage(body))
}

// transportError covers failures before a status was read. A cancelled
// caller is not the upstream's fault and stays internal.
func transportError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return core.E(core.KindInternal, op, err)
	}
	return core.E(core.KindTransient, op, fmt.Errorf("request failed: %w", err))
}
