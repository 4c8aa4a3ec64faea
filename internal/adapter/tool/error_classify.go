package tool

import (
	"errors"
	"strings"

	"wikichat/internal/domain"
)

// failureKind says how a backend error reads to the model. The first
// matching kind wins, so rejections are listed ahead of transient errors:
// a refused statement that mentions "timeout" is still refused.
type failureKind struct {
	sentinel  error
	retryable bool
	hint      string
}

var failureKinds = []failureKind{
	{domain.ErrReadOnlyQuery, false, "only a single read-only SELECT statement is allowed"},
	{domain.ErrExpression, false, "restate the arithmetic as a plain expression"},
	{domain.ErrPageNotFound, false, "the page is not part of the indexed corpus"},
	{domain.ErrGenerationUnsupported, false, "this tool needs a generative model"},
	{domain.ErrAuthInvalid, false, ""},
	{domain.ErrToolNotFound, false, ""},
	{domain.ErrInvalidInput, false, ""},
	{domain.ErrTimeout, true, ""},
	{domain.ErrRateLimit, true, ""},
	{domain.ErrCircuitOpen, true, ""},
	{domain.ErrProviderError, true, ""},
	{domain.ErrContextOverflow, true, ""},
}

// transientMarkers catch driver and network errors that carry no sentinel.
// Matched case-insensitively.
var transientMarkers = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"timeout",
	"deadline exceeded",
	"temporarily unavailable",
	"service unavailable",
	"too many connections",
	"database is locked",
	"try again",
}

func classify(err error) failureKind {
	for _, k := range failureKinds {
		if errors.Is(err, k.sentinel) {
			return k
		}
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return failureKind{retryable: true}
		}
	}
	return failureKind{}
}

// failureResult turns a backend error into the error result the model
// sees, prefixed with the tool name.
func failureResult(name string, err error) *domain.ToolResult {
	k := classify(err)
	var sb strings.Builder
	sb.WriteString(name)
	sb.WriteString(": ")
	sb.WriteString(err.Error())
	switch {
	case k.hint != "":
		sb.WriteString(" (" + k.hint + ")")
	case k.retryable:
		sb.WriteString(" (transient error, may succeed on retry)")
	}
	return &domain.ToolResult{IsError: true, IsRetryable: k.retryable, Content: sb.String()}
}
