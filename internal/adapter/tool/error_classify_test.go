package tool

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"wikichat/internal/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		hint      string
	}{
		{"timeout", domain.ErrTimeout, true, ""},
		{"wrapped provider error", fmt.Errorf("synthesis: %w", fmt.Errorf("llm: %w", domain.ErrProviderError)), true, ""},
		{"rate limit", domain.ErrRateLimit, true, ""},
		{"circuit open", domain.ErrCircuitOpen, true, ""},
		{"context overflow", domain.ErrContextOverflow, true, ""},
		{"read only", domain.ErrReadOnlyQuery, false, "only a single read-only SELECT statement is allowed"},
		{"expression", domain.ErrExpression, false, "restate the arithmetic as a plain expression"},
		{"page not found", domain.ErrPageNotFound, false, "the page is not part of the indexed corpus"},
		{"no generation", domain.ErrGenerationUnsupported, false, "this tool needs a generative model"},
		{"auth", domain.ErrAuthInvalid, false, ""},
		{"invalid input", domain.ErrInvalidInput, false, ""},
		{"rejection wins over marker", fmt.Errorf("statement timeout rejected: %w", domain.ErrReadOnlyQuery), false, "only a single read-only SELECT statement is allowed"},
		{"refused", errors.New("dial tcp 127.0.0.1:5432: connection refused"), true, ""},
		{"reset", errors.New("read: connection reset by peer"), true, ""},
		{"dns", errors.New("lookup en.wikipedia.org: no such host"), true, ""},
		{"deadline", errors.New("context deadline exceeded"), true, ""},
		{"mysql busy", errors.New("Error 1040: Too many connections"), true, ""},
		{"sqlite busy", errors.New("database is locked (5) (SQLITE_BUSY)"), true, ""},
		{"503", errors.New("503 Service Unavailable"), true, ""},
		{"syntax", errors.New(`syntax error at or near "SELEC"`), false, ""},
		{"no rows", errors.New("no rows"), false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := classify(tt.err)
			assert.Equal(t, tt.retryable, k.retryable)
			assert.Equal(t, tt.hint, k.hint)
		})
	}
}

func TestFailureResult(t *testing.T) {
	res := failureResult("transactions_db", fmt.Errorf("exec: %w", domain.ErrReadOnlyQuery))
	assert.True(t, res.IsError)
	assert.False(t, res.IsRetryable)
	assert.Equal(t, "transactions_db: exec: only read-only queries are allowed (only a single read-only SELECT statement is allowed)", res.Content)

	res = failureResult("wikipedia", fmt.Errorf("search: %w", domain.ErrTimeout))
	assert.True(t, res.IsRetryable)
	assert.Equal(t, "wikipedia: search: operation timed out (transient error, may succeed on retry)", res.Content)

	res = failureResult("calculator", errors.New("boom"))
	assert.Equal(t, "calculator: boom", res.Content)
	assert.False(t, res.IsRetryable)
}
