package usecase

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"wikichat/internal/domain"
)

// ErrorCategory indicates whether an LLM error is worth retrying.
type ErrorCategory int

const (
	ErrorCategoryUnknown   ErrorCategory = iota
	ErrorCategoryRetryable               // 429, 5xx, connection errors
	ErrorCategoryPermanent               // auth, bad request, context overflow, cancellation
)

// ClassifiedError holds the result of error classification.
type ClassifiedError struct {
	Original   error
	Category   ErrorCategory
	Sentinel   error // mapped domain sentinel, or nil
	StatusCode int   // extracted HTTP status, or 0 if unknown
}

// Retryable reports whether the call may succeed if repeated unchanged.
func (c ClassifiedError) Retryable() bool { return c.Category == ErrorCategoryRetryable }

// apiErrorPattern matches "API error <status_code>:" produced by the HTTP providers.
var apiErrorPattern = regexp.MustCompile(`API error (\d+):`)

// transientPatterns mark network failures that carry no sentinel.
var transientPatterns = []string{
	"connection refused", "connection reset", "no such host",
	"timeout", "temporarily unavailable", "too many requests",
}

// ClassifyLLMError categorises an error returned by an LLM provider.
//
// Context overflow is permanent here: the agent keeps no compressor, so
// repeating the same request would overflow again.
func ClassifyLLMError(err error) ClassifiedError {
	if err == nil {
		return ClassifiedError{}
	}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ClassifiedError{Original: err, Category: ErrorCategoryPermanent}
	case errors.Is(err, domain.ErrGenerationUnsupported):
		return ClassifiedError{Original: err, Category: ErrorCategoryPermanent, Sentinel: domain.ErrGenerationUnsupported}
	case errors.Is(err, domain.ErrAuthInvalid):
		return ClassifiedError{Original: err, Category: ErrorCategoryPermanent, Sentinel: domain.ErrAuthInvalid}
	case errors.Is(err, domain.ErrContextOverflow):
		return ClassifiedError{Original: err, Category: ErrorCategoryPermanent, Sentinel: domain.ErrContextOverflow}
	case errors.Is(err, domain.ErrCircuitOpen):
		return ClassifiedError{Original: err, Category: ErrorCategoryPermanent, Sentinel: domain.ErrCircuitOpen}
	case errors.Is(err, domain.ErrRateLimit):
		return ClassifiedError{Original: err, Category: ErrorCategoryRetryable, Sentinel: domain.ErrRateLimit}
	case domain.IsRetryableError(err):
		return ClassifiedError{Original: err, Category: ErrorCategoryRetryable, Sentinel: domain.ErrProviderError}
	}

	msg := err.Error()
	if m := apiErrorPattern.FindStringSubmatch(msg); len(m) == 2 {
		code, _ := strconv.Atoi(m[1])
		category := ErrorCategoryPermanent
		if code == 429 || code >= 500 {
			category = ErrorCategoryRetryable
		}
		return ClassifiedError{Original: err, Category: category, StatusCode: code}
	}

	lower := strings.ToLower(msg)
	for _, p := range transientPatterns {
		if strings.Contains(lower, p) {
			return ClassifiedError{Original: err, Category: ErrorCategoryRetryable}
		}
	}
	return ClassifiedError{Original: err, Category: ErrorCategoryUnknown}
}
