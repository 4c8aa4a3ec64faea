package domain

import (
	"errors"
	"fmt"
)

// Categories. Subsystems wrap these with NewSubSystemError when a caller
// only needs to know the kind of failure.
var (
	ErrNotFound      = errors.New("not found")
	ErrDuplicate     = errors.New("duplicate")
	ErrTimeout       = errors.New("operation timed out")
	ErrInvalidInput  = errors.New("invalid input")
	ErrProviderError = errors.New("provider error")
)

var (
	ErrProviderNotFound   = errors.New("llm provider not found")
	ErrNoProviders        = errors.New("no llm providers configured")
	ErrToolNotFound       = errors.New("tool not found")
	ErrToolDuplicate      = errors.New("tool already registered")
	ErrToolFailure        = errors.New("tool execution failed")
	ErrMaxIterations      = errors.New("agent reached max iterations")
	ErrSessionNotFound    = errors.New("session not found")
	ErrConfigLoad         = errors.New("failed to load configuration")
	ErrMissingCredentials = errors.New("missing required credentials")
	ErrDecryption         = errors.New("decryption failed")
	ErrEncryption         = errors.New("encryption operation failed")

	ErrPageNotFound  = errors.New("wikipedia page not found")
	ErrReadOnlyQuery = errors.New("only read-only queries are allowed")
	ErrExpression    = errors.New("invalid expression")
	// ErrGenerationUnsupported comes from providers that can pick a tool
	// but cannot write text, like the offline match provider.
	ErrGenerationUnsupported = errors.New("provider cannot generate free text")

	ErrContextOverflow = errors.New("context window exceeded")
	ErrRateLimit       = errors.New("rate limit exceeded")
	ErrAuthInvalid     = errors.New("authentication failed")
	ErrCircuitOpen     = errors.New("circuit breaker open")

	ErrEmbeddingFailed = errors.New("embedding generation failed")
	ErrVectorStore     = errors.New("vector store operation failed")
	ErrVectorSearch    = errors.New("vector search failed")
)

// DomainError names the operation that failed and the sentinel behind it.
type DomainError struct {
	Op        string
	Err       error
	Detail    string
	SubSystem string // e.g. "sqldb"; refines the error code
}

func (e *DomainError) Error() string {
	if e.Detail == "" {
		return e.Op + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Detail + ": " + e.Err.Error()
}

func (e *DomainError) Unwrap() error { return e.Err }

func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp prefixes err with op, passing nil through.
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether trying again later may succeed.
func IsRetryableError(err error) bool {
	for _, target := range []error{ErrRateLimit, ErrContextOverflow, ErrProviderError, ErrTimeout} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// ErrorCode is the stable name of a failure, used in API replies and logs.
type ErrorCode string

const (
	CodeUnknown            ErrorCode = "UNKNOWN"
	CodeNotFound           ErrorCode = "NOT_FOUND"
	CodeDuplicate          ErrorCode = "DUPLICATE"
	CodeTimeout            ErrorCode = "TIMEOUT"
	CodeInvalidInput       ErrorCode = "INVALID_INPUT"
	CodeProviderError      ErrorCode = "PROVIDER_ERROR"
	CodeProviderNotFound   ErrorCode = "PROVIDER_NOT_FOUND"
	CodeNoProviders        ErrorCode = "NO_PROVIDERS"
	CodeToolNotFound       ErrorCode = "TOOL_NOT_FOUND"
	CodeToolDuplicate      ErrorCode = "TOOL_DUPLICATE"
	CodeToolFailure        ErrorCode = "TOOL_FAILURE"
	CodeMaxIterations      ErrorCode = "MAX_ITERATIONS"
	CodeSessionNotFound    ErrorCode = "SESSION_NOT_FOUND"
	CodeConfigLoad         ErrorCode = "CONFIG_LOAD"
	CodeMissingCredentials ErrorCode = "MISSING_CREDENTIALS"
	CodeDecryption         ErrorCode = "DECRYPTION"
	CodeEncryption         ErrorCode = "ENCRYPTION"
	CodePageNotFound       ErrorCode = "PAGE_NOT_FOUND"
	CodeReadOnlyQuery      ErrorCode = "READ_ONLY_QUERY"
	CodeExpression         ErrorCode = "EXPRESSION"
	CodeNoGeneration       ErrorCode = "NO_GENERATION"
	CodeContextOverflow    ErrorCode = "CONTEXT_OVERFLOW"
	CodeRateLimit          ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid        ErrorCode = "AUTH_INVALID"
	CodeCircuitOpen        ErrorCode = "CIRCUIT_OPEN"
	CodeEmbeddingFailed    ErrorCode = "EMBEDDING_FAILED"
	CodeVectorStore        ErrorCode = "VECTOR_STORE"
	CodeVectorSearch       ErrorCode = "VECTOR_SEARCH"
	CodeSQLTimeout         ErrorCode = "SQL_TIMEOUT"
	CodeWikipediaFailed    ErrorCode = "WIKIPEDIA_FAILED"
)

type coded struct {
	err  error
	code ErrorCode
}

// codeTable is probed in order, so specific sentinels come before the
// categories they are often wrapped together with.
var codeTable = []coded{
	{ErrToolDuplicate, CodeToolDuplicate},
	{ErrToolNotFound, CodeToolNotFound},
	{ErrMissingCredentials, CodeMissingCredentials},
	{ErrConfigLoad, CodeConfigLoad},
	{ErrPageNotFound, CodePageNotFound},
	{ErrReadOnlyQuery, CodeReadOnlyQuery},
	{ErrExpression, CodeExpression},
	{ErrSessionNotFound, CodeSessionNotFound},
	{ErrProviderNotFound, CodeProviderNotFound},
	{ErrNoProviders, CodeNoProviders},
	{ErrMaxIterations, CodeMaxIterations},
	{ErrCircuitOpen, CodeCircuitOpen},
	{ErrGenerationUnsupported, CodeNoGeneration},
	{ErrRateLimit, CodeRateLimit},
	{ErrAuthInvalid, CodeAuthInvalid},
	{ErrContextOverflow, CodeContextOverflow},
	{ErrToolFailure, CodeToolFailure},
	{ErrEmbeddingFailed, CodeEmbeddingFailed},
	{ErrVectorStore, CodeVectorStore},
	{ErrVectorSearch, CodeVectorSearch},
	{ErrDecryption, CodeDecryption},
	{ErrEncryption, CodeEncryption},
	{ErrNotFound, CodeNotFound},
	{ErrDuplicate, CodeDuplicate},
	{ErrTimeout, CodeTimeout},
	{ErrInvalidInput, CodeInvalidInput},
	{ErrProviderError, CodeProviderError},
}

// subSystemCodes refine a category for one subsystem.
var subSystemCodes = map[string]map[error]ErrorCode{
	"sqldb":     {ErrTimeout: CodeSQLTimeout},
	"embedding": {ErrProviderError: CodeEmbeddingFailed},
	"wikipedia": {ErrProviderError: CodeWikipediaFailed},
}

// ErrorCodeOf finds the code for err. A subsystem-tagged DomainError
// anywhere in the chain wins; otherwise the first sentinel of codeTable
// that err wraps decides.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := subSystemCodes[de.SubSystem][de.Err]; ok {
			return code
		}
	}
	for _, c := range codeTable {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeUnknown
}

// Code is ErrorCodeOf for this error.
func (e *DomainError) Code() ErrorCode { return ErrorCodeOf(e) }
