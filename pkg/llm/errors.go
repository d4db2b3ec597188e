package llm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType says which part of the LLM configuration an error points at.
type ErrorType string

const (
	ErrorTypeEndpoint ErrorType = "endpoint"
	ErrorTypeAuth     ErrorType = "auth"
	ErrorTypeModel    ErrorType = "model"
	ErrorTypeUnknown  ErrorType = "unknown"
)

// ErrNotConfigured is returned by the factory when no provider is configured.
var ErrNotConfigured = errors.New("llm is not configured")

// Error is a classified LLM failure.
type Error struct {
	Type       ErrorType
	Message    string
	Retryable  bool
	StatusCode int
	Cause      error
}

func (e *Error) Error() string {
	prefix := string(e.Type)
	if e.StatusCode > 0 {
		prefix = fmt.Sprintf("%s HTTP %d", prefix, e.StatusCode)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s %s: %v", prefix, e.Message, e.Cause)
	}
	return prefix + " " + e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// IsRetryable lets pkg/retry decide without importing this package.
func (e *Error) IsRetryable() bool { return e.Retryable }

// NewError creates a classified error.
func NewError(errType ErrorType, message string, retryable bool, cause error) *Error {
	return &Error{Type: errType, Message: message, Retryable: retryable, Cause: cause}
}

type classification struct {
	match     func(raw, lower string) bool
	errType   ErrorType
	message   string
	retryable bool
}

func contains(subs ...string) func(raw, lower string) bool {
	return func(_, lower string) bool {
		for _, s := range subs {
			if strings.Contains(lower, s) {
				return true
			}
		}
		return false
	}
}

// classifications are checked in order; the first match wins.
var classifications = []classification{
	{contains("401", "unauthorized", "invalid api key", "authentication_error", "invalid x-api-key"), ErrorTypeAuth, "authentication failed", false},
	{func(_, l string) bool {
		return strings.Contains(l, "model") && (strings.Contains(l, "not found") || strings.Contains(l, "does not exist"))
	}, ErrorTypeModel, "model not found", false},
	{contains("404"), ErrorTypeEndpoint, "endpoint not found", false},
	{contains("connection refused", "no such host"), ErrorTypeEndpoint, "connection failed", true},
	{contains("timeout", "deadline exceeded"), ErrorTypeEndpoint, "request timeout", true},
	{contains("429", "rate limit", "rate_limit", "overloaded"), ErrorTypeUnknown, "rate limited", true},
	{contains("500", "502", "503", "504", "529"), ErrorTypeEndpoint, "server error", true},
}

var statusCodes = []int{400, 401, 403, 404, 429, 500, 502, 503, 504, 529}

// ClassifyError wraps err in an *Error. An error that already is one is returned unchanged.
func ClassifyError(err error) *Error {
	if err == nil {
		return nil
	}

	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr
	}

	raw := err.Error()
	lower := strings.ToLower(raw)

	status := 0
	for _, code := range statusCodes {
		if strings.Contains(raw, fmt.Sprintf("%d", code)) {
			status = code
			break
		}
	}

	for _, c := range classifications {
		if c.match(raw, lower) {
			e := NewError(c.errType, c.message, c.retryable, err)
			e.StatusCode = status
			return e
		}
	}

	e := NewError(ErrorTypeUnknown, "llm error", false, err)
	e.StatusCode = status
	return e
}

// GetErrorType extracts the ErrorType from err, or ErrorTypeUnknown.
func GetErrorType(err error) ErrorType {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	return ErrorTypeUnknown
}
