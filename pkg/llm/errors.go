package llm

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a failed provider call: a transport failure (StatusCode 0)
// or a non-2xx API response.
type Error struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether a later identical call could plausibly
// succeed: network failures, server errors, and rate limits qualify;
// client errors do not.
func (e *Error) Retryable() bool {
	if e.StatusCode == 0 {
		return true
	}
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// ParseError is a structured-output violation: the model answered, but
// the text did not decode against the requested schema. Never worth an
// automatic retry of the same call; the caller surfaces it as an
// analysis failure.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	raw := e.Raw
	if len(raw) > 200 {
		raw = raw[:200] + "..."
	}
	return fmt.Sprintf("structured output did not parse: %v (raw: %s)", e.Err, raw)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsRetryable classifies any error from a Provider call.
func IsRetryable(err error) bool {
	var pe *ParseError
	if errors.As(err, &pe) {
		return false
	}
	var le *Error
	if errors.As(err, &le) {
		return le.Retryable()
	}
	return false
}
