package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Stable error codes surfaced on the wire. Clients pattern-match on these
// literal strings for user-facing messaging; never change them.
const (
	CodeContextOverflow = "provider:context_overflow"
	CodeRateLimited     = "provider:rate_limited"
	CodeInvalidModel    = "provider:invalid_model"
	CodeUnknown         = "provider:unknown_error"
)

// Error is a classified provider failure.
type Error struct {
	Code    string // one of the Code* constants
	Status  int    // HTTP status, 0 if the failure was not an HTTP response
	Message string // raw provider message, for logs only
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Classify maps a provider error signal to a stable code.
// The substring checks mirror the signals emitted by OpenAI-compatible
// gateways; anything unrecognized falls through to CodeUnknown.
func Classify(status int, message string) *Error {
	lower := strings.ToLower(message)

	code := CodeUnknown
	switch {
	case strings.Contains(lower, "context_length_exceeded"), strings.Contains(lower, "too many tokens"):
		code = CodeContextOverflow
	case status == http.StatusTooManyRequests, strings.Contains(lower, "rate_limit"):
		code = CodeRateLimited
	case strings.Contains(lower, "invalid_model"), strings.Contains(lower, "model_not_found"):
		code = CodeInvalidModel
	}

	return &Error{Code: code, Status: status, Message: message}
}

// ErrorCode extracts the classified code from err.
// Returns CodeUnknown for anything that is not a *Error.
func ErrorCode(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeUnknown
}
