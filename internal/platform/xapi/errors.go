package xapi

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a scrape failure for retry decisions and for replaying a
// stored failure to callers.
type Kind string

const (
	KindAuth             Kind = "auth"
	KindRateLimit        Kind = "rate_limit"
	KindNetwork          Kind = "network"
	KindInvalidParameter Kind = "invalid_parameter"
	KindCancelled        Kind = "cancelled"
	KindInternal         Kind = "internal"
)

// Error carries a Kind alongside the message so the engine can decide
// between backoff, re-authentication, and giving up.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func WrapError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the Kind from an error chain, defaulting to internal.
func KindOf(err error) Kind {
	var xe *Error
	if errors.As(err, &xe) {
		return xe.Kind
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool { return KindOf(err) == kind }

// Retryable reports whether a failure may succeed on a later attempt.
// Auth and parameter errors will not change by waiting.
func Retryable(kind Kind) bool {
	switch kind {
	case KindRateLimit, KindNetwork:
		return true
	default:
		return false
	}
}

// classify maps an error from the platform library onto the taxonomy. The
// library does not export typed errors for every failure, so this sniffs
// the message for the well-known throttling and authorization signatures.
func classify(err error) *Error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit"):
		return WrapError(KindRateLimit, "platform throttled the request", err)
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(msg, "unauthorized") || strings.Contains(msg, "forbidden") ||
		strings.Contains(msg, "not logged in") || strings.Contains(msg, "could not authenticate"):
		return WrapError(KindAuth, "platform rejected the session", err)
	default:
		return WrapError(KindNetwork, "platform call failed", err)
	}
}
