package integration

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies provider failures. Poll loops and the query surface
// branch on the kind, never on provider-specific detail.
type ErrorKind int

const (
	// KindNetwork covers transient transport failures and timeouts
	KindNetwork ErrorKind = iota
	// KindAuth covers rejected or missing credentials
	KindAuth
	// KindRateLimited covers provider throttling
	KindRateLimited
	// KindNotFound covers missing resources
	KindNotFound
	// KindAPI covers any other provider-reported failure
	KindAPI
	// KindParse covers malformed provider responses
	KindParse
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindAuth:
		return "auth"
	case KindRateLimited:
		return "rate_limited"
	case KindNotFound:
		return "not_found"
	case KindAPI:
		return "api"
	case KindParse:
		return "parse"
	default:
		return "unknown"
	}
}

// Error is the typed failure returned by all provider operations
type Error struct {
	Kind     ErrorKind
	Provider string
	Op       string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s: %s error: %s", e.Provider, e.Op, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s error: %v", e.Provider, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a typed provider error
func NewError(kind ErrorKind, provider, op string, err error) *Error {
	return &Error{Kind: kind, Provider: provider, Op: op, Err: err}
}

// KindOf extracts the kind from err, defaulting to KindNetwork for plain
// transport errors and context deadline expiry.
func KindOf(err error) ErrorKind {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return KindNetwork
}

// IsAuth reports whether err is an authentication failure
func IsAuth(err error) bool {
	var ie *Error
	return errors.As(err, &ie) && ie.Kind == KindAuth
}

// IsRateLimited reports whether err is a throttling failure
func IsRateLimited(err error) bool {
	var ie *Error
	return errors.As(err, &ie) && ie.Kind == KindRateLimited
}

// IsNotFound reports whether err is a missing-resource failure
func IsNotFound(err error) bool {
	var ie *Error
	return errors.As(err, &ie) && ie.Kind == KindNotFound
}

// Retryable reports whether a retry could plausibly succeed. Auth and
// not-found failures persist until something outside the request changes.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindRateLimited:
		return true
	default:
		return false
	}
}

// classifyHTTP maps an HTTP response status to a typed error
func classifyHTTP(provider, op string, status int, body string) *Error {
	e := &Error{Provider: provider, Op: op, Message: fmt.Sprintf("status %d: %s", status, body)}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Kind = KindAuth
	case status == http.StatusTooManyRequests:
		e.Kind = KindRateLimited
	case status == http.StatusNotFound:
		e.Kind = KindNotFound
	case status >= 500:
		e.Kind = KindNetwork
	default:
		e.Kind = KindAPI
	}
	return e
}

// classifyTransport maps a transport-level failure to a typed error
func classifyTransport(provider, op string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Error{Kind: KindNetwork, Provider: provider, Op: op, Message: "request timeout", Err: err}
	}
	return &Error{Kind: KindNetwork, Provider: provider, Op: op, Err: err}
}
