package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Kind classifies failures returned by a follower source
type Kind string

const (
	KindAuthenticationFailed Kind = "authentication_failed"
	KindChallengeRequired    Kind = "challenge_required"
	KindChallengeUnresolved  Kind = "challenge_unresolved"
	KindRateLimited          Kind = "rate_limited"
	KindLoginRequired        Kind = "login_required"
	KindTransientNetwork     Kind = "transient_network"
	KindNotFound             Kind = "not_found"
	KindFatal                Kind = "fatal"
)

// Error is a classified failure. Code carries the HTTP status when there is one.
type Error struct {
	Kind    Kind
	Message string
	Code    int
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s (code %d): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New builds a classified error
func New(kind Kind, code int, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// kinder lets error types outside this package declare their own kind.
type kinder interface {
	Kind() Kind
}

// KindOf returns the kind of err. Typed errors anywhere in the chain win;
// otherwise the message is matched against the phrases the platform uses.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	var k kinder
	if stderrors.As(err, &k) {
		return k.Kind()
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "challenge_required"), strings.Contains(msg, "checkpoint_required"):
		return KindChallengeRequired
	case strings.Contains(msg, "login_required"):
		return KindLoginRequired
	case strings.Contains(msg, "please wait"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "too many requests"):
		return KindRateLimited
	case strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "i/o timeout"),
		strings.Contains(msg, "unexpected eof"):
		return KindTransientNetwork
	default:
		return KindFatal
	}
}

// Is reports whether err classifies as kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable checks if an error kind should be retried as-is
func IsRetryable(kind Kind) bool {
	switch kind {
	case KindTransientNetwork, KindRateLimited:
		return true
	default:
		return false
	}
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0, 429:
		return true
	case 400, 401, 403, 404:
		return false
	default:
		return statusCode >= 500
	}
}
