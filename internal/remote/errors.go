package remote

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies remote task service failures. Transient and
// RateLimited are the only kinds the reconciler retries; Unauthorized and
// Fatal abort the whole sync run.
type ErrorKind int

const (
	KindNotFound ErrorKind = iota + 1
	KindRateLimited
	KindUnauthorized
	KindTransient
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	case KindUnauthorized:
		return "unauthorized"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	}
	return "unknown"
}

// Error is the typed failure returned by every Client method.
type Error struct {
	Kind       ErrorKind
	Op         string        // e.g. "create", "list"
	RetryAfter time.Duration // only set for KindRateLimited
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("remote %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("remote %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the error kind, or 0 when err is not a remote error.
func KindOf(err error) ErrorKind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return 0
}

// RetryAfterOf returns the server-advised pause for rate-limited errors.
func RetryAfterOf(err error) time.Duration {
	var re *Error
	if errors.As(err, &re) {
		return re.RetryAfter
	}
	return 0
}

// Retryable reports whether the reconciler may retry the failed call.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindRateLimited:
		return true
	}
	return false
}

// Aborting reports whether the error must abort the whole sync run.
func Aborting(err error) bool {
	switch KindOf(err) {
	case KindUnauthorized, KindFatal:
		return true
	}
	return false
}

func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }
