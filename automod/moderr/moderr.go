// Error classes shared by the moderation components.
//
// Callers wrap these sentinels with context (`fmt.Errorf("...: %w", moderr.ErrNotFound)`) and test for them with `errors.Is`. Only `ErrRateLimited` causes automated requeue; `ErrConflict` is treated as success by the membership enforcer, and `ErrExpired` as a timeout rather than a failure.
package moderr

import (
	"context"
	"errors"
	"net"
)

var (
	// identity resolution failed, or target absent from roster / ban records
	ErrNotFound = errors.New("not found")
	// non-admin invoked an admin-only command
	ErrUnauthorized = errors.New("unauthorized")
	// remote API answered 429
	ErrRateLimited = errors.New("rate limited")
	// network error or timeout
	ErrTransient = errors.New("transient failure")
	// already a member / already removed
	ErrConflict = errors.New("conflict")
	// async operation id no longer valid
	ErrExpired = errors.New("expired")
	// required credential or endpoint absent
	ErrConfigMissing = errors.New("missing configuration")
)

type Class string

const (
	ClassNone          Class = ""
	ClassNotFound      Class = "not-found"
	ClassUnauthorized  Class = "unauthorized"
	ClassRateLimited   Class = "rate-limited"
	ClassTransient     Class = "transient"
	ClassConflict      Class = "conflict"
	ClassExpired       Class = "expired"
	ClassConfigMissing Class = "config-missing"
	ClassOther         Class = "other"
)

// Classify maps an error to its class. Network and deadline errors count as transient even when not explicitly wrapped.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrNotFound):
		return ClassNotFound
	case errors.Is(err, ErrUnauthorized):
		return ClassUnauthorized
	case errors.Is(err, ErrRateLimited):
		return ClassRateLimited
	case errors.Is(err, ErrConflict):
		return ClassConflict
	case errors.Is(err, ErrExpired):
		return ClassExpired
	case errors.Is(err, ErrConfigMissing):
		return ClassConfigMissing
	case errors.Is(err, ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return ClassTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}
	return ClassOther
}

// Retryable reports whether the error class should be requeued with backoff.
func Retryable(err error) bool {
	return Classify(err) == ClassRateLimited
}
