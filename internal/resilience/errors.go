// Package resilience wraps upstream calls in bounded retry and
// circuit-breaker protection. It never inspects business semantics; it is
// purely a call-shape wrapper around operations that may fail transiently.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Kind classifies an upstream failure into a closed taxonomy so callers can
// branch on retryability without string matching.
type Kind string

const (
	KindRateLimited             Kind = "rate_limited"
	KindQuotaExceeded           Kind = "quota_exceeded"
	KindInsufficientPermissions Kind = "insufficient_permissions"
	KindInvalidToken            Kind = "invalid_token"
	KindNetworkError            Kind = "network_error"
	KindNotFound                Kind = "not_found"
	KindUnknown                 Kind = "unknown"
)

// Retryable reports whether the kind is safe to retry by default.
func (k Kind) Retryable() bool {
	switch k {
	case KindRateLimited, KindQuotaExceeded, KindNetworkError:
		return true
	default:
		return false
	}
}

// ErrCircuitOpen is wrapped into the synthetic failure returned while the
// breaker is open. Callers can detect fail-fast rejections with errors.Is.
var ErrCircuitOpen = errors.New("circuit breaker open")

// Error is a classified upstream failure. RetryAfter carries a
// provider-supplied hint (zero when absent); when set it overrides the
// computed backoff delay verbatim.
type Error struct {
	Kind       Kind
	Op         string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether this failure is retryable by default.
func (e *Error) Retryable() bool {
	return e.Kind.Retryable()
}

// Classify maps a raw failure onto the taxonomy. Already-classified errors
// pass through unchanged; network-shaped errors (net.Error, context
// deadlines) become NetworkError; everything else is Unknown.
func Classify(err error, op string) *Error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}

	var ne net.Error
	if errors.As(err, &ne) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindNetworkError, Op: op, Err: err}
	}

	return &Error{Kind: KindUnknown, Op: op, Err: err}
}
