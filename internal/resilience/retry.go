package resilience

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"golang.org/x/time/rate"
)

// RetryConfig holds retry policy tuning.
type RetryConfig struct {
	// MaxAttempts bounds the total number of calls, including the first.
	MaxAttempts int

	// BaseDelay is the delay before the first retry, before jitter.
	BaseDelay time.Duration

	// MaxDelay clamps any computed backoff delay.
	MaxDelay time.Duration

	// BackoffFactor is the exponential growth factor between retries.
	BackoffFactor float64

	// RequestsPerSecond paces outbound calls when > 0, so a burst of due
	// jobs cannot hammer the upstream even on the happy path.
	RequestsPerSecond float64
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		BaseDelay:     time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}
}

// Executor wraps any single upstream call with retry and circuit-breaker
// protection. One instance is shared by all callers in a process.
type Executor struct {
	cfg     RetryConfig
	breaker *Breaker
	limiter *rate.Limiter
	logger  *slog.Logger

	// injectable for tests
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

// NewExecutor creates an executor with the given retry policy and breaker.
// A nil breaker gets defaults.
func NewExecutor(cfg RetryConfig, breaker *Breaker, logger *slog.Logger) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultRetryConfig().MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultRetryConfig().BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultRetryConfig().MaxDelay
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = DefaultRetryConfig().BackoffFactor
	}
	if breaker == nil {
		breaker = NewBreaker(DefaultBreakerConfig())
	}
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Executor{
		cfg:     cfg,
		breaker: breaker,
		limiter: limiter,
		logger:  logger.With("component", "resilience"),
		sleep:   sleepCtx,
		// jitter is drawn uniformly from [0.5, 1.0]
		jitter: func() float64 { return 0.5 + 0.5*rand.Float64() },
	}
}

// Breaker returns the executor's shared circuit breaker.
func (e *Executor) Breaker() *Breaker {
	return e.breaker
}

// Do runs op under retry and breaker protection. Only RateLimited,
// QuotaExceeded and NetworkError failures are retried; the last classified
// error is returned when attempts are exhausted. While the breaker is open,
// Do fails fast with a synthetic NetworkError without invoking op.
func (e *Executor) Do(ctx context.Context, label string, op func(context.Context) error) error {
	var last *Error

	for attempt := 0; attempt < e.cfg.MaxAttempts; attempt++ {
		if !e.breaker.Allow() {
			return &Error{Kind: KindNetworkError, Op: label, Err: ErrCircuitOpen}
		}

		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return Classify(err, label)
			}
		}

		err := op(ctx)
		if err == nil {
			e.breaker.RecordSuccess()
			return nil
		}

		last = Classify(err, label)
		if last.Op == "" {
			last.Op = label
		}
		e.breaker.RecordFailure()

		if !last.Retryable() || attempt == e.cfg.MaxAttempts-1 {
			break
		}

		delay := e.delay(attempt, last.RetryAfter)
		e.logger.Warn("retrying upstream call",
			"op", label,
			"kind", string(last.Kind),
			"attempt", attempt+1,
			"max_attempts", e.cfg.MaxAttempts,
			"delay", delay,
			"error", last.Err,
		)

		if err := e.sleep(ctx, delay); err != nil {
			return Classify(err, label)
		}
	}

	return last
}

// delay computes the wait before the retry following 0-based attempt. A
// provider-supplied retry-after hint wins verbatim over the computed backoff.
func (e *Executor) delay(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return retryAfter
	}

	backoff := float64(e.cfg.BaseDelay) * math.Pow(e.cfg.BackoffFactor, float64(attempt)) * e.jitter()
	if backoff > float64(e.cfg.MaxDelay) {
		return e.cfg.MaxDelay
	}
	return time.Duration(backoff)
}

// DoValue is Do for operations that return a value.
func DoValue[T any](ctx context.Context, e *Executor, label string, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := e.Do(ctx, label, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
