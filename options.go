package cellz

import (
	"context"
	"time"

	"github.com/zoobzio/pipz"
)

// Option configures the processing pipeline of a Charger.
// Pipeline options wrap the apply step with middleware for retry,
// timeout, circuit breaking, and other reliability patterns.
//
// Instance configuration (debounce, sync mode, codec, etc.) is handled
// via chainable methods on the Charger before calling Start().
type Option[T any] func(pipz.Chainable[*Update[T]]) pipz.Chainable[*Update[T]]

// buildPipeline wraps a terminal with pipeline options.
func buildPipeline[T any](terminal pipz.Chainable[*Update[T]], opts []Option[T]) pipz.Chainable[*Update[T]] {
	pipeline := terminal
	for _, opt := range opts {
		pipeline = opt(pipeline)
	}
	return pipeline
}

// WithRetry wraps the pipeline with retry logic.
// Failed operations are retried immediately up to maxAttempts times.
// For exponential backoff between retries, use WithBackoff instead.
func WithRetry[T any](maxAttempts int) Option[T] {
	return func(p pipz.Chainable[*Update[T]]) pipz.Chainable[*Update[T]] {
		return pipz.NewRetry("retry", p, maxAttempts)
	}
}

// WithBackoff wraps the pipeline with exponential backoff retry logic.
// Failed operations are retried with increasing delays: baseDelay,
// 2*baseDelay, 4*baseDelay, etc.
func WithBackoff[T any](maxAttempts int, baseDelay time.Duration) Option[T] {
	return func(p pipz.Chainable[*Update[T]]) pipz.Chainable[*Update[T]] {
		return pipz.NewBackoff("backoff", p, maxAttempts, baseDelay)
	}
}

// WithTimeout wraps the pipeline with a timeout.
// If processing takes longer than the specified duration, the
// operation fails with a timeout error. Useful when a blocking-policy
// subscriber of the target cell could otherwise stall applies
// indefinitely.
func WithTimeout[T any](d time.Duration) Option[T] {
	return func(p pipz.Chainable[*Update[T]]) pipz.Chainable[*Update[T]] {
		return pipz.NewTimeout("timeout", p, d)
	}
}

// WithCircuitBreaker wraps the pipeline with circuit breaker protection.
// After 'failures' consecutive failures, the circuit opens and rejects
// further updates until 'recovery' time has passed.
func WithCircuitBreaker[T any](failures int, recovery time.Duration) Option[T] {
	return func(p pipz.Chainable[*Update[T]]) pipz.Chainable[*Update[T]] {
		return pipz.NewCircuitBreaker("circuit-breaker", p, failures, recovery)
	}
}

// WithFallback wraps the pipeline with fallback processors.
// If the primary pipeline fails, each fallback is tried in order until
// one succeeds.
func WithFallback[T any](fallbacks ...pipz.Chainable[*Update[T]]) Option[T] {
	return func(p pipz.Chainable[*Update[T]]) pipz.Chainable[*Update[T]] {
		all := append([]pipz.Chainable[*Update[T]]{p}, fallbacks...)
		return pipz.NewFallback("fallback", all...)
	}
}

// WithMiddleware wraps the pipeline with a sequence of processors.
// Processors execute in order, with the wrapped pipeline (the cell
// apply) last.
//
// Use the Use* functions to create processors for common patterns, or
// provide custom pipz.Chainable implementations directly.
//
// Example:
//
//	cellz.NewCharger(watcher, cell,
//	    cellz.WithMiddleware(
//	        cellz.UseEffect[Config]("log", logFn),
//	        cellz.UseApply[Config]("enrich", enrichFn),
//	    ),
//	    cellz.WithRetry[Config](3),
//	)
func WithMiddleware[T any](processors ...pipz.Chainable[*Update[T]]) Option[T] {
	return func(p pipz.Chainable[*Update[T]]) pipz.Chainable[*Update[T]] {
		all := make([]pipz.Chainable[*Update[T]], 0, len(processors)+1)
		all = append(all, processors...)
		all = append(all, p)
		return pipz.NewSequence("middleware", all...)
	}
}

// UseTransform creates a processor that transforms the update.
// Cannot fail. Use for pure transformations that always succeed.
func UseTransform[T any](name string, fn func(context.Context, *Update[T]) *Update[T]) pipz.Chainable[*Update[T]] {
	return pipz.Transform(pipz.Name(name), fn)
}

// UseApply creates a processor that can transform the update and fail.
// Use for operations like enrichment or cross-field checks that may
// produce errors.
func UseApply[T any](name string, fn func(context.Context, *Update[T]) (*Update[T], error)) pipz.Chainable[*Update[T]] {
	return pipz.Apply(pipz.Name(name), fn)
}

// UseEffect creates a processor that performs a side effect.
// The update passes through unchanged. Use for logging, metrics, or
// notifications that should not affect the value.
func UseEffect[T any](name string, fn func(context.Context, *Update[T]) error) pipz.Chainable[*Update[T]] {
	return pipz.Effect(pipz.Name(name), fn)
}

// UseFilter wraps a processor with a condition.
// If the condition returns false, the update passes through unchanged.
// Useful for skipping applies when nothing relevant changed.
func UseFilter[T any](name string, condition func(context.Context, *Update[T]) bool, processor pipz.Chainable[*Update[T]]) pipz.Chainable[*Update[T]] {
	return pipz.NewFilter(pipz.Name(name), condition, processor)
}

// UseRateLimit creates a rate limiting processor.
// Uses a token bucket algorithm with the specified rate (updates per
// second) and burst size. When tokens are exhausted, updates wait for
// availability.
func UseRateLimit[T any](rate float64, burst int) pipz.Chainable[*Update[T]] {
	return pipz.NewRateLimiter[*Update[T]]("rate-limiter", rate, burst)
}
