// Package retry applies one retry policy around single data operations.
//
// An operation is attempted up to MaxAttempts times. Before every attempt the
// executor consults the connection gate; transient failures are retried after
// a linear backoff (BaseDelay * attempt), everything else is returned to the
// caller unchanged on first occurrence.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goretry "github.com/sethvargo/go-retry"

	"github.com/vietddude/rentdesk/internal/core/fault"
	"github.com/vietddude/rentdesk/internal/metrics"
)

// Gate is the view of the connection state the executor needs.
type Gate interface {
	IsConfigured() bool
	IsReady() bool
	CheckConnection(ctx context.Context) bool
}

// Policy defines retry behavior.
type Policy struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

// DefaultPolicy provides the defaults used for every resource.
var DefaultPolicy = Policy{
	MaxAttempts: 3,
	BaseDelay:   1 * time.Second,
}

// Delay returns the wait before the retry that follows attempt n.
func (p Policy) Delay(n int) time.Duration {
	return p.BaseDelay * time.Duration(n)
}

// Outcome is the result of a single attempt.
type Outcome[T any] struct {
	Value     T
	Err       error
	Retryable bool
}

// Succeeded reports whether the attempt produced a value.
func (o Outcome[T]) Succeeded() bool { return o.Err == nil }

// Executor retries operations against one logical resource.
type Executor struct {
	resource   string
	gate       Gate
	policy     Policy
	classifier *fault.Classifier
	log        *slog.Logger
	onWait     func(attempt int, delay time.Duration)
}

// Option customizes an Executor.
type Option func(*Executor)

// WithClassifier replaces the default error table.
func WithClassifier(c *fault.Classifier) Option {
	return func(e *Executor) { e.classifier = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.log = l }
}

// WithWaitHook is called with the attempt number and delay before each wait.
func WithWaitHook(fn func(attempt int, delay time.Duration)) Option {
	return func(e *Executor) { e.onWait = fn }
}

// NewExecutor creates an executor for resource. A policy with fewer than one
// attempt is treated as a single attempt.
func NewExecutor(resource string, gate Gate, policy Policy, opts ...Option) *Executor {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.BaseDelay < 0 {
		policy.BaseDelay = 0
	}
	e := &Executor{
		resource:   resource,
		gate:       gate,
		policy:     policy,
		classifier: fault.NewClassifier(fault.DefaultOptions()),
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Resource returns the resource name the executor was created for.
func (e *Executor) Resource() string { return e.resource }

// Policy returns the executor's retry policy.
func (e *Executor) Policy() Policy { return e.policy }

// IsRetryableError reports whether err is transient.
func (e *Executor) IsRetryableError(err error) bool {
	return e.classifier.IsRetryable(err)
}

func (e *Executor) backoff() goretry.Backoff {
	var n int
	linear := goretry.BackoffFunc(func() (time.Duration, bool) {
		n++
		d := e.policy.Delay(n)
		metrics.OperationBackoff.WithLabelValues(e.resource).Observe(d.Seconds())
		if e.onWait != nil {
			e.onWait(n, d)
		}
		return d, false
	})
	return goretry.WithMaxRetries(uint64(e.policy.MaxAttempts-1), linear)
}

// WithRetry runs op under the executor's policy. operation names the call in
// logs and metrics (e.g. "create").
func WithRetry[T any](
	ctx context.Context,
	e *Executor,
	operation string,
	op func(ctx context.Context) (T, error),
) (T, error) {
	var zero T
	if !e.gate.IsConfigured() {
		metrics.OperationAttempts.WithLabelValues(e.resource, operation, "unconfigured").Inc()
		return zero, fmt.Errorf("%s %s: %w", e.resource, operation, fault.ErrNotConfigured)
	}

	var (
		result  T
		attempt int
		lastErr error
	)
	err := goretry.Do(ctx, e.backoff(), func(ctx context.Context) error {
		attempt++
		if !e.gate.IsReady() && !e.gate.CheckConnection(ctx) && attempt == e.policy.MaxAttempts {
			metrics.OperationAttempts.WithLabelValues(e.resource, operation, "unavailable").Inc()
			lastErr = fmt.Errorf("%s %s: %w", e.resource, operation, fault.ErrCannotConnect)
			return lastErr
		}

		out := runAttempt(ctx, e, op)
		if out.Succeeded() {
			metrics.OperationAttempts.WithLabelValues(e.resource, operation, "ok").Inc()
			result = out.Value
			return nil
		}
		lastErr = out.Err

		if out.Retryable && attempt < e.policy.MaxAttempts {
			metrics.OperationAttempts.WithLabelValues(e.resource, operation, "retry").Inc()
			e.log.Warn("Operation failed, retrying",
				"resource", e.resource,
				"operation", operation,
				"attempt", attempt,
				"max_attempts", e.policy.MaxAttempts,
				"delay", e.policy.Delay(attempt),
				"error", out.Err,
			)
			return goretry.RetryableError(out.Err)
		}

		metrics.OperationAttempts.WithLabelValues(e.resource, operation, "failed").Inc()
		if out.Retryable {
			e.log.Error("Operation failed after all attempts",
				"resource", e.resource,
				"operation", operation,
				"attempts", attempt,
				"error", out.Err,
			)
		} else {
			e.log.Debug("Operation failed with non-retryable error",
				"resource", e.resource,
				"operation", operation,
				"error", out.Err,
			)
		}
		return out.Err
	})
	if err == nil {
		return result, nil
	}

	// Cancellation while waiting surfaces both the context error and the
	// failure that caused the wait.
	if ctxErr := ctx.Err(); ctxErr != nil && lastErr != nil && err != lastErr {
		return zero, fmt.Errorf("%s %s canceled after %d attempts: %w: %w", e.resource, operation, attempt, ctxErr, lastErr)
	}
	return zero, err
}

func runAttempt[T any](ctx context.Context, e *Executor, op func(ctx context.Context) (T, error)) Outcome[T] {
	v, err := op(ctx)
	if err != nil {
		return Outcome[T]{Err: err, Retryable: e.IsRetryableError(err)}
	}
	return Outcome[T]{Value: v}
}
