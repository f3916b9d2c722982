// Package resilience retries remote store calls with exponential backoff
// and records a diagnostic for every attempt.
//
// The delay before attempt n+1 is
//
//	InitialDelay × 2^(n-1) × jitter,  jitter ∈ [0.5, 1.0]
//
// so with the defaults (3 attempts, 1s) a failing call gives up after at
// most 1s + 2s of waiting. Only errors apperror.Retryable accepts are
// retried; auth, validation, not-found and the like surface immediately.
//
// WHY A 0.75 INTERVAL AND A 1/3 RANDOMIZATION FACTOR?
// backoff.ExponentialBackOff draws from interval × (1 ± factor). With the
// interval at ¾ of the nominal delay and factor ⅓ that range is exactly
// [½, 1] × nominal: a retry never waits longer than the nominal delay, and
// clients that failed together spread out instead of retrying in step.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sakif/captured-thinkings/internal/apperror"
)

const (
	DefaultMaxAttempts  = 3
	DefaultInitialDelay = time.Second
)

var storeCalls = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "captured_store_calls_total",
	Help: "Remote store call attempts by operation and outcome",
}, []string{"operation", "outcome"})

// Prober performs the cheapest possible read against the remote store.
type Prober interface {
	Probe(ctx context.Context) error
}

// Retrier wraps remote operations. It holds no mutable state and is safe
// for concurrent use; every Retry gets its own backoff.
type Retrier struct {
	maxAttempts  int
	initialDelay time.Duration
	logger       *slog.Logger

	// Replaced in tests.
	newBackOff func() backoff.BackOff
	now        func() time.Time
}

// Option customizes a Retrier.
type Option func(*Retrier)

func WithMaxAttempts(n int) Option {
	return func(r *Retrier) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

func WithInitialDelay(d time.Duration) Option {
	return func(r *Retrier) {
		if d >= 0 {
			r.initialDelay = d
		}
	}
}

func New(logger *slog.Logger, opts ...Option) *Retrier {
	r := &Retrier{
		maxAttempts:  DefaultMaxAttempts,
		initialDelay: DefaultInitialDelay,
		logger:       logger,
		now:          time.Now,
	}
	r.newBackOff = r.exponential
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// exponential is the production policy: doubling, jittered into
// [½, 1] × nominal, never capped within the attempt budget.
func (r *Retrier) exponential() backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     r.initialDelay * 3 / 4,
		RandomizationFactor: 1.0 / 3,
		Multiplier:          2,
		MaxInterval:         r.initialDelay << r.maxAttempts,
	}
	b.Reset()
	return b
}

// Retry runs op until it succeeds, fails permanently, or the attempts run
// out; the last error is returned. If ctx ends while waiting, the returned
// error wraps both the last error from op and the context's cause.
func (r *Retrier) Retry(ctx context.Context, name string, op func(ctx context.Context) error) error {
	attempt := 0
	var last error
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		last = op(ctx)
		r.record(name, attempt, last)
		if last != nil && !apperror.Retryable(last) {
			return struct{}{}, backoff.Permanent(last)
		}
		return struct{}{}, last
	},
		backoff.WithBackOff(r.newBackOff()),
		backoff.WithMaxTries(uint(r.maxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, delay time.Duration) {
			r.logger.Warn("retrying store call",
				slog.String("operation", name),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()),
			)
		}),
	)
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	if err != nil && last != nil && !errors.Is(err, last) {
		return fmt.Errorf("%w (gave up: %w)", last, err)
	}
	return err
}

// Once runs op a single time and records it. It is meant for writes that
// are not safe to repeat, such as inserts.
func (r *Retrier) Once(ctx context.Context, name string, op func(ctx context.Context) error) error {
	err := op(ctx)
	r.record(name, 1, err)
	return err
}

// Do is Retry for operations that return a value.
func Do[T any](ctx context.Context, r *Retrier, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Retry(ctx, name, func(ctx context.Context) error {
		v, err := op(ctx)
		if err == nil {
			out = v
		}
		return err
	})
	return out, err
}

// CheckConnectivity reports whether a single probe succeeds. Callers that
// want the retry policy wrap the probe with Retry instead.
func (r *Retrier) CheckConnectivity(ctx context.Context, p Prober) bool {
	err := p.Probe(ctx)
	r.record("check_connectivity", 1, err)
	return err == nil
}

// record emits the diagnostic for one attempt.
func (r *Retrier) record(name string, attempt int, err error) {
	outcome := "success"
	level := slog.LevelDebug
	attrs := []slog.Attr{
		slog.String("operation", name),
		slog.Bool("success", err == nil),
		slog.Int("attempt", attempt),
		slog.Time("timestamp", r.now()),
	}
	if err != nil {
		outcome = "failure"
		level = slog.LevelWarn
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	storeCalls.WithLabelValues(name, outcome).Inc()
	r.logger.LogAttrs(context.Background(), level, "store call", attrs...)
}
