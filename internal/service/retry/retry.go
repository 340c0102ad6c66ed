// Package retry runs calls against best-effort downstream services with a
// fixed attempt budget and linear backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	retrygo "github.com/avast/retry-go/v4"
)

// ErrExhausted wraps the last attempt's error once every attempt failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy controls attempts, backoff and per-attempt timeout.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// AttemptTimeout bounds each attempt. Zero leaves the caller's deadline
	// (or the transport's own timeout) in charge.
	AttemptTimeout time.Duration

	// Sleep waits between attempts. Nil uses a timer honoring ctx.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnAttempt, when set, observes every attempt outcome.
	OnAttempt func(attempt int, err error)
}

// DefaultPolicy is three attempts, 1s/2s backoff, 5s per attempt.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		BaseDelay:      time.Second,
		AttemptTimeout: 5 * time.Second,
	}
}

// Delay returns how long to wait after the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	return time.Duration(attempt) * p.BaseDelay
}

// Do calls fn until it succeeds, the attempts run out or ctx is done.
func Do(ctx context.Context, p Policy, name string, fn func(ctx context.Context) error) error {
	_, err := Value(ctx, p, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Value is Do for calls that produce a result.
func Value[T any](ctx context.Context, p Policy, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	attempt := 0
	opts := []retrygo.Option{
		retrygo.Context(ctx),
		retrygo.Attempts(uint(attempts)),
		retrygo.LastErrorOnly(true),
		retrygo.DelayType(func(n uint, _ error, _ *retrygo.Config) time.Duration {
			return p.Delay(int(n) + 1)
		}),
		retrygo.RetryIf(func(error) bool { return ctx.Err() == nil }),
	}
	if p.Sleep != nil {
		opts = append(opts, retrygo.WithTimer(sleepTimer{ctx: ctx, sleep: p.Sleep}))
	}

	out, err := retrygo.DoWithData(func() (T, error) {
		attempt++
		v, err := runAttempt(ctx, p.AttemptTimeout, fn)
		if p.OnAttempt != nil {
			p.OnAttempt(attempt, err)
		}
		if err != nil && ctx.Err() == nil {
			log.Printf("[retry] %s attempt %d/%d failed: %v", name, attempt, attempts, err)
		}
		return v, err
	}, opts...)
	if err == nil {
		return out, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		var zero T
		return zero, ctxErr
	}
	var zero T
	return zero, fmt.Errorf("%s: %w: %w", name, ErrExhausted, err)
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}

// sleepTimer adapts Policy.Sleep to the library's timer hook. The channel
// never fires when the sleep is interrupted, so ctx cancellation wins.
type sleepTimer struct {
	ctx   context.Context
	sleep func(ctx context.Context, d time.Duration) error
}

func (s sleepTimer) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	if err := s.sleep(s.ctx, d); err == nil {
		ch <- time.Now()
	}
	return ch
}
