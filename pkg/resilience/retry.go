// Package resilience retries calls to the reference store and other external
// dependencies with capped, jittered exponential backoff.
package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

// Policy controls how often and how patiently an operation is retried.
// Zero fields fall back to DefaultPolicy.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Jitter spreads each delay by up to this fraction in either direction.
	Jitter float64
	// Retryable reports whether err may succeed on another attempt. Nil
	// treats every error as retryable.
	Retryable func(err error) bool
}

// DefaultPolicy suits short writes to a metadata database: three attempts
// finishing well inside an HTTP request deadline.
var DefaultPolicy = Policy{
	Attempts:  3,
	BaseDelay: 50 * time.Millisecond,
	MaxDelay:  2 * time.Second,
	Jitter:    0.2,
}

func (p Policy) resolved() Policy {
	if p.Attempts <= 0 {
		p.Attempts = DefaultPolicy.Attempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultPolicy.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultPolicy.MaxDelay
	}
	if p.Jitter <= 0 {
		p.Jitter = DefaultPolicy.Jitter
	}
	return p
}

// Retry runs fn until it succeeds or fails permanently. Attempts stop early
// once ctx is done; the last error from fn stays in the chain.
func Retry(ctx context.Context, op string, p Policy, fn func() error) error {
	p = p.resolved()
	logger := slog.Default().With("component", "retry", "op", op)

	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			if attempt > 1 {
				logger.Info("recovered", "attempt", attempt)
			}
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt >= p.Attempts {
			return fmt.Errorf("%s: gave up after %d attempts: %w", op, attempt, err)
		}
		wait := p.backoff(attempt)
		logger.Warn("attempt failed", "attempt", attempt, "of", p.Attempts, "wait", wait, "error", err)

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: %w (last error: %v)", op, ctx.Err(), err)
		}
	}
}

// backoff is BaseDelay doubled per completed attempt, jittered, then capped.
func (p Policy) backoff(attempt int) time.Duration {
	d := p.MaxDelay
	if shift := attempt - 1; shift < 32 {
		if scaled := p.BaseDelay << shift; scaled > 0 && scaled < d {
			d = scaled
		}
	}
	spread := float64(d) * p.Jitter * (2*rand.Float64() - 1)
	d += time.Duration(spread)
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	if d < 0 {
		d = p.BaseDelay
	}
	return d
}
