package reliability

import (
	"context"
	"time"
)

// Policy bounds retries of transient storage failures.
type Policy struct {
	// Retries is the number of additional attempts after the first.
	Retries int
	// Delay is the fixed pause between attempts.
	Delay time.Duration
	// OnRetry, when set, is called before each additional attempt.
	OnRetry func()
}

// DefaultPolicy retries twice with a short fixed delay.
func DefaultPolicy() Policy {
	return Policy{Retries: 2, Delay: 500 * time.Millisecond}
}

// Do runs fn, retrying on transient-classified errors up to the policy's
// bound. Each attempt re-runs fn in full, so a failed attempt must leave no
// partial state behind. Non-transient errors surface immediately.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn(ctx)
		if err == nil || !Transient(err) || attempt >= p.Retries {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Delay):
		}
		if p.OnRetry != nil {
			p.OnRetry()
		}
	}
}
