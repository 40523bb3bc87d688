package resilience

import (
	"context"
	"time"
)

const (
	// DefaultAttempts is the total attempt cap: one initial call plus two retries.
	DefaultAttempts = 3

	// DefaultRetryDelay is the fixed pause between attempts.
	DefaultRetryDelay = time.Second
)

// Retryer re-invokes failing operations with a fixed delay between attempts.
// Only retryable errors (see Retryable) are re-attempted; everything else
// surfaces immediately.
type Retryer struct {
	Attempts int
	Delay    time.Duration

	// sleep is swapped out in tests to avoid real waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryer creates a Retryer with the default attempt cap and delay.
func NewRetryer() *Retryer {
	return &Retryer{Attempts: DefaultAttempts, Delay: DefaultRetryDelay}
}

// Do runs op, retrying retryable failures up to the attempt cap. The last
// error is surfaced unchanged. Context cancellation between attempts stops
// retrying and returns the context error.
func (r *Retryer) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := r.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	sleep := r.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if !Retryable(err) || attempt == attempts {
			return err
		}
		if serr := sleep(ctx, r.Delay); serr != nil {
			return serr
		}
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
