package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy describes a bounded exponential backoff with jitter. It is
// independent of the work it wraps so the backoff law can be tested without
// a real normalizer.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// sleep and jitter are swappable for tests.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

// NewPolicy creates a policy with the given bounds. Attempts below 1 are
// treated as 1.
func NewPolicy(attempts int, baseDelay, maxDelay time.Duration) Policy {
	if attempts < 1 {
		attempts = 1
	}
	return Policy{
		Attempts:  attempts,
		BaseDelay: baseDelay,
		MaxDelay:  maxDelay,
		sleep:     sleepCtx,
		jitter:    rand.Float64,
	}
}

// DelayFor computes the backoff before the given retry (attempt counts from
// 1): min(base * 2^(attempt-1) * (1 + up to 10% jitter), max).
func (p Policy) DelayFor(attempt int) time.Duration {
	delay := p.BaseDelay << (attempt - 1)
	jitterFn := p.jitter
	if jitterFn == nil {
		jitterFn = rand.Float64
	}
	delay = time.Duration(float64(delay) * (1 + jitterFn()*0.1))
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// Execute runs op up to Attempts times. onRetry is invoked once per failed
// non-final attempt with the attempt number, the delay about to be slept and
// the error. The final attempt's error is returned as-is. The sleep honors
// context cancellation; each in-flight event retries independently.
func (p Policy) Execute(ctx context.Context, op func(ctx context.Context) error, onRetry func(attempt int, delay time.Duration, err error)) error {
	sleepFn := p.sleep
	if sleepFn == nil {
		sleepFn = sleepCtx
	}

	var err error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if attempt == p.Attempts {
			break
		}
		delay := p.DelayFor(attempt)
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}
		if sleepErr := sleepFn(ctx, delay); sleepErr != nil {
			return sleepErr
		}
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
