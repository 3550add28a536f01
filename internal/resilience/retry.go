package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Policy controls retries of one provider call.
type Policy struct {
	// Attempts is the total number of tries including the first. Values
	// below 1 mean a single try.
	Attempts int

	// BaseDelay is the wait before the first retry; it doubles per retry.
	BaseDelay time.Duration

	// MaxDelay caps the wait between tries.
	MaxDelay time.Duration

	// Jitter spreads each wait by ±Jitter of its length.
	Jitter float64
}

// DefaultPolicy returns the policy used for search provider calls.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:  3,
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  8 * time.Second,
		Jitter:    0.25,
	}
}

// Retry calls fn until it succeeds, fails permanently, runs out of
// attempts or ctx ends. Only errors passing IsTransient are retried. The
// last error is returned unchanged.
func Retry[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := max(p.Attempts, 1)

	var zero T
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		var val T
		val, err = fn(ctx)
		if err == nil {
			return val, nil
		}
		if ctx.Err() != nil || !IsTransient(err) || attempt == attempts {
			return zero, err
		}

		wait := p.backoff(attempt)
		zap.L().Warn("resilience: retrying",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, err
		case <-timer.C:
		}
	}
	return zero, err
}

func (p Policy) backoff(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		delay += (rand.Float64()*2 - 1) * delay * p.Jitter
	}
	if delay < 0 {
		return 0
	}
	return time.Duration(delay)
}
