package retry

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"
)

// Policy controls backoff behavior for retried operations.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// Jitter returns a value in [0,1). Injectable for deterministic tests.
	Jitter func() float64
}

// DefaultPolicy matches the platform-wide retry defaults: up to 5 retries,
// 1s base, 60s cap.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 5,
		BaseDelay:  time.Second,
		MaxDelay:   60 * time.Second,
	}
}

func (p Policy) withDefaults() Policy {
	out := p
	if out.MaxRetries < 0 {
		out.MaxRetries = 0
	}
	if out.BaseDelay <= 0 {
		out.BaseDelay = time.Second
	}
	if out.MaxDelay <= 0 {
		out.MaxDelay = 60 * time.Second
	}
	if out.Jitter == nil {
		out.Jitter = rand.Float64
	}
	return out
}

// NextDelay computes the delay before attempt retryCount+1:
// min(MaxDelay, BaseDelay * 2^retryCount * U(0.5,1.0)).
// The jitter keeps simultaneous failures from retrying in lockstep.
// Callers must not assume exact values, only the bounds.
func (p Policy) NextDelay(retryCount int) time.Duration {
	p = p.withDefaults()
	if retryCount < 0 {
		retryCount = 0
	}
	mult := 0.5 + p.Jitter()*0.5
	d := float64(p.BaseDelay) * math.Pow(2, float64(retryCount)) * mult
	if d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// NextRetryAt returns the wall-clock time of the next retry.
func (p Policy) NextRetryAt(now time.Time, retryCount int) time.Time {
	return now.Add(p.NextDelay(retryCount))
}

// Do invokes fn, retrying on error with exponential backoff until the policy
// is exhausted. The last error is returned unmodified. Context cancellation
// between attempts aborts with ctx.Err().
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	p = p.withDefaults()

	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt >= p.MaxRetries {
			return lastErr
		}

		delay := p.NextDelay(attempt)
		slog.Default().Warn("retrying operation",
			"attempt", attempt+1,
			"max_retries", p.MaxRetries,
			"delay_ms", delay.Milliseconds(),
			"err", lastErr,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
