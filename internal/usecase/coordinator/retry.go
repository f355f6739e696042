package coordinator

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy bounds in-process retries of phase 2 and refund dispatch.
// Work that exhausts MaxAttempts stays journaled with a next attempt time
// and is picked up again by the recovery sweep.
type RetryPolicy struct {
	MaxAttempts int
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
	JitterFrac  float64
}

// Backoff returns the delay before retry number attempts: exponential from
// MinBackoff, capped at MaxBackoff, spread by JitterFrac either way.
func (r RetryPolicy) Backoff(attempts int) time.Duration {
	minB := r.MinBackoff
	maxB := r.MaxBackoff
	j := r.JitterFrac
	if minB <= 0 {
		minB = 1 * time.Second
	}
	if maxB <= 0 {
		maxB = 30 * time.Second
	}
	if j < 0 {
		j = 0
	}
	if attempts < 1 {
		attempts = 1
	}
	d := time.Duration(float64(minB) * math.Pow(2, float64(attempts-1)))
	if d > maxB || d <= 0 {
		d = maxB
	}
	delta := float64(d) * j
	low := float64(d) - delta
	high := float64(d) + delta
	if low < 0 {
		low = 0
	}
	return time.Duration(low + rand.Float64()*(high-low))
}

func (r RetryPolicy) maxAttempts() int {
	if r.MaxAttempts <= 0 {
		return 1
	}
	return r.MaxAttempts
}

// retry runs fn until it succeeds, the attempts run out or ctx ends.
func (r RetryPolicy) retry(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= r.maxAttempts(); attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == r.maxAttempts() {
			break
		}

		timer := time.NewTimer(r.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
