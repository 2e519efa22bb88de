// Package retry runs an operation with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

var ErrInvalidPolicy = errors.New("invalid retry policy")

// Policy configures the backoff between attempts.
type Policy struct {
	// InitialDelay is the wait before the first retry.
	InitialDelay time.Duration
	// Factor multiplies the delay after every retry.
	Factor float64
	// MaxRetries caps the retries after the first attempt.
	MaxRetries int
	// MaxDelay caps a single wait.
	MaxDelay time.Duration
	// Jitter is the maximum random spread as a fraction of the delay (0-1).
	Jitter float64
}

// DefaultPolicy is the backoff used for the post-sign-in authorization race.
func DefaultPolicy() Policy {
	return Policy{
		InitialDelay: 250 * time.Millisecond,
		Factor:       1.5,
		MaxRetries:   5,
		MaxDelay:     5 * time.Second,
	}
}

func (p Policy) Validate() error {
	if p.InitialDelay <= 0 || p.Factor < 1.0 || p.MaxRetries < 0 || p.MaxDelay < p.InitialDelay {
		return ErrInvalidPolicy
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		return ErrInvalidPolicy
	}
	return nil
}

// Delays lists the waits the policy produces, without jitter.
func (p Policy) Delays() []time.Duration {
	delays := make([]time.Duration, 0, p.MaxRetries)
	delay := p.InitialDelay
	for i := 0; i < p.MaxRetries; i++ {
		delays = append(delays, delay)
		delay = next(delay, p.Factor, p.MaxDelay)
	}
	return delays
}

// Delay is the jittered wait before the n-th retry, counting from 1.
func (p Policy) Delay(n int) time.Duration {
	delay := p.InitialDelay
	for i := 1; i < n; i++ {
		delay = next(delay, p.Factor, p.MaxDelay)
	}
	return withJitter(delay, p.Jitter)
}

// Result describes a finished Do call.
type Result struct {
	Attempts int
	Elapsed  time.Duration
}

// Func is one attempt; attempt starts at 1.
type Func func(ctx context.Context, attempt int) error

// Notify is called before each wait.
type Notify func(attempt int, wait time.Duration, err error)

// Do calls fn until it succeeds, fails with an error retryable rejects, the
// policy runs out of retries, or ctx is done. The last error is returned.
func Do(ctx context.Context, p Policy, retryable func(error) bool, fn Func, notify Notify) (Result, error) {
	start := time.Now()
	result := Result{}
	delay := p.InitialDelay

	for attempt := 1; ; attempt++ {
		result.Attempts = attempt
		if err := ctx.Err(); err != nil {
			result.Elapsed = time.Since(start)
			return result, err
		}

		err := fn(ctx, attempt)
		if err == nil {
			result.Elapsed = time.Since(start)
			return result, nil
		}
		if retryable == nil || !retryable(err) || attempt > p.MaxRetries {
			result.Elapsed = time.Since(start)
			return result, err
		}

		wait := withJitter(delay, p.Jitter)
		if notify != nil {
			notify(attempt, wait, err)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			result.Elapsed = time.Since(start)
			return result, ctx.Err()
		case <-timer.C:
		}
		delay = next(delay, p.Factor, p.MaxDelay)
	}
}

func withJitter(base time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return base
	}
	spread := (rand.Float64()*2 - 1) * jitter
	return time.Duration(float64(base) * (1 + spread))
}

func next(current time.Duration, factor float64, max time.Duration) time.Duration {
	n := time.Duration(float64(current) * factor)
	if max > 0 && n > max {
		return max
	}
	return n
}
