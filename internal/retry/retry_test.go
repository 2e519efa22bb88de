package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func fastPolicy() Policy {
	return Policy{InitialDelay: time.Millisecond, Factor: 1.5, MaxRetries: 5, MaxDelay: 4 * time.Millisecond}
}

func isFlaky(err error) bool { return errors.Is(err, errFlaky) }

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	require.NoError(t, p.Validate())
	assert.Equal(t, 1.5, p.Factor)
	assert.Equal(t, 5, p.MaxRetries)
}

func TestDelaysGrowAndCap(t *testing.T) {
	p := Policy{InitialDelay: 100 * time.Millisecond, Factor: 1.5, MaxRetries: 5, MaxDelay: 300 * time.Millisecond}
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		150 * time.Millisecond,
		225 * time.Millisecond,
		300 * time.Millisecond,
		300 * time.Millisecond,
	}, p.Delays())
}

func TestDelayMatchesDelays(t *testing.T) {
	p := Policy{InitialDelay: 10 * time.Millisecond, Factor: 2, MaxRetries: 5, MaxDelay: 50 * time.Millisecond}
	for i, want := range p.Delays() {
		assert.Equal(t, want, p.Delay(i+1))
	}
	assert.Equal(t, 50*time.Millisecond, p.Delay(9))
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		p    Policy
	}{
		{"zero delay", Policy{Factor: 1.5, MaxDelay: time.Second}},
		{"shrinking", Policy{InitialDelay: time.Second, Factor: 0.5, MaxDelay: time.Second}},
		{"cap below initial", Policy{InitialDelay: time.Second, Factor: 2, MaxDelay: time.Millisecond}},
		{"jitter", Policy{InitialDelay: time.Second, Factor: 2, MaxDelay: time.Second, Jitter: 2}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, tc.p.Validate(), ErrInvalidPolicy)
		})
	}
}

func TestDoSucceedsAfterRetries(t *testing.T) {
	var waits []time.Duration
	result, err := Do(context.Background(), fastPolicy(), isFlaky, func(ctx context.Context, attempt int) error {
		if attempt < 3 {
			return errFlaky
		}
		return nil
	}, func(attempt int, wait time.Duration, err error) {
		waits = append(waits, wait)
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, []time.Duration{time.Millisecond, 1500 * time.Microsecond}, waits)
}

func TestDoGivesUpAfterMaxRetries(t *testing.T) {
	calls := 0
	result, err := Do(context.Background(), fastPolicy(), isFlaky, func(ctx context.Context, attempt int) error {
		calls++
		return errFlaky
	}, nil)
	require.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 6, calls)
	assert.Equal(t, 6, result.Attempts)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("denied")
	calls := 0
	_, err := Do(context.Background(), fastPolicy(), isFlaky, func(ctx context.Context, attempt int) error {
		calls++
		return permanent
	}, nil)
	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDoHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{InitialDelay: time.Hour, Factor: 1.5, MaxRetries: 5, MaxDelay: time.Hour}
	_, err := Do(ctx, p, isFlaky, func(ctx context.Context, attempt int) error {
		cancel()
		return errFlaky
	}, nil)
	require.ErrorIs(t, err, context.Canceled)
}
