package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinear_CappedSequence(t *testing.T) {
	tests := []struct {
		name     string
		backoff  Linear
		failures int
		expected []time.Duration
	}{
		{
			name:     "increment 5 max 30",
			backoff:  Linear{Increment: 5 * time.Second, Max: 30 * time.Second},
			failures: 9,
			expected: []time.Duration{5, 10, 15, 20, 25, 30, 30, 30, 30},
		},
		{
			name:     "increment 5 max 20",
			backoff:  Linear{Increment: 5 * time.Second, Max: 20 * time.Second},
			failures: 5,
			expected: []time.Duration{5, 10, 15, 20, 20},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []time.Duration
			for attempt := 0; attempt < tt.failures; attempt++ {
				got = append(got, tt.backoff.Delay(attempt)/time.Second)
			}
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestLinear_MonotonicNonDecreasing(t *testing.T) {
	backoff := Linear{Increment: 3 * time.Second, Max: 17 * time.Second}
	prev := time.Duration(0)
	for attempt := 0; attempt < 50; attempt++ {
		d := backoff.Delay(attempt)
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, backoff.Max)
		prev = d
	}
	assert.Equal(t, 3*time.Second, backoff.Delay(-4))
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	cfg := Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}

	attempts := 0
	err := Do(context.Background(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient error")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_AllAttemptsFail(t *testing.T) {
	cfg := Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}

	attempts := 0
	err := Do(context.Background(), cfg, func() error {
		attempts++
		return errors.New("persistent error")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, 3, attempts)
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Quick(), func() error {
		attempts++
		return NonRetryable(errors.New("bad address"))
	})

	require.Error(t, err)
	assert.True(t, IsNonRetryable(err))
	assert.Equal(t, 1, attempts)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, Persistent(), func() error { return errors.New("error") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry cancelled")
}

func TestDo_InvalidConfig(t *testing.T) {
	err := Do(context.Background(), Config{InitialDelay: -1}, func() error { return nil })
	assert.Error(t, err)

	err = Do(context.Background(), Config{InitialDelay: time.Second, MaxDelay: time.Millisecond}, func() error { return nil })
	assert.Error(t, err)
}
