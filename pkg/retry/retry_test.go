package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() *Config {
	return &Config{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		JitterFactor: 0,
	}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(), func() error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoExhaustsRetries(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(), func() error {
		attempts++
		return fmt.Errorf("always failing")
	})
	require.Error(t, err)
	assert.Equal(t, 4, attempts, "initial attempt plus three retries")
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := Do(ctx, &Config{MaxRetries: 10, InitialDelay: time.Hour, Multiplier: 2}, func() error {
		attempts++
		cancel()
		return fmt.Errorf("failing")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestDoIfRetryableStopsOnPermanentError(t *testing.T) {
	attempts := 0
	permanent := errors.New("duplicate key value violates unique constraint")
	err := DoIfRetryable(context.Background(), fastConfig(), func() error {
		attempts++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, attempts)
}

func TestDoIfRetryableRetriesTransientError(t *testing.T) {
	attempts := 0
	err := DoIfRetryable(context.Background(), fastConfig(), func() error {
		attempts++
		if attempts < 2 {
			return fmt.Errorf("read tcp: connection reset by peer")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

type explicitRetryable struct {
	retryable bool
}

func (e *explicitRetryable) Error() string     { return "explicit" }
func (e *explicitRetryable) IsRetryable() bool { return e.retryable }

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil", err: nil, expected: false},
		{name: "connection refused", err: fmt.Errorf("dial tcp: connection refused"), expected: true},
		{name: "timeout", err: fmt.Errorf("i/o timeout"), expected: true},
		{name: "serialization failure", err: fmt.Errorf("ERROR: could not serialize access"), expected: true},
		{name: "redis loading", err: fmt.Errorf("LOADING Redis is loading the dataset in memory"), expected: true},
		{name: "constraint violation", err: fmt.Errorf("violates unique constraint"), expected: false},
		{name: "explicit retryable", err: &explicitRetryable{retryable: true}, expected: true},
		{name: "explicit permanent", err: &explicitRetryable{retryable: false}, expected: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetryable(tt.err))
		})
	}
}

func TestApplyJitterBounds(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 100; i++ {
		jittered := applyJitter(base, 0.1)
		assert.GreaterOrEqual(t, jittered, 90*time.Millisecond)
		assert.LessOrEqual(t, jittered, 110*time.Millisecond)
	}
	assert.Equal(t, base, applyJitter(base, 0))
}
