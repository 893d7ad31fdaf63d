package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckAllowsUpToMax(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewLimiterWithClock(func() time.Time { return now })
	policy := Policy{Window: time.Minute, Max: 5}

	for i := 0; i < 5; i++ {
		result := limiter.Check("client-a", policy)
		assert.False(t, result.Limited, "request %d should pass", i+1)
	}

	result := limiter.Check("client-a", policy)
	assert.True(t, result.Limited, "6th request in-window must be limited")
	assert.Equal(t, 0, result.Remaining)
	assert.Equal(t, now.Add(time.Minute), result.ResetAt)
}

func TestCheckResetsAfterWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewLimiterWithClock(func() time.Time { return now })
	policy := Policy{Window: time.Minute, Max: 5}

	for i := 0; i < 6; i++ {
		limiter.Check("client-a", policy)
	}
	require.True(t, limiter.Check("client-a", policy).Limited)

	now = now.Add(time.Minute)

	result := limiter.Check("client-a", policy)
	assert.False(t, result.Limited, "first request after window reset must pass")
	assert.Equal(t, 4, result.Remaining)
}

func TestCheckIsolatesIdentifiers(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewLimiterWithClock(func() time.Time { return now })
	policy := Policy{Window: time.Minute, Max: 1}

	require.False(t, limiter.Check("client-a", policy).Limited)
	require.True(t, limiter.Check("client-a", policy).Limited)

	assert.False(t, limiter.Check("client-b", policy).Limited)
}

func TestSweepEvictsStaleWindows(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewLimiterWithClock(func() time.Time { return now })
	policy := Policy{Window: time.Minute, Max: 5}

	limiter.Check("client-a", policy)
	limiter.Check("client-b", policy)

	// Nothing is stale inside the grace period
	assert.Equal(t, 0, limiter.Sweep(time.Minute))

	now = now.Add(3 * time.Minute)
	assert.Equal(t, 2, limiter.Sweep(time.Minute))
}
