package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_Burst(t *testing.T) {
	rl := NewRateLimiter(1, 3)

	for i := range 3 {
		assert.True(t, rl.Allow("alice"), "burst message %d", i)
	}
	assert.False(t, rl.Allow("alice"), "burst exhausted")

	// Conversations have independent buckets.
	assert.True(t, rl.Allow("bob"))
}

func TestRateLimiter_WaitHonoursContext(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	require.True(t, rl.Allow("alice"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := rl.Wait(ctx, "alice")
	require.Error(t, err)
}

func TestRateLimiter_WaitRefills(t *testing.T) {
	// 6000 per minute is one token every 10ms.
	rl := NewRateLimiter(6000, 1)
	require.True(t, rl.Allow("alice"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, rl.Wait(ctx, "alice"))
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl := NewRateLimiter(0, 0)

	for range 100 {
		require.True(t, rl.Allow("alice"))
	}
}

func TestRateLimiter_CleanupStale(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	rl.Allow("alice")
	rl.Allow("bob")
	require.Equal(t, 2, rl.Len())

	assert.Equal(t, 0, rl.CleanupStale(time.Hour))
	assert.Equal(t, 2, rl.Len())

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 2, rl.CleanupStale(time.Millisecond))
	assert.Equal(t, 0, rl.Len())
}

func TestRateLimiter_SetLimits(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	require.True(t, rl.Allow("alice"))
	require.False(t, rl.Allow("alice"))

	rl.SetLimits(0, 1)
	assert.True(t, rl.Allow("alice"), "existing bucket picks up the new limit")
	assert.True(t, rl.Allow("bob"))

	rl.SetLimits(1, 2)
	assert.True(t, rl.Allow("carol"))
	assert.True(t, rl.Allow("carol"))
	assert.False(t, rl.Allow("carol"))
}
