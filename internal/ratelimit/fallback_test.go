package ratelimit

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFallbackLimiter_DividesCapacityByInstances(t *testing.T) {
	policy := Policy{Window: time.Minute, MaxRequests: 100, Burst: 20}

	single := NewFallbackLimiter(policy, 1, 0)
	defer single.Close()
	assert.Equal(t, 120, single.Capacity())

	half := NewFallbackLimiter(policy, 2, 0)
	defer half.Close()
	assert.Equal(t, 60, half.Capacity())

	third := NewFallbackLimiter(policy, 3, 0)
	defer third.Close()
	// Integer division: 100/3 + 20/3
	assert.Equal(t, 39, third.Capacity())
}

func TestFallbackLimiter_Allow_ExhaustsCapacity(t *testing.T) {
	policy := Policy{Window: time.Minute, MaxRequests: 10, Burst: 2}
	limiter := NewFallbackLimiter(policy, 1, 0)
	defer limiter.Close()

	now := time.Now()
	for i := 0; i < 12; i++ {
		allowed, _ := limiter.Allow("alice", now)
		assert.True(t, allowed, "request %d should be allowed", i+1)
	}

	allowed, remaining := limiter.Allow("alice", now)
	assert.False(t, allowed, "request beyond capacity should be denied")
	assert.Less(t, remaining, 1.0)
}

func TestFallbackLimiter_Allow_Replenishes(t *testing.T) {
	// 10 per minute: one token every 6 seconds.
	policy := Policy{Window: time.Minute, MaxRequests: 10, Burst: 0}
	limiter := NewFallbackLimiter(policy, 1, 0)
	defer limiter.Close()

	now := time.Now()
	for i := 0; i < 10; i++ {
		allowed, _ := limiter.Allow("alice", now)
		require.True(t, allowed)
	}
	allowed, _ := limiter.Allow("alice", now)
	require.False(t, allowed, "bucket should be empty")

	allowed, _ = limiter.Allow("alice", now.Add(6*time.Second))
	assert.True(t, allowed, "one token should have replenished")

	allowed, _ = limiter.Allow("alice", now.Add(6*time.Second))
	assert.False(t, allowed, "only one token should have replenished")
}

func TestFallbackLimiter_Allow_DifferentKeys(t *testing.T) {
	policy := Policy{Window: time.Minute, MaxRequests: 2, Burst: 0}
	limiter := NewFallbackLimiter(policy, 1, 0)
	defer limiter.Close()

	now := time.Now()
	limiter.Allow("alice", now)
	limiter.Allow("alice", now)
	allowed, _ := limiter.Allow("alice", now)
	assert.False(t, allowed, "alice should be exhausted")

	allowed, _ = limiter.Allow("bob", now)
	assert.True(t, allowed, "bob has an independent bucket")
}

func TestFallbackLimiter_ZeroShareDeniesEverything(t *testing.T) {
	// More instances than the steady-state budget rounds the share to zero.
	policy := Policy{Window: time.Minute, MaxRequests: 5, Burst: 20}
	limiter := NewFallbackLimiter(policy, 10, 0)
	defer limiter.Close()

	allowed, remaining := limiter.Allow("alice", time.Now())
	assert.False(t, allowed)
	assert.Equal(t, 0.0, remaining)
}

func TestFallbackLimiter_ReportsRemaining(t *testing.T) {
	policy := Policy{Window: time.Minute, MaxRequests: 10, Burst: 0}
	limiter := NewFallbackLimiter(policy, 1, 0)
	defer limiter.Close()

	now := time.Now()
	_, remaining := limiter.Allow("alice", now)
	assert.InDelta(t, 9.0, remaining, 1e-6)

	_, remaining = limiter.Allow("alice", now)
	assert.InDelta(t, 8.0, remaining, 1e-6)
}

func TestFallbackLimiter_ConcurrentAccess(t *testing.T) {
	policy := Policy{Window: time.Minute, MaxRequests: 1000, Burst: 100}
	limiter := NewFallbackLimiter(policy, 1, 5*time.Minute)
	defer limiter.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			key := fmt.Sprintf("client-%d", id%5)
			for j := 0; j < 20; j++ {
				limiter.Allow(key, time.Now())
			}
		}(i)
	}
	wg.Wait()
	// No panics or data races -- run with -race flag
}

func TestFallbackLimiter_ConcurrentExactBudget(t *testing.T) {
	// However the goroutines interleave, a bucket with 10 tokens admits
	// exactly 10 of 100 simultaneous attempts. The clock is pinned so no
	// tokens replenish mid-run.
	policy := Policy{Window: time.Minute, MaxRequests: 10, Burst: 0}
	limiter := NewFallbackLimiter(policy, 1, 0)
	defer limiter.Close()

	now := time.Now()
	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := limiter.Allow("shared-key", now); ok {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), admitted.Load())
}

func TestFallbackLimiter_Close(t *testing.T) {
	limiter := NewFallbackLimiter(Policy{Window: time.Minute, MaxRequests: 10, Burst: 0}, 1, 100*time.Millisecond)
	limiter.Close()
	// Should not panic on double close
	limiter.Close()
}

func TestFallbackLimiter_Cleanup(t *testing.T) {
	policy := Policy{Window: time.Minute, MaxRequests: 10, Burst: 0}
	limiter := NewFallbackLimiter(policy, 1, 50*time.Millisecond)
	defer limiter.Close()

	limiter.Allow("ephemeral-key", time.Now())

	limiter.mu.Lock()
	_, exists := limiter.entries["ephemeral-key"]
	limiter.mu.Unlock()
	require.True(t, exists, "key should exist before cleanup")

	// Wait for cleanup to run (2x cleanup interval for the staleness check)
	time.Sleep(200 * time.Millisecond)

	limiter.mu.Lock()
	_, exists = limiter.entries["ephemeral-key"]
	limiter.mu.Unlock()
	assert.False(t, exists, "key should be cleaned up after inactivity")
}
