package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// fallbackEntry holds a per-key limiter and its last access time for cleanup.
type fallbackEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// FallbackLimiter is an in-process token bucket backed by golang.org/x/time/rate,
// used when the shared store is unavailable. Because every instance admits
// requests independently while degraded, the policy's capacity and refill rate
// are divided by the instance count so the fleet-wide admission rate stays
// near the configured policy. A background goroutine periodically evicts
// entries that have not been accessed within 2x the cleanup interval.
type FallbackLimiter struct {
	limit           rate.Limit
	capacity        int
	cleanupInterval time.Duration

	mu      sync.Mutex
	entries map[string]*fallbackEntry
	done    chan struct{}
	closed  bool
}

// NewFallbackLimiter creates a local limiter enforcing the given policy's
// per-instance share. Shares use integer division, so a policy smaller than
// the instance count rounds to zero and the limiter denies everything.
// A cleanupInterval of zero disables background eviction.
func NewFallbackLimiter(policy Policy, instances int, cleanupInterval time.Duration) *FallbackLimiter {
	if instances < 1 {
		instances = 1
	}
	maxShare := policy.MaxRequests / instances
	burstShare := policy.Burst / instances

	f := &FallbackLimiter{
		limit:           rate.Limit(float64(maxShare) / policy.Window.Seconds()),
		capacity:        maxShare + burstShare,
		cleanupInterval: cleanupInterval,
		entries:         make(map[string]*fallbackEntry),
		done:            make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go f.cleanup()
	}
	return f
}

// Capacity returns the per-instance bucket size.
func (f *FallbackLimiter) Capacity() int {
	return f.capacity
}

// Allow checks whether a request from the given key should be admitted at
// the given time, and reports the tokens remaining after the decision.
func (f *FallbackLimiter) Allow(key string, now time.Time) (bool, float64) {
	if f.limit <= 0 {
		return false, 0
	}

	f.mu.Lock()
	e, exists := f.entries[key]
	if !exists {
		e = &fallbackEntry{
			limiter: rate.NewLimiter(f.limit, f.capacity),
		}
		f.entries[key] = e
	}
	e.lastSeen = now
	f.mu.Unlock()

	allowed := e.limiter.AllowN(now, 1)
	remaining := math.Max(0, e.limiter.TokensAt(now))
	return allowed, remaining
}

// Close stops the background cleanup goroutine.
func (f *FallbackLimiter) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.done)
	}
}

// cleanup periodically evicts entries that have not been accessed within
// 2x the cleanup interval.
func (f *FallbackLimiter) cleanup() {
	ticker := time.NewTicker(f.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			f.evictStale()
		}
	}
}

// evictStale removes entries older than 2x the cleanup interval.
func (f *FallbackLimiter) evictStale() {
	cutoff := time.Now().Add(-2 * f.cleanupInterval)
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, e := range f.entries {
		if e.lastSeen.Before(cutoff) {
			delete(f.entries, key)
		}
	}
}
