package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultStoreTimeout = 2 * time.Second

	// fallbackCleanupInterval bounds how long idle per-user buckets survive
	// in the local fallback maps.
	fallbackCleanupInterval = 5 * time.Minute
)

// Source identifies which bucket implementation produced a decision.
type Source string

const (
	SourceRemote   Source = "remote"
	SourceFallback Source = "fallback"
)

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed   bool
	Remaining float64
	Policy    Policy
	Source    Source
}

// Health reports the engine's view of the shared store.
type Health struct {
	StoreConfigured bool `json:"store_configured"`
	FallbackActive  bool `json:"fallback_active"`
}

// Engine decides whether requests are admitted. It prefers the shared bucket
// store so all instances draw from the same buckets; the first store failure
// switches it to local per-instance buckets for the remaining process
// lifetime. There is no transition back short of a restart.
type Engine struct {
	resolver      *Resolver
	store         BucketStore
	instanceCount int
	storeTimeout  time.Duration
	metrics       *Metrics
	now           func() time.Time

	fallbackActive atomic.Bool

	mu        sync.Mutex
	fallbacks map[string]*FallbackLimiter
}

// Option configures an Engine.
type Option func(*Engine)

// WithInstanceCount sets the number of service instances sharing the traffic,
// used to divide policy capacity across local fallback buckets.
func WithInstanceCount(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.instanceCount = n
		}
	}
}

// WithStoreTimeout bounds how long a single store operation may take before
// it counts as a failure.
func WithStoreTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.storeTimeout = d
		}
	}
}

// WithMetrics attaches admission metrics to the engine.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates an admission engine backed by the given store. A nil
// store, the result of a failed startup probe, starts the engine directly
// on local fallback buckets.
func NewEngine(resolver *Resolver, store BucketStore, opts ...Option) *Engine {
	e := &Engine{
		resolver:      resolver,
		store:         store,
		instanceCount: 1,
		storeTimeout:  defaultStoreTimeout,
		now:           time.Now,
		fallbacks:     make(map[string]*FallbackLimiter),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.store == nil {
		e.fallbackActive.Store(true)
	}
	return e
}

// Check runs one admission decision for a user on a route.
func (e *Engine) Check(ctx context.Context, user, route string) Decision {
	policy := e.resolver.Resolve(route)
	now := e.now()

	if !e.fallbackActive.Load() {
		decision, err := e.checkRemote(ctx, user, route, now, policy)
		if err == nil {
			e.metrics.RecordDecision(ctx, route, user, decision.Remaining)
			return decision
		}
		if ctx.Err() != nil {
			// The caller is gone, which says nothing about store health.
			// Deny without touching the fallback switch.
			return Decision{Allowed: false, Policy: policy, Source: SourceRemote}
		}
		e.metrics.RecordStoreFailure(ctx, "check")
		if e.fallbackActive.CompareAndSwap(false, true) {
			slog.Error("Bucket store unavailable, switching to local fallback buckets",
				"error", err,
				"route", route,
			)
		}
	}

	allowed, remaining := e.fallbackFor(route, policy).Allow(user, now)
	decision := Decision{Allowed: allowed, Remaining: remaining, Policy: policy, Source: SourceFallback}
	e.metrics.RecordDecision(ctx, route, user, decision.Remaining)
	return decision
}

// checkRemote runs the atomic store check plus an advisory token read.
func (e *Engine) checkRemote(ctx context.Context, user, route string, now time.Time, policy Policy) (Decision, error) {
	key := BucketKey(user, route)

	ctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()

	allowed, err := e.store.Check(ctx, key, now, policy)
	if err != nil {
		return Decision{}, err
	}

	remaining, err := e.store.Tokens(ctx, key, now, policy)
	if err != nil {
		// The admission decision already stands. Report a full bucket
		// rather than failing the request over an advisory read.
		e.metrics.RecordStoreFailure(ctx, "tokens")
		remaining = float64(policy.Capacity())
	}

	return Decision{Allowed: allowed, Remaining: remaining, Policy: policy, Source: SourceRemote}, nil
}

// fallbackFor returns the local limiter for a route, creating it on first use.
func (e *Engine) fallbackFor(route string, policy Policy) *FallbackLimiter {
	e.mu.Lock()
	defer e.mu.Unlock()
	f, ok := e.fallbacks[route]
	if !ok {
		f = NewFallbackLimiter(policy, e.instanceCount, fallbackCleanupInterval)
		e.fallbacks[route] = f
	}
	return f
}

// Health reports whether a store was configured and whether the engine has
// switched to local buckets.
func (e *Engine) Health() Health {
	return Health{
		StoreConfigured: e.store != nil,
		FallbackActive:  e.fallbackActive.Load(),
	}
}

// Resolver exposes the engine's policy resolver.
func (e *Engine) Resolver() *Resolver {
	return e.resolver
}

// Close releases the local fallback buckets. The bucket store is owned by
// the caller and is not closed here.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, f := range e.fallbacks {
		f.Close()
	}
}
