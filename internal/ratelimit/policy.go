// Package ratelimit implements per-user, per-endpoint admission control
// using the token bucket algorithm. Buckets live in a shared remote store so
// that every service instance drains the same budget; when the store becomes
// unreachable the engine degrades to per-instance local buckets sized to the
// instance's share of the fleet-wide capacity.
package ratelimit

import "time"

// Policy describes the token bucket applied to one route: a steady-state
// budget of MaxRequests per Window plus a Burst allowance on top.
type Policy struct {
	Window      time.Duration
	MaxRequests int
	Burst       int
}

// Capacity returns the bucket ceiling, steady-state budget plus burst.
func (p Policy) Capacity() int {
	return p.MaxRequests + p.Burst
}

// ReplenishRate returns the refill rate in tokens per second.
func (p Policy) ReplenishRate() float64 {
	return float64(p.MaxRequests) / p.Window.Seconds()
}

// Resolver maps request routes to policies. Routes without an explicit
// override share the default policy.
type Resolver struct {
	defaultPolicy Policy
	routes        map[string]Policy
}

// NewResolver builds a resolver from the default policy and per-route
// overrides. Zero fields in an override inherit from the default, so an
// override may set only max requests and burst and pick up the shared window.
func NewResolver(defaultPolicy Policy, overrides map[string]Policy) *Resolver {
	routes := make(map[string]Policy, len(overrides))
	for route, override := range overrides {
		routes[route] = mergePolicy(defaultPolicy, override)
	}
	return &Resolver{
		defaultPolicy: defaultPolicy,
		routes:        routes,
	}
}

// Resolve returns the policy for the given route path.
func (r *Resolver) Resolve(route string) Policy {
	if p, ok := r.routes[route]; ok {
		return p
	}
	return r.defaultPolicy
}

// DefaultPolicy returns the policy applied to routes without an override.
func (r *Resolver) DefaultPolicy() Policy {
	return r.defaultPolicy
}

func mergePolicy(def, override Policy) Policy {
	if override.Window == 0 {
		override.Window = def.Window
	}
	if override.MaxRequests == 0 {
		override.MaxRequests = def.MaxRequests
	}
	if override.Burst == 0 {
		override.Burst = def.Burst
	}
	return override
}
