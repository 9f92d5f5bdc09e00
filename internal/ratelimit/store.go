package ratelimit

import (
	"context"
	"time"
)

// BucketKey composes the canonical bucket identity for one user on one route.
// Distinct users never share a bucket, and one user's routes are independent.
func BucketKey(user, route string) string {
	return user + ":" + route
}

// BucketStore is the shared remote bucket backend. Implementations must make
// Check atomic: concurrent calls for the same key may never double-spend a
// token. All implementations must be safe for concurrent use.
type BucketStore interface {
	// Check runs one token bucket step for key under the given policy:
	// replenish by elapsed time, then debit a single token if at least one
	// whole token is available. State is only persisted on admission; a
	// denied request leaves the stored bucket untouched.
	Check(ctx context.Context, key string, now time.Time, policy Policy) (bool, error)

	// Tokens reports the advisory tokens-remaining for key. The read is
	// deliberately separate from Check and non-atomic; a missing key reports
	// a full bucket.
	Tokens(ctx context.Context, key string, now time.Time, policy Policy) (float64, error)

	// Ping verifies connectivity to the backing store.
	Ping(ctx context.Context) error

	// Close releases connections and stops background work.
	Close() error
}

// epochSeconds converts t to floating-point seconds since the Unix epoch,
// the time format bucket state is stored in.
func epochSeconds(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}
