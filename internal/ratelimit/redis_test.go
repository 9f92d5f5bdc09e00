package ratelimit

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"gatekeeper/internal/models"
)

func getRedisAddr(t *testing.T) string {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set, skipping Redis tests")
	}
	return addr
}

func newRedisTestStore(t *testing.T) *RedisStore {
	t.Helper()
	addr := getRedisAddr(t)
	// Unique prefix per run keeps test buckets from colliding.
	prefix := fmt.Sprintf("ratelimit-test:%d:", time.Now().UnixNano())
	s, err := NewRedisStore(models.RedisConfig{Addr: addr}, prefix)
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRedisStoreConnectionError(t *testing.T) {
	_, err := NewRedisStore(models.RedisConfig{Addr: "127.0.0.1:1"}, "test:")
	if err == nil {
		t.Error("expected error for unreachable redis")
	}
}

func TestRedisStoreCheckAdmitsUpToCapacity(t *testing.T) {
	s := newRedisTestStore(t)
	ctx := context.Background()
	policy := Policy{Window: time.Minute, MaxRequests: 3, Burst: 2}
	now := time.Now()

	for i := 0; i < 5; i++ {
		allowed, err := s.Check(ctx, "alice:/products", now, policy)
		if err != nil {
			t.Fatalf("Check failed: %v", err)
		}
		if !allowed {
			t.Fatalf("request %d should be admitted", i+1)
		}
	}

	allowed, err := s.Check(ctx, "alice:/products", now, policy)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if allowed {
		t.Error("request beyond capacity should be denied")
	}

	tokens, err := s.Tokens(ctx, "alice:/products", now, policy)
	if err != nil {
		t.Fatalf("Tokens failed: %v", err)
	}
	if tokens >= 1 {
		t.Errorf("expected fewer than 1 token remaining, got %v", tokens)
	}
}

func TestRedisStoreDenyLeavesBucketUntouched(t *testing.T) {
	s := newRedisTestStore(t)
	ctx := context.Background()
	policy := Policy{Window: time.Minute, MaxRequests: 1, Burst: 0}
	now := time.Now()

	if allowed, err := s.Check(ctx, "alice:/cart", now, policy); err != nil || !allowed {
		t.Fatalf("first request should be admitted, allowed=%v err=%v", allowed, err)
	}

	before, err := s.Tokens(ctx, "alice:/cart", now, policy)
	if err != nil {
		t.Fatalf("Tokens failed: %v", err)
	}

	// Two denials at the same instant must not change stored state.
	for i := 0; i < 2; i++ {
		if allowed, err := s.Check(ctx, "alice:/cart", now, policy); err != nil || allowed {
			t.Fatalf("request should be denied, allowed=%v err=%v", allowed, err)
		}
	}

	after, err := s.Tokens(ctx, "alice:/cart", now, policy)
	if err != nil {
		t.Fatalf("Tokens failed: %v", err)
	}
	if before != after {
		t.Errorf("denied requests changed stored tokens: before=%v after=%v", before, after)
	}
}

func TestRedisStoreReplenishesOverTime(t *testing.T) {
	s := newRedisTestStore(t)
	ctx := context.Background()
	// One token every 10 seconds.
	policy := Policy{Window: time.Minute, MaxRequests: 6, Burst: 0}
	now := time.Now()

	for i := 0; i < 6; i++ {
		if allowed, err := s.Check(ctx, "alice:/products", now, policy); err != nil || !allowed {
			t.Fatalf("request %d should be admitted, allowed=%v err=%v", i+1, allowed, err)
		}
	}
	if allowed, err := s.Check(ctx, "alice:/products", now, policy); err != nil || allowed {
		t.Fatalf("bucket should be empty, allowed=%v err=%v", allowed, err)
	}

	// 10 seconds later one token is back. Time is an argument, so no sleep.
	later := now.Add(10 * time.Second)
	if allowed, err := s.Check(ctx, "alice:/products", later, policy); err != nil || !allowed {
		t.Fatalf("one token should have replenished, allowed=%v err=%v", allowed, err)
	}
	if allowed, err := s.Check(ctx, "alice:/products", later, policy); err != nil || allowed {
		t.Fatalf("only one token should have replenished, allowed=%v err=%v", allowed, err)
	}
}

func TestRedisStoreTokensForMissingKey(t *testing.T) {
	s := newRedisTestStore(t)
	policy := Policy{Window: time.Minute, MaxRequests: 100, Burst: 20}

	tokens, err := s.Tokens(context.Background(), "never-seen:/products", time.Now(), policy)
	if err != nil {
		t.Fatalf("Tokens failed: %v", err)
	}
	if tokens != 120 {
		t.Errorf("missing key should report a full bucket, got %v", tokens)
	}
}

func TestRedisStoreDistinctKeysIndependent(t *testing.T) {
	s := newRedisTestStore(t)
	ctx := context.Background()
	policy := Policy{Window: time.Minute, MaxRequests: 1, Burst: 0}
	now := time.Now()

	if allowed, _ := s.Check(ctx, "alice:/products", now, policy); !allowed {
		t.Fatal("alice's first request should be admitted")
	}
	if allowed, _ := s.Check(ctx, "alice:/products", now, policy); allowed {
		t.Fatal("alice should be exhausted")
	}

	if allowed, _ := s.Check(ctx, "bob:/products", now, policy); !allowed {
		t.Error("bob's bucket is independent of alice's")
	}
	if allowed, _ := s.Check(ctx, "alice:/cart", now, policy); !allowed {
		t.Error("alice's routes draw from separate buckets")
	}
}

func TestRedisStorePing(t *testing.T) {
	s := newRedisTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}
