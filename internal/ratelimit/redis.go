package ratelimit

import (
	"context"
	"fmt"
	"gatekeeper/internal/models"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// connectTimeout bounds store construction, which pings the backend and
// warms the script cache before the store is handed to the engine.
const connectTimeout = 5 * time.Second

// RedisStore keeps buckets in Redis hashes and runs the token bucket step as
// a server-side script, so one round trip covers read, replenish, debit and
// TTL refresh.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis, verifies connectivity, and preloads the
// token bucket script. Construction fails if the backend is unreachable.
func NewRedisStore(cfg models.RedisConfig, prefix string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	if err := tokenBucket.Load(ctx, client).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to load token bucket script: %w", err)
	}

	return &RedisStore{
		client: client,
		prefix: prefix,
	}, nil
}

func (s *RedisStore) Check(ctx context.Context, key string, now time.Time, policy Policy) (bool, error) {
	res, err := tokenBucket.Run(ctx, s.client,
		[]string{s.prefix + key},
		epochSeconds(now),
		policy.Window.Seconds(),
		policy.MaxRequests,
		policy.Burst,
	).Int()
	if err != nil {
		return false, fmt.Errorf("token bucket check failed: %w", err)
	}
	return res == 1, nil
}

func (s *RedisStore) Tokens(ctx context.Context, key string, now time.Time, policy Policy) (float64, error) {
	val, err := s.client.HGet(ctx, s.prefix+key, "tokens").Result()
	if err == redis.Nil {
		// Key expired or never existed: a full bucket.
		return float64(policy.Capacity()), nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read bucket tokens: %w", err)
	}

	tokens, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt bucket tokens value %q: %w", val, err)
	}
	return tokens, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
