package ratelimit

import (
	"fmt"
	"gatekeeper/internal/models"
)

// NewStore instantiates a bucket store based on the provided configuration.
// Supported backends:
//   - redis: Redis-backed buckets with an atomic Lua check (production default)
//   - postgres: PostgreSQL-backed buckets with a single-statement check
//
// Construction includes a connectivity probe, so an unreachable backend
// surfaces here rather than on the first request.
func NewStore(cfg models.StoreConfig) (BucketStore, error) {
	switch cfg.Type {
	case models.StoreTypeRedis:
		return NewRedisStore(cfg.Redis, cfg.KeyPrefix)
	case models.StoreTypePostgres:
		return NewPostgresStore(cfg.Postgres, cfg.KeyPrefix)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", cfg.Type)
	}
}
