package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"gatekeeper/internal/models"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createBucketsTable = `
CREATE TABLE IF NOT EXISTS rate_limit_buckets (
	key         TEXT PRIMARY KEY,
	tokens      DOUBLE PRECISION NOT NULL,
	last_update DOUBLE PRECISION NOT NULL,
	expires_at  DOUBLE PRECISION NOT NULL
)`

// checkBucketSQL performs the whole token bucket step in one statement so
// concurrent checks for the same key serialize on the row. Parameters:
//
//	$1 = bucket key
//	$2 = max requests per window
//	$3 = burst allowance
//	$4 = now (unix seconds, fractional)
//	$5 = window in seconds
//
// A fresh key inserts a full bucket minus the admitted token. An existing
// row past its expiry is treated as fresh, mirroring a TTL eviction. Anything
// else replenishes by elapsed time, capped at capacity, and admits only when
// a whole token is available; the WHERE clause turns a denial into zero
// updated rows so denied requests never modify state.
const checkBucketSQL = `
INSERT INTO rate_limit_buckets AS b (key, tokens, last_update, expires_at)
VALUES ($1, $2 + $3 - 1, $4, $4 + $5)
ON CONFLICT (key) DO UPDATE
SET tokens = CASE
		WHEN b.expires_at <= $4 THEN $2 + $3 - 1
		ELSE LEAST($2 + $3, b.tokens + GREATEST($4 - b.last_update, 0) * ($2 / $5)) - 1
	END,
	last_update = $4,
	expires_at  = $4 + $5
WHERE b.expires_at <= $4
   OR LEAST($2 + $3, b.tokens + GREATEST($4 - b.last_update, 0) * ($2 / $5)) >= 1
RETURNING tokens`

const readBucketSQL = `
SELECT tokens, expires_at FROM rate_limit_buckets WHERE key = $1`

const sweepBucketsSQL = `
DELETE FROM rate_limit_buckets WHERE expires_at <= $1`

// PostgresStore keeps buckets in a single Postgres table. Postgres has no
// key TTL, so rows carry an expires_at stamp honored by reads and reaped by
// a background sweeper.
type PostgresStore struct {
	pool   *pgxpool.Pool
	prefix string

	done   chan struct{}
	closed bool
}

// NewPostgresStore connects to Postgres, verifies connectivity, ensures the
// bucket table exists, and starts the expiry sweeper. Construction fails if
// the backend is unreachable.
func NewPostgresStore(cfg models.PostgresConfig, prefix string) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("connection string is required for postgres store")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, createBucketsTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure bucket table: %w", err)
	}

	s := &PostgresStore{
		pool:   pool,
		prefix: prefix,
		done:   make(chan struct{}),
	}

	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = time.Minute
	}
	go s.sweep(interval)

	return s, nil
}

func (s *PostgresStore) Check(ctx context.Context, key string, now time.Time, policy Policy) (bool, error) {
	if policy.Capacity() < 1 {
		// The upsert would otherwise insert a fresh bucket for a policy
		// that can never admit anything.
		return false, nil
	}

	var tokens float64
	err := s.pool.QueryRow(ctx, checkBucketSQL,
		s.prefix+key,
		float64(policy.MaxRequests),
		float64(policy.Burst),
		epochSeconds(now),
		policy.Window.Seconds(),
	).Scan(&tokens)
	if errors.Is(err, pgx.ErrNoRows) {
		// The conditional update matched nothing: not enough tokens.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("token bucket check failed: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) Tokens(ctx context.Context, key string, now time.Time, policy Policy) (float64, error) {
	var tokens, expiresAt float64
	err := s.pool.QueryRow(ctx, readBucketSQL, s.prefix+key).Scan(&tokens, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return float64(policy.Capacity()), nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read bucket tokens: %w", err)
	}
	if expiresAt <= epochSeconds(now) {
		// Expired but not yet swept: reads treat it as a full bucket.
		return float64(policy.Capacity()), nil
	}
	return tokens, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close stops the expiry sweeper and releases the connection pool.
func (s *PostgresStore) Close() error {
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	s.pool.Close()
	return nil
}

// sweep periodically deletes rows past their expiry stamp.
func (s *PostgresStore) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
			tag, err := s.pool.Exec(ctx, sweepBucketsSQL, epochSeconds(time.Now()))
			cancel()
			if err != nil {
				slog.Debug("Bucket sweep failed", "error", err)
				continue
			}
			if tag.RowsAffected() > 0 {
				slog.Debug("Swept expired buckets", "rows", tag.RowsAffected())
			}
		}
	}
}
