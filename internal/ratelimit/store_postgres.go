package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSchema creates the fixed-window bucket table. Applied at
// startup alongside the domain schemas.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS rate_limit_buckets (
    bucket_key   TEXT PRIMARY KEY,
    window_start TIMESTAMPTZ NOT NULL,
    count        BIGINT NOT NULL
);`

// PostgresStore counts requests in fixed windows with a single upsert,
// so the accounting is shared across instances in deployments without
// Redis. The hot path is one round trip on a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	windowStart := time.Now().Truncate(window)

	// A bucket from an earlier window restarts at 1; the comparison and
	// the increment happen inside the one statement, so concurrent
	// checks never lose counts.
	var count int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO rate_limit_buckets (bucket_key, window_start, count)
		VALUES ($1, $2, 1)
		ON CONFLICT (bucket_key) DO UPDATE SET
			count = CASE
				WHEN rate_limit_buckets.window_start = EXCLUDED.window_start
				THEN rate_limit_buckets.count + 1
				ELSE 1
			END,
			window_start = EXCLUDED.window_start
		RETURNING count`, key, windowStart).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("rate limit upsert: %w", err)
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	resetAt := windowStart.Add(window)
	retryAfter := int(time.Until(resetAt) / time.Second)
	if retryAfter < 0 {
		retryAfter = 0
	}
	return &Result{
		Allowed:    int(count) <= limit,
		Limit:      limit,
		Remaining:  remaining,
		ResetAt:    resetAt,
		RetryAfter: retryAfter,
	}, nil
}
