package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Health pings the process's backing stores.
type Health struct {
	pool  *pgxpool.Pool
	redis *redis.Client
}

func NewHealth(pool *pgxpool.Pool, rdb *redis.Client) *Health {
	return &Health{pool: pool, redis: rdb}
}

// Check returns "ok" or the error text per dependency, and whether all are ok.
func (h *Health) Check(ctx context.Context) (map[string]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status := map[string]string{"postgres": "ok", "redis": "ok"}
	healthy := true
	if err := h.pool.Ping(ctx); err != nil {
		status["postgres"] = err.Error()
		healthy = false
	}
	if err := h.redis.Ping(ctx).Err(); err != nil {
		status["redis"] = err.Error()
		healthy = false
	}
	return status, healthy
}
