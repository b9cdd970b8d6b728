package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"graphpool/internal/adapter/httpapi"
	"graphpool/internal/adapter/stats"
	"graphpool/internal/config"
	"graphpool/internal/platform/pool"
	"graphpool/internal/shared"
)

// recorder is the pool event sink together with its read side for /stats.
type recorder struct {
	recorder pool.EventRecorder
	totals   httpapi.EventTotals
	close    func()
}

// newRecorder uses Redis when REDIS_ADDR is set and memory otherwise.
func newRecorder(ctx context.Context, cfg config.Config, log *slog.Logger) (*recorder, error) {
	if cfg.Redis.Addr == "" {
		mem := stats.NewMemoryRecorder()
		log.Info("pool events counted in memory")
		return &recorder{recorder: mem, totals: mem, close: func() {}}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	rec := stats.NewRedisRecorder(rdb,
		stats.WithPrefix(cfg.Redis.Prefix),
		stats.WithTTL(cfg.Redis.TTL),
	)
	if err := rec.Ping(ctx); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%w: redis %s: %w", shared.ErrDependencyFailure, cfg.Redis.Addr, err)
	}

	log.Info("pool events recorded in redis", "addr", cfg.Redis.Addr, "prefix", cfg.Redis.Prefix)
	return &recorder{
		recorder: rec,
		totals:   rec,
		close: func() {
			if err := rdb.Close(); err != nil {
				log.Warn("failed to close redis client", "error", err)
			}
		},
	}, nil
}
