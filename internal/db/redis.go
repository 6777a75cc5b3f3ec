package db

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/enginelhq/enginel-backend/internal/logger"
	"github.com/enginelhq/enginel-backend/internal/utils"
)

// NewRedisClient connects to Redis when REDIS_ADDR is set. A nil client
// is a valid outcome; progress caching and shared metrics then degrade
// to process-local behavior.
func NewRedisClient(log *logger.Logger) *redis.Client {
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		log.Warn("REDIS_ADDR not set; progress cache and shared metrics disabled")
		return nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    os.Getenv("REDIS_PASSWORD"),
		DB:          utils.GetEnvAsInt("REDIS_DB", 0, log),
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("Redis ping failed; continuing anyway", "addr", addr, "error", err)
	}
	return rdb
}
