package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/enginelhq/enginel-backend/internal/logger"
	"github.com/enginelhq/enginel-backend/internal/pipeline"
)

const progressTTL = time.Hour

// RedisProgressSink publishes pipeline progress snapshots to Redis
// where the task monitor picks them up. Publishing is fire-and-forget;
// a dropped snapshot only delays the next poll.
type RedisProgressSink struct {
	log *logger.Logger
	rdb *redis.Client
}

func NewRedisProgressSink(log *logger.Logger, rdb *redis.Client) *RedisProgressSink {
	return &RedisProgressSink{log: log.With("service", "ProgressSink"), rdb: rdb}
}

type progressSnapshot struct {
	pipeline.Progress
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *RedisProgressSink) Publish(ctx context.Context, taskID string, p pipeline.Progress) {
	if s == nil || s.rdb == nil || taskID == "" {
		return
	}
	raw, err := json.Marshal(progressSnapshot{Progress: p, UpdatedAt: time.Now()})
	if err != nil {
		return
	}
	key := fmt.Sprintf("task_progress:%s", taskID)
	if err := s.rdb.Set(ctx, key, raw, progressTTL).Err(); err != nil {
		s.log.Debug("Failed to publish progress", "task_id", taskID, "error", err)
	}
}
