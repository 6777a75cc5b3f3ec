package taskmon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// JobMetrics are rolling aggregates for one job type.
type JobMetrics struct {
	JobType      string  `json:"job_type"`
	TotalCount   int64   `json:"total_count"`
	SuccessCount int64   `json:"success_count"`
	FailureCount int64   `json:"failure_count"`
	SuccessRate  float64 `json:"success_rate"`
	AvgDuration  float64 `json:"avg_duration_seconds"`
	MinDuration  float64 `json:"min_duration_seconds"`
	MaxDuration  float64 `json:"max_duration_seconds"`
}

const metricsTTL = 7 * 24 * time.Hour

func metricsKey(jobType string) string {
	return fmt.Sprintf("task_metrics:%s", jobType)
}

// MetricsCollector keeps per-job-type aggregates in Redis so every
// worker contributes to the same counters. Without Redis it degrades to
// process-local counters.
type MetricsCollector struct {
	rdb *redis.Client

	mu    sync.Mutex
	local map[string]*localMetrics
}

type localMetrics struct {
	total    int64
	success  int64
	failure  int64
	totalDur float64
	minDur   float64
	maxDur   float64
}

func NewMetricsCollector(rdb *redis.Client) *MetricsCollector {
	return &MetricsCollector{rdb: rdb, local: map[string]*localMetrics{}}
}

// RecordCompletion registers one finished step. Failures to write are
// swallowed; metrics must never break a pipeline run.
func (c *MetricsCollector) RecordCompletion(ctx context.Context, jobType string, duration time.Duration, success bool) {
	seconds := duration.Seconds()
	if c.rdb == nil {
		c.recordLocal(jobType, seconds, success)
		return
	}

	key := metricsKey(jobType)
	pipe := c.rdb.Pipeline()
	pipe.HIncrBy(ctx, key, "total_count", 1)
	if success {
		pipe.HIncrBy(ctx, key, "success_count", 1)
	} else {
		pipe.HIncrBy(ctx, key, "failure_count", 1)
	}
	pipe.HIncrByFloat(ctx, key, "total_duration", seconds)
	pipe.Expire(ctx, key, metricsTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		c.recordLocal(jobType, seconds, success)
		return
	}

	// min/max are read-modify-write; a lost race only shaves the extremes
	current, err := c.rdb.HGet(ctx, key, "max_duration").Float64()
	if err != nil || seconds > current {
		_ = c.rdb.HSet(ctx, key, "max_duration", seconds).Err()
	}
	current, err = c.rdb.HGet(ctx, key, "min_duration").Float64()
	if err != nil || seconds < current {
		_ = c.rdb.HSet(ctx, key, "min_duration", seconds).Err()
	}
}

func (c *MetricsCollector) recordLocal(jobType string, seconds float64, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.local[jobType]
	if !ok {
		m = &localMetrics{}
		c.local[jobType] = m
	}
	m.total++
	if success {
		m.success++
	} else {
		m.failure++
	}
	m.totalDur += seconds
	if seconds > m.maxDur {
		m.maxDur = seconds
	}
	if m.total == 1 || seconds < m.minDur {
		m.minDur = seconds
	}
}

// Metrics returns the aggregates for one job type, zeroed when nothing
// has been recorded.
func (c *MetricsCollector) Metrics(ctx context.Context, jobType string) JobMetrics {
	out := JobMetrics{JobType: jobType}
	if c.rdb != nil {
		fields, err := c.rdb.HGetAll(ctx, metricsKey(jobType)).Result()
		if err == nil && len(fields) > 0 {
			out.TotalCount = parseInt(fields["total_count"])
			out.SuccessCount = parseInt(fields["success_count"])
			out.FailureCount = parseInt(fields["failure_count"])
			totalDur := parseFloat(fields["total_duration"])
			out.MinDuration = parseFloat(fields["min_duration"])
			out.MaxDuration = parseFloat(fields["max_duration"])
			finalize(&out, totalDur)
			return out
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.local[jobType]; ok {
		out.TotalCount = m.total
		out.SuccessCount = m.success
		out.FailureCount = m.failure
		out.MinDuration = m.minDur
		out.MaxDuration = m.maxDur
		finalize(&out, m.totalDur)
	}
	return out
}

func finalize(m *JobMetrics, totalDur float64) {
	if m.TotalCount > 0 {
		m.AvgDuration = totalDur / float64(m.TotalCount)
		m.SuccessRate = float64(m.SuccessCount) / float64(m.TotalCount) * 100
	}
}

func parseInt(s string) int64 {
	var n int64
	_, _ = fmt.Sscanf(s, "%d", &n)
	return n
}

func parseFloat(s string) float64 {
	var f float64
	_, _ = fmt.Sscanf(s, "%g", &f)
	return f
}
