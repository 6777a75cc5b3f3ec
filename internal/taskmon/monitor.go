// Package taskmon reports on processing runs: live status, cached
// progress, cancellation, rolling metrics and failure analysis.
package taskmon

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/workflowservice/v1"

	"github.com/enginelhq/enginel-backend/internal/logger"
	"github.com/enginelhq/enginel-backend/internal/pipeline"
	"github.com/enginelhq/enginel-backend/internal/repos"
	"github.com/enginelhq/enginel-backend/internal/types"
)

// Task states reported to clients.
const (
	StatePending  = "PENDING"
	StateStarted  = "STARTED"
	StateProgress = "PROGRESS"
	StateSuccess  = "SUCCESS"
	StateFailure  = "FAILURE"
	StateRetry    = "RETRY"
	StateRevoked  = "REVOKED"
)

// WorkflowController is the slice of the Temporal client the monitor
// needs; the SDK client satisfies it.
type WorkflowController interface {
	DescribeWorkflowExecution(ctx context.Context, workflowID, runID string) (*workflowservice.DescribeWorkflowExecutionResponse, error)
	CancelWorkflow(ctx context.Context, workflowID, runID string) error
	TerminateWorkflow(ctx context.Context, workflowID, runID string, reason string, details ...interface{}) error
}

// TaskStatus is one snapshot of a processing run as seen from outside.
type TaskStatus struct {
	TaskID  string `json:"task_id"`
	State   string `json:"state"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Percent int    `json:"percent"`
	Error   string `json:"error,omitempty"`

	JobID     string `json:"job_id,omitempty"`
	JobType   string `json:"job_type,omitempty"`
	JobStatus string `json:"job_status,omitempty"`
	AssetID   string `json:"asset_id,omitempty"`
}

func (s TaskStatus) terminal() bool {
	return s.State == StateSuccess || s.State == StateFailure || s.State == StateRevoked
}

// RunCanceller stops runs executing in this process rather than on a
// workflow engine.
type RunCanceller interface {
	CancelRun(taskID string) bool
}

type Monitor struct {
	wf      WorkflowController
	rdb     *redis.Client
	jobs    repos.AnalysisJobRepo
	assets  repos.DesignAssetRepo
	runs    RunCanceller
	metrics *MetricsCollector
	log     *logger.Logger
}

// NewMonitor wires the monitor. Both the workflow controller and redis
// may be nil; the monitor then answers from the database alone.
func NewMonitor(wf WorkflowController, rdb *redis.Client, jobs repos.AnalysisJobRepo, assets repos.DesignAssetRepo, baseLog *logger.Logger) *Monitor {
	return &Monitor{
		wf:      wf,
		rdb:     rdb,
		jobs:    jobs,
		assets:  assets,
		metrics: NewMetricsCollector(rdb),
		log:     baseLog.With("component", "TaskMonitor"),
	}
}

// AttachRunCanceller lets Cancel reach in-process fallback runs; call
// it when no workflow controller is configured.
func (m *Monitor) AttachRunCanceller(runs RunCanceller) {
	m.runs = runs
}

func statusCacheKey(taskID string) string { return fmt.Sprintf("task_status:%s", taskID) }

func progressCacheKey(taskID string) string { return fmt.Sprintf("task_progress:%s", taskID) }

// GetStatus resolves the current state of a task. Terminal states come
// from cache when possible; live states combine the workflow execution
// status, the cached progress snapshot and the newest job row.
func (m *Monitor) GetStatus(ctx context.Context, taskID string) (TaskStatus, error) {
	if cached, ok := m.cachedStatus(ctx, taskID); ok && cached.terminal() {
		return cached, nil
	}

	status := TaskStatus{TaskID: taskID, State: StatePending, Total: 100}

	if progress, ok := m.GetProgress(ctx, taskID); ok {
		status.State = StateProgress
		status.Current = progress.Current
		status.Total = progress.Total
		status.Percent = progress.Percent
	}

	if m.wf != nil {
		resp, err := m.wf.DescribeWorkflowExecution(ctx, taskID, "")
		if err == nil && resp.GetWorkflowExecutionInfo() != nil {
			if mapped := mapExecutionStatus(resp.GetWorkflowExecutionInfo().GetStatus()); mapped != "" {
				if !(mapped == StateStarted && status.State == StateProgress) {
					status.State = mapped
				}
			}
		}
	}

	job, err := m.jobs.GetByTaskID(ctx, nil, taskID)
	if err != nil {
		return status, err
	}
	if job != nil {
		status.JobID = job.ID.String()
		status.JobType = job.JobType
		status.JobStatus = job.Status
		status.AssetID = job.AssetID.String()
		if job.ErrorMessage != "" {
			status.Error = job.ErrorMessage
		}
		// without a workflow controller the job row is authoritative
		if m.wf == nil {
			switch job.Status {
			case types.JobStatusSuccess:
				status.State = StateSuccess
			case types.JobStatusFailed:
				status.State = StateFailure
			case types.JobStatusCancelled:
				status.State = StateRevoked
			case types.JobStatusRetry:
				status.State = StateRetry
			case types.JobStatusRunning:
				if status.State == StatePending {
					status.State = StateStarted
				}
			}
		}
	}

	m.cacheStatus(ctx, status)
	return status, nil
}

func mapExecutionStatus(s enumspb.WorkflowExecutionStatus) string {
	switch s {
	case enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING, enumspb.WORKFLOW_EXECUTION_STATUS_CONTINUED_AS_NEW:
		return StateStarted
	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		return StateSuccess
	case enumspb.WORKFLOW_EXECUTION_STATUS_FAILED, enumspb.WORKFLOW_EXECUTION_STATUS_TIMED_OUT:
		return StateFailure
	case enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED, enumspb.WORKFLOW_EXECUTION_STATUS_TERMINATED:
		return StateRevoked
	default:
		return ""
	}
}

func (m *Monitor) cachedStatus(ctx context.Context, taskID string) (TaskStatus, bool) {
	if m.rdb == nil {
		return TaskStatus{}, false
	}
	raw, err := m.rdb.Get(ctx, statusCacheKey(taskID)).Bytes()
	if err != nil {
		return TaskStatus{}, false
	}
	var status TaskStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return TaskStatus{}, false
	}
	return status, true
}

func (m *Monitor) cacheStatus(ctx context.Context, status TaskStatus) {
	if m.rdb == nil {
		return
	}
	ttl := 10 * time.Minute
	if status.terminal() {
		ttl = time.Hour
	}
	raw, err := json.Marshal(status)
	if err != nil {
		return
	}
	_ = m.rdb.Set(ctx, statusCacheKey(status.TaskID), raw, ttl).Err()
}

// GetProgress reads the snapshot the pipeline published to Redis.
func (m *Monitor) GetProgress(ctx context.Context, taskID string) (pipeline.Progress, bool) {
	if m.rdb == nil {
		return pipeline.Progress{}, false
	}
	raw, err := m.rdb.Get(ctx, progressCacheKey(taskID)).Bytes()
	if err != nil {
		return pipeline.Progress{}, false
	}
	var p pipeline.Progress
	if err := json.Unmarshal(raw, &p); err != nil {
		return pipeline.Progress{}, false
	}
	return p, true
}

// taskAssetPattern matches the asset uuid embedded in a task id of the
// form <workflow>-<asset uuid>-<nanos>.
var taskAssetPattern = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

func assetIDFromTaskID(taskID string) (uuid.UUID, bool) {
	match := taskAssetPattern.FindString(taskID)
	if match == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(match)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// Cancel stops a running task. Cancellation is cooperative; terminate
// kills the workflow outright. Either way the open job row flips to
// CANCELLED and the asset fails with a fixed message. A run revoked
// before its first step has no job row yet; the asset id embedded in
// the task id still lets the asset settle instead of staying
// PROCESSING forever.
func (m *Monitor) Cancel(ctx context.Context, taskID string, terminate bool) error {
	if m.wf != nil {
		var err error
		if terminate {
			err = m.wf.TerminateWorkflow(ctx, taskID, "", "cancelled by user")
		} else {
			err = m.wf.CancelWorkflow(ctx, taskID, "")
		}
		if err != nil {
			return fmt.Errorf("cancel workflow %s: %w", taskID, err)
		}
	}
	if m.runs != nil {
		m.runs.CancelRun(taskID)
	}

	job, err := m.jobs.GetByTaskID(ctx, nil, taskID)
	if err != nil {
		return err
	}
	switch {
	case job != nil && !job.IsTerminal():
		now := time.Now()
		if err := m.jobs.UpdateFields(ctx, nil, job.ID, map[string]interface{}{
			"status":       types.JobStatusCancelled,
			"completed_at": now,
		}); err != nil {
			return err
		}
		if err := m.failAsset(ctx, job.AssetID); err != nil {
			return err
		}
	case job == nil:
		if assetID, ok := assetIDFromTaskID(taskID); ok {
			if err := m.failAsset(ctx, assetID); err != nil {
				return err
			}
		}
	}

	if m.rdb != nil {
		_ = m.rdb.Del(ctx, statusCacheKey(taskID), progressCacheKey(taskID)).Err()
	}
	m.log.Info("Cancelled task", "task_id", taskID, "terminate", terminate)
	return nil
}

// failAsset settles a still-active asset as FAILED; completed or
// already failed assets are left alone.
func (m *Monitor) failAsset(ctx context.Context, assetID uuid.UUID) error {
	asset, err := m.assets.GetByID(ctx, nil, assetID)
	if err != nil {
		return err
	}
	if asset == nil || asset.Status == types.AssetStatusCompleted || asset.Status == types.AssetStatusFailed {
		return nil
	}
	return m.assets.UpdateFields(ctx, nil, assetID, map[string]interface{}{
		"status":           types.AssetStatusFailed,
		"processing_error": "processing cancelled",
	})
}

// RecordCompletion feeds the metrics collector; the pipeline runner
// calls this after every step.
func (m *Monitor) RecordCompletion(ctx context.Context, jobType string, duration time.Duration, success bool) {
	m.metrics.RecordCompletion(ctx, jobType, duration, success)
}

// GetMetrics returns aggregates for one job type, or for every known
// type when jobType is empty.
func (m *Monitor) GetMetrics(ctx context.Context, jobType string) []JobMetrics {
	if jobType != "" {
		return []JobMetrics{m.metrics.Metrics(ctx, jobType)}
	}
	out := make([]JobMetrics, 0, len(types.JobTypes))
	for _, jt := range types.JobTypes {
		out = append(out, m.metrics.Metrics(ctx, jt))
	}
	return out
}

// TaskRecord is one row of recent task history.
type TaskRecord struct {
	JobID           string     `json:"job_id"`
	TaskID          string     `json:"task_id,omitempty"`
	JobType         string     `json:"job_type"`
	Status          string     `json:"status"`
	AssetID         string     `json:"asset_id"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds float64    `json:"duration_seconds,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// RecentJobs lists the newest job rows across all assets, optionally
// filtered to one status.
func (m *Monitor) RecentJobs(ctx context.Context, limit int, status string) ([]TaskRecord, error) {
	jobs, err := m.jobs.ListRecent(ctx, nil, limit, status)
	if err != nil {
		return nil, err
	}
	out := make([]TaskRecord, 0, len(jobs))
	for _, job := range jobs {
		record := TaskRecord{
			JobID:       job.ID.String(),
			TaskID:      job.TaskID,
			JobType:     job.JobType,
			Status:      job.Status,
			AssetID:     job.AssetID.String(),
			CreatedAt:   job.CreatedAt,
			StartedAt:   job.StartedAt,
			CompletedAt: job.CompletedAt,
			Error:       job.ErrorMessage,
		}
		if d := job.Duration(); d > 0 {
			record.DurationSeconds = d.Seconds()
		}
		out = append(out, record)
	}
	return out, nil
}

// FailureGroup aggregates failures of one job type.
type FailureGroup struct {
	Count  int      `json:"count"`
	Errors []string `json:"errors"`
}

type ErrorCount struct {
	Error string `json:"error"`
	Count int    `json:"count"`
}

type FailureAnalysis struct {
	TotalFailures  int                     `json:"total_failures"`
	FailuresByType map[string]FailureGroup `json:"failures_by_type"`
	TopErrors      []ErrorCount            `json:"top_errors"`
	PeriodDays     int                     `json:"period_days"`
	AnalyzedAt     time.Time               `json:"analyzed_at"`
}

// GetFailureAnalysis groups failed jobs from the last N days by type
// and by error message, truncated to 100 characters for grouping.
func (m *Monitor) GetFailureAnalysis(ctx context.Context, days int) (*FailureAnalysis, error) {
	if days <= 0 {
		days = 7
	}
	since := time.Now().AddDate(0, 0, -days)
	failed, err := m.jobs.ListFailedSince(ctx, nil, since)
	if err != nil {
		return nil, err
	}

	byType := map[string]FailureGroup{}
	errorCounts := map[string]int{}
	for _, job := range failed {
		group := byType[job.JobType]
		group.Count++
		if job.ErrorMessage != "" {
			group.Errors = append(group.Errors, job.ErrorMessage)
			errorCounts[truncateError(job.ErrorMessage)]++
		}
		byType[job.JobType] = group
	}

	top := make([]ErrorCount, 0, len(errorCounts))
	for msg, count := range errorCounts {
		top = append(top, ErrorCount{Error: msg, Count: count})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].Error < top[j].Error
	})
	if len(top) > 10 {
		top = top[:10]
	}

	return &FailureAnalysis{
		TotalFailures:  len(failed),
		FailuresByType: byType,
		TopErrors:      top,
		PeriodDays:     days,
		AnalyzedAt:     time.Now(),
	}, nil
}

func truncateError(msg string) string {
	if len(msg) > 100 {
		return msg[:100]
	}
	return msg
}
