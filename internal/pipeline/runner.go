// Package pipeline runs the processing steps that turn an uploaded CAD
// file into hashes, metadata, previews, a validation report, a BOM tree
// and normalized units.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/enginelhq/enginel-backend/internal/bom"
	"github.com/enginelhq/enginel-backend/internal/geometry"
	"github.com/enginelhq/enginel-backend/internal/logger"
	"github.com/enginelhq/enginel-backend/internal/repos"
	"github.com/enginelhq/enginel-backend/internal/types"
)

// ObjectStore is the slice of blob storage the pipeline needs.
type ObjectStore interface {
	DownloadFile(ctx context.Context, key string) ([]byte, error)
	UploadFile(ctx context.Context, key string, data []byte, contentType string) error
}

// MetricsRecorder collects per-step outcomes for the monitoring layer.
type MetricsRecorder interface {
	RecordCompletion(ctx context.Context, jobType string, duration time.Duration, success bool)
}

type nopMetrics struct{}

func (nopMetrics) RecordCompletion(ctx context.Context, jobType string, duration time.Duration, success bool) {
}

// totalSteps counts the user-visible pipeline stages, including the
// final bookkeeping stage that has no job row of its own.
const totalSteps = 7

const cancelledMessage = "processing cancelled"

type Config struct {
	Assets   repos.DesignAssetRepo
	Jobs     repos.AnalysisJobRepo
	Nodes    repos.AssemblyNodeRepo
	BOM      *bom.Builder
	Kernel   geometry.Kernel
	Store    ObjectStore
	Progress ProgressSink
	Metrics  MetricsRecorder
	Retry    RetryPolicy
	Log      *logger.Logger

	// SlowStepWarning is the duration past which a step is logged as
	// slow. Zero means the 30s default.
	SlowStepWarning time.Duration

	// Sleep is swappable for tests; nil means a context-aware sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

type Runner struct {
	cfg Config
	log *logger.Logger
}

func NewRunner(cfg Config) *Runner {
	if cfg.Progress == nil {
		cfg.Progress = NopProgress()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.SlowStepWarning <= 0 {
		cfg.SlowStepWarning = 30 * time.Second
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}
	return &Runner{cfg: cfg, log: cfg.Log.With("component", "PipelineRunner")}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// runState carries per-run working data between steps.
type runState struct {
	asset       *types.DesignAsset
	taskID      string
	scratchPath string
	processor   *geometry.Processor
	components  []geometry.Component
}

// ProcessAsset runs the whole pipeline for one asset, retrying failed
// runs per the retry policy. It is the single entry point a workflow
// executes; when it returns, the asset is COMPLETED or FAILED.
func (r *Runner) ProcessAsset(ctx context.Context, assetID uuid.UUID, taskID string) error {
	asset, err := r.cfg.Assets.GetByID(ctx, nil, assetID)
	if err != nil {
		return fmt.Errorf("load asset: %w", err)
	}
	if asset == nil {
		return fmt.Errorf("asset %s not found", assetID)
	}

	log := r.log.With("asset_id", assetID, "task_id", taskID)
	log.Info("Starting processing run", "filename", asset.Filename)

	if err := r.cfg.Assets.UpdateFields(ctx, nil, asset.ID, map[string]interface{}{
		"status":           types.AssetStatusProcessing,
		"processing_error": "",
	}); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < r.cfg.Retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := r.cfg.Retry.Delay(attempt - 1)
			log.Warn("Retrying processing run", "attempt", attempt+1, "delay", delay)
			if err := r.cfg.Sleep(ctx, delay); err != nil {
				return r.markCancelled(asset, taskID)
			}
		}

		lastErr = r.runOnce(ctx, asset, taskID, attempt)
		if lastErr == nil {
			return nil
		}
		if isCancelled(lastErr) {
			return r.markCancelled(asset, taskID)
		}
		log.Error("Processing run failed", "attempt", attempt+1, "error", lastErr)
	}

	// retries exhausted
	_ = r.cfg.Assets.UpdateFields(context.WithoutCancel(ctx), nil, asset.ID, map[string]interface{}{
		"status":           types.AssetStatusFailed,
		"processing_error": lastErr.Error(),
	})
	r.cfg.Progress.Publish(context.WithoutCancel(ctx), taskID, newProgress(0, totalSteps, types.JobStatusFailed, "Processing failed"))
	return lastErr
}

func isCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// markCancelled records the cancellation outcome: the asset fails with
// a fixed message and any job still open for the task flips to
// CANCELLED. The background context matters, the run's own context is
// already dead.
func (r *Runner) markCancelled(asset *types.DesignAsset, taskID string) error {
	ctx := context.Background()
	if job, err := r.cfg.Jobs.GetByTaskID(ctx, nil, taskID); err == nil && job != nil && !job.IsTerminal() {
		now := time.Now()
		_ = r.cfg.Jobs.UpdateFields(ctx, nil, job.ID, map[string]interface{}{
			"status":       types.JobStatusCancelled,
			"completed_at": now,
		})
	}
	_ = r.cfg.Assets.UpdateFields(ctx, nil, asset.ID, map[string]interface{}{
		"status":           types.AssetStatusFailed,
		"processing_error": cancelledMessage,
	})
	r.cfg.Progress.Publish(ctx, taskID, newProgress(0, totalSteps, types.JobStatusCancelled, cancelledMessage))
	r.log.Warn("Processing run cancelled", "asset_id", asset.ID, "task_id", taskID)
	return context.Canceled
}

type step struct {
	jobType string
	// message is the human-readable phrase shown in progress snapshots.
	message string
	// fatal steps abort the run on error; the rest log and move on.
	fatal bool
	run   func(ctx context.Context, st *runState) (map[string]interface{}, error)
}

func (r *Runner) steps() []step {
	return []step{
		{jobType: types.JobTypeHashCalculation, message: "Calculating content hash", fatal: true, run: r.stepHash},
		{jobType: types.JobTypeGeometryExtraction, message: "Extracting geometry metadata", fatal: true, run: r.stepGeometry},
		{jobType: types.JobTypePreviewGeneration, message: "Generating preview", fatal: false, run: r.stepPreview},
		{jobType: types.JobTypeValidation, message: "Running design rule checks", fatal: true, run: r.stepValidation},
		{jobType: types.JobTypeBOMParsing, message: "Extracting bill of materials", fatal: false, run: r.stepBOM},
		{jobType: types.JobTypeUnitConversion, message: "Normalizing units", fatal: false, run: r.stepNormalizeUnits},
	}
}

func (r *Runner) runOnce(ctx context.Context, asset *types.DesignAsset, taskID string, attempt int) error {
	st := &runState{asset: asset, taskID: taskID}
	defer func() {
		if st.scratchPath != "" {
			_ = os.Remove(st.scratchPath)
		}
	}()

	steps := r.steps()
	for i, s := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.cfg.Progress.Publish(ctx, taskID, newProgress(i, totalSteps, types.JobStatusRunning, s.message))
		err := r.runStep(ctx, st, s, attempt)
		if err != nil {
			if isCancelled(err) {
				return err
			}
			if s.fatal {
				return fmt.Errorf("%s: %w", s.jobType, err)
			}
			r.log.Warn("Best-effort step failed, continuing",
				"asset_id", asset.ID, "step", s.jobType, "error", err)
		}
		r.cfg.Progress.Publish(ctx, taskID, newProgress(i+1, totalSteps, types.JobStatusRunning, s.message))
	}

	r.cfg.Progress.Publish(ctx, taskID, newProgress(totalSteps-1, totalSteps, types.JobStatusRunning, "Finalizing"))
	now := time.Now()
	if err := r.cfg.Assets.UpdateFields(ctx, nil, asset.ID, map[string]interface{}{
		"status":           types.AssetStatusCompleted,
		"processing_error": "",
		"processed_at":     now,
	}); err != nil {
		return fmt.Errorf("finalize asset: %w", err)
	}
	r.cfg.Progress.Publish(ctx, taskID, newProgress(totalSteps, totalSteps, types.JobStatusSuccess, "Processing complete"))
	r.log.Info("Processing run completed", "asset_id", asset.ID, "attempts", attempt+1)
	return nil
}

// runStep wraps one step in its job row lifecycle and metrics.
func (r *Runner) runStep(ctx context.Context, st *runState, s step, attempt int) error {
	job, err := r.cfg.Jobs.Create(ctx, nil, &types.AnalysisJob{
		AssetID: st.asset.ID,
		JobType: s.jobType,
		TaskID:  st.taskID,
	})
	if err != nil {
		return fmt.Errorf("create job row: %w", err)
	}

	started := time.Now()
	if err := r.cfg.Jobs.UpdateFields(ctx, nil, job.ID, map[string]interface{}{
		"status":     types.JobStatusRunning,
		"started_at": started,
	}); err != nil {
		return fmt.Errorf("start job row: %w", err)
	}

	result, runErr := s.run(ctx, st)
	finished := time.Now()
	duration := finished.Sub(started)

	if duration > r.cfg.SlowStepWarning {
		r.log.Warn("Slow pipeline step",
			"asset_id", st.asset.ID, "step", s.jobType, "duration", duration)
	}
	r.cfg.Metrics.RecordCompletion(context.WithoutCancel(ctx), s.jobType, duration, runErr == nil)

	writeCtx := context.WithoutCancel(ctx)
	if runErr != nil {
		status := types.JobStatusFailed
		if isCancelled(runErr) {
			status = types.JobStatusCancelled
		} else if s.fatal && attempt+1 < r.cfg.Retry.MaxAttempts {
			status = types.JobStatusRetry
		}
		_ = r.cfg.Jobs.UpdateFields(writeCtx, nil, job.ID, map[string]interface{}{
			"status":        status,
			"error_message": runErr.Error(),
			"completed_at":  finished,
		})
		return runErr
	}

	updates := map[string]interface{}{
		"status":       types.JobStatusSuccess,
		"completed_at": finished,
	}
	if result != nil {
		if encoded, err := encodeResult(result); err == nil {
			updates["result"] = encoded
		}
	}
	if err := r.cfg.Jobs.UpdateFields(writeCtx, nil, job.ID, updates); err != nil {
		return fmt.Errorf("finish job row: %w", err)
	}
	return nil
}

// scratchFile materializes the stored object on local disk, keeping the
// original extension so format detection still works.
func (r *Runner) scratchFile(ctx context.Context, st *runState) (string, error) {
	if st.scratchPath != "" {
		return st.scratchPath, nil
	}
	data, err := r.cfg.Store.DownloadFile(ctx, st.asset.StorageKey)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", st.asset.StorageKey, err)
	}
	f, err := os.CreateTemp("", "asset-*"+filepath.Ext(st.asset.Filename))
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	st.scratchPath = f.Name()
	return st.scratchPath, nil
}
