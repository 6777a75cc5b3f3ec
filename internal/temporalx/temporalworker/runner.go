// Package temporalworker hosts the worker process that polls the task
// queue and executes asset workflows.
package temporalworker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/enginelhq/enginel-backend/internal/logger"
	"github.com/enginelhq/enginel-backend/internal/pipeline"
	"github.com/enginelhq/enginel-backend/internal/temporalx"
	"github.com/enginelhq/enginel-backend/internal/temporalx/assetrun"
	"github.com/enginelhq/enginel-backend/internal/utils"
)

type Runner struct {
	log      *logger.Logger
	tc       temporalsdkclient.Client
	pipeline *pipeline.Runner
}

func NewRunner(log *logger.Logger, tc temporalsdkclient.Client, pipelineRunner *pipeline.Runner) (*Runner, error) {
	if tc == nil {
		return nil, fmt.Errorf("temporal client is not configured")
	}
	if pipelineRunner == nil {
		return nil, fmt.Errorf("temporal worker missing pipeline runner")
	}
	return &Runner{log: log, tc: tc, pipeline: pipelineRunner}, nil
}

// Start brings the worker up with retry and stops it when ctx ends.
func (r *Runner) Start(ctx context.Context) error {
	if r == nil || r.tc == nil {
		return fmt.Errorf("temporal worker not initialized")
	}
	cfg := temporalx.LoadConfig()
	if r.log != nil {
		r.log.Info("Starting Temporal worker", "address", cfg.Address, "namespace", cfg.Namespace, "task_queue", cfg.TaskQueue)
	}

	maxWait := 60 * time.Second
	deadline := time.Now().Add(maxWait)
	backoff := 250 * time.Millisecond

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		w := r.newWorker(cfg)
		startErr := w.Start()
		if startErr == nil {
			go func() {
				<-ctx.Done()
				w.Stop()
			}()
			if r.log != nil {
				r.log.Info("Temporal worker started", "namespace", cfg.Namespace, "task_queue", cfg.TaskQueue, "attempts", attempt)
			}
			return nil
		}
		w.Stop()

		var nfe *serviceerror.NamespaceNotFound
		if errors.As(startErr, &nfe) {
			return fmt.Errorf("temporal namespace not found (namespace=%s): %w", cfg.Namespace, startErr)
		}
		if time.Now().After(deadline) || !temporalx.IsRetryableRPC(startErr) {
			return startErr
		}
		if r.log != nil {
			r.log.Warn("Temporal worker failed to start; retrying", "attempt", attempt, "error", startErr)
		}
		time.Sleep(backoff)
		if backoff < 5*time.Second {
			backoff *= 2
		}
	}
}

func (r *Runner) newWorker(cfg temporalx.Config) worker.Worker {
	concurrency := utils.GetEnvAsInt("WORKER_CONCURRENCY", 4, r.log)
	if concurrency < 1 {
		concurrency = 1
	}
	w := worker.New(r.tc, cfg.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     concurrency,
		MaxConcurrentWorkflowTaskExecutionSize: concurrency,
	})

	acts := &assetrun.Activities{Log: r.log, Runner: r.pipeline}

	w.RegisterWorkflowWithOptions(assetrun.ProcessWorkflow, workflow.RegisterOptions{Name: assetrun.WorkflowProcess})
	w.RegisterWorkflowWithOptions(assetrun.ExtractBOMWorkflow, workflow.RegisterOptions{Name: assetrun.WorkflowExtractBOM})
	w.RegisterWorkflowWithOptions(assetrun.NormalizeUnitsWorkflow, workflow.RegisterOptions{Name: assetrun.WorkflowNormalizeUnits})
	w.RegisterActivityWithOptions(acts.Process, activity.RegisterOptions{Name: assetrun.ActivityProcess})
	w.RegisterActivityWithOptions(acts.ExtractBOM, activity.RegisterOptions{Name: assetrun.ActivityExtractBOM})
	w.RegisterActivityWithOptions(acts.NormalizeUnits, activity.RegisterOptions{Name: assetrun.ActivityNormalizeUnits})
	return w
}
