package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/api/enums/v1"
	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/enginelhq/enginel-backend/internal/logger"
	"github.com/enginelhq/enginel-backend/internal/pipeline"
	"github.com/enginelhq/enginel-backend/internal/temporalx"
	"github.com/enginelhq/enginel-backend/internal/temporalx/assetrun"
)

// ProcessingService dispatches asset workflows and returns the task id
// a client can poll. With no Temporal client configured it falls back
// to running the pipeline in-process, which keeps single-node
// deployments working.
type ProcessingService interface {
	DispatchProcess(ctx context.Context, assetID uuid.UUID) (string, error)
	DispatchExtractBOM(ctx context.Context, assetID uuid.UUID) (string, error)
	DispatchNormalizeUnits(ctx context.Context, assetID uuid.UUID) (string, error)

	// Run variants block until the workflow finishes; used by endpoints
	// that answer with the run's outcome.
	RunExtractBOM(ctx context.Context, assetID uuid.UUID) (string, error)
	RunNormalizeUnits(ctx context.Context, assetID uuid.UUID) (string, error)

	// CancelRun stops an in-process fallback run. Workflow runs are
	// cancelled through Temporal instead; for those it returns false.
	CancelRun(taskID string) bool
}

type processingService struct {
	log       *logger.Logger
	temporal  temporalsdkclient.Client
	taskQueue string
	runner    *pipeline.Runner

	mu   sync.Mutex
	runs map[string]context.CancelFunc
}

func NewProcessingService(log *logger.Logger, temporal temporalsdkclient.Client, runner *pipeline.Runner) (ProcessingService, error) {
	if temporal == nil && runner == nil {
		return nil, fmt.Errorf("processing service needs a temporal client or a pipeline runner")
	}
	cfg := temporalx.LoadConfig()
	return &processingService{
		log:       log.With("service", "ProcessingService"),
		temporal:  temporal,
		taskQueue: cfg.TaskQueue,
		runner:    runner,
		runs:      map[string]context.CancelFunc{},
	}, nil
}

func (s *processingService) registerRun(taskID string, cancel context.CancelFunc) {
	s.mu.Lock()
	s.runs[taskID] = cancel
	s.mu.Unlock()
}

func (s *processingService) releaseRun(taskID string) {
	s.mu.Lock()
	cancel, ok := s.runs[taskID]
	delete(s.runs, taskID)
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

func (s *processingService) CancelRun(taskID string) bool {
	s.mu.Lock()
	cancel, ok := s.runs[taskID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	s.log.Info("Cancelled in-process run", "task_id", taskID)
	return true
}

func (s *processingService) DispatchProcess(ctx context.Context, assetID uuid.UUID) (string, error) {
	return s.dispatch(ctx, assetrun.WorkflowProcess, assetID, false, func(runCtx context.Context, taskID string) error {
		return s.runner.ProcessAsset(runCtx, assetID, taskID)
	})
}

func (s *processingService) DispatchExtractBOM(ctx context.Context, assetID uuid.UUID) (string, error) {
	return s.dispatch(ctx, assetrun.WorkflowExtractBOM, assetID, false, s.extractBOMInline(assetID))
}

func (s *processingService) DispatchNormalizeUnits(ctx context.Context, assetID uuid.UUID) (string, error) {
	return s.dispatch(ctx, assetrun.WorkflowNormalizeUnits, assetID, false, s.normalizeInline(assetID))
}

func (s *processingService) RunExtractBOM(ctx context.Context, assetID uuid.UUID) (string, error) {
	return s.dispatch(ctx, assetrun.WorkflowExtractBOM, assetID, true, s.extractBOMInline(assetID))
}

func (s *processingService) RunNormalizeUnits(ctx context.Context, assetID uuid.UUID) (string, error) {
	return s.dispatch(ctx, assetrun.WorkflowNormalizeUnits, assetID, true, s.normalizeInline(assetID))
}

func (s *processingService) extractBOMInline(assetID uuid.UUID) func(context.Context, string) error {
	return func(runCtx context.Context, taskID string) error {
		return s.runner.ExtractBOM(runCtx, assetID.String(), taskID)
	}
}

func (s *processingService) normalizeInline(assetID uuid.UUID) func(context.Context, string) error {
	return func(runCtx context.Context, taskID string) error {
		return s.runner.NormalizeUnits(runCtx, assetID.String(), taskID)
	}
}

func (s *processingService) dispatch(ctx context.Context, workflowName string, assetID uuid.UUID, wait bool, inline func(context.Context, string) error) (string, error) {
	if assetID == uuid.Nil {
		return "", fmt.Errorf("asset id is required")
	}
	taskID := fmt.Sprintf("%s-%s-%d", workflowName, assetID, time.Now().UnixNano())

	if s.temporal == nil {
		if wait {
			return taskID, inline(ctx, taskID)
		}
		// in-process fallback; the run outlives the request but stays
		// reachable for CancelRun through the registry
		runCtx, cancel := context.WithCancel(context.Background())
		s.registerRun(taskID, cancel)
		go func() {
			defer s.releaseRun(taskID)
			if err := inline(runCtx, taskID); err != nil {
				s.log.Error("In-process run failed", "workflow", workflowName, "asset_id", assetID, "error", err)
			}
		}()
		s.log.Info("Dispatched in-process run", "workflow", workflowName, "asset_id", assetID, "task_id", taskID)
		return taskID, nil
	}

	opts := temporalsdkclient.StartWorkflowOptions{
		ID:                    taskID,
		TaskQueue:             s.taskQueue,
		WorkflowIDReusePolicy: enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
	}
	input := assetrun.ProcessInput{AssetID: assetID.String()}
	run, err := s.temporal.ExecuteWorkflow(ctx, opts, workflowName, input)
	if err != nil {
		return "", fmt.Errorf("start workflow %s: %w", workflowName, err)
	}
	s.log.Info("Dispatched workflow", "workflow", workflowName, "asset_id", assetID, "task_id", taskID)
	if wait {
		if err := run.Get(ctx, nil); err != nil {
			return taskID, fmt.Errorf("workflow %s failed: %w", workflowName, err)
		}
	}
	return taskID, nil
}
