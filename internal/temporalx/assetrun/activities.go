package assetrun

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"

	"github.com/enginelhq/enginel-backend/internal/logger"
	"github.com/enginelhq/enginel-backend/internal/pipeline"
)

type Activities struct {
	Log    *logger.Logger
	Runner *pipeline.Runner
}

// taskID returns the workflow execution id, which the pipeline writes
// onto every job row it creates.
func taskID(ctx context.Context) string {
	info := activity.GetInfo(ctx)
	return info.WorkflowExecution.ID
}

func (a *Activities) Process(ctx context.Context, input ProcessInput) error {
	if a == nil || a.Runner == nil {
		return fmt.Errorf("assetrun: activity not configured")
	}
	assetID, err := uuid.Parse(input.AssetID)
	if err != nil {
		return fmt.Errorf("assetrun: invalid asset_id: %w", err)
	}

	stopHB := a.startHeartbeat(ctx)
	defer stopHB()

	return a.Runner.ProcessAsset(ctx, assetID, taskID(ctx))
}

func (a *Activities) ExtractBOM(ctx context.Context, input ProcessInput) error {
	if a == nil || a.Runner == nil {
		return fmt.Errorf("assetrun: activity not configured")
	}
	stopHB := a.startHeartbeat(ctx)
	defer stopHB()
	return a.Runner.ExtractBOM(ctx, input.AssetID, taskID(ctx))
}

func (a *Activities) NormalizeUnits(ctx context.Context, input ProcessInput) error {
	if a == nil || a.Runner == nil {
		return fmt.Errorf("assetrun: activity not configured")
	}
	stopHB := a.startHeartbeat(ctx)
	defer stopHB()
	return a.Runner.NormalizeUnits(ctx, input.AssetID, taskID(ctx))
}

// startHeartbeat keeps the activity alive during long kernel work.
func (a *Activities) startHeartbeat(ctx context.Context) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				activity.RecordHeartbeat(ctx)
			}
		}
	}()
	return func() { close(done) }
}
