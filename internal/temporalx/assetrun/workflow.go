package assetrun

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/workflow"
)

// activityOptions are shared by all asset workflows. Temporal-level
// retries stay off: the pipeline runner owns retry policy so attempts
// and delays are visible in the job rows.
func activityOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 24 * time.Hour,
		HeartbeatTimeout:    30 * time.Second,
		RetryPolicy:         nil,
	})
}

func validateInput(input ProcessInput) error {
	if strings.TrimSpace(input.AssetID) == "" {
		return fmt.Errorf("assetrun: missing asset_id")
	}
	return nil
}

// ProcessWorkflow runs the full pipeline for one asset.
func ProcessWorkflow(ctx workflow.Context, input ProcessInput) error {
	if err := validateInput(input); err != nil {
		return err
	}
	ctx = activityOptions(ctx)
	return workflow.ExecuteActivity(ctx, ActivityProcess, input).Get(ctx, nil)
}

// ExtractBOMWorkflow reruns only the BOM stage.
func ExtractBOMWorkflow(ctx workflow.Context, input ProcessInput) error {
	if err := validateInput(input); err != nil {
		return err
	}
	ctx = activityOptions(ctx)
	return workflow.ExecuteActivity(ctx, ActivityExtractBOM, input).Get(ctx, nil)
}

// NormalizeUnitsWorkflow reruns only the unit conversion stage.
func NormalizeUnitsWorkflow(ctx workflow.Context, input ProcessInput) error {
	if err := validateInput(input); err != nil {
		return err
	}
	ctx = activityOptions(ctx)
	return workflow.ExecuteActivity(ctx, ActivityNormalizeUnits, input).Get(ctx, nil)
}
