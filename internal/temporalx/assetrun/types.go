// Package assetrun holds the Temporal workflow and activities that
// drive one asset through the processing pipeline.
package assetrun

const (
	WorkflowProcess        = "asset_process"
	WorkflowExtractBOM     = "asset_extract_bom"
	WorkflowNormalizeUnits = "asset_normalize_units"

	ActivityProcess        = "asset_process_activity"
	ActivityExtractBOM     = "asset_extract_bom_activity"
	ActivityNormalizeUnits = "asset_normalize_units_activity"
)

// ProcessInput identifies the asset a workflow run operates on. The
// workflow execution id doubles as the task id recorded on job rows.
type ProcessInput struct {
	AssetID string `json:"asset_id"`
}
