package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	JobStatusPending   = "PENDING"
	JobStatusRunning   = "RUNNING"
	JobStatusSuccess   = "SUCCESS"
	JobStatusFailed    = "FAILED"
	JobStatusRetry     = "RETRY"
	JobStatusCancelled = "CANCELLED"
)

const (
	JobTypeHashCalculation    = "HASH_CALCULATION"
	JobTypeGeometryExtraction = "GEOMETRY_EXTRACTION"
	JobTypePreviewGeneration  = "PREVIEW_GENERATION"
	JobTypeValidation         = "VALIDATION"
	JobTypeBOMParsing         = "BOM_PARSING"
	JobTypeUnitConversion     = "UNIT_CONVERSION"
	JobTypeMassProperties     = "MASS_PROPERTIES"
	JobTypeInterferenceCheck  = "INTERFERENCE_CHECK"
)

// JobTypes lists every known job type in pipeline order; the monitor
// reports metrics for all of them even when some are not emitted yet.
var JobTypes = []string{
	JobTypeHashCalculation,
	JobTypeGeometryExtraction,
	JobTypePreviewGeneration,
	JobTypeValidation,
	JobTypeBOMParsing,
	JobTypeUnitConversion,
	JobTypeMassProperties,
	JobTypeInterferenceCheck,
}

// AnalysisJob is one step execution inside a processing run. A retry
// creates fresh rows; terminal rows are never resurrected.
type AnalysisJob struct {
	ID      uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	AssetID uuid.UUID    `gorm:"type:uuid;not null;index" json:"asset_id"`
	Asset   *DesignAsset `gorm:"constraint:OnDelete:CASCADE;foreignKey:AssetID;references:ID" json:"asset,omitempty"`

	JobType string `gorm:"column:job_type;not null;index" json:"job_type"`
	Status  string `gorm:"column:status;not null;default:'PENDING';index" json:"status"`
	TaskID  string `gorm:"column:task_id;index" json:"task_id"`

	Result       datatypes.JSON `gorm:"column:result;type:jsonb" json:"result"`
	ErrorMessage string         `gorm:"column:error_message" json:"error_message,omitempty"`

	CreatedAt   time.Time  `gorm:"not null;index" json:"created_at"`
	StartedAt   *time.Time `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
}

func (AnalysisJob) TableName() string { return "analysis_jobs" }

// Duration returns the wall-clock step duration, zero until both
// timestamps are set.
func (j *AnalysisJob) Duration() time.Duration {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.StartedAt)
}

func (j *AnalysisJob) IsTerminal() bool {
	switch j.Status {
	case JobStatusSuccess, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}
