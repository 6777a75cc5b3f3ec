package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	AssetStatusUploading  = "UPLOADING"
	AssetStatusProcessing = "PROCESSING"
	AssetStatusCompleted  = "COMPLETED"
	AssetStatusFailed     = "FAILED"
)

const (
	ClassificationUnclassified = "UNCLASSIFIED"
	ClassificationITAR         = "ITAR"
	ClassificationEAR99        = "EAR99"
	ClassificationCUI          = "CUI"
)

// DesignAsset is one uploaded CAD file revision. Metadata and
// ValidationReport are replaced wholesale by each processing run, never
// merged.
type DesignAsset struct {
	ID            uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	SeriesID      uuid.UUID     `gorm:"type:uuid;not null;uniqueIndex:idx_series_version" json:"series_id"`
	Series        *DesignSeries `gorm:"constraint:OnDelete:CASCADE;foreignKey:SeriesID;references:ID" json:"series,omitempty"`
	VersionNumber int           `gorm:"column:version_number;not null;uniqueIndex:idx_series_version" json:"version_number"`

	Filename       string `gorm:"column:filename;not null" json:"filename"`
	StorageKey     string `gorm:"column:storage_key;not null" json:"storage_key"`
	FileHash       string `gorm:"column:file_hash;index" json:"file_hash"`
	SizeBytes      int64  `gorm:"column:size_bytes" json:"size_bytes"`
	Classification string `gorm:"column:classification;not null;default:'UNCLASSIFIED';index" json:"classification"`

	// Native linear unit of the file ("mm" after normalization).
	Units string `gorm:"column:units;not null;default:'mm'" json:"units"`

	Status          string `gorm:"column:status;not null;default:'UPLOADING';index" json:"status"`
	ProcessingError string `gorm:"column:processing_error" json:"processing_error,omitempty"`

	Metadata         datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata"`
	IsValidGeometry  *bool          `gorm:"column:is_valid_geometry" json:"is_valid_geometry"`
	ValidationReport datatypes.JSON `gorm:"column:validation_report;type:jsonb" json:"validation_report"`

	PreviewKey  string     `gorm:"column:preview_key" json:"preview_key,omitempty"`
	ProcessedAt *time.Time `gorm:"column:processed_at" json:"processed_at,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (DesignAsset) TableName() string { return "design_assets" }
