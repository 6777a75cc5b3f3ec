package types

import (
	"time"

	"github.com/google/uuid"
)

// DesignSeries groups successive revisions of the same part. Version
// numbers for assets in a series are handed out under a row lock, see
// repos.DesignSeriesRepo.NextVersionNumber.
type DesignSeries struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name        string    `gorm:"column:name;not null" json:"name"`
	PartNumber  string    `gorm:"column:part_number;index" json:"part_number"`
	Description string    `gorm:"column:description" json:"description"`
	NextVersion int       `gorm:"column:next_version;not null;default:1" json:"next_version"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null" json:"updated_at"`
}

func (DesignSeries) TableName() string { return "design_series" }
