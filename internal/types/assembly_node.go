package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	NodeTypeAssembly    = "ASSEMBLY"
	NodeTypeSubassembly = "SUBASSEMBLY"
	NodeTypePart        = "PART"
	NodeTypeHardware    = "HARDWARE"
)

// AssemblyNode is one node of an asset's BOM tree. The tree is stored as
// explicit parent ids plus depth and child counts; the root has depth 1
// and no parent. The whole tree is dropped and rebuilt on every BOM run.
type AssemblyNode struct {
	ID       uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	AssetID  uuid.UUID     `gorm:"type:uuid;not null;index" json:"asset_id"`
	Asset    *DesignAsset  `gorm:"constraint:OnDelete:CASCADE;foreignKey:AssetID;references:ID" json:"asset,omitempty"`
	ParentID *uuid.UUID    `gorm:"type:uuid;index" json:"parent_id,omitempty"`
	Parent   *AssemblyNode `gorm:"foreignKey:ParentID;references:ID" json:"parent,omitempty"`

	Name       string `gorm:"column:name;not null" json:"name"`
	PartNumber string `gorm:"column:part_number" json:"part_number"`
	NodeType   string `gorm:"column:node_type;not null;default:'PART'" json:"node_type"`
	Quantity   int    `gorm:"column:quantity;not null;default:1" json:"quantity"`

	// Mass in kilograms, volume in the asset's recorded unit cubed.
	Mass   float64 `gorm:"column:mass" json:"mass"`
	Volume float64 `gorm:"column:volume" json:"volume"`

	Depth      int `gorm:"column:depth;not null;default:1" json:"depth"`
	SortOrder  int `gorm:"column:sort_order;not null;default:0" json:"sort_order"`
	ChildCount int `gorm:"column:child_count;not null;default:0" json:"child_count"`

	Metadata datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (AssemblyNode) TableName() string { return "assembly_nodes" }
