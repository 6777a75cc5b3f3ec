// Package bom turns extracted assembly components into the stored
// bill-of-materials tree for an asset.
package bom

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/enginelhq/enginel-backend/internal/geometry"
	"github.com/enginelhq/enginel-backend/internal/logger"
	"github.com/enginelhq/enginel-backend/internal/repos"
	"github.com/enginelhq/enginel-backend/internal/types"
)

type Builder struct {
	nodes repos.AssemblyNodeRepo
	log   *logger.Logger
}

func NewBuilder(nodes repos.AssemblyNodeRepo, baseLog *logger.Logger) *Builder {
	return &Builder{nodes: nodes, log: baseLog.With("component", "BOMBuilder")}
}

// Rebuild replaces the asset's stored tree. With components it writes
// an ASSEMBLY root and one PART child per component; without any it
// writes a single PART root, because a lone solid is a part, not a
// one-piece assembly. Running it twice with the same input leaves the
// same tree.
func (b *Builder) Rebuild(ctx context.Context, tx *gorm.DB, asset *types.DesignAsset, components []geometry.Component) ([]*types.AssemblyNode, error) {
	if asset == nil {
		return nil, fmt.Errorf("asset is required")
	}
	if err := b.nodes.DeleteByAssetID(ctx, tx, asset.ID); err != nil {
		return nil, fmt.Errorf("clear previous tree: %w", err)
	}

	var nodes []*types.AssemblyNode
	if len(components) == 0 {
		nodes = []*types.AssemblyNode{b.partRoot(asset)}
	} else {
		nodes = b.assemblyTree(asset, components)
	}

	created, err := b.nodes.Create(ctx, tx, nodes)
	if err != nil {
		return nil, fmt.Errorf("store tree: %w", err)
	}
	b.log.Info("Rebuilt BOM tree",
		"asset_id", asset.ID,
		"nodes", len(created),
		"components", len(components))
	return created, nil
}

// partRoot builds the single-node tree for a plain part, carrying over
// whatever measurements the processing run stored on the asset.
func (b *Builder) partRoot(asset *types.DesignAsset) *types.AssemblyNode {
	mass, volume := measurementsFromMetadata(asset.Metadata)
	return &types.AssemblyNode{
		ID:         uuid.New(),
		AssetID:    asset.ID,
		Name:       stemOf(asset.Filename),
		PartNumber: "PN-0001",
		NodeType:   types.NodeTypePart,
		Quantity:   1,
		Mass:       mass,
		Volume:     volume,
		Depth:      1,
	}
}

func (b *Builder) assemblyTree(asset *types.DesignAsset, components []geometry.Component) []*types.AssemblyNode {
	sorted := make([]geometry.Component, len(components))
	copy(sorted, components)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].PartNumber != sorted[j].PartNumber {
			return sorted[i].PartNumber < sorted[j].PartNumber
		}
		return sorted[i].Name < sorted[j].Name
	})

	var totalMass, totalVolume float64
	for _, c := range sorted {
		totalMass += c.Mass
		totalVolume += c.Volume
	}

	root := &types.AssemblyNode{
		ID:         uuid.New(),
		AssetID:    asset.ID,
		Name:       stemOf(asset.Filename),
		NodeType:   types.NodeTypeAssembly,
		Quantity:   1,
		Mass:       totalMass,
		Volume:     totalVolume,
		Depth:      1,
		ChildCount: len(sorted),
	}

	nodes := make([]*types.AssemblyNode, 0, len(sorted)+1)
	nodes = append(nodes, root)
	for i, c := range sorted {
		parentID := root.ID
		nodeType := c.NodeType
		if nodeType == "" {
			nodeType = types.NodeTypePart
		}
		quantity := c.Quantity
		if quantity < 1 {
			quantity = 1
		}
		meta, _ := json.Marshal(map[string]interface{}{
			"surface_area":   c.SurfaceArea,
			"center_of_mass": c.CenterOfMass,
			"bounding_box":   c.BoundingBox,
			"topology":       c.Topology,
		})
		nodes = append(nodes, &types.AssemblyNode{
			ID:         uuid.New(),
			AssetID:    asset.ID,
			ParentID:   &parentID,
			Name:       c.Name,
			PartNumber: c.PartNumber,
			NodeType:   nodeType,
			Quantity:   quantity,
			Mass:       c.Mass,
			Volume:     c.Volume,
			Depth:      2,
			SortOrder:  i,
			Metadata:   meta,
		})
	}
	return nodes
}

func stemOf(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func measurementsFromMetadata(raw []byte) (mass, volume float64) {
	if len(raw) == 0 {
		return 0, 0
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return 0, 0
	}
	if v, ok := meta["volume"].(float64); ok {
		volume = v
	}
	if m, ok := meta["mass"].(float64); ok {
		mass = m
	}
	return mass, volume
}
