package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/enginelhq/enginel-backend/internal/geometry"
	"github.com/enginelhq/enginel-backend/internal/types"
	"github.com/enginelhq/enginel-backend/internal/units"
)

func parseAssetID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid asset id %q: %w", s, err)
	}
	return id, nil
}

// normalizeAsset converts the asset's stored measurements into
// millimeters: linear values scale by the factor, areas by its square,
// volumes by its cube. Assets already in mm pass through untouched, so
// running this twice equals running it once. Node masses stay in
// kilograms regardless.
func (r *Runner) normalizeAsset(ctx context.Context, asset *types.DesignAsset) (converted bool, fromUnit string, err error) {
	meta, ok := decodeMetadata(asset.Metadata)
	fromUnit = asset.Units
	if ok && meta.Units != "" {
		fromUnit = meta.Units
	}
	if fromUnit == "" {
		fromUnit = units.BaseLength
	}
	if !units.Valid(fromUnit) {
		return false, fromUnit, fmt.Errorf("unsupported source unit: %s", fromUnit)
	}
	if fromUnit == units.BaseLength {
		return false, fromUnit, nil
	}

	if ok {
		if err := convertMetadata(&meta, fromUnit); err != nil {
			return false, fromUnit, err
		}
		raw, err := json.Marshal(meta)
		if err != nil {
			return false, fromUnit, err
		}
		if err := r.cfg.Assets.UpdateFields(ctx, nil, asset.ID, map[string]interface{}{
			"metadata": datatypes.JSON(raw),
			"units":    units.BaseLength,
		}); err != nil {
			return false, fromUnit, err
		}
		asset.Metadata = datatypes.JSON(raw)
	} else {
		if err := r.cfg.Assets.UpdateFields(ctx, nil, asset.ID, map[string]interface{}{
			"units": units.BaseLength,
		}); err != nil {
			return false, fromUnit, err
		}
	}
	asset.Units = units.BaseLength

	if err := r.normalizeNodes(ctx, asset.ID, fromUnit); err != nil {
		return false, fromUnit, err
	}
	return true, fromUnit, nil
}

func convertMetadata(meta *AssetMetadata, fromUnit string) error {
	volume, err := units.Volume(meta.Volume, fromUnit, units.BaseLength)
	if err != nil {
		return err
	}
	area, err := units.Area(meta.SurfaceArea, fromUnit, units.BaseLength)
	if err != nil {
		return err
	}
	factor, err := units.ScaleFactor(fromUnit, units.BaseLength)
	if err != nil {
		return err
	}

	meta.Volume = volume
	meta.SurfaceArea = area
	meta.CenterOfMass = scaleVec(meta.CenterOfMass, factor)
	meta.BoundingBox = scaleBox(meta.BoundingBox, factor)
	meta.Units = units.BaseLength
	return nil
}

func scaleVec(v geometry.Vec3, factor float64) geometry.Vec3 {
	return geometry.Vec3{X: v.X * factor, Y: v.Y * factor, Z: v.Z * factor}
}

func scaleBox(b geometry.BoundingBox, factor float64) geometry.BoundingBox {
	return geometry.BoundingBox{
		XMin: b.XMin * factor, XMax: b.XMax * factor,
		YMin: b.YMin * factor, YMax: b.YMax * factor,
		ZMin: b.ZMin * factor, ZMax: b.ZMax * factor,
	}.WithDimensions()
}

// nodeMeasurements mirrors the per-node metadata blob the BOM builder
// writes; topology carries no units and passes through unchanged.
type nodeMeasurements struct {
	SurfaceArea  float64              `json:"surface_area"`
	CenterOfMass geometry.Vec3        `json:"center_of_mass"`
	BoundingBox  geometry.BoundingBox `json:"bounding_box"`
	Topology     geometry.Topology    `json:"topology"`
}

func (r *Runner) normalizeNodes(ctx context.Context, assetID uuid.UUID, fromUnit string) error {
	nodes, err := r.cfg.Nodes.ListByAssetID(ctx, nil, assetID)
	if err != nil {
		return err
	}
	factor, err := units.ScaleFactor(fromUnit, units.BaseLength)
	if err != nil {
		return err
	}
	for _, node := range nodes {
		updates := map[string]interface{}{}
		if node.Volume != 0 {
			volume, err := units.Volume(node.Volume, fromUnit, units.BaseLength)
			if err != nil {
				return err
			}
			updates["volume"] = volume
		}
		if len(node.Metadata) > 0 {
			var meta nodeMeasurements
			if err := json.Unmarshal(node.Metadata, &meta); err == nil {
				area, err := units.Area(meta.SurfaceArea, fromUnit, units.BaseLength)
				if err != nil {
					return err
				}
				meta.SurfaceArea = area
				meta.CenterOfMass = scaleVec(meta.CenterOfMass, factor)
				meta.BoundingBox = scaleBox(meta.BoundingBox, factor)
				raw, err := json.Marshal(meta)
				if err != nil {
					return err
				}
				updates["metadata"] = datatypes.JSON(raw)
			}
		}
		if len(updates) == 0 {
			continue
		}
		if err := r.cfg.Nodes.UpdateFields(ctx, nil, node.ID, updates); err != nil {
			return err
		}
	}
	return nil
}
