package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gorm.io/datatypes"

	"github.com/enginelhq/enginel-backend/internal/geometry"
	"github.com/enginelhq/enginel-backend/internal/types"
)

func encodeResult(result map[string]interface{}) (datatypes.JSON, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

// stepHash materializes the file and records its SHA-256 and size.
func (r *Runner) stepHash(ctx context.Context, st *runState) (map[string]interface{}, error) {
	path, err := r.scratchFile(ctx, st)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	hasher := sha256.New()
	size, err := io.Copy(hasher, f)
	if err != nil {
		return nil, fmt.Errorf("hash file: %w", err)
	}
	digest := hex.EncodeToString(hasher.Sum(nil))

	if err := r.cfg.Assets.UpdateFields(ctx, nil, st.asset.ID, map[string]interface{}{
		"file_hash":  digest,
		"size_bytes": size,
	}); err != nil {
		return nil, err
	}
	st.asset.FileHash = digest
	st.asset.SizeBytes = size
	return map[string]interface{}{"file_hash": digest, "size_bytes": size}, nil
}

// stepGeometry extracts mass properties and topology. Non-geometry
// formats get placeholder metadata so every completed asset carries the
// same shape of blob.
func (r *Runner) stepGeometry(ctx context.Context, st *runState) (map[string]interface{}, error) {
	var meta AssetMetadata
	if geometry.IsGeometryFormat(st.asset.Filename) {
		path, err := r.scratchFile(ctx, st)
		if err != nil {
			return nil, err
		}
		processor, err := geometry.NewProcessor(r.cfg.Kernel, path, r.log)
		if err != nil {
			return nil, err
		}
		st.processor = processor

		props, err := processor.MassProperties()
		if err != nil {
			return nil, err
		}
		topo, err := processor.TopologyInfo()
		if err != nil {
			return nil, err
		}
		meta = metadataFromProps(st.asset.Filename, props, topo)
	} else {
		meta = placeholderMetadata(st.asset.Filename)
	}

	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	if err := r.cfg.Assets.UpdateFields(ctx, nil, st.asset.ID, map[string]interface{}{
		"metadata": datatypes.JSON(raw),
		"units":    meta.Units,
	}); err != nil {
		return nil, err
	}
	st.asset.Metadata = datatypes.JSON(raw)
	st.asset.Units = meta.Units
	return map[string]interface{}{
		"file_format": meta.FileFormat,
		"units":       meta.Units,
		"solids":      meta.Topology.Solids,
	}, nil
}

// stepPreview tessellates the shape and uploads a binary STL next to
// the source file. Preview failures never fail the asset.
func (r *Runner) stepPreview(ctx context.Context, st *runState) (map[string]interface{}, error) {
	if st.processor == nil {
		return map[string]interface{}{"skipped": true}, nil
	}
	out, err := os.CreateTemp("", "preview-*.stl")
	if err != nil {
		return nil, err
	}
	outPath := out.Name()
	out.Close()
	defer os.Remove(outPath)

	if err := st.processor.ExportSTL(outPath, 0.1, 0.1); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("previews/%s.stl", st.asset.ID)
	if err := r.cfg.Store.UploadFile(ctx, key, data, "model/stl"); err != nil {
		return nil, fmt.Errorf("upload preview: %w", err)
	}
	if err := r.cfg.Assets.UpdateFields(ctx, nil, st.asset.ID, map[string]interface{}{
		"preview_key": key,
	}); err != nil {
		return nil, err
	}
	st.asset.PreviewKey = key
	return map[string]interface{}{"preview_key": key, "size_bytes": len(data)}, nil
}

// stepValidation stores the design rule report and the validity flag.
func (r *Runner) stepValidation(ctx context.Context, st *runState) (map[string]interface{}, error) {
	if st.processor == nil {
		return map[string]interface{}{"skipped": true}, nil
	}
	report := st.processor.RunDesignRuleChecks()
	raw, err := json.Marshal(report)
	if err != nil {
		return nil, err
	}
	if err := r.cfg.Assets.UpdateFields(ctx, nil, st.asset.ID, map[string]interface{}{
		"validation_report": datatypes.JSON(raw),
		"is_valid_geometry": report.IsValid,
	}); err != nil {
		return nil, err
	}
	st.asset.ValidationReport = datatypes.JSON(raw)
	st.asset.IsValidGeometry = &report.IsValid
	return map[string]interface{}{
		"is_valid": report.IsValid,
		"issues":   len(report.Issues),
		"summary":  report.Summary,
	}, nil
}

// stepBOM extracts the assembly structure and rebuilds the stored tree.
// Without a processor the asset still gets its single PART root.
func (r *Runner) stepBOM(ctx context.Context, st *runState) (map[string]interface{}, error) {
	if st.processor != nil {
		st.components = st.processor.ExtractBOM()
	}
	nodes, err := r.cfg.BOM.Rebuild(ctx, nil, st.asset, st.components)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"components":    len(st.components),
		"nodes_created": len(nodes),
	}, nil
}

// stepNormalizeUnits converts stored measurements to millimeters.
func (r *Runner) stepNormalizeUnits(ctx context.Context, st *runState) (map[string]interface{}, error) {
	converted, fromUnit, err := r.normalizeAsset(ctx, st.asset)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"converted": converted,
		"from_unit": fromUnit,
		"to_unit":   "mm",
	}, nil
}

// ExtractBOM reruns only the BOM stage for an already processed asset,
// with its own job row. Used by on-demand re-extraction.
func (r *Runner) ExtractBOM(ctx context.Context, assetID string, taskID string) error {
	return r.runStandalone(ctx, assetID, taskID, types.JobTypeBOMParsing, func(ctx context.Context, st *runState) (map[string]interface{}, error) {
		if geometry.IsGeometryFormat(st.asset.Filename) {
			path, err := r.scratchFile(ctx, st)
			if err != nil {
				return nil, err
			}
			processor, err := geometry.NewProcessor(r.cfg.Kernel, path, r.log)
			if err != nil {
				return nil, err
			}
			st.processor = processor
		}
		return r.stepBOM(ctx, st)
	})
}

// NormalizeUnits reruns only the unit conversion stage, with its own
// job row.
func (r *Runner) NormalizeUnits(ctx context.Context, assetID string, taskID string) error {
	return r.runStandalone(ctx, assetID, taskID, types.JobTypeUnitConversion, r.stepNormalizeUnits)
}

func (r *Runner) runStandalone(ctx context.Context, assetID, taskID, jobType string, run func(context.Context, *runState) (map[string]interface{}, error)) error {
	id, err := parseAssetID(assetID)
	if err != nil {
		return err
	}
	asset, err := r.cfg.Assets.GetByID(ctx, nil, id)
	if err != nil {
		return fmt.Errorf("load asset: %w", err)
	}
	if asset == nil {
		return fmt.Errorf("asset %s not found", assetID)
	}
	st := &runState{asset: asset, taskID: taskID}
	defer func() {
		if st.scratchPath != "" {
			_ = os.Remove(st.scratchPath)
		}
	}()
	s := step{jobType: jobType, fatal: true, run: run}
	if err := r.runStep(ctx, st, s, r.cfg.Retry.MaxAttempts-1); err != nil {
		return fmt.Errorf("%s: %w", jobType, err)
	}
	return nil
}
