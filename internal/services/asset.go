package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/enginelhq/enginel-backend/internal/geometry"
	"github.com/enginelhq/enginel-backend/internal/logger"
	"github.com/enginelhq/enginel-backend/internal/repos"
	"github.com/enginelhq/enginel-backend/internal/types"
	"github.com/enginelhq/enginel-backend/internal/units"
)

var (
	ErrAssetNotFound         = errors.New("asset not found")
	ErrSeriesNotFound        = errors.New("design series not found")
	ErrEmptyUpload           = errors.New("uploaded file is empty")
	ErrInvalidUnit           = errors.New("unsupported unit")
	ErrInvalidClassification = errors.New("unknown classification tag")
)

// UploadInput describes one incoming file revision. The series is
// resolved by id when given, by part number otherwise; a missing series
// is created on the fly.
type UploadInput struct {
	SeriesID       uuid.UUID
	SeriesName     string
	PartNumber     string
	Description    string
	Classification string
	Units          string
	Filename       string
	Data           []byte
}

// BOMSummary is the outcome of a standalone BOM extraction run.
type BOMSummary struct {
	TaskID            string  `json:"task_id"`
	ComponentsCreated int64   `json:"components_created"`
	RootMass          float64 `json:"root_mass"`
	RootVolume        float64 `json:"root_volume"`
}

// NormalizeSummary is the outcome of a standalone unit normalization.
type NormalizeSummary struct {
	TaskID       string `json:"task_id"`
	OriginalUnit string `json:"original_unit"`
	TargetUnit   string `json:"target_unit"`
	Converted    bool   `json:"converted"`
}

type AssetService interface {
	Upload(ctx context.Context, input UploadInput) (*types.DesignAsset, string, error)
	Get(ctx context.Context, id uuid.UUID) (*types.DesignAsset, error)
	ListBOM(ctx context.Context, id uuid.UUID) ([]*types.AssemblyNode, error)
	Reprocess(ctx context.Context, id uuid.UUID) (string, error)
	ExtractBOM(ctx context.Context, id uuid.UUID) (*BOMSummary, error)
	NormalizeUnits(ctx context.Context, id uuid.UUID, unitOverride string) (*NormalizeSummary, error)
	InspectGeometry(ctx context.Context, id uuid.UUID) (*geometry.ProcessResult, error)
}

type assetService struct {
	log        *logger.Logger
	series     repos.DesignSeriesRepo
	assets     repos.DesignAssetRepo
	nodes      repos.AssemblyNodeRepo
	bucket     BucketService
	processing ProcessingService
	kernel     geometry.Kernel
}

func NewAssetService(
	log *logger.Logger,
	series repos.DesignSeriesRepo,
	assets repos.DesignAssetRepo,
	nodes repos.AssemblyNodeRepo,
	bucket BucketService,
	processing ProcessingService,
	kernel geometry.Kernel,
) AssetService {
	return &assetService{
		log:        log.With("service", "AssetService"),
		series:     series,
		assets:     assets,
		nodes:      nodes,
		bucket:     bucket,
		processing: processing,
		kernel:     kernel,
	}
}

func validClassification(tag string) bool {
	switch tag {
	case types.ClassificationUnclassified, types.ClassificationITAR, types.ClassificationEAR99, types.ClassificationCUI:
		return true
	default:
		return false
	}
}

func (s *assetService) Upload(ctx context.Context, input UploadInput) (*types.DesignAsset, string, error) {
	filename := filepath.Base(strings.TrimSpace(input.Filename))
	if filename == "" || filename == "." {
		return nil, "", fmt.Errorf("filename is required")
	}
	if len(input.Data) == 0 {
		return nil, "", ErrEmptyUpload
	}
	if input.Classification != "" && !validClassification(input.Classification) {
		return nil, "", fmt.Errorf("%w: %s", ErrInvalidClassification, input.Classification)
	}
	if input.Units != "" && !units.Valid(input.Units) {
		return nil, "", fmt.Errorf("%w: %s", ErrInvalidUnit, input.Units)
	}

	series, err := s.resolveSeries(ctx, input, filename)
	if err != nil {
		return nil, "", err
	}
	version, err := s.series.NextVersionNumber(ctx, nil, series.ID)
	if err != nil {
		return nil, "", fmt.Errorf("assign version: %w", err)
	}

	sum := sha256.Sum256(input.Data)
	fileHash := hex.EncodeToString(sum[:])
	if existing, err := s.assets.GetByFileHash(ctx, nil, fileHash); err == nil && len(existing) > 0 {
		s.log.Info("Uploaded content matches an existing asset", "file_hash", fileHash, "matches", len(existing))
	}

	nativeUnit := input.Units
	if nativeUnit == "" {
		nativeUnit = units.DetectFromFilename(filename)
	}

	assetID := uuid.New()
	storageKey := fmt.Sprintf("designs/%s/%s", assetID, filename)
	if err := s.bucket.UploadFile(ctx, storageKey, input.Data, "application/octet-stream"); err != nil {
		return nil, "", fmt.Errorf("store upload: %w", err)
	}

	asset := &types.DesignAsset{
		ID:             assetID,
		SeriesID:       series.ID,
		VersionNumber:  version,
		Filename:       filename,
		StorageKey:     storageKey,
		FileHash:       fileHash,
		SizeBytes:      int64(len(input.Data)),
		Classification: input.Classification,
		Units:          nativeUnit,
		Status:         types.AssetStatusUploading,
	}
	if asset, err = s.assets.Create(ctx, nil, asset); err != nil {
		return nil, "", fmt.Errorf("create asset: %w", err)
	}

	taskID, err := s.processing.DispatchProcess(ctx, asset.ID)
	if err != nil {
		// leave the asset in place; processing can be retriggered
		s.log.Error("Failed to dispatch processing", "asset_id", asset.ID, "error", err)
		return asset, "", fmt.Errorf("dispatch processing: %w", err)
	}
	s.log.Info("Accepted upload", "asset_id", asset.ID, "series_id", series.ID, "version", version, "task_id", taskID)
	return asset, taskID, nil
}

func (s *assetService) resolveSeries(ctx context.Context, input UploadInput, filename string) (*types.DesignSeries, error) {
	if input.SeriesID != uuid.Nil {
		series, err := s.series.GetByID(ctx, nil, input.SeriesID)
		if err != nil {
			return nil, err
		}
		if series == nil {
			return nil, fmt.Errorf("%w: %s", ErrSeriesNotFound, input.SeriesID)
		}
		return series, nil
	}
	if input.PartNumber != "" {
		series, err := s.series.GetByPartNumber(ctx, nil, input.PartNumber)
		if err != nil {
			return nil, err
		}
		if series != nil {
			return series, nil
		}
	}
	name := input.SeriesName
	if name == "" {
		name = strings.TrimSuffix(filename, filepath.Ext(filename))
	}
	return s.series.Create(ctx, nil, &types.DesignSeries{
		Name:        name,
		PartNumber:  input.PartNumber,
		Description: input.Description,
	})
}

func (s *assetService) Get(ctx context.Context, id uuid.UUID) (*types.DesignAsset, error) {
	asset, err := s.assets.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if asset == nil {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, id)
	}
	return asset, nil
}

func (s *assetService) ListBOM(ctx context.Context, id uuid.UUID) ([]*types.AssemblyNode, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.nodes.ListByAssetID(ctx, nil, id)
}

func (s *assetService) Reprocess(ctx context.Context, id uuid.UUID) (string, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return "", err
	}
	return s.processing.DispatchProcess(ctx, id)
}

// ExtractBOM reruns BOM extraction on its own and reports what the
// rebuilt tree looks like.
func (s *assetService) ExtractBOM(ctx context.Context, id uuid.UUID) (*BOMSummary, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	taskID, err := s.processing.RunExtractBOM(ctx, id)
	if err != nil {
		return nil, err
	}

	nodes, err := s.nodes.ListByAssetID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	// components are the rows below the root; a lone part has none
	summary := &BOMSummary{TaskID: taskID}
	for _, node := range nodes {
		if node.ParentID == nil {
			summary.RootMass = node.Mass
			summary.RootVolume = node.Volume
			continue
		}
		summary.ComponentsCreated++
	}
	return summary, nil
}

// NormalizeUnits converts an asset's metadata to millimeters. The
// override, when given, replaces the recorded native unit first.
func (s *assetService) NormalizeUnits(ctx context.Context, id uuid.UUID, unitOverride string) (*NormalizeSummary, error) {
	asset, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	original := s.nativeUnit(asset)
	if unitOverride != "" {
		if !units.Valid(unitOverride) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidUnit, unitOverride)
		}
		if err := s.overrideUnit(ctx, asset, unitOverride); err != nil {
			return nil, err
		}
		asset.Units = unitOverride
		// conversion starts from the override, not the stale record
		original = unitOverride
	}
	taskID, err := s.processing.RunNormalizeUnits(ctx, id)
	if err != nil {
		return nil, err
	}
	return &NormalizeSummary{
		TaskID:       taskID,
		OriginalUnit: original,
		TargetUnit:   units.BaseLength,
		Converted:    original != units.BaseLength,
	}, nil
}

// overrideUnit rewrites both unit records so the pipeline converts from
// the override rather than whatever the file claimed.
func (s *assetService) overrideUnit(ctx context.Context, asset *types.DesignAsset, unit string) error {
	updates := map[string]interface{}{"units": unit}
	if len(asset.Metadata) > 0 {
		var meta map[string]interface{}
		if err := json.Unmarshal(asset.Metadata, &meta); err == nil && meta != nil {
			meta["units"] = unit
			if raw, err := json.Marshal(meta); err == nil {
				updates["metadata"] = datatypes.JSON(raw)
			}
		}
	}
	return s.assets.UpdateFields(ctx, nil, asset.ID, updates)
}

func (s *assetService) nativeUnit(asset *types.DesignAsset) string {
	if len(asset.Metadata) > 0 {
		var meta struct {
			Units string `json:"units"`
		}
		if err := json.Unmarshal(asset.Metadata, &meta); err == nil && meta.Units != "" {
			return meta.Units
		}
	}
	if asset.Units != "" {
		return asset.Units
	}
	return units.BaseLength
}

// InspectGeometry recomputes the full geometric document straight from
// the stored file, bypassing persisted metadata.
func (s *assetService) InspectGeometry(ctx context.Context, id uuid.UUID) (*geometry.ProcessResult, error) {
	asset, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := s.bucket.DownloadFile(ctx, asset.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", asset.StorageKey, err)
	}

	// keep the original filename so the result names the real file
	dir, err := os.MkdirTemp("", "inspect-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)
	scratchPath := filepath.Join(dir, asset.Filename)
	if err := os.WriteFile(scratchPath, data, 0o600); err != nil {
		return nil, err
	}

	processor, err := geometry.NewProcessor(s.kernel, scratchPath, s.log)
	if err != nil {
		return nil, err
	}
	return processor.ProcessAll()
}
