package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/enginelhq/enginel-backend/internal/logger"
	"github.com/enginelhq/enginel-backend/internal/types"
)

type DesignAssetRepo interface {
	Create(ctx context.Context, tx *gorm.DB, asset *types.DesignAsset) (*types.DesignAsset, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.DesignAsset, error)
	GetBySeriesID(ctx context.Context, tx *gorm.DB, seriesID uuid.UUID) ([]*types.DesignAsset, error)
	GetByFileHash(ctx context.Context, tx *gorm.DB, fileHash string) ([]*types.DesignAsset, error)
	ListByStatus(ctx context.Context, tx *gorm.DB, status string, limit int) ([]*types.DesignAsset, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
}

type designAssetRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDesignAssetRepo(db *gorm.DB, baseLog *logger.Logger) DesignAssetRepo {
	return &designAssetRepo{db: db, log: baseLog.With("repo", "DesignAssetRepo")}
}

func (r *designAssetRepo) Create(ctx context.Context, tx *gorm.DB, asset *types.DesignAsset) (*types.DesignAsset, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if asset == nil {
		return nil, nil
	}
	if asset.ID == uuid.Nil {
		asset.ID = uuid.New()
	}
	if asset.Status == "" {
		asset.Status = types.AssetStatusUploading
	}
	if asset.Classification == "" {
		asset.Classification = types.ClassificationUnclassified
	}
	if err := transaction.WithContext(ctx).Create(asset).Error; err != nil {
		return nil, err
	}
	return asset, nil
}

func (r *designAssetRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.DesignAsset, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var asset types.DesignAsset
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&asset).Error
	if err != nil {
		return nil, err
	}
	if asset.ID == uuid.Nil {
		return nil, nil
	}
	return &asset, nil
}

func (r *designAssetRepo) GetBySeriesID(ctx context.Context, tx *gorm.DB, seriesID uuid.UUID) ([]*types.DesignAsset, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.DesignAsset
	if seriesID == uuid.Nil {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("series_id = ?", seriesID).
		Order("version_number DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *designAssetRepo) GetByFileHash(ctx context.Context, tx *gorm.DB, fileHash string) ([]*types.DesignAsset, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.DesignAsset
	if fileHash == "" {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("file_hash = ?", fileHash).
		Order("created_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *designAssetRepo) ListByStatus(ctx context.Context, tx *gorm.DB, status string, limit int) ([]*types.DesignAsset, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 100
	}
	var out []*types.DesignAsset
	q := transaction.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *designAssetRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.DesignAsset{}).
		Where("id = ?", id).
		Updates(updates).Error
}
