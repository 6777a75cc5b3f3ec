package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/enginelhq/enginel-backend/internal/logger"
	"github.com/enginelhq/enginel-backend/internal/types"
)

type AssemblyNodeRepo interface {
	Create(ctx context.Context, tx *gorm.DB, nodes []*types.AssemblyNode) ([]*types.AssemblyNode, error)
	ListByAssetID(ctx context.Context, tx *gorm.DB, assetID uuid.UUID) ([]*types.AssemblyNode, error)
	CountByAssetID(ctx context.Context, tx *gorm.DB, assetID uuid.UUID) (int64, error)
	DeleteByAssetID(ctx context.Context, tx *gorm.DB, assetID uuid.UUID) error
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
}

type assemblyNodeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAssemblyNodeRepo(db *gorm.DB, baseLog *logger.Logger) AssemblyNodeRepo {
	return &assemblyNodeRepo{db: db, log: baseLog.With("repo", "AssemblyNodeRepo")}
}

func (r *assemblyNodeRepo) Create(ctx context.Context, tx *gorm.DB, nodes []*types.AssemblyNode) ([]*types.AssemblyNode, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(nodes) == 0 {
		return []*types.AssemblyNode{}, nil
	}
	for _, n := range nodes {
		if n.ID == uuid.Nil {
			n.ID = uuid.New()
		}
	}
	if err := transaction.WithContext(ctx).Create(&nodes).Error; err != nil {
		return nil, err
	}
	return nodes, nil
}

// ListByAssetID returns the tree in render order: root first, then
// children by their assigned sort order.
func (r *assemblyNodeRepo) ListByAssetID(ctx context.Context, tx *gorm.DB, assetID uuid.UUID) ([]*types.AssemblyNode, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.AssemblyNode
	if assetID == uuid.Nil {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("asset_id = ?", assetID).
		Order("depth ASC, sort_order ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *assemblyNodeRepo) CountByAssetID(ctx context.Context, tx *gorm.DB, assetID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if assetID == uuid.Nil {
		return 0, nil
	}
	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.AssemblyNode{}).
		Where("asset_id = ?", assetID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// DeleteByAssetID is a hard delete; BOM rebuilds replace the whole tree.
func (r *assemblyNodeRepo) DeleteByAssetID(ctx context.Context, tx *gorm.DB, assetID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if assetID == uuid.Nil {
		return nil
	}
	return transaction.WithContext(ctx).
		Unscoped().
		Where("asset_id = ?", assetID).
		Delete(&types.AssemblyNode{}).Error
}

func (r *assemblyNodeRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if len(updates) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Model(&types.AssemblyNode{}).
		Where("id = ?", id).
		Updates(updates).Error
}
