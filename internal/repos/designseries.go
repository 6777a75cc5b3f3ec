package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/enginelhq/enginel-backend/internal/logger"
	"github.com/enginelhq/enginel-backend/internal/types"
)

type DesignSeriesRepo interface {
	Create(ctx context.Context, tx *gorm.DB, series *types.DesignSeries) (*types.DesignSeries, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.DesignSeries, error)
	GetByPartNumber(ctx context.Context, tx *gorm.DB, partNumber string) (*types.DesignSeries, error)
	List(ctx context.Context, tx *gorm.DB, limit int) ([]*types.DesignSeries, error)
	NextVersionNumber(ctx context.Context, tx *gorm.DB, id uuid.UUID) (int, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
}

type designSeriesRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDesignSeriesRepo(db *gorm.DB, baseLog *logger.Logger) DesignSeriesRepo {
	return &designSeriesRepo{db: db, log: baseLog.With("repo", "DesignSeriesRepo")}
}

func (r *designSeriesRepo) Create(ctx context.Context, tx *gorm.DB, series *types.DesignSeries) (*types.DesignSeries, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if series == nil {
		return nil, nil
	}
	if series.ID == uuid.Nil {
		series.ID = uuid.New()
	}
	if series.NextVersion == 0 {
		series.NextVersion = 1
	}
	if err := transaction.WithContext(ctx).Create(series).Error; err != nil {
		return nil, err
	}
	return series, nil
}

func (r *designSeriesRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.DesignSeries, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var series types.DesignSeries
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&series).Error
	if err != nil {
		return nil, err
	}
	if series.ID == uuid.Nil {
		return nil, nil
	}
	return &series, nil
}

func (r *designSeriesRepo) GetByPartNumber(ctx context.Context, tx *gorm.DB, partNumber string) (*types.DesignSeries, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if partNumber == "" {
		return nil, nil
	}
	var series types.DesignSeries
	err := transaction.WithContext(ctx).
		Where("part_number = ?", partNumber).
		Order("created_at DESC").
		Limit(1).
		Find(&series).Error
	if err != nil {
		return nil, err
	}
	if series.ID == uuid.Nil {
		return nil, nil
	}
	return &series, nil
}

func (r *designSeriesRepo) List(ctx context.Context, tx *gorm.DB, limit int) ([]*types.DesignSeries, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 50
	}
	var out []*types.DesignSeries
	if err := transaction.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// NextVersionNumber reserves the next version number for the series under
// a row lock, so concurrent uploads into the same series never collide.
func (r *designSeriesRepo) NextVersionNumber(ctx context.Context, tx *gorm.DB, id uuid.UUID) (int, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return 0, errors.New("series id is required")
	}
	var assigned int
	err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		var series types.DesignSeries
		if err := txx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			First(&series).Error; err != nil {
			return err
		}
		assigned = series.NextVersion
		return txx.Model(&types.DesignSeries{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"next_version": assigned + 1,
				"updated_at":   time.Now(),
			}).Error
	})
	if err != nil {
		return 0, err
	}
	return assigned, nil
}

func (r *designSeriesRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.DesignSeries{}).
		Where("id = ?", id).
		Updates(updates).Error
}
