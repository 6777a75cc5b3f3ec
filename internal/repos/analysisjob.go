package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/enginelhq/enginel-backend/internal/logger"
	"github.com/enginelhq/enginel-backend/internal/types"
)

type AnalysisJobRepo interface {
	Create(ctx context.Context, tx *gorm.DB, job *types.AnalysisJob) (*types.AnalysisJob, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.AnalysisJob, error)
	GetByTaskID(ctx context.Context, tx *gorm.DB, taskID string) (*types.AnalysisJob, error)
	ListByAssetID(ctx context.Context, tx *gorm.DB, assetID uuid.UUID) ([]*types.AnalysisJob, error)
	ListRecent(ctx context.Context, tx *gorm.DB, limit int, status string) ([]*types.AnalysisJob, error)
	ListFailedSince(ctx context.Context, tx *gorm.DB, since time.Time) ([]*types.AnalysisJob, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
}

type analysisJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAnalysisJobRepo(db *gorm.DB, baseLog *logger.Logger) AnalysisJobRepo {
	return &analysisJobRepo{db: db, log: baseLog.With("repo", "AnalysisJobRepo")}
}

func (r *analysisJobRepo) Create(ctx context.Context, tx *gorm.DB, job *types.AnalysisJob) (*types.AnalysisJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if job == nil {
		return nil, nil
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = types.JobStatusPending
	}
	if err := transaction.WithContext(ctx).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

func (r *analysisJobRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.AnalysisJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var job types.AnalysisJob
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

// GetByTaskID returns the most recent job row carrying the given task id.
// Retries reuse the workflow task id across fresh rows, so order matters;
// id breaks ties between rows created in the same instant.
func (r *analysisJobRepo) GetByTaskID(ctx context.Context, tx *gorm.DB, taskID string) (*types.AnalysisJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if taskID == "" {
		return nil, nil
	}
	var job types.AnalysisJob
	err := transaction.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("created_at DESC, id DESC").
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *analysisJobRepo) ListByAssetID(ctx context.Context, tx *gorm.DB, assetID uuid.UUID) ([]*types.AnalysisJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.AnalysisJob
	if assetID == uuid.Nil {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("asset_id = ?", assetID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *analysisJobRepo) ListRecent(ctx context.Context, tx *gorm.DB, limit int, status string) ([]*types.AnalysisJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 20
	}
	query := transaction.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var out []*types.AnalysisJob
	if err := query.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *analysisJobRepo) ListFailedSince(ctx context.Context, tx *gorm.DB, since time.Time) ([]*types.AnalysisJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.AnalysisJob
	if err := transaction.WithContext(ctx).
		Where("status = ? AND created_at >= ?", types.JobStatusFailed, since).
		Order("created_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *analysisJobRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.AnalysisJob{}).
		Where("id = ?", id).
		Updates(updates).Error
}
