package jobs

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/slabworks/cardvault-backend/internal/domain"
	"github.com/slabworks/cardvault-backend/internal/platform/dbctx"
	"github.com/slabworks/cardvault-backend/internal/platform/logger"
)

type SeedJobRepo interface {
	Create(dbc dbctx.Context, job *types.SeedJob) (*types.SeedJob, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.SeedJob, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowed []string, updates map[string]interface{}) (bool, error)
	HasActiveForSet(dbc dbctx.Context, setID string) (bool, error)
}

type seedJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSeedJobRepo(db *gorm.DB, baseLog *logger.Logger) SeedJobRepo {
	return &seedJobRepo{db: db, log: baseLog.With("repo", "SeedJobRepo")}
}

func (r *seedJobRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *seedJobRepo) Create(dbc dbctx.Context, job *types.SeedJob) (*types.SeedJob, error) {
	if job == nil {
		return nil, nil
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if err := r.handle(dbc).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

func (r *seedJobRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.SeedJob, error) {
	var job types.SeedJob
	err := r.handle(dbc).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *seedJobRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now().UTC()
	return r.handle(dbc).
		Model(&types.SeedJob{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *seedJobRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowed []string, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil || len(updates) == 0 {
		return false, nil
	}
	updates["updated_at"] = time.Now().UTC()
	q := r.handle(dbc).Model(&types.SeedJob{}).Where("id = ?", id)
	if len(disallowed) > 0 {
		q = q.Where("status NOT IN ?", disallowed)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// HasActiveForSet reports whether any seed job for the set is queued or
// running. The non-replace seed pipeline shares the variant table, so a new
// replace job must not start while one is active.
func (r *seedJobRepo) HasActiveForSet(dbc dbctx.Context, setID string) (bool, error) {
	var n int64
	err := r.handle(dbc).
		Model(&types.SeedJob{}).
		Where("set_id = ? AND status IN ?", setID, []string{types.SeedStatusQueued, types.SeedStatusRunning}).
		Count(&n).Error
	return n > 0, err
}
