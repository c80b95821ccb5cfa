package drafts

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/slabworks/cardvault-backend/internal/domain"
	"github.com/slabworks/cardvault-backend/internal/platform/dbctx"
	"github.com/slabworks/cardvault-backend/internal/platform/logger"
)

type IngestionJobRepo interface {
	Create(dbc dbctx.Context, job *types.IngestionJob) (*types.IngestionJob, error)
}

type ingestionJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewIngestionJobRepo(db *gorm.DB, baseLog *logger.Logger) IngestionJobRepo {
	return &ingestionJobRepo{db: db, log: baseLog.With("repo", "IngestionJobRepo")}
}

func (r *ingestionJobRepo) Create(dbc dbctx.Context, job *types.IngestionJob) (*types.IngestionJob, error) {
	if job == nil {
		return nil, nil
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	handle := r.db
	if dbc.Tx != nil {
		handle = dbc.Tx
	}
	if err := handle.WithContext(dbc.Ctx).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}
