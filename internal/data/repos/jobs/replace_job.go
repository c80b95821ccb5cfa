package jobs

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/slabworks/cardvault-backend/internal/domain"
	"github.com/slabworks/cardvault-backend/internal/platform/dbctx"
	"github.com/slabworks/cardvault-backend/internal/platform/logger"
)

var terminalStages = []string{types.StageComplete, types.StageFailed, types.StageCancelled}

type ReplaceJobRepo interface {
	Create(dbc dbctx.Context, job *types.ReplaceJob) (*types.ReplaceJob, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ReplaceJob, error)
	ListBySet(dbc dbctx.Context, setID string) ([]*types.ReplaceJob, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	UpdateFieldsUnlessTerminal(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) (bool, error)
	ClaimNextQueued(dbc dbctx.Context) (*types.ReplaceJob, error)
	Heartbeat(dbc dbctx.Context, id uuid.UUID) error
	FailStaleRunning(dbc dbctx.Context, staleBefore time.Time) (int64, error)
}

type replaceJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewReplaceJobRepo(db *gorm.DB, baseLog *logger.Logger) ReplaceJobRepo {
	return &replaceJobRepo{db: db, log: baseLog.With("repo", "ReplaceJobRepo")}
}

func (r *replaceJobRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *replaceJobRepo) Create(dbc dbctx.Context, job *types.ReplaceJob) (*types.ReplaceJob, error) {
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

func (r *replaceJobRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ReplaceJob, error) {
	var job types.ReplaceJob
	err := r.handle(dbc).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *replaceJobRepo) ListBySet(dbc dbctx.Context, setID string) ([]*types.ReplaceJob, error) {
	var out []*types.ReplaceJob
	err := r.handle(dbc).
		Where("set_id = ?", setID).
		Order("created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *replaceJobRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now().UTC()
	return r.handle(dbc).
		Model(&types.ReplaceJob{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// UpdateFieldsUnlessTerminal applies updates only while the job is still
// non-terminal, so a cancelled or failed job is never overwritten by a slow
// pipeline step. The bool result reports whether the write landed.
func (r *replaceJobRepo) UpdateFieldsUnlessTerminal(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil || len(updates) == 0 {
		return false, nil
	}
	updates["updated_at"] = time.Now().UTC()
	res := r.handle(dbc).
		Model(&types.ReplaceJob{}).
		Where("id = ? AND stage NOT IN ?", id, terminalStages).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ClaimNextQueued picks the oldest queued, unstarted job and stamps
// started_at so no other worker picks it up. Postgres gets a SKIP LOCKED
// row lock; other dialects fall back to the started_at guard alone.
func (r *replaceJobRepo) ClaimNextQueued(dbc dbctx.Context) (*types.ReplaceJob, error) {
	var claimed *types.ReplaceJob
	err := r.handle(dbc).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("stage = ? AND started_at IS NULL", types.StageQueued).
			Order("created_at ASC").
			Limit(1)
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		var job types.ReplaceJob
		if err := q.First(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		now := time.Now().UTC()
		res := tx.Model(&types.ReplaceJob{}).
			Where("id = ? AND started_at IS NULL", job.ID).
			Updates(map[string]interface{}{
				"started_at":   now,
				"heartbeat_at": now,
				"updated_at":   now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		job.StartedAt = &now
		job.HeartbeatAt = &now
		claimed = &job
		return nil
	})
	return claimed, err
}

func (r *replaceJobRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	return r.handle(dbc).
		Model(&types.ReplaceJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"heartbeat_at": now, "updated_at": now}).Error
}

// FailStaleRunning fails started, non-terminal jobs whose heartbeat went
// quiet, releasing their set locks. Replace jobs are never auto-retried; a
// lost worker surfaces as FAILED for the operator to re-submit.
func (r *replaceJobRepo) FailStaleRunning(dbc dbctx.Context, staleBefore time.Time) (int64, error) {
	now := time.Now().UTC()
	res := r.handle(dbc).
		Model(&types.ReplaceJob{}).
		Where("stage NOT IN ? AND started_at IS NOT NULL AND heartbeat_at IS NOT NULL AND heartbeat_at < ?", terminalStages, staleBefore).
		Updates(map[string]interface{}{
			"stage":           types.StageFailed,
			"error_message":   "worker lost: heartbeat expired",
			"active_set_lock": nil,
			"completed_at":    now,
			"updated_at":      now,
		})
	return res.RowsAffected, res.Error
}
