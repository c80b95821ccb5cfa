package drafts

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/slabworks/cardvault-backend/internal/domain"
	"github.com/slabworks/cardvault-backend/internal/platform/dbctx"
	"github.com/slabworks/cardvault-backend/internal/platform/logger"
)

type DraftVersionRepo interface {
	Create(dbc dbctx.Context, version *types.DraftVersion) (*types.DraftVersion, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.DraftVersion, error)
	MaxVersionForDraft(dbc dbctx.Context, draftID uuid.UUID) (int, error)
	DeleteByDraftIDs(dbc dbctx.Context, draftIDs []uuid.UUID) (int64, error)
}

type draftVersionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDraftVersionRepo(db *gorm.DB, baseLog *logger.Logger) DraftVersionRepo {
	return &draftVersionRepo{db: db, log: baseLog.With("repo", "DraftVersionRepo")}
}

func (r *draftVersionRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *draftVersionRepo) Create(dbc dbctx.Context, version *types.DraftVersion) (*types.DraftVersion, error) {
	if version == nil {
		return nil, nil
	}
	if version.ID == uuid.Nil {
		version.ID = uuid.New()
	}
	if version.CreatedAt.IsZero() {
		version.CreatedAt = time.Now().UTC()
	}
	if err := r.handle(dbc).Create(version).Error; err != nil {
		return nil, err
	}
	return version, nil
}

func (r *draftVersionRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.DraftVersion, error) {
	var v types.DraftVersion
	err := r.handle(dbc).Where("id = ?", id).First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *draftVersionRepo) MaxVersionForDraft(dbc dbctx.Context, draftID uuid.UUID) (int, error) {
	var max *int
	err := r.handle(dbc).
		Model(&types.DraftVersion{}).
		Select("MAX(version)").
		Where("draft_id = ?", draftID).
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	if max == nil {
		return 0, nil
	}
	return *max, nil
}

func (r *draftVersionRepo) DeleteByDraftIDs(dbc dbctx.Context, draftIDs []uuid.UUID) (int64, error) {
	if len(draftIDs) == 0 {
		return 0, nil
	}
	res := r.handle(dbc).Where("draft_id IN ?", draftIDs).Delete(&types.DraftVersion{})
	return res.RowsAffected, res.Error
}
