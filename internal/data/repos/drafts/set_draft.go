package drafts

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

type SetDraftRepo interface {
	UpsertBySetID(dbc dbctx.Context, draft *types.SetDraft) (*types.SetDraft, error)
	GetBySetID(dbc dbctx.Context, setID string) (*types.SetDraft, error)
	DeleteBySetIDs(dbc dbctx.Context, setIDs []string) (int64, error)
}

type setDraftRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSetDraftRepo(db *gorm.DB, baseLog *logger.Logger) SetDraftRepo {
	return &setDraftRepo{db: db, log: baseLog.With("repo", "SetDraftRepo")}
}

func (r *setDraftRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *setDraftRepo) UpsertBySetID(dbc dbctx.Context, draft *types.SetDraft) (*types.SetDraft, error) {
	if draft == nil || draft.SetID == "" {
		return nil, nil
	}
	if draft.ID == uuid.Nil {
		draft.ID = uuid.New()
	}
	now := time.Now().UTC()
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = now
	}
	draft.UpdatedAt = now
	err := r.handle(dbc).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "set_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"dataset_type", "status", "updated_at"}),
	}).Create(draft).Error
	if err != nil {
		return nil, err
	}
	return r.GetBySetID(dbc, draft.SetID)
}

func (r *setDraftRepo) GetBySetID(dbc dbctx.Context, setID string) (*types.SetDraft, error) {
	var d types.SetDraft
	err := r.handle(dbc).Where("set_id = ?", setID).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *setDraftRepo) DeleteBySetIDs(dbc dbctx.Context, setIDs []string) (int64, error) {
	if len(setIDs) == 0 {
		return 0, nil
	}
	res := r.handle(dbc).Where("set_id IN ?", setIDs).Delete(&types.SetDraft{})
	return res.RowsAffected, res.Error
}
