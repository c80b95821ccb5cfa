package catalog

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

type CardSetRepo interface {
	UpsertByNormalizedLabel(dbc dbctx.Context, set *types.CardSet) (*types.CardSet, error)
	GetByNormalizedLabel(dbc dbctx.Context, normalized string) (*types.CardSet, error)
}

type cardSetRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCardSetRepo(db *gorm.DB, baseLog *logger.Logger) CardSetRepo {
	return &cardSetRepo{db: db, log: baseLog.With("repo", "CardSetRepo")}
}

func (r *cardSetRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *cardSetRepo) UpsertByNormalizedLabel(dbc dbctx.Context, set *types.CardSet) (*types.CardSet, error) {
	if set == nil || set.NormalizedLabel == "" {
		return nil, nil
	}
	if set.ID == uuid.Nil {
		set.ID = uuid.New()
	}
	now := time.Now().UTC()
	if set.CreatedAt.IsZero() {
		set.CreatedAt = now
	}
	set.UpdatedAt = now
	err := r.handle(dbc).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "normalized_label"}},
		DoUpdates: clause.AssignmentColumns([]string{"label", "updated_at"}),
	}).Create(set).Error
	if err != nil {
		return nil, err
	}
	return r.GetByNormalizedLabel(dbc, set.NormalizedLabel)
}

func (r *cardSetRepo) GetByNormalizedLabel(dbc dbctx.Context, normalized string) (*types.CardSet, error) {
	var s types.CardSet
	err := r.handle(dbc).Where("normalized_label = ?", normalized).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}
