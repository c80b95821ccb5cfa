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

type CardVariantRepo interface {
	Create(dbc dbctx.Context, variant *types.CardVariant) (*types.CardVariant, error)
	Upsert(dbc dbctx.Context, variant *types.CardVariant) (*types.CardVariant, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.CardVariant, error)
	ListBySet(dbc dbctx.Context, setID string) ([]*types.CardVariant, error)
	FindBySetCardParallel(dbc dbctx.Context, setID string, cardNumber *string, parallelLabel string) (*types.CardVariant, error)
	CountBySet(dbc dbctx.Context, setID string) (int64, error)
	CountBySetIDs(dbc dbctx.Context, setIDs []string) (int64, error)
	DeleteBySetIDs(dbc dbctx.Context, setIDs []string) (int64, error)
}

type cardVariantRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCardVariantRepo(db *gorm.DB, baseLog *logger.Logger) CardVariantRepo {
	return &cardVariantRepo{db: db, log: baseLog.With("repo", "CardVariantRepo")}
}

func (r *cardVariantRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *cardVariantRepo) Create(dbc dbctx.Context, variant *types.CardVariant) (*types.CardVariant, error) {
	if variant == nil {
		return nil, nil
	}
	if variant.ID == uuid.Nil {
		variant.ID = uuid.New()
	}
	now := time.Now().UTC()
	if variant.CreatedAt.IsZero() {
		variant.CreatedAt = now
	}
	variant.UpdatedAt = now
	if err := r.handle(dbc).Create(variant).Error; err != nil {
		return nil, err
	}
	return variant, nil
}

// Upsert writes a variant under a caller-chosen id: created when the id is
// new, content columns refreshed when the row already exists. This is how a
// seed run re-materializes a variant that survived a set replacement without
// changing its id.
func (r *cardVariantRepo) Upsert(dbc dbctx.Context, variant *types.CardVariant) (*types.CardVariant, error) {
	if variant == nil {
		return nil, nil
	}
	if variant.ID == uuid.Nil {
		variant.ID = uuid.New()
	}
	now := time.Now().UTC()
	if variant.CreatedAt.IsZero() {
		variant.CreatedAt = now
	}
	variant.UpdatedAt = now
	err := r.handle(dbc).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"set_id", "set_label", "card_number", "parallel_label", "player_seed",
			"odds", "serial", "format", "source_listing_id", "source_url", "updated_at",
		}),
	}).Create(variant).Error
	if err != nil {
		return nil, err
	}
	return variant, nil
}

func (r *cardVariantRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.CardVariant, error) {
	var v types.CardVariant
	err := r.handle(dbc).Where("id = ?", id).First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *cardVariantRepo) ListBySet(dbc dbctx.Context, setID string) ([]*types.CardVariant, error) {
	var out []*types.CardVariant
	err := r.handle(dbc).
		Where("set_id = ?", setID).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *cardVariantRepo) FindBySetCardParallel(dbc dbctx.Context, setID string, cardNumber *string, parallelLabel string) (*types.CardVariant, error) {
	q := r.handle(dbc).Where("set_id = ? AND parallel_label = ?", setID, parallelLabel)
	if cardNumber == nil {
		q = q.Where("card_number IS NULL")
	} else {
		q = q.Where("card_number = ?", *cardNumber)
	}
	var v types.CardVariant
	err := q.First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *cardVariantRepo) CountBySet(dbc dbctx.Context, setID string) (int64, error) {
	var n int64
	err := r.handle(dbc).Model(&types.CardVariant{}).Where("set_id = ?", setID).Count(&n).Error
	return n, err
}

// CountBySetIDs counts over the same spelling candidates DeleteBySetIDs
// matches, so a pre-delete impact count agrees with what the delete removes.
func (r *cardVariantRepo) CountBySetIDs(dbc dbctx.Context, setIDs []string) (int64, error) {
	if len(setIDs) == 0 {
		return 0, nil
	}
	var n int64
	err := r.handle(dbc).Model(&types.CardVariant{}).
		Where("set_id IN ? OR set_label IN ?", setIDs, setIDs).
		Count(&n).Error
	return n, err
}

func (r *cardVariantRepo) DeleteBySetIDs(dbc dbctx.Context, setIDs []string) (int64, error) {
	if len(setIDs) == 0 {
		return 0, nil
	}
	res := r.handle(dbc).
		Where("set_id IN ? OR set_label IN ?", setIDs, setIDs).
		Delete(&types.CardVariant{})
	return res.RowsAffected, res.Error
}
