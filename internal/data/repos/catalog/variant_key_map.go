package catalog

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/slabworks/cardvault-backend/internal/domain"
	"github.com/slabworks/cardvault-backend/internal/platform/dbctx"
	"github.com/slabworks/cardvault-backend/internal/platform/logger"
)

// VariantKeyMapRepo has no delete: identity rows outlive the variants they
// point at so a set replacement can re-create surviving entities under their
// old ids.
type VariantKeyMapRepo interface {
	ListBySet(dbc dbctx.Context, setID string) ([]*types.VariantKeyMap, error)
	Upsert(dbc dbctx.Context, row *types.VariantKeyMap) error
}

type variantKeyMapRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewVariantKeyMapRepo(db *gorm.DB, baseLog *logger.Logger) VariantKeyMapRepo {
	return &variantKeyMapRepo{db: db, log: baseLog.With("repo", "VariantKeyMapRepo")}
}

func (r *variantKeyMapRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *variantKeyMapRepo) ListBySet(dbc dbctx.Context, setID string) ([]*types.VariantKeyMap, error) {
	var out []*types.VariantKeyMap
	err := r.handle(dbc).Where("set_id = ?", setID).Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Upsert writes the identity mapping for one variant. Conflicts land on
// variant_id so a variant created under the legacy scheme flips to
// canonical-key-first resolution the next time it is seen.
func (r *variantKeyMapRepo) Upsert(dbc dbctx.Context, row *types.VariantKeyMap) error {
	if row == nil || row.VariantID == uuid.Nil {
		return nil
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	row.UpdatedAt = time.Now().UTC()
	return r.handle(dbc).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "variant_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"set_id", "canonical_key", "legacy_key", "updated_at"}),
	}).Create(row).Error
}
