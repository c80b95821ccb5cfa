package catalog

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/slabworks/cardvault-backend/internal/domain"
	"github.com/slabworks/cardvault-backend/internal/platform/dbctx"
	"github.com/slabworks/cardvault-backend/internal/platform/logger"
)

type ReferenceImageRepo interface {
	Create(dbc dbctx.Context, img *types.ReferenceImage) (*types.ReferenceImage, error)
	CountBySet(dbc dbctx.Context, setID string) (int64, error)
	CountBySetIDs(dbc dbctx.Context, setIDs []string) (int64, error)
	DeleteBySetIDs(dbc dbctx.Context, setIDs []string) (int64, error)
	CountVariantsLackingCoverage(dbc dbctx.Context, setID string, minimum int) (int64, error)
}

type referenceImageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewReferenceImageRepo(db *gorm.DB, baseLog *logger.Logger) ReferenceImageRepo {
	return &referenceImageRepo{db: db, log: baseLog.With("repo", "ReferenceImageRepo")}
}

func (r *referenceImageRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *referenceImageRepo) Create(dbc dbctx.Context, img *types.ReferenceImage) (*types.ReferenceImage, error) {
	if img == nil {
		return nil, nil
	}
	if img.ID == uuid.Nil {
		img.ID = uuid.New()
	}
	if img.CreatedAt.IsZero() {
		img.CreatedAt = time.Now().UTC()
	}
	if err := r.handle(dbc).Create(img).Error; err != nil {
		return nil, err
	}
	return img, nil
}

func (r *referenceImageRepo) CountBySet(dbc dbctx.Context, setID string) (int64, error) {
	var n int64
	err := r.handle(dbc).Model(&types.ReferenceImage{}).Where("set_id = ?", setID).Count(&n).Error
	return n, err
}

// CountBySetIDs counts over the same spelling candidates DeleteBySetIDs
// matches.
func (r *referenceImageRepo) CountBySetIDs(dbc dbctx.Context, setIDs []string) (int64, error) {
	if len(setIDs) == 0 {
		return 0, nil
	}
	var n int64
	err := r.handle(dbc).Model(&types.ReferenceImage{}).Where("set_id IN ?", setIDs).Count(&n).Error
	return n, err
}

func (r *referenceImageRepo) DeleteBySetIDs(dbc dbctx.Context, setIDs []string) (int64, error) {
	if len(setIDs) == 0 {
		return 0, nil
	}
	res := r.handle(dbc).Where("set_id IN ?", setIDs).Delete(&types.ReferenceImage{})
	return res.RowsAffected, res.Error
}

// CountVariantsLackingCoverage counts variants in the set with fewer than
// `minimum` reference images. This feeds the imaging queue signal reported
// after a seed run.
func (r *referenceImageRepo) CountVariantsLackingCoverage(dbc dbctx.Context, setID string, minimum int) (int64, error) {
	var n int64
	err := r.handle(dbc).Raw(`
		SELECT COUNT(*)
		FROM card_variant v
		WHERE v.set_id = ?
		  AND (SELECT COUNT(*) FROM reference_image ri WHERE ri.variant_id = v.id) < ?
	`, setID, minimum).Scan(&n).Error
	return n, err
}
