package drafts

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/slabworks/cardvault-backend/internal/domain"
	"github.com/slabworks/cardvault-backend/internal/platform/dbctx"
	"github.com/slabworks/cardvault-backend/internal/platform/logger"
)

type DraftApprovalRepo interface {
	Create(dbc dbctx.Context, approval *types.DraftApproval) (*types.DraftApproval, error)
}

type draftApprovalRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDraftApprovalRepo(db *gorm.DB, baseLog *logger.Logger) DraftApprovalRepo {
	return &draftApprovalRepo{db: db, log: baseLog.With("repo", "DraftApprovalRepo")}
}

func (r *draftApprovalRepo) Create(dbc dbctx.Context, approval *types.DraftApproval) (*types.DraftApproval, error) {
	if approval == nil {
		return nil, nil
	}
	if approval.ID == uuid.Nil {
		approval.ID = uuid.New()
	}
	if approval.CreatedAt.IsZero() {
		approval.CreatedAt = time.Now().UTC()
	}
	handle := r.db
	if dbc.Tx != nil {
		handle = dbc.Tx
	}
	if err := handle.WithContext(dbc.Ctx).Create(approval).Error; err != nil {
		return nil, err
	}
	return approval, nil
}
