package repos

import (
	"gorm.io/gorm"

	"github.com/slabworks/cardvault-backend/internal/data/repos/catalog"
	"github.com/slabworks/cardvault-backend/internal/data/repos/drafts"
	"github.com/slabworks/cardvault-backend/internal/data/repos/jobs"
	"github.com/slabworks/cardvault-backend/internal/platform/logger"
)

type CardSetRepo = catalog.CardSetRepo
type CardVariantRepo = catalog.CardVariantRepo
type VariantKeyMapRepo = catalog.VariantKeyMapRepo
type ReferenceImageRepo = catalog.ReferenceImageRepo

type SetDraftRepo = drafts.SetDraftRepo
type DraftVersionRepo = drafts.DraftVersionRepo
type DraftApprovalRepo = drafts.DraftApprovalRepo
type IngestionJobRepo = drafts.IngestionJobRepo

type ReplaceJobRepo = jobs.ReplaceJobRepo
type SeedJobRepo = jobs.SeedJobRepo

// Bundle wires every repo once so constructors downstream take one argument.
type Bundle struct {
	CardSets        CardSetRepo
	Variants        CardVariantRepo
	VariantKeyMaps  VariantKeyMapRepo
	ReferenceImages ReferenceImageRepo
	SetDrafts       SetDraftRepo
	DraftVersions   DraftVersionRepo
	DraftApprovals  DraftApprovalRepo
	IngestionJobs   IngestionJobRepo
	ReplaceJobs     ReplaceJobRepo
	SeedJobs        SeedJobRepo
}

func NewBundle(db *gorm.DB, baseLog *logger.Logger) *Bundle {
	return &Bundle{
		CardSets:        catalog.NewCardSetRepo(db, baseLog),
		Variants:        catalog.NewCardVariantRepo(db, baseLog),
		VariantKeyMaps:  catalog.NewVariantKeyMapRepo(db, baseLog),
		ReferenceImages: catalog.NewReferenceImageRepo(db, baseLog),
		SetDrafts:       drafts.NewSetDraftRepo(db, baseLog),
		DraftVersions:   drafts.NewDraftVersionRepo(db, baseLog),
		DraftApprovals:  drafts.NewDraftApprovalRepo(db, baseLog),
		IngestionJobs:   drafts.NewIngestionJobRepo(db, baseLog),
		ReplaceJobs:     jobs.NewReplaceJobRepo(db, baseLog),
		SeedJobs:        jobs.NewSeedJobRepo(db, baseLog),
	}
}
