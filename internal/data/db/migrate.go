package db

import (
	"gorm.io/gorm"

	types "github.com/slabworks/cardvault-backend/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		// Catalog
		&types.CardSet{},
		&types.CardVariant{},
		&types.VariantKeyMap{},
		&types.ReferenceImage{},

		// Drafts + provenance
		&types.SetDraft{},
		&types.DraftVersion{},
		&types.DraftApproval{},
		&types.IngestionJob{},

		// Orchestration
		&types.ReplaceJob{},
		&types.SeedJob{},
	)
}
