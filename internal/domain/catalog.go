package domain

import (
	"time"

	"github.com/google/uuid"
)

// CardSet is the registry row for a catalog set. SetID on every other table
// is the normalized label, which survives casing/URL-decoding drift in the
// raw checklists; Label keeps the original spelling for display.
type CardSet struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Label           string    `gorm:"column:label;not null" json:"label"`
	NormalizedLabel string    `gorm:"column:normalized_label;not null;uniqueIndex" json:"normalized_label"`
	ReleaseYear     *int      `gorm:"column:release_year" json:"release_year,omitempty"`
	CreatedAt       time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time `gorm:"not null" json:"updated_at"`
}

func (CardSet) TableName() string { return "card_set" }

// CardVariant is the durable catalog entity. Variants are destroyed only by
// the delete stage of a set replace; the seed engine matches or creates, it
// never deletes.
type CardVariant struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SetID           string    `gorm:"column:set_id;not null;index" json:"set_id"`
	SetLabel        string    `gorm:"column:set_label" json:"set_label"`
	CardNumber      *string   `gorm:"column:card_number" json:"card_number,omitempty"`
	ParallelLabel   string    `gorm:"column:parallel_label;not null" json:"parallel_label"`
	PlayerSeed      string    `gorm:"column:player_seed" json:"player_seed,omitempty"`
	Odds            string    `gorm:"column:odds" json:"odds,omitempty"`
	Serial          string    `gorm:"column:serial" json:"serial,omitempty"`
	Format          string    `gorm:"column:format" json:"format,omitempty"`
	SourceListingID string    `gorm:"column:source_listing_id" json:"source_listing_id,omitempty"`
	SourceURL       string    `gorm:"column:source_url" json:"source_url,omitempty"`
	CreatedAt       time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt       time.Time `gorm:"not null" json:"updated_at"`
}

func (CardVariant) TableName() string { return "card_variant" }

// VariantKeyMap is the denormalized identity mapping that keeps replace
// cycles from duplicating variants whose key representation has drifted.
// One row per variant; upserts land ON CONFLICT (variant_id).
type VariantKeyMap struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	VariantID    uuid.UUID `gorm:"type:uuid;column:variant_id;not null;uniqueIndex" json:"variant_id"`
	SetID        string    `gorm:"column:set_id;not null;index" json:"set_id"`
	CanonicalKey string    `gorm:"column:canonical_key;not null;index" json:"canonical_key"`
	LegacyKey    string    `gorm:"column:legacy_key;index" json:"legacy_key"`
	UpdatedAt    time.Time `gorm:"not null" json:"updated_at"`
}

func (VariantKeyMap) TableName() string { return "variant_key_map" }

// ReferenceImage rows are set-scoped and removed wholesale in the delete
// stage. Variants with fewer than two of them (front/back) count toward the
// post-seed imaging queue.
type ReferenceImage struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SetID      string    `gorm:"column:set_id;not null;index" json:"set_id"`
	VariantID  uuid.UUID `gorm:"type:uuid;column:variant_id;not null;index" json:"variant_id"`
	Kind       string    `gorm:"column:kind;not null" json:"kind"`
	StorageKey string    `gorm:"column:storage_key;not null" json:"storage_key"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
}

func (ReferenceImage) TableName() string { return "reference_image" }
