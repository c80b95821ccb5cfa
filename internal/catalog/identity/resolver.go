package identity

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/slabworks/cardvault-backend/internal/data/repos"
	types "github.com/slabworks/cardvault-backend/internal/domain"
	"github.com/slabworks/cardvault-backend/internal/platform/dbctx"
	"github.com/slabworks/cardvault-backend/internal/platform/logger"
)

// Resolver maps incoming (cardNumber, parallelLabel) positions to existing
// variant ids for one set. Both indexes are pre-loaded from variant_key_map
// and kept current in memory as the run creates variants, which is what
// keeps a replace cycle from duplicating entities whose key representation
// drifted over time.
type Resolver struct {
	setID        string
	setLabel     string
	keyMaps      repos.VariantKeyMapRepo
	log          *logger.Logger
	canonicalIdx map[string]uuid.UUID
	legacyIdx    map[string]uuid.UUID
}

func Load(dbc dbctx.Context, setID, setLabel string, keyMaps repos.VariantKeyMapRepo, baseLog *logger.Logger) (*Resolver, error) {
	rows, err := keyMaps.ListBySet(dbc, setID)
	if err != nil {
		return nil, fmt.Errorf("load key maps for set %q: %w", setID, err)
	}
	r := &Resolver{
		setID:        setID,
		setLabel:     setLabel,
		keyMaps:      keyMaps,
		log:          baseLog.With("component", "IdentityResolver", "set_id", setID),
		canonicalIdx: make(map[string]uuid.UUID, len(rows)),
		legacyIdx:    make(map[string]uuid.UUID, len(rows)),
	}
	for _, row := range rows {
		if row.CanonicalKey != "" {
			r.canonicalIdx[row.CanonicalKey] = row.VariantID
		}
		if row.LegacyKey != "" {
			r.legacyIdx[row.LegacyKey] = row.VariantID
		}
	}
	return r, nil
}

// Resolve returns the variant id for a position, trying canonical keys in
// priority order and falling back to the legacy key. (uuid.Nil, false) means
// unresolved: the caller creates.
func (r *Resolver) Resolve(cardNumber *string, parallelLabel string) (uuid.UUID, bool) {
	for _, key := range CanonicalKeys(r.setID, cardNumber, parallelLabel) {
		if id, ok := r.canonicalIdx[key]; ok {
			return id, true
		}
	}
	if id, ok := r.legacyIdx[LegacyKey(r.setLabel, cardNumber, parallelLabel)]; ok {
		return id, true
	}
	return uuid.Nil, false
}

// Register records the identity of a resolved or freshly created variant:
// both in-memory indexes for the remainder of the run, and the denormalized
// variant_key_map row so later runs resolve canonical-key-first even for
// variants originally created under the legacy scheme.
func (r *Resolver) Register(dbc dbctx.Context, variantID uuid.UUID, cardNumber *string, parallelLabel string) error {
	if variantID == uuid.Nil {
		return nil
	}
	keys := CanonicalKeys(r.setID, cardNumber, parallelLabel)
	legacy := LegacyKey(r.setLabel, cardNumber, parallelLabel)
	for _, key := range keys {
		r.canonicalIdx[key] = variantID
	}
	r.legacyIdx[legacy] = variantID

	return r.keyMaps.Upsert(dbc, &types.VariantKeyMap{
		VariantID:    variantID,
		SetID:        r.setID,
		CanonicalKey: keys[0],
		LegacyKey:    legacy,
	})
}
