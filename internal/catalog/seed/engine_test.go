package seed

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	catalogrepos "github.com/slabworks/cardvault-backend/internal/data/repos/catalog"
	jobrepos "github.com/slabworks/cardvault-backend/internal/data/repos/jobs"
	"github.com/slabworks/cardvault-backend/internal/data/repos/testutil"
	types "github.com/slabworks/cardvault-backend/internal/domain"
	"github.com/slabworks/cardvault-backend/internal/ingest/normalize"
	"github.com/slabworks/cardvault-backend/internal/platform/dbctx"
	"github.com/slabworks/cardvault-backend/internal/platform/logger"
)

type engineFixture struct {
	gdb       *gorm.DB
	log       *logger.Logger
	variants  catalogrepos.CardVariantRepo
	keyMaps   catalogrepos.VariantKeyMapRepo
	refImages catalogrepos.ReferenceImageRepo
	seedJobs  jobrepos.SeedJobRepo
	engine    *Engine
}

func newFixture(t *testing.T) *engineFixture {
	t.Helper()
	gdb := testutil.DB(t)
	log := testutil.Logger(t)
	f := &engineFixture{
		gdb:       gdb,
		log:       log,
		variants:  catalogrepos.NewCardVariantRepo(gdb, log),
		keyMaps:   catalogrepos.NewVariantKeyMapRepo(gdb, log),
		refImages: catalogrepos.NewReferenceImageRepo(gdb, log),
		seedJobs:  jobrepos.NewSeedJobRepo(gdb, log),
	}
	f.engine = NewEngine(log, f.variants, f.keyMaps, f.refImages, f.seedJobs)
	return f
}

func (f *engineFixture) newSeedJob(t *testing.T, setID string, total int) *types.SeedJob {
	t.Helper()
	job, err := f.seedJobs.Create(dbctx.Background(), &types.SeedJob{
		DraftVersionID: uuid.New(),
		SetID:          setID,
		Status:         types.SeedStatusQueued,
		Total:          total,
	})
	if err != nil {
		t.Fatalf("create seed job: %v", err)
	}
	return job
}

func normalizeRows(t *testing.T, payload string) []normalize.NormalizedRow {
	t.Helper()
	rows, err := normalize.Rows([]byte(payload), "PARALLEL_DB", "2024 Demo Set")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	return rows
}

func TestRunInsertsNewVariants(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rows := normalizeRows(t, `[
		{"parallel": "Gold", "odds": "1:24", "cardNumber": "1"},
		{"parallel": "Silver", "serial": "/25", "cardNumber": "2"}
	]`)
	job := f.newSeedJob(t, "2024 demo set", len(rows))

	sum, err := f.engine.Run(dbctx.Background(), job.ID, "2024 demo set", "2024 Demo Set", rows, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sum.Status != types.SeedStatusComplete {
		t.Fatalf("unexpected status: got=%q want=%q", sum.Status, types.SeedStatusComplete)
	}
	if sum.Inserted != 2 || sum.Updated != 0 || sum.Failed != 0 {
		t.Fatalf("unexpected counters: %+v", sum)
	}

	variants, err := f.variants.ListBySet(dbctx.Background(), "2024 demo set")
	if err != nil {
		t.Fatalf("ListBySet failed: %v", err)
	}
	if len(variants) != 2 {
		t.Fatalf("unexpected variant count: got=%d want=2", len(variants))
	}

	// Every created variant carries a key map row.
	maps, err := f.keyMaps.ListBySet(dbctx.Background(), "2024 demo set")
	if err != nil {
		t.Fatalf("key map list failed: %v", err)
	}
	if len(maps) != 2 {
		t.Fatalf("unexpected key map count: got=%d want=2", len(maps))
	}

	stored, err := f.seedJobs.GetByID(dbctx.Background(), job.ID)
	if err != nil || stored == nil {
		t.Fatalf("seed job readback failed: %v", err)
	}
	if stored.Status != types.SeedStatusComplete || stored.Inserted != 2 {
		t.Fatalf("persisted counters wrong: status=%q inserted=%d", stored.Status, stored.Inserted)
	}
	if stored.CompletedAt == nil {
		t.Fatalf("completed_at not stamped")
	}
}

func TestRunIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rows := normalizeRows(t, `[
		{"parallel": "Gold", "odds": "1:24", "cardNumber": "1"},
		{"parallel": "Silver", "serial": "/25", "cardNumber": "2"}
	]`)

	first := f.newSeedJob(t, "2024 demo set", len(rows))
	if _, err := f.engine.Run(dbctx.Background(), first.ID, "2024 demo set", "2024 Demo Set", rows, nil); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	second := f.newSeedJob(t, "2024 demo set", len(rows))
	sum, err := f.engine.Run(dbctx.Background(), second.ID, "2024 demo set", "2024 Demo Set", rows, nil)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if sum.Inserted != 0 {
		t.Fatalf("second identical run must not insert: inserted=%d", sum.Inserted)
	}
	if sum.Updated != 2 {
		t.Fatalf("second identical run should match both rows: updated=%d", sum.Updated)
	}

	variants, err := f.variants.ListBySet(dbctx.Background(), "2024 demo set")
	if err != nil {
		t.Fatalf("ListBySet failed: %v", err)
	}
	if len(variants) != 2 {
		t.Fatalf("idempotence violated, variant count=%d", len(variants))
	}
}

func TestRunSkipsBlockedRows(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rows := normalizeRows(t, `[
		{"parallel": "Gold", "odds": "1:24", "cardNumber": "1"},
		{"parallel": "Broken", "cardNumber": "2"}
	]`)
	job := f.newSeedJob(t, "2024 demo set", len(rows))

	sum, err := f.engine.Run(dbctx.Background(), job.ID, "2024 demo set", "2024 Demo Set", rows, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sum.Inserted != 1 || sum.Skipped != 1 {
		t.Fatalf("unexpected counters: %+v", sum)
	}
	if sum.Status != types.SeedStatusComplete {
		t.Fatalf("skips are not failures: status=%q", sum.Status)
	}
}

func TestRunMatchesLegacyKeyedVariants(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	// A variant created years ago, known only by its legacy key.
	old, err := f.variants.Create(dbctx.Background(), &types.CardVariant{
		SetID:         "2024 demo set",
		SetLabel:      "2024 Demo Set",
		CardNumber:    strPtr("1"),
		ParallelLabel: "Gold",
	})
	if err != nil {
		t.Fatalf("seed old variant: %v", err)
	}
	if err := f.keyMaps.Upsert(dbctx.Background(), &types.VariantKeyMap{
		VariantID: old.ID,
		SetID:     "2024 demo set",
		LegacyKey: "2024 demo set::1::gold",
	}); err != nil {
		t.Fatalf("seed legacy key: %v", err)
	}

	rows := normalizeRows(t, `[{"parallel": "Gold", "odds": "1:24", "cardNumber": "1"}]`)
	job := f.newSeedJob(t, "2024 demo set", len(rows))

	sum, err := f.engine.Run(dbctx.Background(), job.ID, "2024 demo set", "2024 Demo Set", rows, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sum.Updated != 1 || sum.Inserted != 0 {
		t.Fatalf("legacy-keyed variant should match, not duplicate: %+v", sum)
	}

	// The match must be re-registered under the canonical scheme.
	maps, err := f.keyMaps.ListBySet(dbctx.Background(), "2024 demo set")
	if err != nil {
		t.Fatalf("key map list failed: %v", err)
	}
	if len(maps) != 1 {
		t.Fatalf("unexpected key map count: got=%d want=1", len(maps))
	}
	if maps[0].CanonicalKey == "" {
		t.Fatalf("canonical key not backfilled on legacy match")
	}
}

// After a set replacement the variant rows are gone but the identity map
// remains; a resolver hit must re-create the variant under its old id so the
// entity survives the cycle.
func TestRunRematerializesMappedVariants(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	keptID := uuid.New()
	if err := f.keyMaps.Upsert(dbctx.Background(), &types.VariantKeyMap{
		VariantID:    keptID,
		SetID:        "2024 demo set",
		CanonicalKey: "v2|2024 demo set|1|gold",
	}); err != nil {
		t.Fatalf("seed key map: %v", err)
	}

	rows := normalizeRows(t, `[
		{"parallel": "Gold", "odds": "1:24", "cardNumber": "1"},
		{"parallel": "Silver", "serial": "/25", "cardNumber": "2"}
	]`)
	job := f.newSeedJob(t, "2024 demo set", len(rows))

	sum, err := f.engine.Run(dbctx.Background(), job.ID, "2024 demo set", "2024 Demo Set", rows, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sum.Inserted != 1 || sum.Updated != 1 {
		t.Fatalf("mapped row should count as update: %+v", sum)
	}

	kept, err := f.variants.GetByID(dbctx.Background(), keptID)
	if err != nil {
		t.Fatalf("variant readback failed: %v", err)
	}
	if kept == nil {
		t.Fatalf("mapped variant not re-created under its id")
	}
	if kept.ParallelLabel != "Gold" || kept.Odds != "1:24" {
		t.Fatalf("re-created variant content wrong: %+v", kept)
	}
}

type failingKeyMaps struct {
	catalogrepos.VariantKeyMapRepo
}

func (f *failingKeyMaps) Upsert(dbc dbctx.Context, row *types.VariantKeyMap) error {
	return fmt.Errorf("key map store unavailable")
}

// A row that fails partway through lands in exactly one bucket.
func TestRunCountsFailedRowOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	engine := NewEngine(f.log, f.variants, &failingKeyMaps{f.keyMaps}, f.refImages, f.seedJobs)

	rows := normalizeRows(t, `[{"parallel": "Gold", "odds": "1:24", "cardNumber": "1"}]`)
	job := f.newSeedJob(t, "2024 demo set", len(rows))

	sum, err := engine.Run(dbctx.Background(), job.ID, "2024 demo set", "2024 Demo Set", rows, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sum.Failed != 1 || sum.Inserted != 0 || sum.Updated != 0 {
		t.Fatalf("failed row counted in multiple buckets: %+v", sum)
	}
	if sum.Status != types.SeedStatusFailed {
		t.Fatalf("unexpected status: got=%q want=%q", sum.Status, types.SeedStatusFailed)
	}
}

func TestRunCooperativeCancellation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	// Enough rows to cross at least one cancellation checkpoint.
	payload := "["
	for i := 0; i < 50; i++ {
		if i > 0 {
			payload += ","
		}
		payload += fmt.Sprintf(`{"parallel": "Gold %d", "odds": "1:24", "cardNumber": "%d"}`, i, i)
	}
	payload += "]"
	rows := normalizeRows(t, payload)
	job := f.newSeedJob(t, "2024 demo set", len(rows))

	cancelled := func(ctx context.Context) (bool, error) { return true, nil }
	sum, err := f.engine.Run(dbctx.Background(), job.ID, "2024 demo set", "2024 Demo Set", rows, cancelled)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sum.Status != types.SeedStatusCancelled {
		t.Fatalf("unexpected status: got=%q want=%q", sum.Status, types.SeedStatusCancelled)
	}
	if sum.Processed >= len(rows) {
		t.Fatalf("cancellation did not stop the run: processed=%d", sum.Processed)
	}

	stored, err := f.seedJobs.GetByID(dbctx.Background(), job.ID)
	if err != nil || stored == nil {
		t.Fatalf("seed job readback failed: %v", err)
	}
	if stored.Status != types.SeedStatusCancelled || stored.CompletedAt == nil {
		t.Fatalf("cancelled run must persist status and completed_at: status=%q", stored.Status)
	}
	if stored.Processed != sum.Processed {
		t.Fatalf("persisted processed count drifted: got=%d want=%d", stored.Processed, sum.Processed)
	}
}

func strPtr(s string) *string { return &s }
