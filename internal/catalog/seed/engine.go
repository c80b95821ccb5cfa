package seed

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/slabworks/cardvault-backend/internal/catalog/identity"
	"github.com/slabworks/cardvault-backend/internal/data/repos"
	types "github.com/slabworks/cardvault-backend/internal/domain"
	"github.com/slabworks/cardvault-backend/internal/ingest/normalize"
	"github.com/slabworks/cardvault-backend/internal/platform/dbctx"
	"github.com/slabworks/cardvault-backend/internal/platform/logger"
)

const (
	// Progress counters are persisted every checkpointEvery rows so a crashed
	// process still reports accurate last-known progress.
	checkpointEvery = 25
	// The cancellation flag is re-read every cancelCheckEvery rows.
	cancelCheckEvery = 20
	// Variants with fewer reference images than this count toward the
	// post-seed imaging queue.
	coverageMinimum = 2
)

// Summary is the terminal result of one seed run.
type Summary struct {
	Status     string `json:"status"`
	Processed  int    `json:"processed"`
	Inserted   int    `json:"inserted"`
	Updated    int    `json:"updated"`
	Failed     int    `json:"failed"`
	Skipped    int    `json:"skipped"`
	QueueCount int    `json:"queue_count"`
	DurationMs int64  `json:"duration_ms"`
}

// CancelCheck re-reads a live cancellation flag. Returning true stops the
// run at the next checkpoint.
type CancelCheck func(ctx context.Context) (bool, error)

// Engine performs the idempotent upsert of an approved draft version into
// the catalog. It never deletes; rows it cannot match are created, rows it
// can match keep their variant id and have their content refreshed from the
// draft.
type Engine struct {
	log       *logger.Logger
	variants  repos.CardVariantRepo
	keyMaps   repos.VariantKeyMapRepo
	refImages repos.ReferenceImageRepo
	seedJobs  repos.SeedJobRepo
}

func NewEngine(baseLog *logger.Logger, variants repos.CardVariantRepo, keyMaps repos.VariantKeyMapRepo, refImages repos.ReferenceImageRepo, seedJobs repos.SeedJobRepo) *Engine {
	return &Engine{
		log:       baseLog.With("component", "SeedEngine"),
		variants:  variants,
		keyMaps:   keyMaps,
		refImages: refImages,
		seedJobs:  seedJobs,
	}
}

// Run processes rows in index order. Per-row failures are isolated: they
// increment the failed counter and processing continues. A nil cancelled
// check disables cooperative cancellation.
func (e *Engine) Run(dbc dbctx.Context, seedJobID uuid.UUID, setID, setLabel string, rows []normalize.NormalizedRow, cancelled CancelCheck) (Summary, error) {
	started := time.Now()
	log := e.log.With("seed_job_id", seedJobID, "set_id", setID)

	now := started.UTC()
	if err := e.seedJobs.UpdateFields(dbc, seedJobID, map[string]interface{}{
		"status":     types.SeedStatusRunning,
		"total":      len(rows),
		"started_at": now,
	}); err != nil {
		return Summary{}, fmt.Errorf("mark seed job running: %w", err)
	}

	resolver, err := identity.Load(dbc, setID, setLabel, e.keyMaps, e.log)
	if err != nil {
		return Summary{}, err
	}

	var sum Summary
	stopped := false
	for i := range rows {
		if cancelled != nil && i > 0 && i%cancelCheckEvery == 0 {
			stop, cerr := cancelled(dbc.Ctx)
			if cerr != nil {
				log.Warn("cancel check failed, continuing", "error", cerr)
			} else if stop {
				stopped = true
				break
			}
		}

		row := &rows[i]
		if row.HasBlockingIssue() || row.ParallelLabel == "" {
			sum.Skipped++
			sum.Processed++
			continue
		}

		if err := e.seedRow(dbc, resolver, setID, setLabel, row, &sum); err != nil {
			sum.Failed++
			log.Warn("row seed failed", "row_index", row.Index, "error", err)
		}
		sum.Processed++

		if sum.Processed%checkpointEvery == 0 {
			e.checkpoint(dbc, seedJobID, &sum)
		}
	}

	switch {
	case stopped:
		sum.Status = types.SeedStatusCancelled
	case sum.Failed > 0:
		sum.Status = types.SeedStatusFailed
	default:
		sum.Status = types.SeedStatusComplete
	}

	if qc, err := e.refImages.CountVariantsLackingCoverage(dbc, setID, coverageMinimum); err != nil {
		log.Warn("queue count failed", "error", err)
	} else {
		sum.QueueCount = int(qc)
	}
	sum.DurationMs = time.Since(started).Milliseconds()

	completed := time.Now().UTC()
	if err := e.seedJobs.UpdateFields(dbc, seedJobID, map[string]interface{}{
		"status":       sum.Status,
		"processed":    sum.Processed,
		"inserted":     sum.Inserted,
		"updated":      sum.Updated,
		"failed":       sum.Failed,
		"skipped":      sum.Skipped,
		"queue_count":  sum.QueueCount,
		"completed_at": completed,
	}); err != nil {
		return sum, fmt.Errorf("persist seed result: %w", err)
	}

	log.Info("seed run finished",
		"status", sum.Status,
		"processed", sum.Processed,
		"inserted", sum.Inserted,
		"updated", sum.Updated,
		"failed", sum.Failed,
		"skipped", sum.Skipped,
		"queue_count", sum.QueueCount,
	)
	return sum, nil
}

func (e *Engine) seedRow(dbc dbctx.Context, resolver *identity.Resolver, setID, setLabel string, row *normalize.NormalizedRow, sum *Summary) error {
	// An identity-map hit means this entity survives the replacement: the
	// variant row is re-materialized under its resolved id, so consumers
	// holding that id keep pointing at the same entity across the cycle.
	if id, ok := resolver.Resolve(row.CardNumber, row.ParallelLabel); ok {
		if _, err := e.variants.Upsert(dbc, variantFromRow(id, setID, setLabel, row)); err != nil {
			return err
		}
		if err := resolver.Register(dbc, id, row.CardNumber, row.ParallelLabel); err != nil {
			return err
		}
		sum.Updated++
		return nil
	}

	// Identity indexes miss; check the catalog directly before creating.
	existing, err := e.variants.FindBySetCardParallel(dbc, setID, row.CardNumber, row.ParallelLabel)
	if err != nil {
		return err
	}
	if existing != nil {
		if _, err := e.variants.Upsert(dbc, variantFromRow(existing.ID, setID, setLabel, row)); err != nil {
			return err
		}
		if err := resolver.Register(dbc, existing.ID, row.CardNumber, row.ParallelLabel); err != nil {
			return err
		}
		sum.Updated++
		return nil
	}

	created, err := e.variants.Create(dbc, variantFromRow(uuid.Nil, setID, setLabel, row))
	if err != nil {
		return err
	}
	if err := resolver.Register(dbc, created.ID, row.CardNumber, row.ParallelLabel); err != nil {
		return err
	}
	sum.Inserted++
	return nil
}

func variantFromRow(id uuid.UUID, setID, setLabel string, row *normalize.NormalizedRow) *types.CardVariant {
	return &types.CardVariant{
		ID:              id,
		SetID:           setID,
		SetLabel:        setLabel,
		CardNumber:      row.CardNumber,
		ParallelLabel:   row.ParallelLabel,
		PlayerSeed:      row.PlayerSeed,
		Odds:            row.Odds,
		Serial:          row.Serial,
		Format:          row.Format,
		SourceListingID: row.SourceListingID,
		SourceURL:       row.SourceURL,
	}
}

func (e *Engine) checkpoint(dbc dbctx.Context, seedJobID uuid.UUID, sum *Summary) {
	err := e.seedJobs.UpdateFields(dbc, seedJobID, map[string]interface{}{
		"processed": sum.Processed,
		"inserted":  sum.Inserted,
		"updated":   sum.Updated,
		"failed":    sum.Failed,
		"skipped":   sum.Skipped,
	})
	if err != nil {
		e.log.Warn("seed checkpoint failed", "seed_job_id", seedJobID, "error", err)
	}
}
