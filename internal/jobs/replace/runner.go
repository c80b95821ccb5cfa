package replace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/slabworks/cardvault-backend/internal/catalog/seed"
	"github.com/slabworks/cardvault-backend/internal/data/repos"
	types "github.com/slabworks/cardvault-backend/internal/domain"
	"github.com/slabworks/cardvault-backend/internal/ingest/draft"
	"github.com/slabworks/cardvault-backend/internal/ingest/normalize"
	"github.com/slabworks/cardvault-backend/internal/ingest/preview"
	"github.com/slabworks/cardvault-backend/internal/platform/apperr"
	"github.com/slabworks/cardvault-backend/internal/platform/dbctx"
	"github.com/slabworks/cardvault-backend/internal/platform/logger"
	"github.com/slabworks/cardvault-backend/internal/services"
)

// Runner drives one replace job through its stages:
//
//	QUEUED -> VALIDATING_PREVIEW -> DELETING_SET -> CREATING_DRAFT
//	       -> APPROVING_DRAFT -> SEEDING_SET -> COMPLETE
//
// with FAILED/CANCELLED reachable from any non-terminal stage. Stages are
// strictly sequential; no stage starts before its predecessor's effects are
// committed. The cancellation flag is re-read at every stage boundary and
// periodically inside the seed loop. Whatever the delete stage removed stays
// removed: that step is never rolled back, by cancellation or by failure.
type Runner struct {
	db       *gorm.DB
	log      *logger.Logger
	repos    *repos.Bundle
	previews *preview.Engine
	seeder   *seed.Engine
	audit    services.AuditSink
}

func NewRunner(db *gorm.DB, baseLog *logger.Logger, bundle *repos.Bundle, previews *preview.Engine, seeder *seed.Engine, audit services.AuditSink) *Runner {
	return &Runner{
		db:       db,
		log:      baseLog.With("job", "set_replace"),
		repos:    bundle,
		previews: previews,
		seeder:   seeder,
		audit:    audit,
	}
}

// runContext is the in-memory state of one job execution. The persisted job
// row is the source of truth; this just avoids re-reading it between steps.
type runContext struct {
	ctx      context.Context
	job      *types.ReplaceJob
	args     types.ReplaceRunArgs
	progress types.ReplaceProgress
	logs     []types.ReplaceLogEntry

	rows  []normalize.NormalizedRow
	build *draft.Build
}

func (jc *runContext) dbc() dbctx.Context {
	return dbctx.Context{Ctx: jc.ctx}
}

// Run executes a claimed job to a terminal stage. It returns an error only
// for infrastructure trouble loading the job; pipeline failures terminate
// the job as FAILED and return nil.
func (r *Runner) Run(ctx context.Context, jobID uuid.UUID) error {
	job, err := r.repos.ReplaceJobs.GetByID(dbctx.Context{Ctx: ctx}, jobID)
	if err != nil {
		return fmt.Errorf("load replace job %s: %w", jobID, err)
	}
	if job == nil {
		return fmt.Errorf("replace job %s not found", jobID)
	}
	if types.IsTerminalStage(job.Stage) {
		return nil
	}

	jc := &runContext{
		ctx:      ctx,
		job:      job,
		progress: types.ReplaceProgressFromJSON(job.Progress),
	}

	args, err := types.ReplaceRunArgsFromJSON(job.RunArgs)
	if err != nil {
		r.finishFailed(jc, types.StepValidate, fmt.Errorf("decode run args: %w", err))
		return nil
	}
	jc.args = args

	r.recordAudit(jc, "set_replace_started", services.AuditStatusSuccess, "")

	stages := []struct {
		stage string
		step  string
		run   func(jc *runContext) error
	}{
		{types.StageValidatingPreview, types.StepValidate, r.stageValidate},
		{types.StageDeletingSet, types.StepDelete, r.stageDelete},
		{types.StageCreatingDraft, types.StepDraft, r.stageDraft},
		{types.StageApprovingDraft, types.StepApprove, r.stageApprove},
		{types.StageSeedingSet, types.StepSeed, r.stageSeed},
	}

	tracer := otel.Tracer("cardvault-backend/replace")
	for _, s := range stages {
		if r.cancelRequested(jc) {
			r.finishCancelled(jc, s.step)
			return nil
		}
		if !r.enterStage(jc, s.stage, s.step) {
			// The row went terminal underneath us (queued-stage cancel).
			return nil
		}
		stageCtx, span := tracer.Start(ctx, "replace."+s.step,
			trace.WithAttributes(
				attribute.String("replace_job_id", jc.job.ID.String()),
				attribute.String("set_id", jc.job.SetID),
				attribute.String("stage", s.stage),
			))
		jc.ctx = stageCtx
		err := s.run(jc)
		if err != nil {
			span.RecordError(err)
		}
		span.End()
		jc.ctx = ctx
		if err != nil {
			if errors.Is(err, apperr.ErrCancelled) {
				r.finishCancelled(jc, s.step)
				return nil
			}
			r.finishFailed(jc, s.step, err)
			return nil
		}
		r.completeStep(jc, s.step)
	}

	r.finishComplete(jc)
	return nil
}

// -------------------- stages --------------------

func (r *Runner) stageValidate(jc *runContext) error {
	report, build, err := r.previews.Compute(jc.dbc(), jc.args.SetLabel, jc.args.DatasetType, jc.args.RawRows)
	if err != nil {
		return fmt.Errorf("recompute preview: %w", err)
	}
	if report.PreviewHash != jc.job.PreviewHash {
		return fmt.Errorf("%w: the set or the submitted rows changed since the preview was approved", apperr.ErrStalePreview)
	}
	if jc.job.Confirmation != types.ConfirmationPhrase(report.SetID) {
		return fmt.Errorf("confirmation phrase does not match set %q", report.SetID)
	}
	if report.BlockingErrorCount > 0 {
		return fmt.Errorf("%d rows carry blocking validation errors", report.BlockingErrorCount)
	}
	if report.AcceptedRowCount < 1 {
		return fmt.Errorf("no accepted rows to seed")
	}
	jc.rows = build.Rows
	jc.build = build
	r.appendLog(jc, "info", fmt.Sprintf("preview validated: %d accepted rows, +%d -%d =%d", report.AcceptedRowCount, report.ToAdd, report.ToRemove, report.Unchanged))
	return nil
}

func (r *Runner) stageDelete(jc *runContext) error {
	dbc := jc.dbc()
	candidates := setIDCandidates(jc.job.SetID, jc.job.SetLabel)

	variantCount, err := r.repos.Variants.CountBySetIDs(dbc, candidates)
	if err != nil {
		return fmt.Errorf("delete impact: %w", err)
	}
	imageCount, err := r.repos.ReferenceImages.CountBySetIDs(dbc, candidates)
	if err != nil {
		return fmt.Errorf("delete impact: %w", err)
	}
	r.appendLog(jc, "warn", fmt.Sprintf("deleting %d variants and %d reference images", variantCount, imageCount))

	// Identity maps survive on purpose: they are what lets the seed stage
	// recognize entities that exist on both sides of the replacement and
	// re-create them under their old ids.
	err = r.db.WithContext(jc.ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbctx.Context{Ctx: jc.ctx, Tx: tx}
		if _, err := r.repos.ReferenceImages.DeleteBySetIDs(txc, candidates); err != nil {
			return fmt.Errorf("delete reference images: %w", err)
		}
		if _, err := r.repos.Variants.DeleteBySetIDs(txc, candidates); err != nil {
			return fmt.Errorf("delete variants: %w", err)
		}
		var draftIDs []uuid.UUID
		for _, candidate := range candidates {
			existing, err := r.repos.SetDrafts.GetBySetID(txc, candidate)
			if err != nil {
				return fmt.Errorf("load draft for delete: %w", err)
			}
			if existing != nil {
				draftIDs = append(draftIDs, existing.ID)
			}
		}
		if _, err := r.repos.DraftVersions.DeleteByDraftIDs(txc, draftIDs); err != nil {
			return fmt.Errorf("delete draft versions: %w", err)
		}
		if _, err := r.repos.SetDrafts.DeleteBySetIDs(txc, candidates); err != nil {
			return fmt.Errorf("delete drafts: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.recordAudit(jc, "set_replace_delete_complete", services.AuditStatusSuccess, "",
		"deleted_variants", variantCount, "deleted_reference_images", imageCount)
	return nil
}

func (r *Runner) stageDraft(jc *runContext) error {
	dbc := jc.dbc()

	setDraft, err := r.repos.SetDrafts.UpsertBySetID(dbc, &types.SetDraft{
		SetID:       jc.job.SetID,
		DatasetType: jc.job.DatasetType,
		Status:      "replacing",
	})
	if err != nil {
		return fmt.Errorf("upsert draft: %w", err)
	}

	ingestion, err := r.repos.IngestionJobs.Create(dbc, &types.IngestionJob{
		SetID:       jc.job.SetID,
		DatasetType: jc.job.DatasetType,
		ParserName:  "replace_pipeline",
		SourceLabel: jc.args.SetLabel,
		RawRows:     datatypes.JSON(jc.args.RawRows),
		RowCount:    len(jc.rows),
	})
	if err != nil {
		return fmt.Errorf("record ingestion job: %w", err)
	}

	maxVersion, err := r.repos.DraftVersions.MaxVersionForDraft(dbc, setDraft.ID)
	if err != nil {
		return fmt.Errorf("read draft versions: %w", err)
	}
	version, err := r.repos.DraftVersions.Create(dbc, &types.DraftVersion{
		DraftID:            setDraft.ID,
		Version:            maxVersion + 1,
		VersionHash:        jc.build.VersionHash,
		Rows:               datatypes.JSON(jc.build.RowsJSON),
		RowCount:           jc.build.RowCount,
		ErrorCount:         jc.build.ErrorCount,
		BlockingErrorCount: jc.build.BlockingErrorCount,
	})
	if err != nil {
		return fmt.Errorf("create draft version: %w", err)
	}

	jc.job.DraftID = &setDraft.ID
	jc.job.IngestionJobID = &ingestion.ID
	jc.job.DraftVersionID = &version.ID
	if err := r.repos.ReplaceJobs.UpdateFields(dbc, jc.job.ID, map[string]interface{}{
		"draft_id":         setDraft.ID,
		"ingestion_job_id": ingestion.ID,
		"draft_version_id": version.ID,
	}); err != nil {
		return fmt.Errorf("record draft lineage: %w", err)
	}
	r.appendLog(jc, "info", fmt.Sprintf("draft version %d created (%d rows)", version.Version, version.RowCount))
	return nil
}

func (r *Runner) stageApprove(jc *runContext) error {
	dbc := jc.dbc()

	accepted := 0
	for i := range jc.rows {
		if jc.rows[i].Accepted() {
			accepted++
		}
	}
	// The baseline is empty after the delete stage: everything is an add.
	summary, _ := json.Marshal(map[string]int{"added": accepted, "removed": 0, "unchanged": 0})

	approvedBy := jc.args.RequestedBy
	if approvedBy == "" {
		approvedBy = "replace_pipeline"
	}
	approval, err := r.repos.DraftApprovals.Create(dbc, &types.DraftApproval{
		DraftVersionID: *jc.job.DraftVersionID,
		ApprovedBy:     approvedBy,
		DiffSummary:    summary,
	})
	if err != nil {
		return fmt.Errorf("record approval: %w", err)
	}

	jc.job.ApprovalID = &approval.ID
	if err := r.repos.ReplaceJobs.UpdateFields(dbc, jc.job.ID, map[string]interface{}{
		"approval_id": approval.ID,
	}); err != nil {
		return fmt.Errorf("record approval lineage: %w", err)
	}
	r.recordAudit(jc, "set_replace_draft_approved", services.AuditStatusSuccess, "")
	return nil
}

func (r *Runner) stageSeed(jc *runContext) error {
	dbc := jc.dbc()

	seedJob, err := r.repos.SeedJobs.Create(dbc, &types.SeedJob{
		DraftVersionID: *jc.job.DraftVersionID,
		SetID:          jc.job.SetID,
		Status:         types.SeedStatusQueued,
		Total:          len(jc.rows),
	})
	if err != nil {
		return fmt.Errorf("create seed job: %w", err)
	}
	jc.job.SeedJobID = &seedJob.ID
	if err := r.repos.ReplaceJobs.UpdateFields(dbc, jc.job.ID, map[string]interface{}{
		"seed_job_id": seedJob.ID,
	}); err != nil {
		return fmt.Errorf("record seed lineage: %w", err)
	}

	cancelled := func(ctx context.Context) (bool, error) {
		fresh, err := r.repos.ReplaceJobs.GetByID(dbctx.Context{Ctx: ctx}, jc.job.ID)
		if err != nil {
			return false, err
		}
		return fresh != nil && fresh.CancelRequestedAt != nil, nil
	}

	summary, err := r.seeder.Run(dbc, seedJob.ID, jc.job.SetID, jc.args.SetLabel, jc.rows, cancelled)
	if err != nil {
		return fmt.Errorf("seed run: %w", err)
	}

	summaryJSON, _ := json.Marshal(summary)
	jc.job.SeedSummary = datatypes.JSON(summaryJSON)
	if err := r.repos.ReplaceJobs.UpdateFields(dbc, jc.job.ID, map[string]interface{}{
		"seed_summary": summaryJSON,
	}); err != nil {
		return fmt.Errorf("record seed summary: %w", err)
	}

	switch summary.Status {
	case types.SeedStatusCancelled:
		return fmt.Errorf("%w: seed run stopped by operator", apperr.ErrCancelled)
	case types.SeedStatusFailed:
		return fmt.Errorf("%d rows failed to seed", summary.Failed)
	}
	r.appendLog(jc, "info", fmt.Sprintf("seeded set: %d inserted, %d updated, %d skipped, queue %d",
		summary.Inserted, summary.Updated, summary.Skipped, summary.QueueCount))
	return nil
}

// -------------------- transitions --------------------

// enterStage moves the job to a stage, marks its step in_progress and
// persists the progress projection. Returns false if the row is already
// terminal, which means a cancel landed between stages.
func (r *Runner) enterStage(jc *runContext, stage, step string) bool {
	now := time.Now().UTC()
	jc.job.Stage = stage
	jc.progress.Stage = stage
	if s := jc.progress.Step(step); s != nil {
		s.Status = types.StepInProgress
		if s.StartedAt == nil {
			s.StartedAt = &now
		}
	}
	ok, err := r.repos.ReplaceJobs.UpdateFieldsUnlessTerminal(jc.dbc(), jc.job.ID, map[string]interface{}{
		"stage":        stage,
		"progress":     jc.progress.ToJSON(),
		"logs":         logsJSON(jc.logs),
		"heartbeat_at": now,
	})
	if err != nil {
		r.log.Warn("stage transition write failed", "replace_job_id", jc.job.ID, "stage", stage, "error", err)
	}
	return ok
}

func (r *Runner) completeStep(jc *runContext, step string) {
	now := time.Now().UTC()
	if s := jc.progress.Step(step); s != nil {
		s.Status = types.StepComplete
		if s.CompletedAt == nil {
			s.CompletedAt = &now
		}
	}
	_, err := r.repos.ReplaceJobs.UpdateFieldsUnlessTerminal(jc.dbc(), jc.job.ID, map[string]interface{}{
		"progress": jc.progress.ToJSON(),
		"logs":     logsJSON(jc.logs),
	})
	if err != nil {
		r.log.Warn("step completion write failed", "replace_job_id", jc.job.ID, "step", step, "error", err)
	}
}

func (r *Runner) cancelRequested(jc *runContext) bool {
	fresh, err := r.repos.ReplaceJobs.GetByID(jc.dbc(), jc.job.ID)
	if err != nil {
		r.log.Warn("cancel flag read failed", "replace_job_id", jc.job.ID, "error", err)
		return false
	}
	if fresh == nil {
		return false
	}
	jc.job.CancelRequestedAt = fresh.CancelRequestedAt
	return fresh.CancelRequestedAt != nil
}

func (r *Runner) finishComplete(jc *runContext) {
	now := time.Now().UTC()
	jc.progress.Stage = types.StageComplete
	err := r.repos.ReplaceJobs.UpdateFields(jc.dbc(), jc.job.ID, map[string]interface{}{
		"stage":           types.StageComplete,
		"progress":        jc.progress.ToJSON(),
		"logs":            logsJSON(jc.logs),
		"active_set_lock": nil,
		"completed_at":    now,
	})
	if err != nil {
		r.log.Error("failed to finalize replace job", "replace_job_id", jc.job.ID, "error", err)
	}
	r.recordAudit(jc, "set_replace_seed_complete", services.AuditStatusSuccess, "")
	r.log.Info("replace job complete", "replace_job_id", jc.job.ID, "set_id", jc.job.SetID)
}

// finishFailed terminates the job with the failing step and the error
// message preserved verbatim for the operator. Stages are never retried
// automatically; a retry is a new job linked through retry_of_id.
func (r *Runner) finishFailed(jc *runContext, step string, cause error) {
	now := time.Now().UTC()
	msg := cause.Error()
	if s := jc.progress.Step(step); s != nil {
		s.Status = types.StepFailed
		s.Message = msg
		if s.CompletedAt == nil {
			s.CompletedAt = &now
		}
	}
	jc.progress.Stage = types.StageFailed
	r.appendLog(jc, "error", fmt.Sprintf("%s step failed: %s", step, msg))
	err := r.repos.ReplaceJobs.UpdateFields(jc.dbc(), jc.job.ID, map[string]interface{}{
		"stage":           types.StageFailed,
		"progress":        jc.progress.ToJSON(),
		"logs":            logsJSON(jc.logs),
		"error_message":   msg,
		"active_set_lock": nil,
		"completed_at":    now,
	})
	if err != nil {
		r.log.Error("failed to persist job failure", "replace_job_id", jc.job.ID, "error", err)
	}
	r.recordAudit(jc, "set_replace_failed", services.AuditStatusFailure, msg, "step", step)
	r.log.Warn("replace job failed", "replace_job_id", jc.job.ID, "step", step, "error", msg)
}

// finishCancelled terminates the job as CANCELLED. Completed steps keep
// their status: in particular a finished delete stage stays deleted.
func (r *Runner) finishCancelled(jc *runContext, step string) {
	now := time.Now().UTC()
	if s := jc.progress.Step(step); s != nil && s.Status != types.StepComplete {
		s.Status = types.StepCancelled
		if s.CompletedAt == nil {
			s.CompletedAt = &now
		}
	}
	jc.progress.Stage = types.StageCancelled

	if jc.job.SeedJobID != nil {
		r.cancelSeedJob(jc, *jc.job.SeedJobID)
	}

	r.appendLog(jc, "warn", fmt.Sprintf("cancelled before %s completed", step))
	err := r.repos.ReplaceJobs.UpdateFields(jc.dbc(), jc.job.ID, map[string]interface{}{
		"stage":           types.StageCancelled,
		"progress":        jc.progress.ToJSON(),
		"logs":            logsJSON(jc.logs),
		"active_set_lock": nil,
		"completed_at":    now,
	})
	if err != nil {
		r.log.Error("failed to persist job cancellation", "replace_job_id", jc.job.ID, "error", err)
	}
	r.recordAudit(jc, "set_replace_cancel", services.AuditStatusSuccess, "", "step", step)
	r.log.Info("replace job cancelled", "replace_job_id", jc.job.ID, "step", step)
}

// cancelSeedJob moves a linked seed job out of any active status and stamps
// its completion time. A seed job that already finished keeps its own
// terminal status and timestamp.
func (r *Runner) cancelSeedJob(jc *runContext, seedJobID uuid.UUID) {
	now := time.Now().UTC()
	if _, err := r.repos.SeedJobs.UpdateFieldsUnlessStatus(jc.dbc(), seedJobID,
		[]string{types.SeedStatusComplete, types.SeedStatusFailed},
		map[string]interface{}{
			"status":       types.SeedStatusCancelled,
			"completed_at": now,
		}); err != nil {
		r.log.Warn("seed job cancel write failed", "seed_job_id", seedJobID, "error", err)
	}
}

// -------------------- helpers --------------------

func (r *Runner) appendLog(jc *runContext, level, message string) {
	jc.logs = append(jc.logs, types.ReplaceLogEntry{
		At:      time.Now().UTC(),
		Level:   level,
		Stage:   jc.job.Stage,
		Message: message,
	})
}

func (r *Runner) recordAudit(jc *runContext, action, status, reason string, kv ...any) {
	meta := map[string]any{}
	for i := 0; i+1 < len(kv); i += 2 {
		if key, ok := kv[i].(string); ok {
			meta[key] = kv[i+1]
		}
	}
	r.audit.Record(jc.ctx, services.AuditEvent{
		Action:         action,
		Status:         status,
		SetID:          jc.job.SetID,
		ReplaceJobID:   &jc.job.ID,
		IngestionJobID: jc.job.IngestionJobID,
		DraftID:        jc.job.DraftID,
		DraftVersionID: jc.job.DraftVersionID,
		ApprovalID:     jc.job.ApprovalID,
		SeedJobID:      jc.job.SeedJobID,
		Reason:         reason,
		Metadata:       meta,
	})
}

func logsJSON(entries []types.ReplaceLogEntry) datatypes.JSON {
	if entries == nil {
		entries = []types.ReplaceLogEntry{}
	}
	b, _ := json.Marshal(entries)
	return datatypes.JSON(b)
}

// setIDCandidates lists every historical spelling of a set id the delete
// stage should match: the normalized id, the raw label, and its decoded
// form. Old rows may exist under any of them.
func setIDCandidates(setID, setLabel string) []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range []string{setID, setLabel, normalize.DecodeLabel(setLabel), normalize.NormalizeSetID(setLabel)} {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
