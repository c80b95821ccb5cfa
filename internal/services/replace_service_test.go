package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	jobrepos "github.com/slabworks/cardvault-backend/internal/data/repos/jobs"
	"github.com/slabworks/cardvault-backend/internal/data/repos/testutil"
	types "github.com/slabworks/cardvault-backend/internal/domain"
	"github.com/slabworks/cardvault-backend/internal/platform/apperr"
	"github.com/slabworks/cardvault-backend/internal/platform/dbctx"
)

type recordingSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (r *recordingSink) Record(ctx context.Context, event AuditEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingSink) last() (AuditEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return AuditEvent{}, false
	}
	return r.events[len(r.events)-1], true
}

func newReplaceFixture(t *testing.T) (ReplaceService, jobrepos.ReplaceJobRepo, *recordingSink) {
	t.Helper()
	gdb := testutil.DB(t)
	log := testutil.Logger(t)
	jobs := jobrepos.NewReplaceJobRepo(gdb, log)
	seedJobs := jobrepos.NewSeedJobRepo(gdb, log)
	sink := &recordingSink{}
	return NewReplaceService(log, jobs, seedJobs, sink), jobs, sink
}

func validCreateRequest() CreateReplaceRequest {
	return CreateReplaceRequest{
		SetLabel:     "2024 Demo Set",
		DatasetType:  types.DatasetTypeParallelDB,
		Rows:         json.RawMessage(`[{"parallel": "Gold", "odds": "1:24", "cardNumber": "1"}]`),
		PreviewHash:  "abc123",
		Confirmation: "REPLACE 2024 demo set",
		RequestedBy:  "ops@example.com",
	}
}

func TestCreateEnqueuesJob(t *testing.T) {
	t.Parallel()
	svc, jobs, _ := newReplaceFixture(t)

	job, err := svc.Create(context.Background(), validCreateRequest())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if job.Stage != types.StageQueued {
		t.Fatalf("unexpected stage: got=%q want=%q", job.Stage, types.StageQueued)
	}
	if job.SetID != "2024 demo set" {
		t.Fatalf("unexpected set id: got=%q", job.SetID)
	}
	if job.ActiveSetLock == nil || *job.ActiveSetLock != "2024 demo set" {
		t.Fatalf("set lock not held: %v", job.ActiveSetLock)
	}

	args, err := types.ReplaceRunArgsFromJSON(job.RunArgs)
	if err != nil {
		t.Fatalf("run args not decodable: %v", err)
	}
	if args.SetLabel != "2024 Demo Set" || args.DatasetType != types.DatasetTypeParallelDB {
		t.Fatalf("run args wrong: %+v", args)
	}

	progress := types.ReplaceProgressFromJSON(job.Progress)
	if len(progress.Steps) != len(types.ReplaceStepOrder) {
		t.Fatalf("progress steps not initialized: %+v", progress)
	}
	for _, s := range progress.Steps {
		if s.Status != types.StepPending {
			t.Fatalf("step %q should start pending, got %q", s.Name, s.Status)
		}
	}

	stored, err := jobs.GetByID(dbctx.Background(), job.ID)
	if err != nil || stored == nil {
		t.Fatalf("job not persisted: %v", err)
	}
}

func TestCreateRejectsBadInput(t *testing.T) {
	t.Parallel()
	svc, _, _ := newReplaceFixture(t)

	cases := []struct {
		name   string
		mutate func(*CreateReplaceRequest)
	}{
		{"empty set label", func(r *CreateReplaceRequest) { r.SetLabel = "  " }},
		{"unknown dataset type", func(r *CreateReplaceRequest) { r.DatasetType = "OTHER" }},
		{"empty rows", func(r *CreateReplaceRequest) { r.Rows = nil }},
		{"missing preview hash", func(r *CreateReplaceRequest) { r.PreviewHash = "" }},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			req := validCreateRequest()
			tc.mutate(&req)
			if _, err := svc.Create(context.Background(), req); !errors.Is(err, apperr.ErrInvalidArgument) {
				t.Fatalf("expected ErrInvalidArgument, got %v", err)
			}
		})
	}
}

func TestCreateRejectsWrongConfirmation(t *testing.T) {
	t.Parallel()
	svc, _, sink := newReplaceFixture(t)

	req := validCreateRequest()
	req.Confirmation = "REPLACE 2024 Demo Set" // raw label, not the normalized id
	if _, err := svc.Create(context.Background(), req); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}

	event, ok := sink.last()
	if !ok || event.Status != AuditStatusDenied {
		t.Fatalf("denied admission must be audited: %+v", event)
	}
}

func TestCreateEnforcesSingleFlight(t *testing.T) {
	t.Parallel()
	svc, _, sink := newReplaceFixture(t)

	if _, err := svc.Create(context.Background(), validCreateRequest()); err != nil {
		t.Fatalf("first Create failed: %v", err)
	}
	if _, err := svc.Create(context.Background(), validCreateRequest()); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected ErrConflict for second active job, got %v", err)
	}
	event, ok := sink.last()
	if !ok || event.Status != AuditStatusDenied {
		t.Fatalf("denied admission must be audited: %+v", event)
	}

	// A different set is not blocked.
	other := validCreateRequest()
	other.SetLabel = "2023 Other Set"
	other.Confirmation = "REPLACE 2023 other set"
	if _, err := svc.Create(context.Background(), other); err != nil {
		t.Fatalf("unrelated set should not be blocked: %v", err)
	}
}

func TestCreateAllowsNewJobAfterTerminal(t *testing.T) {
	t.Parallel()
	svc, jobs, _ := newReplaceFixture(t)

	first, err := svc.Create(context.Background(), validCreateRequest())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := jobs.UpdateFields(dbctx.Background(), first.ID, map[string]interface{}{
		"stage":           types.StageFailed,
		"active_set_lock": nil,
	}); err != nil {
		t.Fatalf("terminalize failed: %v", err)
	}

	retry := validCreateRequest()
	retry.RetryOfID = &first.ID
	second, err := svc.Create(context.Background(), retry)
	if err != nil {
		t.Fatalf("retry Create failed: %v", err)
	}
	if second.RetryOfID == nil || *second.RetryOfID != first.ID {
		t.Fatalf("retry lineage not recorded: %v", second.RetryOfID)
	}
}

func TestCreateBlockedByActiveSeedJob(t *testing.T) {
	t.Parallel()

	gdb := testutil.DB(t)
	log := testutil.Logger(t)
	jobs := jobrepos.NewReplaceJobRepo(gdb, log)
	seedJobs := jobrepos.NewSeedJobRepo(gdb, log)
	svc := NewReplaceService(log, jobs, seedJobs, NoopAuditSink{})

	if _, err := seedJobs.Create(dbctx.Background(), &types.SeedJob{
		DraftVersionID: uuid.New(),
		SetID:          "2024 demo set",
		Status:         types.SeedStatusRunning,
	}); err != nil {
		t.Fatalf("seed job create failed: %v", err)
	}

	if _, err := svc.Create(context.Background(), validCreateRequest()); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected ErrConflict while seed job is active, got %v", err)
	}
}

func TestCancelQueuedJobImmediately(t *testing.T) {
	t.Parallel()
	svc, _, _ := newReplaceFixture(t)

	job, err := svc.Create(context.Background(), validCreateRequest())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	cancelled, err := svc.Cancel(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if cancelled.Stage != types.StageCancelled {
		t.Fatalf("queued job should cancel immediately: stage=%q", cancelled.Stage)
	}
	if cancelled.ActiveSetLock != nil {
		t.Fatalf("set lock must be released on cancel")
	}
	if cancelled.CompletedAt == nil {
		t.Fatalf("completed_at not stamped")
	}

	// Cancel is idempotent on a terminal job.
	again, err := svc.Cancel(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("second Cancel failed: %v", err)
	}
	if again.Stage != types.StageCancelled {
		t.Fatalf("second cancel changed stage: %q", again.Stage)
	}
}

func TestCancelRunningJobSetsFlagOnly(t *testing.T) {
	t.Parallel()
	svc, jobs, _ := newReplaceFixture(t)

	job, err := svc.Create(context.Background(), validCreateRequest())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	// Simulate a worker claim.
	claimed, err := jobs.ClaimNextQueued(dbctx.Background())
	if err != nil || claimed == nil {
		t.Fatalf("claim failed: %v", err)
	}
	if err := jobs.UpdateFields(dbctx.Background(), job.ID, map[string]interface{}{
		"stage": types.StageSeedingSet,
	}); err != nil {
		t.Fatalf("stage update failed: %v", err)
	}

	after, err := svc.Cancel(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if after.Stage != types.StageSeedingSet {
		t.Fatalf("running job must not be force-cancelled: stage=%q", after.Stage)
	}
	if after.CancelRequestedAt == nil {
		t.Fatalf("cancel flag not set")
	}
}

func TestCancelUnknownJob(t *testing.T) {
	t.Parallel()
	svc, _, _ := newReplaceFixture(t)

	if _, err := svc.Cancel(context.Background(), uuid.New()); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
