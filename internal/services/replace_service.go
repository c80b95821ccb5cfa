package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/slabworks/cardvault-backend/internal/data/repos"
	types "github.com/slabworks/cardvault-backend/internal/domain"
	"github.com/slabworks/cardvault-backend/internal/ingest/normalize"
	"github.com/slabworks/cardvault-backend/internal/platform/apperr"
	"github.com/slabworks/cardvault-backend/internal/platform/dbctx"
	"github.com/slabworks/cardvault-backend/internal/platform/logger"
)

// CreateReplaceRequest is the operator input for enqueueing a replace job.
// Confirmation must be the exact phrase for the normalized set id, and
// PreviewHash must come from a preview of these same rows.
type CreateReplaceRequest struct {
	SetLabel     string          `json:"set_label"`
	DatasetType  string          `json:"dataset_type"`
	Rows         json.RawMessage `json:"rows"`
	PreviewHash  string          `json:"preview_hash"`
	Confirmation string          `json:"confirmation"`
	RequestedBy  string          `json:"requested_by,omitempty"`
	RetryOfID    *uuid.UUID      `json:"retry_of_id,omitempty"`
}

type ReplaceService interface {
	Create(ctx context.Context, req CreateReplaceRequest) (*types.ReplaceJob, error)
	GetByID(ctx context.Context, id uuid.UUID) (*types.ReplaceJob, error)
	ListBySet(ctx context.Context, setLabel string) ([]*types.ReplaceJob, error)
	Cancel(ctx context.Context, id uuid.UUID) (*types.ReplaceJob, error)
}

type replaceService struct {
	log      *logger.Logger
	jobs     repos.ReplaceJobRepo
	seedJobs repos.SeedJobRepo
	audit    AuditSink
}

func NewReplaceService(baseLog *logger.Logger, jobs repos.ReplaceJobRepo, seedJobs repos.SeedJobRepo, audit AuditSink) ReplaceService {
	return &replaceService{
		log:      baseLog.With("service", "ReplaceService"),
		jobs:     jobs,
		seedJobs: seedJobs,
		audit:    audit,
	}
}

// Create enqueues a replace job. Admission is denied when the confirmation
// phrase is wrong, a seed run is already active for the set, or another
// replace job holds the set lock; the lock itself is a uniqueness constraint
// so two concurrent creates cannot both win.
func (s *replaceService) Create(ctx context.Context, req CreateReplaceRequest) (*types.ReplaceJob, error) {
	if strings.TrimSpace(req.SetLabel) == "" {
		return nil, fmt.Errorf("%w: set_label is required", apperr.ErrInvalidArgument)
	}
	if req.DatasetType != types.DatasetTypeParallelDB && req.DatasetType != types.DatasetTypePlayerWorksheet {
		return nil, fmt.Errorf("%w: unknown dataset_type %q", apperr.ErrInvalidArgument, req.DatasetType)
	}
	if len(req.Rows) == 0 {
		return nil, fmt.Errorf("%w: rows payload is empty", apperr.ErrInvalidArgument)
	}
	if req.PreviewHash == "" {
		return nil, fmt.Errorf("%w: preview_hash is required", apperr.ErrInvalidArgument)
	}

	setID := normalize.NormalizeSetID(req.SetLabel)
	if req.Confirmation != types.ConfirmationPhrase(setID) {
		s.denied(ctx, setID, "confirmation phrase mismatch")
		return nil, fmt.Errorf("%w: confirmation must be %q", apperr.ErrInvalidArgument, types.ConfirmationPhrase(setID))
	}

	dbc := dbctx.Context{Ctx: ctx}
	active, err := s.seedJobs.HasActiveForSet(dbc, setID)
	if err != nil {
		return nil, err
	}
	if active {
		s.denied(ctx, setID, "seed job active for set")
		return nil, fmt.Errorf("%w: a seed job is already running for set %q", apperr.ErrConflict, setID)
	}

	lock := setID
	job := &types.ReplaceJob{
		SetID:        setID,
		SetLabel:     req.SetLabel,
		DatasetType:  req.DatasetType,
		Stage:        types.StageQueued,
		PreviewHash:  req.PreviewHash,
		Confirmation: req.Confirmation,
		RunArgs: types.ReplaceRunArgs{
			SetLabel:    req.SetLabel,
			DatasetType: req.DatasetType,
			RawRows:     req.Rows,
			RequestedBy: req.RequestedBy,
		}.ToJSON(),
		Progress:      types.NewReplaceProgress().ToJSON(),
		RetryOfID:     req.RetryOfID,
		ActiveSetLock: &lock,
	}

	created, err := s.jobs.Create(dbc, job)
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			s.denied(ctx, setID, "replace job already active for set")
			return nil, fmt.Errorf("%w: a replace job is already active for set %q", apperr.ErrConflict, setID)
		}
		return nil, err
	}

	s.log.Info("replace job enqueued", "replace_job_id", created.ID, "set_id", setID, "requested_by", req.RequestedBy)
	return created, nil
}

func (s *replaceService) GetByID(ctx context.Context, id uuid.UUID) (*types.ReplaceJob, error) {
	job, err := s.jobs.GetByID(dbctx.Context{Ctx: ctx}, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("%w: replace job %s", apperr.ErrNotFound, id)
	}
	return job, nil
}

func (s *replaceService) ListBySet(ctx context.Context, setLabel string) ([]*types.ReplaceJob, error) {
	setID := normalize.NormalizeSetID(setLabel)
	return s.jobs.ListBySet(dbctx.Context{Ctx: ctx}, setID)
}

// Cancel is idempotent. A terminal job is returned unchanged; a queued job
// goes straight to CANCELLED and releases its lock; a running job gets the
// cancellation flag, which the runner honors at its next checkpoint.
func (s *replaceService) Cancel(ctx context.Context, id uuid.UUID) (*types.ReplaceJob, error) {
	dbc := dbctx.Context{Ctx: ctx}
	job, err := s.jobs.GetByID(dbc, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("%w: replace job %s", apperr.ErrNotFound, id)
	}
	if types.IsTerminalStage(job.Stage) {
		return job, nil
	}

	now := time.Now().UTC()
	if job.Stage == types.StageQueued && job.StartedAt == nil {
		progress := types.ReplaceProgressFromJSON(job.Progress)
		progress.Stage = types.StageCancelled
		ok, err := s.jobs.UpdateFieldsUnlessTerminal(dbc, id, map[string]interface{}{
			"stage":               types.StageCancelled,
			"progress":            progress.ToJSON(),
			"cancel_requested_at": now,
			"active_set_lock":     nil,
			"completed_at":        now,
		})
		if err != nil {
			return nil, err
		}
		if ok {
			s.audit.Record(ctx, AuditEvent{
				Action:       "set_replace_cancel",
				Status:       AuditStatusSuccess,
				SetID:        job.SetID,
				ReplaceJobID: &job.ID,
				Reason:       "cancelled before start",
			})
		}
	} else {
		if _, err := s.jobs.UpdateFieldsUnlessTerminal(dbc, id, map[string]interface{}{
			"cancel_requested_at": now,
		}); err != nil {
			return nil, err
		}
	}

	return s.jobs.GetByID(dbc, id)
}

func (s *replaceService) denied(ctx context.Context, setID, reason string) {
	s.audit.Record(ctx, AuditEvent{
		Action: "set_replace_create",
		Status: AuditStatusDenied,
		SetID:  setID,
		Reason: reason,
	})
}
