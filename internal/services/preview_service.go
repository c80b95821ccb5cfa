package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/slabworks/cardvault-backend/internal/data/repos"
	types "github.com/slabworks/cardvault-backend/internal/domain"
	"github.com/slabworks/cardvault-backend/internal/ingest/normalize"
	"github.com/slabworks/cardvault-backend/internal/ingest/preview"
	"github.com/slabworks/cardvault-backend/internal/platform/apperr"
	"github.com/slabworks/cardvault-backend/internal/platform/dbctx"
	"github.com/slabworks/cardvault-backend/internal/platform/logger"
)

// PreviewRequest is the operator input for a replace preview.
type PreviewRequest struct {
	SetLabel    string          `json:"set_label"`
	DatasetType string          `json:"dataset_type"`
	Rows        json.RawMessage `json:"rows"`
}

type PreviewService interface {
	Compute(ctx context.Context, req PreviewRequest) (*preview.Report, error)
}

type previewService struct {
	log     *logger.Logger
	engine  *preview.Engine
	sets    repos.CardSetRepo
	replace repos.ReplaceJobRepo
}

func NewPreviewService(baseLog *logger.Logger, engine *preview.Engine, sets repos.CardSetRepo, replaceJobs repos.ReplaceJobRepo) PreviewService {
	return &previewService{
		log:     baseLog.With("service", "PreviewService"),
		engine:  engine,
		sets:    sets,
		replace: replaceJobs,
	}
}

// Compute validates the request, registers the set spelling, and returns the
// diff report the operator will approve. The preview itself never mutates
// catalog content.
func (s *previewService) Compute(ctx context.Context, req PreviewRequest) (*preview.Report, error) {
	if strings.TrimSpace(req.SetLabel) == "" {
		return nil, fmt.Errorf("%w: set_label is required", apperr.ErrInvalidArgument)
	}
	if req.DatasetType != types.DatasetTypeParallelDB && req.DatasetType != types.DatasetTypePlayerWorksheet {
		return nil, fmt.Errorf("%w: unknown dataset_type %q", apperr.ErrInvalidArgument, req.DatasetType)
	}
	if len(req.Rows) == 0 {
		return nil, fmt.Errorf("%w: rows payload is empty", apperr.ErrInvalidArgument)
	}

	dbc := dbctx.Context{Ctx: ctx}
	report, _, err := s.engine.Compute(dbc, req.SetLabel, req.DatasetType, req.Rows)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", apperr.ErrInvalidArgument, err.Error())
	}

	if _, err := s.sets.UpsertByNormalizedLabel(dbc, &types.CardSet{
		Label:           normalize.DecodeLabel(req.SetLabel),
		NormalizedLabel: report.SetID,
	}); err != nil {
		// Registry upkeep is best-effort; the preview is still valid.
		s.log.Warn("set registry upsert failed", "set_id", report.SetID, "error", err)
	}

	s.log.Info("preview computed",
		"set_id", report.SetID,
		"accepted", report.AcceptedRowCount,
		"to_add", report.ToAdd,
		"to_remove", report.ToRemove,
		"unchanged", report.Unchanged,
	)
	return report, nil
}
