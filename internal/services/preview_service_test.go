package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	catalogrepos "github.com/slabworks/cardvault-backend/internal/data/repos/catalog"
	jobrepos "github.com/slabworks/cardvault-backend/internal/data/repos/jobs"
	"github.com/slabworks/cardvault-backend/internal/data/repos/testutil"
	types "github.com/slabworks/cardvault-backend/internal/domain"
	"github.com/slabworks/cardvault-backend/internal/ingest/preview"
	"github.com/slabworks/cardvault-backend/internal/platform/apperr"
	"github.com/slabworks/cardvault-backend/internal/platform/dbctx"
)

func newPreviewFixture(t *testing.T) (PreviewService, catalogrepos.CardVariantRepo, catalogrepos.CardSetRepo) {
	t.Helper()
	gdb := testutil.DB(t)
	log := testutil.Logger(t)
	variants := catalogrepos.NewCardVariantRepo(gdb, log)
	sets := catalogrepos.NewCardSetRepo(gdb, log)
	jobs := jobrepos.NewReplaceJobRepo(gdb, log)
	engine := preview.NewEngine(log, variants)
	return NewPreviewService(log, engine, sets, jobs), variants, sets
}

func TestPreviewComputeAgainstEmptyCatalog(t *testing.T) {
	t.Parallel()
	svc, _, sets := newPreviewFixture(t)

	report, err := svc.Compute(context.Background(), PreviewRequest{
		SetLabel:    "2024 Demo Set",
		DatasetType: types.DatasetTypeParallelDB,
		Rows:        json.RawMessage(`[{"cardNumber": "1", "parallel": "Gold", "odds": "1:24"}, {"cardNumber": "2", "parallel": "Silver", "odds": "1:12"}]`),
	})
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if report.SetID != "2024 demo set" {
		t.Fatalf("unexpected set id: got=%q", report.SetID)
	}
	if report.AcceptedRowCount != 2 || report.ToAdd != 2 || report.ToRemove != 0 {
		t.Fatalf("unexpected diff: accepted=%d add=%d remove=%d", report.AcceptedRowCount, report.ToAdd, report.ToRemove)
	}
	if report.PreviewHash == "" {
		t.Fatalf("preview hash is empty")
	}

	set, err := sets.GetByNormalizedLabel(dbctx.Background(), "2024 demo set")
	if err != nil {
		t.Fatalf("registry lookup failed: %v", err)
	}
	if set == nil || set.Label != "2024 Demo Set" {
		t.Fatalf("set registry not updated: %+v", set)
	}
}

func TestPreviewComputeRejectsBadInput(t *testing.T) {
	t.Parallel()
	svc, _, _ := newPreviewFixture(t)

	cases := []struct {
		name string
		req  PreviewRequest
	}{
		{"missing label", PreviewRequest{DatasetType: types.DatasetTypeParallelDB, Rows: json.RawMessage(`[{}]`)}},
		{"unknown dataset type", PreviewRequest{SetLabel: "2024 Demo Set", DatasetType: "CSV", Rows: json.RawMessage(`[{}]`)}},
		{"empty rows", PreviewRequest{SetLabel: "2024 Demo Set", DatasetType: types.DatasetTypeParallelDB}},
		{"malformed rows", PreviewRequest{SetLabel: "2024 Demo Set", DatasetType: types.DatasetTypeParallelDB, Rows: json.RawMessage(`"nope"`)}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := svc.Compute(context.Background(), tc.req); !errors.Is(err, apperr.ErrInvalidArgument) {
				t.Fatalf("expected invalid argument, got %v", err)
			}
		})
	}
}

func TestPreviewComputeLeavesCatalogUntouched(t *testing.T) {
	t.Parallel()
	svc, variants, _ := newPreviewFixture(t)

	num := "1"
	if _, err := variants.Create(dbctx.Background(), &types.CardVariant{
		SetID:         "2024 demo set",
		SetLabel:      "2024 Demo Set",
		CardNumber:    &num,
		ParallelLabel: "Gold",
	}); err != nil {
		t.Fatalf("seed variant: %v", err)
	}

	report, err := svc.Compute(context.Background(), PreviewRequest{
		SetLabel:    "2024 Demo Set",
		DatasetType: types.DatasetTypeParallelDB,
		Rows:        json.RawMessage(`[{"cardNumber": "2", "parallel": "Silver", "odds": "1:12"}]`),
	})
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if report.ToAdd != 1 || report.ToRemove != 1 {
		t.Fatalf("unexpected diff: add=%d remove=%d", report.ToAdd, report.ToRemove)
	}

	count, err := variants.CountBySet(dbctx.Background(), "2024 demo set")
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("preview mutated catalog: got=%d want=1", count)
	}
}
