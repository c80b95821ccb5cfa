package preview

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"github.com/slabworks/cardvault-backend/internal/data/repos"
	"github.com/slabworks/cardvault-backend/internal/ingest/draft"
	"github.com/slabworks/cardvault-backend/internal/ingest/normalize"
	"github.com/slabworks/cardvault-backend/internal/platform/dbctx"
	"github.com/slabworks/cardvault-backend/internal/platform/logger"
)

// Sample key lists shown to operators are capped; counts stay exact.
const sampleKeyCap = 100

// Overly generic parallel labels usually mean a mis-mapped source column,
// not a real parallel.
var genericLabelDenylist = map[string]bool{
	"insert":    true,
	"parallel":  true,
	"base":      true,
	"variant":   true,
	"card":      true,
	"checklist": true,
}

// Report is what the operator approves. PreviewHash is the staleness token:
// it binds the approved diff to the exact catalog state and row content it
// was computed from, and execution must reject any other hash.
type Report struct {
	SetID              string   `json:"set_id"`
	SetLabel           string   `json:"set_label"`
	DatasetType        string   `json:"dataset_type"`
	RowCount           int      `json:"row_count"`
	AcceptedRowCount   int      `json:"accepted_row_count"`
	ErrorCount         int      `json:"error_count"`
	BlockingErrorCount int      `json:"blocking_error_count"`
	ExistingCount      int      `json:"existing_count"`
	ToAdd              int      `json:"to_add"`
	ToRemove           int      `json:"to_remove"`
	Unchanged          int      `json:"unchanged"`
	AddedKeys          []string `json:"added_keys"`
	RemovedKeys        []string `json:"removed_keys"`
	SuspiciousLabels   []string `json:"suspicious_labels,omitempty"`
	VersionHash        string   `json:"version_hash"`
	ExistingDigest     string   `json:"existing_digest"`
	PreviewHash        string   `json:"preview_hash"`
}

type Engine struct {
	log      *logger.Logger
	variants repos.CardVariantRepo
}

func NewEngine(baseLog *logger.Logger, variants repos.CardVariantRepo) *Engine {
	return &Engine{log: baseLog.With("component", "PreviewEngine"), variants: variants}
}

// Compute normalizes the payload and diffs the accepted rows against the
// live catalog for the set. The returned build is the exact version content
// a subsequent execution will snapshot.
func (e *Engine) Compute(dbc dbctx.Context, setLabel, datasetType string, payload []byte) (*Report, *draft.Build, error) {
	setID := normalize.NormalizeSetID(setLabel)

	rows, err := normalize.Rows(payload, datasetType, setLabel)
	if err != nil {
		return nil, nil, err
	}

	build, err := draft.BuildVersion(setID, datasetType, rows)
	if err != nil {
		return nil, nil, err
	}

	incoming := map[string]bool{}
	suspicious := map[string]bool{}
	accepted := 0
	for i := range rows {
		if !rows[i].Accepted() {
			continue
		}
		accepted++
		incoming[rows[i].CatalogKey()] = true
		if genericLabelDenylist[strings.ToLower(strings.TrimSpace(rows[i].ParallelLabel))] {
			suspicious[rows[i].ParallelLabel] = true
		}
	}

	variants, err := e.variants.ListBySet(dbc, setID)
	if err != nil {
		return nil, nil, err
	}
	existing := make(map[string]bool, len(variants))
	for _, v := range variants {
		num := "ALL"
		if v.CardNumber != nil {
			num = *v.CardNumber
		}
		existing[num+"::"+v.ParallelLabel] = true
	}

	var added, removed []string
	unchanged := 0
	for key := range incoming {
		if existing[key] {
			unchanged++
		} else {
			added = append(added, key)
		}
	}
	for key := range existing {
		if !incoming[key] {
			removed = append(removed, key)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)

	existingDigest := DigestKeys(mapKeys(existing))
	report := &Report{
		SetID:              setID,
		SetLabel:           setLabel,
		DatasetType:        datasetType,
		RowCount:           build.RowCount,
		AcceptedRowCount:   accepted,
		ErrorCount:         build.ErrorCount,
		BlockingErrorCount: build.BlockingErrorCount,
		ExistingCount:      len(existing),
		ToAdd:              len(added),
		ToRemove:           len(removed),
		Unchanged:          unchanged,
		AddedKeys:          capKeys(added),
		RemovedKeys:        capKeys(removed),
		SuspiciousLabels:   sortedKeys(suspicious),
		VersionHash:        build.VersionHash,
		ExistingDigest:     existingDigest,
		PreviewHash:        Hash(setID, datasetType, build.VersionHash, existingDigest, accepted),
	}
	return report, &build, nil
}

// DigestKeys hashes the sorted existing-key set so any catalog mutation for
// the set between preview and execution moves the preview hash.
func DigestKeys(keys []string) string {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "\n")))
	return hex.EncodeToString(sum[:])
}

// Hash computes the preview hash over the staleness-relevant inputs.
func Hash(setID, datasetType, versionHash, existingDigest string, acceptedRowCount int) string {
	payload := struct {
		SetID            string `json:"set_id"`
		DatasetType      string `json:"dataset_type"`
		VersionHash      string `json:"version_hash"`
		ExistingDigest   string `json:"existing_digest"`
		AcceptedRowCount int    `json:"accepted_row_count"`
	}{setID, datasetType, versionHash, existingDigest, acceptedRowCount}
	b, _ := json.Marshal(payload)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func capKeys(keys []string) []string {
	if len(keys) > sampleKeyCap {
		return keys[:sampleKeyCap]
	}
	return keys
}

func mapKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func sortedKeys(m map[string]bool) []string {
	out := mapKeys(m)
	sort.Strings(out)
	return out
}
