package draft

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/slabworks/cardvault-backend/internal/ingest/normalize"
)

// Build is the computed content of a draft version before it is persisted.
type Build struct {
	SetID              string
	DatasetType        string
	VersionHash        string
	Rows               []normalize.NormalizedRow
	RowsJSON           []byte
	RowCount           int
	ErrorCount         int
	BlockingErrorCount int
}

// BuildVersion snapshots normalized rows into version content. The hash
// covers a canonical projection of the rows; it is stable across
// re-submission of unchanged semantic content and moves whenever any
// normalized field, issue or warning changes.
func BuildVersion(setID, datasetType string, rows []normalize.NormalizedRow) (Build, error) {
	errorCount := 0
	blockingCount := 0
	for i := range rows {
		errorCount += len(rows[i].Issues)
		if rows[i].HasBlockingIssue() {
			blockingCount++
		}
	}

	rowsJSON, err := json.Marshal(rows)
	if err != nil {
		return Build{}, err
	}

	return Build{
		SetID:              setID,
		DatasetType:        datasetType,
		VersionHash:        VersionHash(setID, datasetType, rows),
		Rows:               rows,
		RowsJSON:           rowsJSON,
		RowCount:           len(rows),
		ErrorCount:         errorCount,
		BlockingErrorCount: blockingCount,
	}, nil
}

// VersionHash computes the deterministic content hash of a row snapshot.
// Struct field order fixes the JSON key order, so identical content always
// serializes identically.
func VersionHash(setID, datasetType string, rows []normalize.NormalizedRow) string {
	payload := struct {
		SetID       string                    `json:"set_id"`
		DatasetType string                    `json:"dataset_type"`
		Rows        []normalize.NormalizedRow `json:"rows"`
	}{SetID: setID, DatasetType: datasetType, Rows: rows}
	b, _ := json.Marshal(payload)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// RowsFromJSON decodes a stored draft version row payload.
func RowsFromJSON(raw []byte) ([]normalize.NormalizedRow, error) {
	var rows []normalize.NormalizedRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}
