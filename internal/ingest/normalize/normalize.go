package normalize

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Rows turns a raw checklist payload into canonical rows. The payload may be
// a bare JSON array or an object nesting the records under rows/data/items.
//
// Normalization is a pure function of its inputs: the same payload always
// yields the same rows, issues and duplicate-key assignment. Bad data never
// aborts the pass; every defect surfaces as a row-level issue. The only hard
// failures are malformed JSON, an unknown dataset type, and an empty
// resolved record set.
func Rows(payload []byte, datasetType string, fallbackSetLabel string) ([]NormalizedRow, error) {
	if datasetType != "PARALLEL_DB" && datasetType != "PLAYER_WORKSHEET" {
		return nil, fmt.Errorf("unknown dataset type %q", datasetType)
	}

	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("parse rows payload: %w", err)
	}
	records, err := unwrapRecords(decoded)
	if err != nil {
		return nil, err
	}

	rows := make([]NormalizedRow, 0, len(records))
	seen := map[string]bool{}
	for i, rec := range records {
		record, ok := rec.(map[string]any)
		if !ok {
			continue
		}
		if isNoiseRecord(record) {
			continue
		}

		row := buildRow(i, record, fallbackSetLabel)
		applyRequiredRules(&row, datasetType)
		applyMarkupChecks(&row)

		key := row.duplicateKey()
		row.DuplicateKey = key
		if seen[key] {
			row.addIssue("duplicateKey", "duplicate_row", "duplicate of an earlier row in this payload", true)
		}
		seen[key] = true

		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("no usable rows in payload")
	}
	return rows, nil
}

func unwrapRecords(decoded any) ([]any, error) {
	switch v := decoded.(type) {
	case []any:
		return v, nil
	case map[string]any:
		for _, key := range []string{"rows", "data", "items"} {
			if nested, ok := v[key].([]any); ok {
				return nested, nil
			}
		}
		return nil, fmt.Errorf("payload object has no rows/data/items array")
	default:
		return nil, fmt.Errorf("payload is neither an array nor an object")
	}
}

// isNoiseRecord drops records where every recognized field is empty, e.g.
// spacer rows from spreadsheet exports.
func isNoiseRecord(record map[string]any) bool {
	for field := range fieldAliases {
		if extractField(record, field) != "" {
			return false
		}
	}
	return true
}

func buildRow(index int, record map[string]any, fallbackSetLabel string) NormalizedRow {
	rawSet := extractField(record, "setId")
	if rawSet == "" {
		rawSet = fallbackSetLabel
	}
	setLabel := DecodeLabel(rawSet)

	row := NormalizedRow{
		Index:         index,
		SetID:         NormalizeSetID(rawSet),
		SetLabel:      setLabel,
		ParallelLabel: DecodeLabel(extractField(record, "parallelLabel")),
		PlayerSeed:    DecodeLabel(extractField(record, "playerSeed")),
		Serial:        strings.TrimSpace(extractField(record, "serial")),
		Format:        DecodeLabel(extractField(record, "format")),
		SourceURL:     strings.TrimSpace(extractField(record, "sourceUrl")),
	}
	row.CardNumber = CanonicalCardNumber(extractField(record, "cardNumber"))
	row.Odds = ExtractOdds(extractField(record, "odds"))
	row.SourceListingID = ExtractListingID(extractField(record, "sourceListingId"), row.SourceURL)

	if row.SetID == "" {
		row.addIssue("setId", "missing_set", "row has no set label and no fallback was provided", true)
	}
	if raw := extractField(record, "odds"); raw != "" && row.Odds == "" {
		row.Warnings = append(row.Warnings, "odds value did not match the N:M pattern")
	}
	return row
}

func applyRequiredRules(row *NormalizedRow, datasetType string) {
	switch datasetType {
	case "PARALLEL_DB":
		if row.ParallelLabel == "" {
			row.addIssue("parallelLabel", "missing_parallel", "parallel label is required", true)
		}
		if row.Odds == "" && row.Serial == "" {
			row.addIssue("odds", "missing_odds_or_serial", "either odds or a serial run is required", true)
		}
	case "PLAYER_WORKSHEET":
		if row.PlayerSeed == "" {
			row.addIssue("playerSeed", "missing_player", "player seed is required", true)
		}
	}
}

func applyMarkupChecks(row *NormalizedRow) {
	checks := []struct {
		field string
		value string
	}{
		{"setId", row.SetLabel},
		{"parallelLabel", row.ParallelLabel},
		{"playerSeed", row.PlayerSeed},
		{"format", row.Format},
	}
	for _, c := range checks {
		if LooksLikeMarkup(c.value) {
			row.addIssue(c.field, "scraped_markup", "value looks like scraped page markup", true)
		}
	}
}
