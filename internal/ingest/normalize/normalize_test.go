package normalize

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func TestRowsRejectsBadInput(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name        string
		payload     string
		datasetType string
		wantErr     string
	}{
		{"unknown dataset type", `[]`, "SOMETHING_ELSE", "unknown dataset type"},
		{"malformed json", `{not json`, "PARALLEL_DB", "parse rows payload"},
		{"empty array", `[]`, "PARALLEL_DB", "no usable rows"},
		{"object without rows", `{"meta": 1}`, "PARALLEL_DB", "no rows/data/items"},
		{"scalar payload", `42`, "PARALLEL_DB", "neither an array nor an object"},
		{"only noise records", `[{}, {"unrelated": "x"}]`, "PARALLEL_DB", "no usable rows"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Rows([]byte(tc.payload), tc.datasetType, "2024 Demo Set")
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("unexpected error: got=%q want substring=%q", err.Error(), tc.wantErr)
			}
		})
	}
}

func TestRowsUnwrapsNestedPayloads(t *testing.T) {
	t.Parallel()

	row := `{"parallel": "Gold", "odds": "1:24", "cardNumber": "1"}`
	for _, key := range []string{"rows", "data", "items"} {
		key := key
		t.Run(key, func(t *testing.T) {
			t.Parallel()
			payload := []byte(`{"` + key + `": [` + row + `]}`)
			rows, err := Rows(payload, "PARALLEL_DB", "2024 Demo Set")
			if err != nil {
				t.Fatalf("Rows failed: %v", err)
			}
			if len(rows) != 1 {
				t.Fatalf("unexpected row count: got=%d want=1", len(rows))
			}
		})
	}
}

func TestRowsFieldAliasesAndFallbackSet(t *testing.T) {
	t.Parallel()

	payload := []byte(`[{
		"set_name": "2024%20Demo%20Set",
		"card_no": 7,
		"variation": "Gold  Refractor",
		"athlete": "Jane Doe",
		"pack_odds": "odds are 1 : 24 per box",
		"print_run": "/99",
		"sport": "Baseball",
		"link": "https://example.com/itm/123456789012"
	}]`)

	rows, err := Rows(payload, "PARALLEL_DB", "")
	if err != nil {
		t.Fatalf("Rows failed: %v", err)
	}
	r := rows[0]

	if r.SetID != "2024 demo set" {
		t.Fatalf("unexpected set id: got=%q want=%q", r.SetID, "2024 demo set")
	}
	if r.SetLabel != "2024 Demo Set" {
		t.Fatalf("unexpected set label: got=%q want=%q", r.SetLabel, "2024 Demo Set")
	}
	if r.CardNumber == nil || *r.CardNumber != "7" {
		t.Fatalf("unexpected card number: got=%v want=7", r.CardNumber)
	}
	if r.ParallelLabel != "Gold Refractor" {
		t.Fatalf("unexpected parallel label: got=%q want=%q", r.ParallelLabel, "Gold Refractor")
	}
	if r.PlayerSeed != "Jane Doe" {
		t.Fatalf("unexpected player seed: got=%q", r.PlayerSeed)
	}
	if r.Odds != "1:24" {
		t.Fatalf("unexpected odds: got=%q want=1:24", r.Odds)
	}
	if r.Serial != "/99" {
		t.Fatalf("unexpected serial: got=%q", r.Serial)
	}
	if r.SourceListingID != "123456789012" {
		t.Fatalf("unexpected listing id: got=%q", r.SourceListingID)
	}
	if r.HasBlockingIssue() {
		t.Fatalf("row should be clean, issues=%v", r.Issues)
	}
}

func TestRowsCardNumberSentinels(t *testing.T) {
	t.Parallel()

	payload := []byte(`[
		{"parallel": "Gold", "odds": "1:24", "cardNumber": "N/A"},
		{"parallel": "Silver", "odds": "1:12", "cardNumber": "all"},
		{"parallel": "Bronze", "odds": "1:4", "cardNumber": "*"}
	]`)
	rows, err := Rows(payload, "PARALLEL_DB", "2024 Demo Set")
	if err != nil {
		t.Fatalf("Rows failed: %v", err)
	}

	if rows[0].CardNumber != nil {
		t.Fatalf("null-like card number should be nil, got=%q", *rows[0].CardNumber)
	}
	if rows[0].CatalogKey() != "ALL::Gold" {
		t.Fatalf("unexpected catalog key: got=%q want=ALL::Gold", rows[0].CatalogKey())
	}
	for _, i := range []int{1, 2} {
		if rows[i].CardNumber == nil || *rows[i].CardNumber != "ALL" {
			t.Fatalf("row %d: whole-set sentinel should canonicalize to ALL, got=%v", i, rows[i].CardNumber)
		}
	}
}

func TestRowsRequiredRulesParallelDB(t *testing.T) {
	t.Parallel()

	payload := []byte(`[
		{"cardNumber": "1", "odds": "1:24"},
		{"parallel": "Gold", "cardNumber": "2"},
		{"parallel": "Silver", "cardNumber": "3", "serial": "/25"}
	]`)
	rows, err := Rows(payload, "PARALLEL_DB", "2024 Demo Set")
	if err != nil {
		t.Fatalf("Rows failed: %v", err)
	}

	if !hasIssue(rows[0], "missing_parallel") {
		t.Fatalf("row without parallel should be blocked, issues=%v", rows[0].Issues)
	}
	if !hasIssue(rows[1], "missing_odds_or_serial") {
		t.Fatalf("row without odds or serial should be blocked, issues=%v", rows[1].Issues)
	}
	if rows[2].HasBlockingIssue() {
		t.Fatalf("serial-only row should be accepted, issues=%v", rows[2].Issues)
	}
}

func TestRowsRequiredRulesPlayerWorksheet(t *testing.T) {
	t.Parallel()

	payload := []byte(`[
		{"parallel": "Gold", "cardNumber": "1"},
		{"parallel": "Gold", "cardNumber": "2", "player": "Jane Doe"}
	]`)
	rows, err := Rows(payload, "PLAYER_WORKSHEET", "2024 Demo Set")
	if err != nil {
		t.Fatalf("Rows failed: %v", err)
	}

	if !hasIssue(rows[0], "missing_player") {
		t.Fatalf("worksheet row without player should be blocked, issues=%v", rows[0].Issues)
	}
	if rows[1].HasBlockingIssue() {
		t.Fatalf("worksheet row with player should pass, issues=%v", rows[1].Issues)
	}
}

func TestRowsFlagsScrapedMarkup(t *testing.T) {
	t.Parallel()

	payload := []byte(`[{
		"parallel": "<div class=\"nav\">Add to cart</div>",
		"odds": "1:24",
		"cardNumber": "1"
	}]`)
	rows, err := Rows(payload, "PARALLEL_DB", "2024 Demo Set")
	if err != nil {
		t.Fatalf("Rows failed: %v", err)
	}
	if !hasIssue(rows[0], "scraped_markup") {
		t.Fatalf("markup value should be flagged, issues=%v", rows[0].Issues)
	}
}

func TestRowsDuplicateDetection(t *testing.T) {
	t.Parallel()

	payload := []byte(`[
		{"parallel": "Gold", "odds": "1:24", "cardNumber": "1"},
		{"parallel": "gold", "odds": "1:24", "cardNumber": "1"},
		{"parallel": "Gold", "odds": "1:24", "cardNumber": "2"}
	]`)
	rows, err := Rows(payload, "PARALLEL_DB", "2024 Demo Set")
	if err != nil {
		t.Fatalf("Rows failed: %v", err)
	}

	if hasIssue(rows[0], "duplicate_row") {
		t.Fatalf("first occurrence must not be flagged, issues=%v", rows[0].Issues)
	}
	if !hasIssue(rows[1], "duplicate_row") {
		t.Fatalf("case-insensitive duplicate should be flagged, issues=%v", rows[1].Issues)
	}
	if hasIssue(rows[2], "duplicate_row") {
		t.Fatalf("distinct card number is not a duplicate, issues=%v", rows[2].Issues)
	}
	if rows[0].DuplicateKey != rows[1].DuplicateKey {
		t.Fatalf("duplicate keys should match: %q vs %q", rows[0].DuplicateKey, rows[1].DuplicateKey)
	}
}

func TestRowsMissingSetBlocksRow(t *testing.T) {
	t.Parallel()

	payload := []byte(`[{"parallel": "Gold", "odds": "1:24"}]`)
	rows, err := Rows(payload, "PARALLEL_DB", "")
	if err != nil {
		t.Fatalf("Rows failed: %v", err)
	}
	if !hasIssue(rows[0], "missing_set") {
		t.Fatalf("row without set and fallback should be blocked, issues=%v", rows[0].Issues)
	}
}

func TestRowsDeterministic(t *testing.T) {
	t.Parallel()

	payload := []byte(`[
		{"parallel": "Gold", "odds": "1:24", "cardNumber": "1", "player": "Jane Doe"},
		{"parallel": "Gold", "odds": "1:24", "cardNumber": "1"},
		{"parallel": "Silver", "serial": "/25", "cardNumber": "2"}
	]`)

	first, err := Rows(payload, "PARALLEL_DB", "2024 Demo Set")
	if err != nil {
		t.Fatalf("Rows failed: %v", err)
	}
	second, err := Rows(payload, "PARALLEL_DB", "2024 Demo Set")
	if err != nil {
		t.Fatalf("Rows failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		a, _ := json.Marshal(first)
		b, _ := json.Marshal(second)
		t.Fatalf("normalization is not deterministic:\n%s\n%s", a, b)
	}
}

func hasIssue(row NormalizedRow, code string) bool {
	for _, iss := range row.Issues {
		if iss.Code == code {
			return true
		}
	}
	return false
}
