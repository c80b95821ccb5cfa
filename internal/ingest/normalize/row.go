package normalize

import "strings"

// Issue is a row-level validation finding. Blocking issues keep the row out
// of diffing and seeding and fail the validate stage of a replace job.
type Issue struct {
	Field    string `json:"field"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Blocking bool   `json:"blocking"`
}

// NormalizedRow is the canonical shape of one checklist entry. Immutable once
// produced; re-normalization regenerates rows rather than mutating them.
type NormalizedRow struct {
	Index           int      `json:"index"`
	SetID           string   `json:"set_id"`
	SetLabel        string   `json:"set_label"`
	CardNumber      *string  `json:"card_number,omitempty"`
	ParallelLabel   string   `json:"parallel_label"`
	PlayerSeed      string   `json:"player_seed,omitempty"`
	Odds            string   `json:"odds,omitempty"`
	Serial          string   `json:"serial,omitempty"`
	Format          string   `json:"format,omitempty"`
	SourceListingID string   `json:"source_listing_id,omitempty"`
	SourceURL       string   `json:"source_url,omitempty"`
	DuplicateKey    string   `json:"duplicate_key"`
	Issues          []Issue  `json:"issues,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
}

func (r *NormalizedRow) HasBlockingIssue() bool {
	for _, iss := range r.Issues {
		if iss.Blocking {
			return true
		}
	}
	return false
}

// Accepted reports whether the row is eligible for diffing and seeding: no
// blocking issue and a non-empty parallel label.
func (r *NormalizedRow) Accepted() bool {
	return !r.HasBlockingIssue() && strings.TrimSpace(r.ParallelLabel) != ""
}

// CatalogKey is the diff key for a row: (cardNumber ?? "ALL") :: parallelLabel.
func (r *NormalizedRow) CatalogKey() string {
	num := "ALL"
	if r.CardNumber != nil {
		num = *r.CardNumber
	}
	return num + "::" + r.ParallelLabel
}

func (r *NormalizedRow) addIssue(field, code, message string, blocking bool) {
	r.Issues = append(r.Issues, Issue{Field: field, Code: code, Message: message, Blocking: blocking})
}

// duplicateKey builds the deterministic composite used for in-pass duplicate
// detection.
func (r *NormalizedRow) duplicateKey() string {
	num := "ALL"
	if r.CardNumber != nil {
		num = *r.CardNumber
	}
	parts := []string{
		strings.ToLower(r.SetID),
		strings.ToLower(num),
		strings.ToLower(strings.TrimSpace(r.ParallelLabel)),
		strings.ToLower(strings.TrimSpace(r.PlayerSeed)),
		strings.ToLower(strings.TrimSpace(r.SourceListingID)),
	}
	return strings.Join(parts, "|")
}
