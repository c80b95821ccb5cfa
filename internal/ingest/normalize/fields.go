package normalize

import (
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"
)

// Source checklists disagree on column names. Each canonical field has an
// ordered alias list; the first alias present with a non-empty value wins.
// A static table keeps extraction testable and priority explicit.
var fieldAliases = map[string][]string{
	"setId":           {"setId", "set_id", "set", "setName", "set_name", "product", "release"},
	"cardNumber":      {"cardNumber", "card_number", "number", "cardNo", "card_no", "no", "card"},
	"parallelLabel":   {"parallel", "parallelLabel", "parallel_label", "parallelName", "parallel_name", "variant", "variation"},
	"playerSeed":      {"player", "playerName", "player_name", "cardType", "card_type", "athlete", "subject"},
	"odds":            {"odds", "packOdds", "pack_odds", "ratio", "insertionRatio", "insertion_ratio"},
	"serial":          {"serial", "serialNumber", "serial_number", "printRun", "print_run", "numbered", "numberedTo", "numbered_to"},
	"format":          {"format", "sport", "category", "league"},
	"sourceListingId": {"listingId", "listing_id", "sourceListingId", "source_listing_id", "itemId", "item_id"},
	"sourceUrl":       {"url", "sourceUrl", "source_url", "link", "href"},
}

// extractField returns the first non-empty value among the field's aliases,
// stringified and trimmed.
func extractField(record map[string]any, field string) string {
	for _, alias := range fieldAliases[field] {
		v, ok := record[alias]
		if !ok || v == nil {
			continue
		}
		s := strings.TrimSpace(stringify(v))
		if s != "" {
			return s
		}
	}
	return ""
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		// JSON numbers decode as float64; card numbers and listing ids are
		// integral in practice.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	case bool:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// DecodeLabel normalizes free-text labels scraped from source pages:
// URL-decoding, HTML entity unescape, whitespace collapse.
func DecodeLabel(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if decoded, err := url.QueryUnescape(s); err == nil {
		s = decoded
	}
	s = html.UnescapeString(s)
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// NormalizeSetID lower-cases a decoded set label. Every set-scoped table
// keys on this form so historical casing/encoding drift in the checklists
// stays invisible to lookups.
func NormalizeSetID(label string) string {
	return strings.ToLower(DecodeLabel(label))
}

var nullLikeTokens = map[string]bool{
	"": true, "-": true, "--": true, "n/a": true, "na": true,
	"null": true, "none": true, "tbd": true,
}

// CanonicalCardNumber maps null-like tokens to nil and the whole-set
// sentinel ("all", "*") to "ALL". Everything else is kept verbatim after
// trimming.
func CanonicalCardNumber(raw string) *string {
	s := strings.TrimSpace(raw)
	if nullLikeTokens[strings.ToLower(s)] {
		return nil
	}
	if strings.EqualFold(s, "all") || s == "*" {
		all := "ALL"
		return &all
	}
	return &s
}

var oddsRe = regexp.MustCompile(`(\d+)\s*:\s*(\d+)`)

// ExtractOdds pulls the first pack-odds pattern (e.g. "1:24") out of free
// text. Returns "" when no pattern is present.
func ExtractOdds(raw string) string {
	m := oddsRe.FindStringSubmatch(raw)
	if m == nil {
		return ""
	}
	return m[1] + ":" + m[2]
}

var (
	listingPathRe  = regexp.MustCompile(`/itm/(?:[^/]+/)?(\d{9,})`)
	listingDigitRe = regexp.MustCompile(`\b(\d{9,})\b`)
)

// ExtractListingID finds a marketplace listing id either in raw text or in a
// listing URL path/query.
func ExtractListingID(raw, sourceURL string) string {
	if s := strings.TrimSpace(raw); s != "" {
		if m := listingDigitRe.FindStringSubmatch(s); m != nil {
			return m[1]
		}
	}
	u := strings.TrimSpace(sourceURL)
	if u == "" {
		return ""
	}
	if m := listingPathRe.FindStringSubmatch(u); m != nil {
		return m[1]
	}
	if parsed, err := url.Parse(u); err == nil {
		for _, key := range []string{"item", "itemId", "item_id", "id"} {
			if v := parsed.Query().Get(key); v != "" && listingDigitRe.MatchString(v) {
				return listingDigitRe.FindStringSubmatch(v)[1]
			}
		}
	}
	return ""
}
