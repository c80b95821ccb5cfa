package identity

import (
	"regexp"
	"strings"
)

// Two keying schemes coexist in the catalog. Canonical keys are the current
// scheme: versioned, slug-based, tolerant of taxonomy renames. The legacy
// key is the original naive concatenation that older variants were created
// under. Resolution tries canonical keys in priority order, then legacy.

// parallelAliases maps a current parallel slug to the historical slugs it
// replaced. Keys produced from aliases rank behind the current-label key.
var parallelAliases = map[string][]string{
	"refractor":       {"chrome-refractor"},
	"gold":            {"gold-parallel"},
	"red-white-blue":  {"rwb", "red-white-and-blue"},
	"black-and-white": {"black-white"},
	"holo":            {"holofoil", "holographic"},
	"x-fractor":       {"xfractor"},
	"printing-plate":  {"plate"},
	"first-day-issue": {"fdi"},
	"press-proof":     {"pressproof"},
	"stained-glass":   {"stainedglass"},
}

var slugStripRe = regexp.MustCompile(`[^a-z0-9]+`)

// Slug reduces a label to a lower-case hyphen form so canonical keys survive
// punctuation and casing differences between checklist sources.
func Slug(label string) string {
	s := strings.ToLower(strings.TrimSpace(label))
	s = slugStripRe.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

func cardNumberKeyPart(cardNumber *string) string {
	if cardNumber == nil {
		return "ALL"
	}
	return *cardNumber
}

// CanonicalKeys returns the identity keys for a variant position in priority
// order: the current-label key first, then one key per historical alias of
// the parallel label.
func CanonicalKeys(setID string, cardNumber *string, parallelLabel string) []string {
	slugged := Slug(parallelLabel)
	num := cardNumberKeyPart(cardNumber)
	keys := []string{canonicalKey(setID, num, slugged)}
	for _, alias := range parallelAliases[slugged] {
		keys = append(keys, canonicalKey(setID, num, alias))
	}
	return keys
}

func canonicalKey(setID, num, parallelSlug string) string {
	return "v2|" + setID + "|" + num + "|" + parallelSlug
}

// LegacyKey reproduces the original concatenation scheme exactly, including
// its lack of decoding, so variants created years ago still resolve.
func LegacyKey(setLabel string, cardNumber *string, parallelLabel string) string {
	return strings.ToLower(setLabel + "::" + cardNumberKeyPart(cardNumber) + "::" + parallelLabel)
}
