package normalize

import (
	"regexp"
	"strings"
)

// Heuristic detector for values that are scraped page furniture rather than
// checklist data: leftover HTML, navigation text, ad copy. A hit is a
// blocking error because such rows poison labels and keys downstream.

var htmlTagRe = regexp.MustCompile(`<[a-zA-Z][^>]*>`)

var navAdKeywords = []string{
	"add to cart",
	"shop by category",
	"free shipping",
	"sign in",
	"sponsored",
	"see all results",
	"buy it now",
	"watch list",
	"skip to main content",
}

const (
	markupMaxLen     = 500
	markupMaxURLHits = 3
)

// LooksLikeMarkup reports whether a free-text value looks like scraped page
// markup instead of checklist content.
func LooksLikeMarkup(s string) bool {
	v := strings.TrimSpace(s)
	if v == "" {
		return false
	}
	if htmlTagRe.MatchString(v) {
		return true
	}
	if len(v) > markupMaxLen {
		return true
	}
	if strings.Count(strings.ToLower(v), "http") >= markupMaxURLHits {
		return true
	}
	lower := strings.ToLower(v)
	for _, kw := range navAdKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
