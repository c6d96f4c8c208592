// Package dedup maintains the one-record-per-identity invariant. It computes
// identity fingerprints, finds duplicate candidates, and merges records
// deterministically.
package dedup

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var entitySuffixes = regexp.MustCompile(
	`(?i)\s*,?\s*(LLC|L\.?L\.?C\.?|INC\.?|INCORPORATED|CORP\.?|CORPORATION|` +
		`CO\.?|COMPANY|LTD\.?|LIMITED|L\.?P\.?|LLP|L\.?L\.?P\.?|` +
		`PLLC|P\.?L\.?L\.?C\.?|P\.?C\.?|GMBH|DBA|D/B/A)\s*\.?\s*$`)

var nonAlnum = regexp.MustCompile(`[^a-z0-9 ]+`)

var foldDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeCompany lowers the name, strips legal entity suffixes and
// diacritics, and collapses whitespace.
func NormalizeCompany(name string) string {
	n := entitySuffixes.ReplaceAllString(strings.TrimSpace(name), "")
	return normalizeText(n)
}

// NormalizeName normalizes a person name for fuzzy comparison.
func NormalizeName(name string) string {
	return normalizeText(name)
}

func normalizeText(s string) string {
	if folded, _, err := transform.String(foldDiacritics, s); err == nil {
		s = folded
	}
	s = strings.ToLower(s)
	s = nonAlnum.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

// Tokens splits normalized text into a sorted set of unique tokens.
// Single-letter tokens (middle initials, stray punctuation remnants) are
// dropped so "Jane A. Doe" and "Jane Doe" tokenize identically.
func Tokens(s string) []string {
	seen := make(map[string]struct{})
	for _, tok := range strings.Fields(s) {
		if len(tok) < 2 {
			continue
		}
		seen[tok] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for tok := range seen {
		out = append(out, tok)
	}
	sort.Strings(out)
	return out
}
