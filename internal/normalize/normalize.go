// Package normalize folds free-text wine names into comparable string forms.
package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	nonAlnumRe = regexp.MustCompile(`[^a-z0-9\s]`)
	spaceRe    = regexp.MustCompile(`\s+`)
	yearRe     = regexp.MustCompile(`\b(?:19|20)\d{2}\b`)
)

// dropTokens are removed by Canonicalize: articles, bottle sizes and colors.
var dropTokens = map[string]struct{}{
	"and":      {},
	"the":      {},
	"de":       {},
	"la":       {},
	"le":       {},
	"du":       {},
	"standard": {},
	"bottle":   {},
	"magnum":   {},
	"jeroboam": {},
	"double":   {},
	"red":      {},
	"white":    {},
	"rose":     {},
	"blanc":    {},
	"rouge":    {},
	"ml":       {},
	"l":        {},
}

var asciiFold = runes.Remove(runes.Predicate(func(r rune) bool { return r > unicode.MaxASCII }))

// Normalize lowercases, strips diacritics, expands "&" to "and", removes
// punctuation and collapses whitespace.
func Normalize(s string) string {
	if s == "" {
		return ""
	}

	folded, _, err := transform.String(transform.Chain(norm.NFKD, asciiFold), s)
	if err != nil {
		folded = s
	}

	text := strings.ToLower(strings.TrimSpace(folded))
	text = strings.NewReplacer(
		"&", " and ",
		"'", "",
	).Replace(text)
	text = nonAlnumRe.ReplaceAllString(text, " ")
	text = spaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// Canonicalize normalizes s and removes stop tokens: articles, bottle-size
// words, color words, volume tokens ("750ml", "1l") and short numbers.
// Vintage years survive.
func Canonicalize(s string) string {
	base := Normalize(s)
	if base == "" {
		return ""
	}

	fields := strings.Fields(base)
	tokens := make([]string, 0, len(fields))
	for _, tok := range fields {
		if dropToken(tok) {
			continue
		}
		tokens = append(tokens, tok)
	}
	return strings.Join(tokens, " ")
}

func dropToken(tok string) bool {
	if _, ok := dropTokens[tok]; ok {
		return true
	}
	if strings.HasSuffix(tok, "ml") && isDigits(strings.TrimSuffix(tok, "ml")) {
		return true
	}
	if strings.HasSuffix(tok, "l") && isDigits(strings.TrimSuffix(tok, "l")) {
		return true
	}
	return isDigits(tok) && len(tok) <= 3
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ExtractYear returns the first 19xx or 20xx year found in s.
func ExtractYear(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	m := yearRe.FindString(s)
	if m == "" {
		return 0, false
	}
	year, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	return year, true
}
