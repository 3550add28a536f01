// Package identity splits a raw catalog name into the producer, label, vintage
// and color parts used to search for and score rating-site candidates.
package identity

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/grandcru/winematch/internal/normalize"
)

// segmentSep separates producer, label and color in catalog names.
const segmentSep = " - "

var (
	leadingYearRe = regexp.MustCompile(`^(?:19|20)\d{2}\s+`)
	leadingNVRe   = regexp.MustCompile(`(?i)^nv\s+`)
	vintageRe     = regexp.MustCompile(`\b(?:19\d{2}|20[0-3]\d)\b`)
)

// Colors is the color vocabulary recognized in the third name segment.
var Colors = map[string]struct{}{
	"red":       {},
	"white":     {},
	"rose":      {},
	"sparkling": {},
	"orange":    {},
}

// Identity is the parsed form of one catalog name. It is derived fresh for
// every row and never persisted.
type Identity struct {
	Name     string
	Producer string
	Label    string
	Year     int // 0 when unknown
	Color    string

	// Target holds the canonical tokens of "year producer label".
	Target normalize.TokenSet
	// ProducerTokens holds canonical producer tokens of length >= 3.
	ProducerTokens normalize.TokenSet
}

// HasYear reports whether a vintage was found.
func (id Identity) HasYear() bool { return id.Year > 0 }

// YearString returns the vintage as text, or "" when unknown.
func (id Identity) YearString() string {
	if id.Year == 0 {
		return ""
	}
	return strconv.Itoa(id.Year)
}

// SearchText is the free-text phrase used for the rating-site search page.
func (id Identity) SearchText() string {
	return joinNonEmpty(id.YearString(), id.Producer, id.Label)
}

// Parse builds an Identity from a raw catalog name and an optional explicit
// year field. The explicit year wins over one found in the name.
func Parse(name, explicitYear string) Identity {
	name = strings.TrimSpace(name)
	parts := splitSegments(name)

	id := Identity{Name: name}

	primary := name
	if len(parts) > 0 {
		primary = parts[0]
	}
	id.Producer = strings.TrimSpace(leadingNVRe.ReplaceAllString(leadingYearRe.ReplaceAllString(primary, ""), ""))
	if id.Producer == "" {
		id.Producer = primary
	}

	id.Label = id.Producer
	if len(parts) > 1 {
		id.Label = parts[1]
	}

	if len(parts) > 2 {
		if c := normalize.Normalize(parts[2]); isColor(c) {
			id.Color = c
		}
	}

	id.Year = parseYear(explicitYear, name)

	id.Target = normalize.Tokens(normalize.Canonicalize(joinNonEmpty(id.YearString(), id.Producer, id.Label)))
	id.ProducerTokens = make(normalize.TokenSet)
	for tok := range normalize.Tokens(normalize.Canonicalize(id.Producer)) {
		if len(tok) >= 3 {
			id.ProducerTokens[tok] = struct{}{}
		}
	}
	return id
}

func splitSegments(name string) []string {
	if name == "" {
		return nil
	}
	raw := strings.Split(name, segmentSep)
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func parseYear(explicit, name string) int {
	for _, s := range []string{explicit, name} {
		if m := vintageRe.FindString(s); m != "" {
			if y, err := strconv.Atoi(m); err == nil {
				return y
			}
		}
	}
	return 0
}

func isColor(s string) bool {
	_, ok := Colors[s]
	return ok
}

func joinNonEmpty(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}
