// Package scorer ranks rating-site search candidates against a wine identity
// and decides whether the best one can be linked automatically.
package scorer

import (
	"net/url"
	"strconv"

	"github.com/grandcru/winematch/internal/identity"
	"github.com/grandcru/winematch/internal/normalize"
	"github.com/grandcru/winematch/internal/search"
)

// Score adjustments.
const (
	NoProducerPenalty   = 0.25
	ProducerBonusPerHit = 0.03
	MaxProducerBonus    = 0.08
	YearMatchBonus      = 0.10
	YearMismatchPenalty = 0.10
	ColorBonus          = 0.03
)

// Score is the outcome of scoring one candidate.
type Score struct {
	Value           float64
	ProducerOverlap int
	YearMatch       bool
}

// ScoreCandidate scores a search result against id. ratingURL must already
// be normalized. A candidate sharing no target token scores zero.
func ScoreCandidate(id identity.Identity, title, ratingURL string) Score {
	text := title + " " + search.RatingSlugText(ratingURL)
	tokens := normalize.Tokens(normalize.Canonicalize(text))
	if len(id.Target) == 0 || len(tokens) == 0 {
		return Score{}
	}
	if id.Target.Overlap(tokens) == 0 {
		return Score{}
	}

	sim := normalize.Compare(id.Target, tokens, id.Target.Joined(), tokens.Joined())
	value := sim.Combined

	producerOverlap := 0
	if len(id.ProducerTokens) > 0 {
		producerOverlap = id.ProducerTokens.Overlap(tokens)
		if producerOverlap == 0 {
			value -= NoProducerPenalty
		} else {
			value += min(MaxProducerBonus, float64(producerOverlap)*ProducerBonusPerHit)
		}
	}

	yearMatch := false
	if id.HasYear() {
		if y, ok := candidateYear(ratingURL, text); ok {
			if y == id.Year {
				value += YearMatchBonus
				yearMatch = true
			} else {
				value -= YearMismatchPenalty
			}
		}
	}

	if id.Color != "" && normalize.Tokens(normalize.Normalize(text)).Has(id.Color) {
		value += ColorBonus
	}

	return Score{
		Value:           max(0, min(1, value)),
		ProducerOverlap: producerOverlap,
		YearMatch:       yearMatch,
	}
}

// candidateYear reads the vintage from the URL's year parameter, falling
// back to the first year in the candidate text.
func candidateYear(ratingURL, text string) (int, bool) {
	if u, err := url.Parse(ratingURL); err == nil {
		if v := u.Query()["year"]; len(v) > 0 {
			if y, err := strconv.Atoi(v[0]); err == nil {
				return y, true
			}
		}
	}
	return normalize.ExtractYear(text)
}
