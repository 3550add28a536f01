package scorer

import (
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/grandcru/winematch/internal/model"
	"github.com/grandcru/winematch/internal/search"
)

// Review threshold derivation.
const (
	ReviewSlack      = 0.12
	ReviewFloor      = 0.55
	demotionSuffix   = "; missing vivino rating/count for auto-apply"
	searchErrPrefix  = "; search_error="
	noProviderReason = "provider=none; generated deterministic queries only"
)

// Policy holds the decision thresholds.
type Policy struct {
	MinConfidence float64
	MinMargin     float64
	// RequireExistingRating demotes an auto-accept to review when the wine
	// has no rating value or count on record yet.
	RequireExistingRating bool
}

// DefaultPolicy returns the production thresholds.
func DefaultPolicy() Policy {
	return Policy{MinConfidence: 0.82, MinMargin: 0.08, RequireExistingRating: true}
}

// Validate checks that thresholds are in range.
func (p Policy) Validate() error {
	if p.MinConfidence <= 0 || p.MinConfidence > 1 {
		return eris.Errorf("scorer: min_confidence %.3f out of range (0,1]", p.MinConfidence)
	}
	if p.MinMargin < 0 || p.MinMargin > 1 {
		return eris.Errorf("scorer: min_margin %.3f out of range [0,1]", p.MinMargin)
	}
	return nil
}

// ReviewThreshold is the looser score that still warrants human review.
func (p Policy) ReviewThreshold() float64 {
	return max(p.MinConfidence-ReviewSlack, ReviewFloor)
}

// Decision is the verdict for one identity.
type Decision struct {
	Kind   model.Decision
	Reason string
	Best   *Candidate
	Second *Candidate
	Margin float64
}

// BestScore returns the best candidate score, or 0.
func (d Decision) BestScore() float64 {
	if d.Best == nil {
		return 0
	}
	return d.Best.Score
}

// SecondScore returns the runner-up score, or 0.
func (d Decision) SecondScore() float64 {
	if d.Second == nil {
		return 0
	}
	return d.Second.Score
}

// Decide applies the policy rules in order to ranked candidates. provider is
// the provider in effect for the identity; "none" means queries were only
// generated. Search errors are appended to the reason without changing the
// verdict.
func Decide(p Policy, provider string, ranked []Candidate, existingHasRating bool, searchErrors []string) Decision {
	d := Decision{}
	if len(ranked) > 0 {
		d.Best = &ranked[0]
	}
	if len(ranked) > 1 {
		d.Second = &ranked[1]
	}
	d.Margin = d.BestScore() - d.SecondScore()
	review := p.ReviewThreshold()

	switch {
	case provider == search.ProviderNone:
		d.Kind = model.DecisionNoProvider
		d.Reason = noProviderReason
	case d.Best == nil:
		d.Kind = model.DecisionUnmatched
		d.Reason = "no viable vivino candidates returned"
	case d.Best.ProducerOverlap == 0:
		d.Kind = model.DecisionNeedsReview
		d.Reason = "top candidate missing producer token overlap"
	case d.Best.Score >= p.MinConfidence && d.Margin >= p.MinMargin:
		d.Kind = model.DecisionAutoAccept
		d.Reason = fmt.Sprintf("score=%.3f, margin=%.3f", d.Best.Score, d.Margin)
	case d.Best.Score >= review:
		d.Kind = model.DecisionNeedsReview
		d.Reason = fmt.Sprintf("score=%.3f, margin=%.3f", d.Best.Score, d.Margin)
	default:
		d.Kind = model.DecisionUnmatched
		d.Reason = fmt.Sprintf("score below threshold (%.3f < %.3f)", d.Best.Score, review)
	}

	if len(searchErrors) > 0 {
		d.Reason += searchErrPrefix + searchErrors[0]
	}

	if d.Kind == model.DecisionAutoAccept && p.RequireExistingRating && !existingHasRating {
		d.Kind = model.DecisionNeedsReview
		d.Reason += demotionSuffix
	}
	return d
}
