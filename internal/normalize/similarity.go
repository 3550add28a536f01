package normalize

import (
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// TokenSet is a set of whitespace-separated tokens.
type TokenSet map[string]struct{}

// Tokens splits s on whitespace into a TokenSet.
func Tokens(s string) TokenSet {
	fields := strings.Fields(s)
	set := make(TokenSet, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// Has reports whether tok is in the set.
func (t TokenSet) Has(tok string) bool {
	_, ok := t[tok]
	return ok
}

// Intersect returns the tokens present in both sets.
func (t TokenSet) Intersect(other TokenSet) TokenSet {
	out := make(TokenSet)
	for tok := range t {
		if other.Has(tok) {
			out[tok] = struct{}{}
		}
	}
	return out
}

// Overlap counts the tokens shared with other.
func (t TokenSet) Overlap(other TokenSet) int {
	n := 0
	for tok := range t {
		if other.Has(tok) {
			n++
		}
	}
	return n
}

// Sorted returns the tokens in lexical order.
func (t TokenSet) Sorted() []string {
	out := make([]string, 0, len(t))
	for tok := range t {
		out = append(out, tok)
	}
	sort.Strings(out)
	return out
}

// Joined returns the sorted tokens joined by a single space.
func (t TokenSet) Joined() string {
	return strings.Join(t.Sorted(), " ")
}

// SequenceRatio is the difflib similarity ratio of two strings compared
// character by character.
func SequenceRatio(a, b string) float64 {
	m := difflib.NewMatcher(strings.Split(a, ""), strings.Split(b, ""))
	return m.Ratio()
}

// TokenSetRatio compares the sorted shared-token string against each full
// sorted token string and keeps the better ratio.
func TokenSetRatio(target, candidate TokenSet) float64 {
	shared := target.Intersect(candidate)
	if len(shared) == 0 {
		return 0
	}
	sharedText := shared.Joined()
	return max(
		SequenceRatio(sharedText, target.Joined()),
		SequenceRatio(sharedText, candidate.Joined()),
	)
}

// Similarity is the weighted name-similarity breakdown shared by the catalog
// matcher and the candidate scorer.
type Similarity struct {
	Combined   float64
	TokenRatio float64
	SeqRatio   float64
	SetRatio   float64
	Overlap    int
}

// Similarity weights.
const (
	WeightToken = 0.45
	WeightSeq   = 0.20
	WeightSet   = 0.35
)

// Compare scores two token sets. seqA and seqB are the strings fed to the
// sequence ratio; callers choose whether that is the raw key or the sorted
// token string.
func Compare(target, candidate TokenSet, seqA, seqB string) Similarity {
	if len(target) == 0 || len(candidate) == 0 {
		return Similarity{}
	}
	overlap := target.Overlap(candidate)
	tokenRatio := float64(overlap) / float64(max(len(target), len(candidate)))
	seqRatio := SequenceRatio(seqA, seqB)
	setRatio := TokenSetRatio(target, candidate)
	return Similarity{
		Combined:   tokenRatio*WeightToken + seqRatio*WeightSeq + setRatio*WeightSet,
		TokenRatio: tokenRatio,
		SeqRatio:   seqRatio,
		SetRatio:   setRatio,
		Overlap:    overlap,
	}
}
