package scorer

import (
	"sort"
	"strings"
	"sync"

	"github.com/grandcru/winematch/internal/identity"
	"github.com/grandcru/winematch/internal/model"
	"github.com/grandcru/winematch/internal/search"
)

// Candidate is one scored rating-site link for an identity.
type Candidate struct {
	URL             string
	Title           string
	Query           string
	Provider        string
	Score           float64
	ProducerOverlap int
	YearMatch       bool
}

// Ranker collects scored candidates for one identity, keeping the best
// score per normalized URL.
type Ranker struct {
	id identity.Identity

	mu    sync.Mutex
	byURL map[string]Candidate
	order []string
}

// NewRanker returns an empty Ranker for id.
func NewRanker(id identity.Identity) *Ranker {
	return &Ranker{id: id, byURL: make(map[string]Candidate)}
}

// Add scores each hit and keeps it when it beats what is already held for
// its URL. Hits must carry normalized URLs; anything else is ignored, as are
// hits scoring zero.
func (r *Ranker) Add(query, provider string, hits []model.SearchHit) {
	for _, h := range hits {
		u := search.NormalizeRatingURL(h.URL)
		if u == "" {
			continue
		}
		s := ScoreCandidate(r.id, h.Title, u)
		if s.Value <= 0 {
			continue
		}
		title := strings.TrimSpace(h.Title)
		if title == "" {
			title = search.RatingSlugText(u)
		}
		r.keep(Candidate{
			URL:             u,
			Title:           title,
			Query:           query,
			Provider:        provider,
			Score:           s.Value,
			ProducerOverlap: s.ProducerOverlap,
			YearMatch:       s.YearMatch,
		})
	}
}

func (r *Ranker) keep(c Candidate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.byURL[c.URL]
	if !ok {
		r.order = append(r.order, c.URL)
	}
	if !ok || c.Score > prev.Score {
		r.byURL[c.URL] = c
	}
}

// Ranked returns the candidates by descending score. Ties keep first-seen
// order.
func (r *Ranker) Ranked() []Candidate {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Candidate, 0, len(r.order))
	for _, u := range r.order {
		out = append(out, r.byURL[u])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
