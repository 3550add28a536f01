// Package catalog links catalog names to rating records through exact,
// canonical and gated fuzzy lookups.
package catalog

import (
	"slices"
	"sort"

	"github.com/grandcru/winematch/internal/model"
	"github.com/grandcru/winematch/internal/normalize"
)

// Fuzzy gates. A fuzzy best candidate must clear all of them.
const (
	MinOverlap       = 3
	MinCombined      = 0.68
	MinTokenRatio    = 0.45
	StrongSetRatio   = 0.90
	TieMargin        = 0.03
	TieBreakSetRatio = 0.92
)

// Index is built once per run from the base ratings followed by the
// overrides. It is read-only after BuildIndex returns.
type Index struct {
	records   []model.RatingRecord
	exact     map[string]int
	canonical map[string][]int
	byYear    map[int][]int
}

// Result is the outcome of matching one catalog name.
type Result struct {
	Record *model.RatingRecord
	Method model.MatchMethod
}

// Matched reports whether a record was found.
func (r Result) Matched() bool { return r.Record != nil }

// HasRating reports whether the matched record carries a usable rating.
func (r Result) HasRating() bool { return r.Record != nil && r.Record.HasRating() }

// BuildIndex indexes both wine_name and match_name of every record. Later
// records replace earlier ones in the exact map so overrides win.
func BuildIndex(records []model.RatingRecord) *Index {
	idx := &Index{
		records:   make([]model.RatingRecord, len(records)),
		exact:     make(map[string]int),
		canonical: make(map[string][]int),
		byYear:    make(map[int][]int),
	}
	copy(idx.records, records)

	for i := range idx.records {
		rec := &idx.records[i]
		var years []int
		for _, name := range []string{rec.WineName, rec.MatchName} {
			if key := normalize.Normalize(name); key != "" {
				idx.exact[key] = i
			}
			if key := normalize.Canonicalize(name); key != "" {
				idx.canonical[key] = append(idx.canonical[key], i)
			}
			if y, ok := normalize.ExtractYear(name); ok && !slices.Contains(years, y) {
				years = append(years, y)
				idx.byYear[y] = append(idx.byYear[y], i)
			}
		}
	}
	return idx
}

// Len returns the number of indexed records.
func (idx *Index) Len() int { return len(idx.records) }

// Match resolves name against the index. Exact beats canonical, canonical
// beats fuzzy.
func (idx *Index) Match(name string) Result {
	if key := normalize.Normalize(name); key != "" {
		if i, ok := idx.exact[key]; ok {
			return idx.result(i, model.MatchExact)
		}
	}

	canonicalKey := normalize.Canonicalize(name)
	if canonicalKey == "" {
		return Result{Method: model.MatchNone}
	}
	targetYear, hasYear := normalize.ExtractYear(name)

	if candidates, ok := idx.canonical[canonicalKey]; ok {
		if hasYear {
			for _, i := range candidates {
				if y, ok := normalize.ExtractYear(idx.records[i].DisplayName()); ok && y == targetYear {
					return idx.result(i, model.MatchCanonical)
				}
			}
		}
		return idx.result(candidates[0], model.MatchCanonical)
	}

	return idx.fuzzy(canonicalKey, targetYear, hasYear)
}

type scored struct {
	index int
	sim   normalize.Similarity
}

func (idx *Index) fuzzy(target string, year int, hasYear bool) Result {
	pool := idx.pool(year, hasYear)
	targetTokens := normalize.Tokens(target)

	candidates := make([]scored, 0, len(pool))
	for _, i := range pool {
		key := normalize.Canonicalize(idx.records[i].DisplayName())
		if key == "" {
			continue
		}
		sim := normalize.Compare(targetTokens, normalize.Tokens(key), target, key)
		if sim.Combined <= 0 {
			continue
		}
		candidates = append(candidates, scored{index: i, sim: sim})
	}
	if len(candidates) == 0 {
		return Result{Method: model.MatchNone}
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].sim.Combined > candidates[b].sim.Combined
	})

	best := candidates[0].sim
	if best.Overlap < MinOverlap {
		return Result{Method: model.MatchNone}
	}
	if best.Combined < MinCombined && best.SetRatio < StrongSetRatio {
		return Result{Method: model.MatchNone}
	}
	if best.TokenRatio < MinTokenRatio && best.SetRatio < StrongSetRatio {
		return Result{Method: model.MatchNone}
	}
	if len(candidates) > 1 {
		second := candidates[1].sim
		if best.Combined-second.Combined < TieMargin && best.SetRatio < TieBreakSetRatio {
			return Result{Method: model.MatchNone}
		}
	}
	return idx.result(candidates[0].index, model.MatchFuzzy)
}

// pool returns the year bucket when one exists, else every record.
func (idx *Index) pool(year int, hasYear bool) []int {
	if hasYear {
		if bucket := idx.byYear[year]; len(bucket) > 0 {
			return bucket
		}
	}
	all := make([]int, len(idx.records))
	for i := range all {
		all[i] = i
	}
	return all
}

func (idx *Index) result(i int, method model.MatchMethod) Result {
	rec := idx.records[i]
	return Result{Record: &rec, Method: method}
}
