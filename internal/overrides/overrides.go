// Package overrides maintains the accepted catalog-name to rating-link file.
package overrides

import (
	"sort"
	"strings"

	"github.com/grandcru/winematch/internal/model"
	"github.com/grandcru/winematch/internal/tables"
)

// Load reads the overrides file. A missing file yields no records.
func Load(path string) ([]model.OverrideRecord, error) {
	return tables.ReadOverrides(path)
}

// Save rewrites the overrides file sorted by key.
func Save(path string, recs []model.OverrideRecord) error {
	return tables.WriteOverrides(path, Merge(nil, recs))
}

// Apply merges incoming into the overrides file at path and returns the
// stored records.
func Apply(path string, incoming []model.OverrideRecord) ([]model.OverrideRecord, error) {
	existing, err := Load(path)
	if err != nil {
		return nil, err
	}
	merged := Merge(existing, incoming)
	if err := tables.WriteOverrides(path, merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// Merge upserts incoming into existing by match_name. A new key is inserted
// as given. For a known key only fields non-empty in the incoming record
// replace stored values. Records with a blank key are dropped and the
// result is sorted by key.
func Merge(existing, incoming []model.OverrideRecord) []model.OverrideRecord {
	byKey := make(map[string]model.OverrideRecord, len(existing)+len(incoming))
	for _, rec := range existing {
		key := strings.TrimSpace(rec.MatchName)
		if key == "" {
			continue
		}
		byKey[key] = rec
	}

	for _, rec := range incoming {
		key := strings.TrimSpace(rec.MatchName)
		if key == "" {
			continue
		}
		prior, ok := byKey[key]
		if !ok {
			byKey[key] = rec
			continue
		}
		byKey[key] = mergeFields(prior, rec, key)
	}

	out := make([]model.OverrideRecord, 0, len(byKey))
	for _, rec := range byKey {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MatchName < out[j].MatchName })
	return out
}

func mergeFields(prior, in model.OverrideRecord, key string) model.OverrideRecord {
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	out := prior
	set(&out.WineName, in.WineName)
	set(&out.Rating, in.Rating)
	set(&out.NumRatings, in.NumRatings)
	set(&out.Price, in.Price)
	set(&out.URL, in.URL)
	set(&out.Notes, in.Notes)
	out.MatchName = key
	return out
}

// ToRatingRecords converts overrides into rating rows for the catalog index.
func ToRatingRecords(recs []model.OverrideRecord) []model.RatingRecord {
	out := make([]model.RatingRecord, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.AsRating())
	}
	return out
}
