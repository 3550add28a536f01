// Package search builds rating-site queries for a wine identity and runs
// them against web-search providers with caching, budgets and fallback.
package search

import (
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/grandcru/winematch/internal/identity"
)

// RatingDomain is the rating site candidates must come from.
const RatingDomain = "vivino.com"

// MaxQueries is the number of queries built per identity.
const MaxQueries = 3

const (
	siteFilter    = "site:" + RatingDomain
	productPath   = "/w/"
	searchPageURL = "https://www.vivino.com/en/search/wines"
)

// keptParams are the query parameters that survive URL normalization.
var keptParams = []string{"year", "price_id", "ref"}

var spaceRe = regexp.MustCompile(`\s+`)

// BuildQueries returns up to MaxQueries distinct queries for id. urlMain and
// urlPlat are the retailer product URLs; the first with a usable path slug
// contributes a slug query.
func BuildQueries(id identity.Identity, urlMain, urlPlat string) []string {
	terms := []string{
		join(id.YearString(), id.Producer, id.Label, siteFilter),
		join(id.Producer, id.Label, id.Color, siteFilter),
	}

	hint := SlugText(urlMain)
	if hint == "" {
		hint = SlugText(urlPlat)
	}
	if hint != "" {
		terms = append(terms, hint+" "+siteFilter)
	}

	out := make([]string, 0, len(terms))
	seen := make(map[string]struct{}, len(terms))
	for _, q := range terms {
		q = strings.TrimSpace(spaceRe.ReplaceAllString(q, " "))
		if q == "" {
			continue
		}
		if _, dup := seen[q]; dup {
			continue
		}
		seen[q] = struct{}{}
		out = append(out, q)
	}
	if len(out) > MaxQueries {
		out = out[:MaxQueries]
	}
	return out
}

// SearchURL is the rating site's own search page for id, offered to human
// reviewers.
func SearchURL(id identity.Identity) string {
	return SearchPageURL(id.SearchText())
}

// SearchPageURL is the rating site's search page for a free-text query, or
// "" for a blank query.
func SearchPageURL(query string) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return ""
	}
	return searchPageURL + "?q=" + url.QueryEscape(query)
}

// SlugText returns the last path segment of a product URL with dashes
// turned into spaces.
func SlugText(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	parts := pathSegments(u.Path)
	if len(parts) == 0 {
		return ""
	}
	return strings.TrimSpace(strings.ReplaceAll(parts[len(parts)-1], "-", " "))
}

// RatingSlugText returns the wine slug of a rating-site product URL: the
// segment before "/w/<id>", else the last segment.
func RatingSlugText(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	parts := pathSegments(u.Path)
	if len(parts) == 0 {
		return ""
	}
	slug := parts[len(parts)-1]
	if i := slices.Index(parts, "w"); i > 0 {
		slug = parts[i-1]
	}
	return strings.TrimSpace(strings.ReplaceAll(slug, "-", " "))
}

// NormalizeRatingURL returns the canonical form of a rating-site product URL,
// or "" when raw is not one. Only the year, price_id and ref parameters are
// kept, each with its first non-empty value, and the trailing slash is
// dropped.
func NormalizeRatingURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if !strings.Contains(u.Host, RatingDomain) || !strings.Contains(u.Path, productPath) {
		return ""
	}

	q := u.Query()
	kept := make([]string, 0, len(keptParams))
	for _, key := range keptParams {
		// Blank values are skipped.
		for _, v := range q[key] {
			if v != "" {
				kept = append(kept, url.QueryEscape(key)+"="+url.QueryEscape(v))
				break
			}
		}
	}

	scheme := u.Scheme
	if scheme == "" {
		scheme = "https"
	}
	out := url.URL{
		Scheme:   scheme,
		Host:     u.Host,
		Path:     strings.TrimRight(u.Path, "/"),
		RawQuery: strings.Join(kept, "&"),
	}
	return out.String()
}

func pathSegments(p string) []string {
	var out []string
	for _, seg := range strings.Split(p, "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

func join(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}
