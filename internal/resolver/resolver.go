// Package resolver runs one resolution pass: it finds catalog rows with no
// usable rating link, searches for candidates and writes the review,
// unmatched and suggestion tables.
package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/grandcru/winematch/internal/catalog"
	"github.com/grandcru/winematch/internal/identity"
	"github.com/grandcru/winematch/internal/model"
	"github.com/grandcru/winematch/internal/overrides"
	"github.com/grandcru/winematch/internal/querycache"
	"github.com/grandcru/winematch/internal/resolverstate"
	"github.com/grandcru/winematch/internal/scorer"
	"github.com/grandcru/winematch/internal/search"
	"github.com/grandcru/winematch/internal/tables"
)

// Paths locates the tables and state files of a run.
type Paths struct {
	Comparison  string
	Ratings     string
	Overrides   string
	Review      string
	Unmatched   string
	Suggestions string
	// ReviewWorkbook, when set, also writes the review queue as .xlsx.
	ReviewWorkbook string
	QueryCache     string
	State          string
}

// Options configures a run.
type Options struct {
	Paths    Paths
	Provider string
	Search   search.Config
	Policy   scorer.Policy
	// Limit caps the rows resolved after incremental filtering; 0 is no cap.
	Limit int
	// OnlyNew skips rows whose fingerprint was already attempted.
	OnlyNew   bool
	AutoApply bool
	Workers   int
}

// Summary reports what a run did.
type Summary struct {
	ComparisonRows       int            `json:"comparison_rows"`
	RatingRows           int            `json:"rating_rows"`
	OverrideRows         int            `json:"override_rows"`
	UnresolvedBefore     int            `json:"unresolved_before"`
	UnresolvedNone       int            `json:"unresolved_none"`
	MissingURLEnrichment int            `json:"missing_url_enrichment"`
	SkippedSeen          int            `json:"skipped_seen"`
	Unresolved           int            `json:"unresolved"`
	ReviewRows           int            `json:"review_rows"`
	AutoAccepted         int            `json:"auto_accepted"`
	UnmatchedOrReview    int            `json:"unmatched_or_review"`
	OverridesStored      int            `json:"overrides_stored"`
	APICalls             int            `json:"api_calls"`
	CacheHits            int            `json:"cache_hits"`
	ProviderUsage        map[string]int `json:"provider_usage"`
	TrippedProviders     []string       `json:"tripped_providers"`
}

// Resolver runs resolution passes against a fixed provider set.
type Resolver struct {
	opts      Options
	providers search.Providers
	now       func() time.Time
}

// New creates a Resolver.
func New(opts Options, providers search.Providers) *Resolver {
	if opts.Provider == "" {
		opts.Provider = search.ProviderAuto
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Resolver{opts: opts, providers: providers, now: time.Now}
}

// rowResult is the per-row output, kept by input position.
type rowResult struct {
	review    model.ReviewRow
	accepted  *model.OverrideRecord
	unmatched *model.UnmatchedRow
}

// Run executes one pass. Input errors abort before any file is written.
func (r *Resolver) Run(ctx context.Context) (*Summary, error) {
	if err := r.providers.ValidateRequested(r.opts.Provider); err != nil {
		return nil, err
	}
	if err := r.opts.Policy.Validate(); err != nil {
		return nil, err
	}
	p := r.opts.Paths

	comparisons, err := tables.ReadComparisons(p.Comparison)
	if err != nil {
		return nil, err
	}
	ratings, err := tables.ReadRatings(p.Ratings)
	if err != nil {
		return nil, err
	}
	existingOverrides, err := overrides.Load(p.Overrides)
	if err != nil {
		return nil, err
	}
	state, err := resolverstate.Load(p.State)
	if err != nil {
		return nil, err
	}
	cache, err := querycache.Load(p.QueryCache)
	if err != nil {
		return nil, err
	}

	records := append(append([]model.RatingRecord{}, ratings...), overrides.ToRatingRecords(existingOverrides)...)
	idx := catalog.BuildIndex(records)

	sum := &Summary{
		ComparisonRows: len(comparisons),
		RatingRows:     len(ratings),
		OverrideRows:   len(existingOverrides),
	}
	rows := r.selectRows(idx, state, comparisons, sum)

	zap.L().Info("resolver: input",
		zap.Int("comparison", sum.ComparisonRows),
		zap.Int("ratings", sum.RatingRows),
		zap.Int("overrides", sum.OverrideRows),
		zap.Int("unresolved_before_filter", sum.UnresolvedBefore),
		zap.Int("unresolved_none", sum.UnresolvedNone),
		zap.Int("missing_url_enrichment", sum.MissingURLEnrichment),
		zap.Int("skipped_seen", sum.SkippedSeen),
		zap.Int("unresolved", sum.Unresolved),
	)

	gw := search.NewGateway(r.opts.Search, r.providers, cache)
	results := make([]rowResult, len(rows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)
	for i, row := range rows {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			state.Mark(resolverstate.Fingerprint(row.Name, row.Year, row.URLMain, row.URLPlat), r.now())
			results[i] = r.resolveRow(gctx, gw, idx, row)
			zap.L().Info("resolver: row done",
				zap.Int("index", i+1),
				zap.Int("total", len(rows)),
				zap.String("wine", row.Name),
				zap.String("decision", string(results[i].review.Decision)),
				zap.String("best", results[i].review.BestScore),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "resolver: run")
	}

	var (
		review    = make([]model.ReviewRow, 0, len(results))
		accepted  = make([]model.OverrideRecord, 0)
		unmatched = make([]model.UnmatchedRow, 0)
	)
	for _, res := range results {
		review = append(review, res.review)
		if res.accepted != nil {
			accepted = append(accepted, *res.accepted)
		}
		if res.unmatched != nil {
			unmatched = append(unmatched, *res.unmatched)
		}
	}

	if err := r.writeOutputs(review, unmatched, accepted); err != nil {
		return nil, err
	}

	sum.OverridesStored = len(existingOverrides)
	if r.opts.AutoApply && len(accepted) > 0 {
		merged, err := overrides.Apply(p.Overrides, accepted)
		if err != nil {
			return nil, err
		}
		sum.OverridesStored = len(merged)
	}

	if err := cache.Save(); err != nil {
		return nil, err
	}
	if err := state.Save(); err != nil {
		return nil, err
	}

	stats := gw.Stats()
	sum.ReviewRows = len(review)
	sum.AutoAccepted = len(accepted)
	sum.UnmatchedOrReview = len(unmatched)
	sum.APICalls = stats.APICalls
	sum.CacheHits = stats.CacheHits
	sum.ProviderUsage = stats.ProviderUsage
	sum.TrippedProviders = gw.TrippedProviders()

	zap.L().Info("resolver: summary",
		zap.Int("review_rows", sum.ReviewRows),
		zap.Int("auto_accepted", sum.AutoAccepted),
		zap.Int("unmatched_or_review", sum.UnmatchedOrReview),
		zap.Int("overrides_rows", sum.OverridesStored),
		zap.Int("api_calls", sum.APICalls),
		zap.Int("cache_hits", sum.CacheHits),
		zap.Any("providers", sum.ProviderUsage),
		zap.Strings("tripped", sum.TrippedProviders),
		zap.String("review_output", p.Review),
		zap.String("unmatched_output", p.Unmatched),
		zap.String("suggestions_output", p.Suggestions),
	)
	return sum, nil
}

// selectRows picks rows with no match, or a match lacking a valid rating
// link, then applies the incremental filter and the limit.
func (r *Resolver) selectRows(idx *catalog.Index, state *resolverstate.Store, rows []model.ComparisonRecord, sum *Summary) []model.ComparisonRecord {
	var out []model.ComparisonRecord
	for _, row := range rows {
		res := idx.Match(row.Name)
		switch {
		case !res.Matched():
			sum.UnresolvedNone++
			out = append(out, row)
		case search.NormalizeRatingURL(res.Record.URL) == "":
			sum.MissingURLEnrichment++
			out = append(out, row)
		}
	}
	sum.UnresolvedBefore = len(out)

	if r.opts.OnlyNew {
		kept := out[:0]
		for _, row := range out {
			if state.Seen(resolverstate.Fingerprint(row.Name, row.Year, row.URLMain, row.URLPlat)) {
				sum.SkippedSeen++
				continue
			}
			kept = append(kept, row)
		}
		out = kept
	}

	if r.opts.Limit > 0 && len(out) > r.opts.Limit {
		out = out[:r.opts.Limit]
	}
	sum.Unresolved = len(out)
	return out
}

func (r *Resolver) resolveRow(ctx context.Context, gw *search.Gateway, idx *catalog.Index, row model.ComparisonRecord) rowResult {
	id := identity.Parse(row.Name, row.Year)
	existing := idx.Match(id.Name)
	queries := search.BuildQueries(id, row.URLMain, row.URLPlat)
	searchURL := search.SearchURL(id)

	ranker := scorer.NewRanker(id)
	var errs []string
	live := false
	for _, q := range queries {
		out := gw.Search(ctx, r.opts.Provider, q)
		if out.Provider != search.ProviderNone {
			live = true
		}
		errs = append(errs, out.Errors...)
		ranker.Add(q, out.Provider, out.Hits)
	}
	// auto with no configured provider only generated queries
	effective := r.opts.Provider
	if effective == search.ProviderAuto && !live {
		effective = search.ProviderNone
	}

	ranked := ranker.Ranked()
	d := scorer.Decide(r.opts.Policy, effective, ranked, existing.HasRating(), errs)

	q1, q2, q3 := queryAt(queries, 0), queryAt(queries, 1), queryAt(queries, 2)
	res := rowResult{review: model.ReviewRow{
		WineName:       id.Name,
		Year:           id.YearString(),
		Producer:       id.Producer,
		Label:          id.Label,
		Color:          id.Color,
		Query1:         q1,
		Query2:         q2,
		Query3:         q3,
		SearchURL:      searchURL,
		CandidateCount: len(ranked),
		Decision:       d.Kind,
		Reason:         d.Reason,
	}}
	if d.Best != nil {
		res.review.BestScore = formatScore(d.Best.Score)
		res.review.BestTitle = d.Best.Title
		res.review.BestURL = d.Best.URL
		res.review.BestProvider = d.Best.Provider
		res.review.BestQuery = d.Best.Query
	}
	if d.Second != nil {
		res.review.SecondScore = formatScore(d.Second.Score)
	}

	if d.Kind == model.DecisionAutoAccept && d.Best != nil {
		res.accepted = r.suggestion(id, existing, d)
		return res
	}

	res.unmatched = &model.UnmatchedRow{
		WineName:     id.Name,
		Year:         id.YearString(),
		Producer:     id.Producer,
		Label:        id.Label,
		PlatinumURL:  row.URLPlat,
		GrandCruURL:  row.URLMain,
		Query1:       q1,
		Query2:       q2,
		Query3:       q3,
		SearchURL:    searchURL,
		BestScore:    res.review.BestScore,
		BestURL:      res.review.BestURL,
		BestProvider: res.review.BestProvider,
		Decision:     d.Kind,
		Reason:       d.Reason,
	}
	return res
}

// suggestion builds the override for an auto-accepted row, carrying the
// rating values already on record for the wine.
func (r *Resolver) suggestion(id identity.Identity, existing catalog.Result, d scorer.Decision) *model.OverrideRecord {
	var prior model.RatingRecord
	if existing.Record != nil {
		prior = *existing.Record
	}
	name := prior.WineName
	if name == "" {
		name = d.Best.Title
	}
	provider := d.Best.Provider
	if provider == "" {
		provider = r.opts.Provider
	}
	return &model.OverrideRecord{
		MatchName:  id.Name,
		WineName:   name,
		Rating:     prior.Rating,
		NumRatings: prior.RatingCount(),
		Price:      prior.Price,
		URL:        d.Best.URL,
		Notes:      fmt.Sprintf("auto_resolved provider=%s score=%.3f margin=%.3f", provider, d.Best.Score, d.Margin),
	}
}

func (r *Resolver) writeOutputs(review []model.ReviewRow, unmatched []model.UnmatchedRow, accepted []model.OverrideRecord) error {
	p := r.opts.Paths
	if err := tables.WriteReview(p.Review, review); err != nil {
		return err
	}
	if err := tables.WriteUnmatched(p.Unmatched, unmatched); err != nil {
		return err
	}
	if err := tables.WriteOverrides(p.Suggestions, accepted); err != nil {
		return err
	}
	if p.ReviewWorkbook != "" {
		if err := tables.WriteReviewWorkbook(p.ReviewWorkbook, review); err != nil {
			return err
		}
	}
	return nil
}

func queryAt(queries []string, i int) string {
	if i < len(queries) {
		return queries[i]
	}
	return ""
}

func formatScore(v float64) string {
	return fmt.Sprintf("%.4f", v)
}
