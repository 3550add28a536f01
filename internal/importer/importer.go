// Package importer loads the comparison table, attaches rating data through
// the catalog matcher and persists the scored deal set.
package importer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/grandcru/winematch/internal/catalog"
	"github.com/grandcru/winematch/internal/model"
	"github.com/grandcru/winematch/internal/normalize"
	"github.com/grandcru/winematch/internal/overrides"
	"github.com/grandcru/winematch/internal/search"
	"github.com/grandcru/winematch/internal/store"
	"github.com/grandcru/winematch/internal/tables"
)

// DefaultRetentionDays is how long deal snapshots are kept.
const DefaultRetentionDays = 90

var platinumLegacyHosts = []string{
	"https://platinum.grandcruwines.com",
	"http://platinum.grandcruwines.com",
}

// Options configures an import.
type Options struct {
	Comparison string
	Ratings    string
	Overrides  string
	// RetentionDays prunes snapshots older than this many days.
	RetentionDays int
	// PlatinumBaseURL, when set, replaces the legacy platinum host in
	// listing URLs.
	PlatinumBaseURL string
}

// Result summarizes one import.
type Result struct {
	IngestionID     string `json:"ingestion_id"`
	ComparisonRows  int    `json:"comparison_rows"`
	RatingRows      int    `json:"rating_rows"`
	OverrideRows    int    `json:"override_rows"`
	MergedRows      int    `json:"merged_rows"`
	Exact           int    `json:"exact"`
	Canonical       int    `json:"canonical"`
	Fuzzy           int    `json:"fuzzy"`
	Unmatched       int    `json:"unmatched"`
	DBFallback      int    `json:"db_fallback"`
	PrunedSnapshots int64  `json:"pruned_snapshots"`
	Details         string `json:"details"`
}

// Importer writes deals to a Store.
type Importer struct {
	opts  Options
	store store.Store
	now   func() time.Time
}

// New creates an Importer.
func New(opts Options, st store.Store) *Importer {
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = DefaultRetentionDays
	}
	return &Importer{opts: opts, store: st, now: time.Now}
}

// Run imports the tables as one ingestion run. A failure after the run is
// created marks it failed.
func (im *Importer) Run(ctx context.Context) (*Result, error) {
	comparisons, err := tables.ReadComparisons(im.opts.Comparison)
	if err != nil {
		return nil, err
	}
	ratings, err := tables.ReadRatings(im.opts.Ratings)
	if err != nil {
		return nil, err
	}
	ovr, err := overrides.Load(im.opts.Overrides)
	if err != nil {
		return nil, err
	}

	if err := im.store.Migrate(ctx); err != nil {
		return nil, err
	}

	zap.L().Info("importer: starting",
		zap.String("comparison", im.opts.Comparison),
		zap.String("ratings", im.opts.Ratings),
		zap.String("overrides", im.opts.Overrides),
	)

	run, err := im.store.CreateIngestion(ctx, len(comparisons), len(ratings)+len(ovr))
	if err != nil {
		return nil, err
	}

	res := &Result{
		IngestionID:    run.ID,
		ComparisonRows: len(comparisons),
		RatingRows:     len(ratings),
		OverrideRows:   len(ovr),
	}
	if err := im.load(ctx, run.ID, comparisons, ratings, ovr, res); err != nil {
		details := "Import failed: " + err.Error()
		if ferr := im.store.FailIngestion(context.WithoutCancel(ctx), run.ID, details); ferr != nil {
			zap.L().Error("importer: mark failed", zap.String("ingestion", run.ID), zap.Error(ferr))
		}
		zap.L().Error("importer: failed", zap.String("ingestion", run.ID), zap.Error(err))
		return nil, eris.Wrap(err, "importer: run")
	}

	zap.L().Info("importer: success", zap.String("ingestion", run.ID), zap.String("details", res.Details))
	return res, nil
}

func (im *Importer) load(ctx context.Context, runID string, comparisons []model.ComparisonRecord, ratings []model.RatingRecord, ovr []model.OverrideRecord, res *Result) error {
	records := append(append([]model.RatingRecord{}, ratings...), overrides.ToRatingRecords(ovr)...)
	idx := catalog.BuildIndex(records)

	existing, err := im.store.ListDeals(ctx)
	if err != nil {
		return err
	}
	prior := make(map[string]model.Deal, len(existing))
	for _, d := range existing {
		if key := normalize.Normalize(d.WineName); key != "" {
			prior[key] = d
		}
	}

	deals := make([]model.Deal, 0, len(comparisons))
	for _, row := range comparisons {
		m := idx.Match(row.Name)
		switch m.Method {
		case model.MatchExact:
			res.Exact++
		case model.MatchCanonical:
			res.Canonical++
		case model.MatchFuzzy:
			res.Fuzzy++
		default:
			res.Unmatched++
		}

		var p *model.Deal
		if !m.Matched() {
			if d, ok := prior[normalize.Normalize(row.Name)]; ok && d.HasVivino() {
				p = &d
				res.DBFallback++
			}
		}
		deals = append(deals, im.buildDeal(row, m.Record, p))
	}

	snapshotTime := im.now().UTC()
	if err := im.store.ReplaceDeals(ctx, runID, deals, snapshotTime); err != nil {
		return err
	}
	pruned, err := im.store.PruneSnapshots(ctx, snapshotTime.AddDate(0, 0, -im.opts.RetentionDays))
	if err != nil {
		return err
	}

	res.MergedRows = len(deals)
	res.PrunedSnapshots = pruned
	res.Details = fmt.Sprintf(
		"Loaded %d comparison rows and %d vivino rows (+%d overrides) into %d current deals and %d snapshots "+
			"(vivino matched: exact=%d, canonical=%d, fuzzy=%d, unmatched=%d, db_fallback=%d); "+
			"pruned %d snapshots older than %d days.",
		res.ComparisonRows, res.RatingRows, res.OverrideRows, len(deals), len(deals),
		res.Exact, res.Canonical, res.Fuzzy, res.Unmatched, res.DBFallback,
		pruned, im.opts.RetentionDays,
	)
	return im.store.CompleteIngestion(ctx, runID, len(deals), res.Details)
}

// buildDeal merges one comparison row with its rating record. prior is the
// previously stored deal used when the matcher found nothing.
func (im *Importer) buildDeal(row model.ComparisonRecord, rec *model.RatingRecord, prior *model.Deal) model.Deal {
	var r model.RatingRecord
	if rec != nil {
		r = *rec
	}

	rating := ParseFloat(r.Rating)
	count := ParseInt(r.NumRatings)
	if count == nil {
		count = ParseInt(r.Raters)
	}
	vivinoURL := strings.TrimSpace(r.URL)
	if vivinoURL == "" && (rating != nil || count != nil) {
		vivinoURL = search.SearchPageURL(firstNonEmpty(r.WineName, r.MatchName, row.Name))
	}

	if prior != nil {
		vivinoURL = prior.VivinoURL
		rating = prior.VivinoRating
		count = prior.VivinoNumRatings
	}

	// orphaned links without a rating or count are not shown
	if rating == nil && count == nil {
		vivinoURL = ""
	}

	pricePlat := ParseFloat(row.PricePlat)
	priceMain := ParseFloat(row.PriceMain)
	diff := ParseFloat(row.PriceDiff)
	diffPct := ParseFloat(row.PriceDiffPct)

	grandCruURL := ""
	if priceMain != nil {
		grandCruURL = row.URLMain
	}
	if diff == nil && pricePlat != nil && priceMain != nil {
		v := round2(*pricePlat - *priceMain)
		diff = &v
	}
	if diffPct == nil && diff != nil && priceMain != nil && *priceMain != 0 {
		v := round2(*diff / *priceMain * 100)
		diffPct = &v
	}

	return model.Deal{
		WineName:         row.Name,
		Vintage:          ParseInt(row.Year),
		Quantity:         ParseInt(row.Quantity),
		Volume:           row.Volume,
		PricePlatinum:    pricePlat,
		PriceGrandCru:    priceMain,
		PriceDiff:        diff,
		PriceDiffPct:     diffPct,
		CheaperSide:      row.CheaperSide,
		PlatinumURL:      im.platinumURL(row.URLPlat),
		GrandCruURL:      grandCruURL,
		VivinoURL:        vivinoURL,
		VivinoRating:     rating,
		VivinoNumRatings: count,
		DealScore:        DealScore(diffPct, rating, count),
	}
}

func (im *Importer) platinumURL(raw string) string {
	u := strings.TrimSpace(raw)
	if u == "" || im.opts.PlatinumBaseURL == "" {
		return u
	}
	for _, host := range platinumLegacyHosts {
		if suffix, ok := strings.CutPrefix(u, host); ok {
			return strings.TrimRight(im.opts.PlatinumBaseURL, "/") + suffix
		}
	}
	return u
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
