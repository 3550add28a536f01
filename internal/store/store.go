// Package store persists import runs and the current deal set.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/grandcru/winematch/internal/model"
)

// Store defines the persistence interface for the importer.
type Store interface {
	// Ingestion runs
	CreateIngestion(ctx context.Context, comparisonRows, vivinoRows int) (*model.Ingestion, error)
	CompleteIngestion(ctx context.Context, id string, mergedRows int, details string) error
	FailIngestion(ctx context.Context, id string, details string) error
	GetIngestion(ctx context.Context, id string) (*model.Ingestion, error)
	// LatestIngestion returns the most recently started run, or nil when
	// there is none.
	LatestIngestion(ctx context.Context) (*model.Ingestion, error)

	// Deals
	ListDeals(ctx context.Context) ([]model.Deal, error)
	// ReplaceDeals swaps the current deal set for deals and appends them as
	// snapshots of the ingestion in one transaction.
	ReplaceDeals(ctx context.Context, ingestionID string, deals []model.Deal, capturedAt time.Time) error
	// PruneSnapshots deletes snapshots captured before cutoff.
	PruneSnapshots(ctx context.Context, cutoff time.Time) (int64, error)
	// Counts returns the number of current deals and stored snapshots.
	Counts(ctx context.Context) (deals, snapshots int64, err error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open returns the Store for driver: "sqlite" opens dsn as a file path,
// "postgres" as a connection string.
func Open(ctx context.Context, driver, dsn string, poolCfg *PoolConfig) (Store, error) {
	switch driver {
	case "", "sqlite":
		return NewSQLite(dsn)
	case "postgres":
		return NewPostgres(ctx, dsn, poolCfg)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
}

const ingestionColumns = `id, status, comparison_rows, vivino_rows, merged_rows, details, started_at, finished_at`

// dealColumns is the column order shared by deals and deal_snapshots.
const dealColumns = `wine_name, vintage, quantity, volume, price_platinum, price_grand_cru,
	price_diff, price_diff_pct, cheaper_side, platinum_url, grand_cru_url,
	vivino_url, vivino_rating, vivino_num_ratings, deal_score`

func dealArgs(d model.Deal) []any {
	return []any{
		d.WineName, d.Vintage, d.Quantity, nullString(d.Volume),
		d.PricePlatinum, d.PriceGrandCru, d.PriceDiff, d.PriceDiffPct,
		nullString(d.CheaperSide), nullString(d.PlatinumURL), nullString(d.GrandCruURL),
		nullString(d.VivinoURL), d.VivinoRating, d.VivinoNumRatings, d.DealScore,
	}
}

type scannable interface {
	Scan(dest ...any) error
}

func scanDeal(row scannable) (model.Deal, error) {
	var d model.Deal
	var volume, cheaper, platURL, mainURL, vivURL *string
	err := row.Scan(
		&d.WineName, &d.Vintage, &d.Quantity, &volume,
		&d.PricePlatinum, &d.PriceGrandCru, &d.PriceDiff, &d.PriceDiffPct,
		&cheaper, &platURL, &mainURL,
		&vivURL, &d.VivinoRating, &d.VivinoNumRatings, &d.DealScore,
	)
	if err != nil {
		return d, err
	}
	d.Volume = deref(volume)
	d.CheaperSide = deref(cheaper)
	d.PlatinumURL = deref(platURL)
	d.GrandCruURL = deref(mainURL)
	d.VivinoURL = deref(vivURL)
	return d, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
