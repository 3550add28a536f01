package importer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/grandcru/winematch/internal/model"
	"github.com/grandcru/winematch/internal/store"
	"github.com/grandcru/winematch/internal/tables"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func ptr[T any](v T) *T { return &v }

func writeInput(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "deals.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

const comparisonCSV = "name_plat,year_plat,quantity_plat,volume_plat,price_plat,price_main,price_diff,price_diff_pct,cheaper_side,url_plat,url_main\n" +
	"2020 Domaine Y - Reserve,2020,6,750ml,40,50,,,platinum,https://platinum.grandcruwines.com/p/1,https://grandcru.example/y\n" +
	"Lonely Wine - Solo,2019,,,30,n/a,,,,https://platinum.grandcruwines.com/p/2,https://grandcru.example/solo\n" +
	"Link Only - Estate,2018,,,20,25,,,,,\n"

const ratingsCSV = "wine_name,vivino_rating,vivino_num_ratings,vivino_url\n" +
	"2020 Domaine Y - Reserve,4.1,120,\n" +
	"Link Only - Estate,,,https://www.vivino.com/link-only/w/5\n"

func TestRun_BuildsDeals(t *testing.T) {
	dir := t.TempDir()
	opts := Options{
		Comparison:      writeInput(t, dir, "comparison.csv", comparisonCSV),
		Ratings:         writeInput(t, dir, "ratings.csv", ratingsCSV),
		Overrides:       filepath.Join(dir, "overrides.csv"),
		PlatinumBaseURL: "https://shop.example/",
	}
	st := newStore(t)

	res, err := New(opts, st).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.MergedRows)
	assert.Equal(t, 2, res.Exact)
	assert.Equal(t, 1, res.Unmatched)
	assert.Contains(t, res.Details, "into 3 current deals and 3 snapshots")

	deals, err := st.ListDeals(context.Background())
	require.NoError(t, err)
	require.Len(t, deals, 3)

	y := deals[0]
	assert.Equal(t, "2020 Domaine Y - Reserve", y.WineName)
	assert.Equal(t, ptr(2020), y.Vintage)
	assert.Equal(t, ptr(6), y.Quantity)
	assert.Equal(t, ptr(-10.0), y.PriceDiff)
	assert.Equal(t, ptr(-20.0), y.PriceDiffPct)
	assert.Equal(t, "https://www.vivino.com/en/search/wines?q=2020+Domaine+Y+-+Reserve", y.VivinoURL)
	assert.Equal(t, "https://shop.example/p/1", y.PlatinumURL)
	assert.Equal(t, "https://grandcru.example/y", y.GrandCruURL)
	assert.Equal(t, DealScore(ptr(-20.0), ptr(4.1), ptr(120)), y.DealScore)

	solo := deals[1]
	assert.Empty(t, solo.GrandCruURL)
	assert.Nil(t, solo.PriceDiff)
	assert.Empty(t, solo.VivinoURL)

	link := deals[2]
	assert.Empty(t, link.VivinoURL)
	assert.Nil(t, link.VivinoRating)

	in, err := st.GetIngestion(context.Background(), res.IngestionID)
	require.NoError(t, err)
	assert.Equal(t, model.IngestionSuccess, in.Status)
	assert.Equal(t, 3, in.MergedRows)
}

func TestRun_FallsBackToStoredDeal(t *testing.T) {
	dir := t.TempDir()
	st := newStore(t)
	ctx := context.Background()
	opts := Options{
		Comparison: writeInput(t, dir, "comparison.csv", comparisonCSV),
		Ratings:    writeInput(t, dir, "ratings.csv", ratingsCSV),
		Overrides:  writeInput(t, dir, "overrides.csv", "match_name,wine_name,vivino_rating,vivino_num_ratings,vivino_url\n"+
			"Lonely Wine - Solo,Lonely Wine Solo,3.9,40,https://www.vivino.com/lonely/w/9\n"),
	}
	_, err := New(opts, st).Run(ctx)
	require.NoError(t, err)

	// the override disappears; the stored deal keeps its rating
	require.NoError(t, os.Remove(opts.Overrides))
	res, err := New(opts, st).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.DBFallback)

	deals, err := st.ListDeals(ctx)
	require.NoError(t, err)
	require.Len(t, deals, 3)
	assert.Equal(t, "https://www.vivino.com/lonely/w/9", deals[1].VivinoURL)
	assert.Equal(t, ptr(3.9), deals[1].VivinoRating)
	assert.Equal(t, ptr(40), deals[1].VivinoNumRatings)
}

func TestRun_MissingComparison(t *testing.T) {
	dir := t.TempDir()
	opts := Options{
		Comparison: filepath.Join(dir, "missing.csv"),
		Ratings:    writeInput(t, dir, "ratings.csv", ratingsCSV),
	}
	_, err := New(opts, newStore(t)).Run(context.Background())
	assert.ErrorIs(t, err, tables.ErrMissingInput)
}
