package search

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/grandcru/winematch/internal/model"
	"github.com/grandcru/winematch/internal/querycache"
	"github.com/grandcru/winematch/internal/resilience"
	"github.com/grandcru/winematch/pkg/brave"
	bravemocks "github.com/grandcru/winematch/pkg/brave/mocks"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeProvider struct {
	name       string
	configured bool

	mu    sync.Mutex
	calls int
	hits  []model.SearchHit
	err   error
}

func (f *fakeProvider) Name() string     { return f.name }
func (f *fakeProvider) Configured() bool { return f.configured }

func (f *fakeProvider) Search(_ context.Context, _ string, _ int) ([]model.SearchHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.hits, f.err
}

func (f *fakeProvider) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var vivinoHit = model.SearchHit{URL: "https://www.vivino.com/domaine-y-reserve/w/42?year=2020&utm=x", Title: "Domaine Y Reserve 2020"}

func newGateway(t *testing.T, cfg Config, ps ...*fakeProvider) (*Gateway, *querycache.Cache) {
	t.Helper()
	providers := Providers{}
	for _, p := range ps {
		providers[p.name] = p
	}
	if cfg.MaxResults == 0 {
		cfg.MaxResults = 8
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Hour
	}
	cfg.Retry = resilience.Policy{Attempts: 1}
	cache := querycache.New(filepath.Join(t.TempDir(), "cache.json"))
	return NewGateway(cfg, providers, cache), cache
}

func TestGateway_LiveThenCached(t *testing.T) {
	brv := &fakeProvider{name: ProviderBrave, configured: true, hits: []model.SearchHit{vivinoHit}}
	g, _ := newGateway(t, Config{}, brv)

	first := g.Search(context.Background(), ProviderBrave, "q")
	require.Len(t, first.Hits, 1)
	assert.Equal(t, "https://www.vivino.com/domaine-y-reserve/w/42?year=2020", first.Hits[0].URL)
	assert.Equal(t, ProviderBrave, first.Provider)
	assert.False(t, first.CacheHit)

	second := g.Search(context.Background(), ProviderBrave, "Q")
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Hits, second.Hits)
	assert.Equal(t, 1, brv.Calls())

	stats := g.Stats()
	assert.Equal(t, 1, stats.APICalls)
	assert.Equal(t, 1, stats.CacheHits)
	assert.Equal(t, map[string]int{ProviderBrave: 2}, stats.ProviderUsage)
}

func TestGateway_ExpiredCacheGoesLive(t *testing.T) {
	brv := &fakeProvider{name: ProviderBrave, configured: true, hits: []model.SearchHit{vivinoHit}}
	g, cache := newGateway(t, Config{CacheTTL: time.Hour}, brv)
	cache.Put(ProviderBrave, "q", 8, []model.SearchHit{{URL: "https://www.vivino.com/old/w/1", Title: "old"}}, time.Now().Add(-2*time.Hour))

	out := g.Search(context.Background(), ProviderBrave, "q")
	assert.False(t, out.CacheHit)
	assert.Equal(t, 1, brv.Calls())
	require.Len(t, out.Hits, 1)
	assert.Equal(t, "Domaine Y Reserve 2020", out.Hits[0].Title)
}

func TestGateway_EmptyCacheRetriesLive(t *testing.T) {
	brv := &fakeProvider{name: ProviderBrave, configured: true, hits: []model.SearchHit{vivinoHit}}
	g, cache := newGateway(t, Config{}, brv)
	cache.Put(ProviderBrave, "q", 8, nil, time.Now())

	out := g.Search(context.Background(), ProviderBrave, "q")
	assert.False(t, out.CacheHit)
	assert.Equal(t, []string{"brave:cache_empty_retrying_live"}, out.Errors)
	assert.Len(t, out.Hits, 1)
	assert.Equal(t, 1, brv.Calls())
}

func TestGateway_AutoFallsThrough(t *testing.T) {
	gcse := &fakeProvider{name: ProviderGoogleCSE, configured: true, err: errors.New("boom")}
	brv := &fakeProvider{name: ProviderBrave, configured: true}
	srp := &fakeProvider{name: ProviderSerper, configured: true, hits: []model.SearchHit{vivinoHit}}
	g, cache := newGateway(t, Config{}, gcse, brv, srp)

	out := g.Search(context.Background(), ProviderAuto, "q")
	assert.Equal(t, ProviderSerper, out.Provider)
	assert.Equal(t, []string{"google_cse:boom", "brave:no_results"}, out.Errors)
	assert.Len(t, out.Hits, 1)
	assert.Equal(t, 3, g.Stats().APICalls)

	cached, ok := cache.Get(ProviderBrave, "q", 8, time.Hour, time.Now())
	assert.True(t, ok, "empty live results are cached")
	assert.Empty(t, cached)
	_, ok = cache.Get(ProviderGoogleCSE, "q", 8, time.Hour, time.Now())
	assert.False(t, ok, "failed calls are not cached")
}

func TestGateway_NonRatingHitsCountAsNoResults(t *testing.T) {
	brv := &fakeProvider{name: ProviderBrave, configured: true, hits: []model.SearchHit{{URL: "https://example.com/w/1", Title: "x"}}}
	g, _ := newGateway(t, Config{}, brv)

	out := g.Search(context.Background(), ProviderBrave, "q")
	assert.Empty(t, out.Hits)
	assert.Equal(t, ProviderBrave, out.Provider)
	assert.Equal(t, []string{"brave:no_results"}, out.Errors)
}

func TestGateway_BudgetExhausted(t *testing.T) {
	brv := &fakeProvider{name: ProviderBrave, configured: true}
	g, _ := newGateway(t, Config{MaxAPIQueries: 1}, brv)

	first := g.Search(context.Background(), ProviderBrave, "q1")
	assert.Equal(t, []string{"brave:no_results"}, first.Errors)

	second := g.Search(context.Background(), ProviderBrave, "q2")
	assert.Equal(t, []string{"brave:max_api_queries_reached"}, second.Errors)
	assert.Equal(t, ProviderBrave, second.Provider)
	assert.Equal(t, 1, brv.Calls())
	assert.Equal(t, 1, g.Stats().APICalls)
}

func TestGateway_RetriesCountAgainstBudget(t *testing.T) {
	brv := &fakeProvider{name: ProviderBrave, configured: true,
		err: resilience.NewTransientError(errors.New("rate limited"), 429)}
	g, _ := newGateway(t, Config{MaxAPIQueries: 2}, brv)
	g.cfg.Retry = resilience.Policy{Attempts: 3}

	first := g.Search(context.Background(), ProviderBrave, "q1")
	assert.Equal(t, []string{"brave:rate limited"}, first.Errors)
	assert.Equal(t, 2, brv.Calls())

	second := g.Search(context.Background(), ProviderBrave, "q2")
	assert.Equal(t, []string{"brave:max_api_queries_reached"}, second.Errors)
	assert.Equal(t, 2, brv.Calls())
	assert.Equal(t, 2, g.Stats().APICalls)
}

func TestGateway_RetryWithinBudget(t *testing.T) {
	brv := &fakeProvider{name: ProviderBrave, configured: true,
		err: resilience.NewTransientError(errors.New("unavailable"), 503)}
	g, _ := newGateway(t, Config{}, brv)
	g.cfg.Retry = resilience.Policy{Attempts: 3}

	out := g.Search(context.Background(), ProviderBrave, "q")
	assert.Equal(t, []string{"brave:unavailable"}, out.Errors)
	assert.Equal(t, 3, brv.Calls())
	assert.Equal(t, 3, g.Stats().APICalls)
}

func TestGateway_MissingCredentials(t *testing.T) {
	srp := &fakeProvider{name: ProviderSerper}
	g, _ := newGateway(t, Config{}, srp)

	out := g.Search(context.Background(), ProviderSerper, "q")
	assert.Equal(t, []string{"serper:missing_credentials"}, out.Errors)
	assert.Equal(t, 0, srp.Calls())
	assert.Equal(t, 0, g.Stats().APICalls)
}

func TestGateway_NoneProvider(t *testing.T) {
	brv := &fakeProvider{name: ProviderBrave, configured: true, hits: []model.SearchHit{vivinoHit}}
	g, _ := newGateway(t, Config{}, brv)

	out := g.Search(context.Background(), ProviderNone, "q")
	assert.Equal(t, ProviderNone, out.Provider)
	assert.Empty(t, out.Hits)
	assert.Empty(t, out.Errors)
	assert.Equal(t, 0, brv.Calls())

	auto := g.Search(context.Background(), ProviderAuto, "q")
	assert.Equal(t, ProviderBrave, auto.Provider)

	brv.configured = false
	assert.Equal(t, ProviderNone, g.Search(context.Background(), ProviderAuto, "q").Provider)
}

func TestGateway_BreakerSkipsDeadProvider(t *testing.T) {
	brv := &fakeProvider{name: ProviderBrave, configured: true, err: errors.New("down")}
	g, _ := newGateway(t, Config{BreakerThreshold: 2}, brv)

	g.Search(context.Background(), ProviderBrave, "q1")
	g.Search(context.Background(), ProviderBrave, "q2")
	out := g.Search(context.Background(), ProviderBrave, "q3")

	assert.Equal(t, []string{"brave:circuit_open"}, out.Errors)
	assert.Equal(t, 2, brv.Calls())
	assert.Equal(t, []string{ProviderBrave}, g.TrippedProviders())
}

func TestGateway_ConcurrentBudget(t *testing.T) {
	brv := &fakeProvider{name: ProviderBrave, configured: true}
	g, _ := newGateway(t, Config{MaxAPIQueries: 5}, brv)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Search(context.Background(), ProviderBrave, "q"+string(rune('a'+i)))
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, brv.Calls())
	assert.Equal(t, 5, g.Stats().APICalls)
}

func TestBraveProvider_MapsResults(t *testing.T) {
	client := bravemocks.NewMockClient(t)
	client.On("WebSearch", mock.Anything, "q", 8).Return(&brave.SearchResponse{Web: brave.WebResults{Results: []brave.Result{
		{URL: " https://www.vivino.com/a/w/1 ", Title: " A "},
		{URL: "", Title: "dropped"},
	}}}, nil)

	p := NewBraveProvider(client, true)
	hits, err := p.Search(context.Background(), "q", 8)
	require.NoError(t, err)
	assert.Equal(t, []model.SearchHit{{URL: "https://www.vivino.com/a/w/1", Title: "A"}}, hits)
}

func TestBraveProvider_TransientStatus(t *testing.T) {
	client := bravemocks.NewMockClient(t)
	client.On("WebSearch", mock.Anything, "q", 8).Return(nil, &brave.APIError{StatusCode: 429, Body: "slow"})

	p := NewBraveProvider(client, true)
	_, err := p.Search(context.Background(), "q", 8)
	assert.True(t, resilience.IsTransient(err))
}
