package search

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/grandcru/winematch/internal/model"
	"github.com/grandcru/winematch/internal/querycache"
	"github.com/grandcru/winematch/internal/resilience"
)

// errBudgetSpent stops a retry loop once MaxAPIQueries is used up.
var errBudgetSpent = eris.New("search: api budget spent")

// Config controls a Gateway.
type Config struct {
	// AutoOrder is the comma-separated provider order for auto mode.
	AutoOrder string
	// MaxResults is the result count requested from each provider.
	MaxResults int
	// CacheTTL expires cached results; <= 0 disables expiry.
	CacheTTL time.Duration
	// MaxAPIQueries caps live provider calls per run; 0 is unlimited.
	MaxAPIQueries int
	// Interval is the minimum spacing between live calls.
	Interval time.Duration
	// Retry is applied to live calls. Each attempt counts against
	// MaxAPIQueries and waits for Interval.
	Retry resilience.Policy
	// BreakerThreshold trips a provider for the rest of the run after this
	// many consecutive failed calls; 0 disables.
	BreakerThreshold int
}

// Outcome is the result of one query across the provider chain.
type Outcome struct {
	// Hits carry normalized rating-site URLs only.
	Hits     []model.SearchHit
	Provider string
	CacheHit bool
	Errors   []string
}

// Stats summarizes a Gateway's activity.
type Stats struct {
	APICalls      int
	CacheHits     int
	ProviderUsage map[string]int
}

// Gateway runs queries through the cache and the provider chain. The cache,
// the live-call counter and the breakers are shared, so one Gateway may
// serve concurrent resolvers.
type Gateway struct {
	cfg       Config
	providers Providers
	cache     *querycache.Cache
	limiter   *rate.Limiter
	breakers  *resilience.Breakers
	now       func() time.Time

	mu        sync.Mutex
	apiCalls  int
	cacheHits int
	usage     map[string]int
}

// NewGateway creates a Gateway over providers and cache.
func NewGateway(cfg Config, providers Providers, cache *querycache.Cache) *Gateway {
	limit := rate.Inf
	if cfg.Interval > 0 {
		limit = rate.Every(cfg.Interval)
	}
	return &Gateway{
		cfg:       cfg,
		providers: providers,
		cache:     cache,
		limiter:   rate.NewLimiter(limit, 1),
		breakers:  resilience.NewBreakers(cfg.BreakerThreshold, 0),
		now:       time.Now,
		usage:     make(map[string]int),
	}
}

// Search runs query for the requested provider ("auto", "none" or a
// provider name). Provider failures are reported in Outcome.Errors and
// never returned as errors.
func (g *Gateway) Search(ctx context.Context, requested, query string) Outcome {
	out := g.search(ctx, requested, query)

	g.mu.Lock()
	g.usage[out.Provider]++
	if out.CacheHit {
		g.cacheHits++
	}
	g.mu.Unlock()

	zap.L().Debug("search: query done",
		zap.String("query", query),
		zap.String("provider", out.Provider),
		zap.Bool("cache_hit", out.CacheHit),
		zap.Int("hits", len(out.Hits)),
		zap.Strings("errors", out.Errors),
	)
	return out
}

func (g *Gateway) search(ctx context.Context, requested, query string) Outcome {
	order := ResolveOrder(requested, g.cfg.AutoOrder, g.providers)

	var notes []string
	cacheHit := false
	maxResults := g.cfg.MaxResults

	for _, name := range order {
		if name == ProviderNone {
			return Outcome{Provider: ProviderNone, CacheHit: cacheHit, Errors: notes}
		}

		p, ok := g.providers[name]
		if !ok || !p.Configured() {
			notes = append(notes, name+":missing_credentials")
			continue
		}

		if cached, ok := g.cache.Get(name, query, maxResults, g.cfg.CacheTTL, g.now()); ok {
			cacheHit = true
			if len(cached) > 0 {
				if hits := ratingHits(cached); len(hits) > 0 {
					return Outcome{Hits: hits, Provider: name, CacheHit: true, Errors: notes}
				}
				notes = append(notes, name+":no_results")
				continue
			}
			notes = append(notes, name+":cache_empty_retrying_live")
		}

		breaker := g.breakers.Get(name)
		if breaker.Allow() != nil {
			notes = append(notes, name+":circuit_open")
			continue
		}

		if !g.takeBudget() {
			notes = append(notes, name+":max_api_queries_reached")
			continue
		}

		live, err := g.live(ctx, p, query, maxResults)
		breaker.Record(err)
		if err != nil {
			zap.L().Warn("search: provider call failed",
				zap.String("provider", name),
				zap.String("query", query),
				zap.Error(err),
			)
			notes = append(notes, name+":"+errorNote(err))
			continue
		}

		g.cache.Put(name, query, maxResults, live, g.now())
		if hits := ratingHits(live); len(hits) > 0 {
			return Outcome{Hits: hits, Provider: name, Errors: notes}
		}
		notes = append(notes, name+":no_results")
	}

	return Outcome{Provider: order[len(order)-1], CacheHit: cacheHit, Errors: notes}
}

// live calls p with retries. The first attempt was already counted by the
// caller; every retry takes its own budget unit and waits on the limiter.
func (g *Gateway) live(ctx context.Context, p Provider, query string, maxResults int) ([]model.SearchHit, error) {
	attempt := 0
	var lastErr error
	hits, err := resilience.Retry(ctx, g.cfg.Retry, "search."+p.Name(), func(ctx context.Context) ([]model.SearchHit, error) {
		attempt++
		if attempt > 1 && !g.takeBudget() {
			return nil, errBudgetSpent
		}
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		hits, err := p.Search(ctx, query, maxResults)
		lastErr = err
		return hits, err
	})
	if errors.Is(err, errBudgetSpent) && lastErr != nil {
		// Report the provider failure that used up the last unit.
		return nil, lastErr
	}
	return hits, err
}

// takeBudget counts one live call, or reports false when the budget is
// spent. The count is taken before the call is made.
func (g *Gateway) takeBudget() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cfg.MaxAPIQueries > 0 && g.apiCalls >= g.cfg.MaxAPIQueries {
		return false
	}
	g.apiCalls++
	return true
}

// Stats returns a snapshot of the counters.
func (g *Gateway) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Stats{
		APICalls:      g.apiCalls,
		CacheHits:     g.cacheHits,
		ProviderUsage: maps.Clone(g.usage),
	}
}

// TrippedProviders lists providers whose breaker opened during the run.
func (g *Gateway) TrippedProviders() []string {
	return g.breakers.Tripped()
}

// ratingHits keeps hits whose URL normalizes to a rating-site product page.
func ratingHits(raw []model.SearchHit) []model.SearchHit {
	out := make([]model.SearchHit, 0, len(raw))
	for _, h := range raw {
		if u := NormalizeRatingURL(h.URL); u != "" {
			out = append(out, model.SearchHit{URL: u, Title: h.Title})
		}
	}
	return out
}

const maxErrorNote = 160

// errorNote condenses err to one short line for report text.
func errorNote(err error) string {
	msg := strings.Join(strings.Fields(err.Error()), " ")
	if r := []rune(msg); len(r) > maxErrorNote {
		msg = string(r[:maxErrorNote])
	}
	if msg == "" {
		msg = fmt.Sprintf("%T", err)
	}
	return msg
}
