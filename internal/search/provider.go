package search

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/grandcru/winematch/internal/model"
	"github.com/grandcru/winematch/internal/resilience"
	"github.com/grandcru/winematch/pkg/brave"
	"github.com/grandcru/winematch/pkg/googlecse"
	"github.com/grandcru/winematch/pkg/serper"
)

// Provider names.
const (
	ProviderAuto      = "auto"
	ProviderNone      = "none"
	ProviderBrave     = "brave"
	ProviderSerper    = "serper"
	ProviderGoogleCSE = "google_cse"
)

// DefaultAutoOrder is the provider order tried in auto mode.
const DefaultAutoOrder = "google_cse,brave,serper"

// Provider runs one web search.
type Provider interface {
	Name() string
	// Configured reports whether the provider has the credentials it needs.
	Configured() bool
	Search(ctx context.Context, query string, maxResults int) ([]model.SearchHit, error)
}

// Credentials holds the search provider secrets.
type Credentials struct {
	BraveAPIKey  string
	SerperAPIKey string
	GoogleAPIKey string
	GoogleCSEID  string
}

// Providers maps provider name to implementation.
type Providers map[string]Provider

// NewProviders builds the HTTP-backed providers from creds.
func NewProviders(creds Credentials) Providers {
	return Providers{
		ProviderBrave:     NewBraveProvider(brave.NewClient(creds.BraveAPIKey), creds.BraveAPIKey != ""),
		ProviderSerper:    NewSerperProvider(serper.NewClient(creds.SerperAPIKey), creds.SerperAPIKey != ""),
		ProviderGoogleCSE: NewGoogleCSEProvider(googlecse.NewClient(creds.GoogleAPIKey, creds.GoogleCSEID), creds.GoogleAPIKey != "" && creds.GoogleCSEID != ""),
	}
}

// Known reports whether name is a selectable provider, including "auto" and
// "none".
func Known(name string) bool {
	switch name {
	case ProviderAuto, ProviderNone, ProviderBrave, ProviderSerper, ProviderGoogleCSE:
		return true
	default:
		return false
	}
}

// ValidateRequested returns an error when an explicitly requested provider
// lacks credentials. "auto" and "none" always validate.
func (ps Providers) ValidateRequested(requested string) error {
	switch requested {
	case ProviderAuto, ProviderNone:
		return nil
	}
	p, ok := ps[requested]
	if !ok {
		return eris.Wrapf(ErrUnknownProvider, "provider %q", requested)
	}
	if !p.Configured() {
		return eris.Wrapf(ErrMissingCredentials, "provider %q", requested)
	}
	return nil
}

// Provider selection errors.
var (
	ErrUnknownProvider    = eris.New("search: unknown provider")
	ErrMissingCredentials = eris.New("search: missing credentials")
)

type braveProvider struct {
	client     brave.Client
	configured bool
}

// NewBraveProvider adapts a brave.Client.
func NewBraveProvider(c brave.Client, configured bool) Provider {
	return &braveProvider{client: c, configured: configured}
}

func (p *braveProvider) Name() string     { return ProviderBrave }
func (p *braveProvider) Configured() bool { return p.configured }

func (p *braveProvider) Search(ctx context.Context, query string, maxResults int) ([]model.SearchHit, error) {
	resp, err := p.client.WebSearch(ctx, query, maxResults)
	if err != nil {
		return nil, classify(err)
	}
	hits := make([]model.SearchHit, 0, len(resp.Web.Results))
	for _, r := range resp.Web.Results {
		hits = appendHit(hits, r.URL, r.Title)
	}
	return hits, nil
}

type serperProvider struct {
	client     serper.Client
	configured bool
}

// NewSerperProvider adapts a serper.Client.
func NewSerperProvider(c serper.Client, configured bool) Provider {
	return &serperProvider{client: c, configured: configured}
}

func (p *serperProvider) Name() string     { return ProviderSerper }
func (p *serperProvider) Configured() bool { return p.configured }

func (p *serperProvider) Search(ctx context.Context, query string, maxResults int) ([]model.SearchHit, error) {
	resp, err := p.client.Search(ctx, query, maxResults)
	if err != nil {
		return nil, classify(err)
	}
	hits := make([]model.SearchHit, 0, len(resp.Organic))
	for _, r := range resp.Organic {
		hits = appendHit(hits, r.Link, r.Title)
	}
	return hits, nil
}

type googleCSEProvider struct {
	client     googlecse.Client
	configured bool
}

// NewGoogleCSEProvider adapts a googlecse.Client.
func NewGoogleCSEProvider(c googlecse.Client, configured bool) Provider {
	return &googleCSEProvider{client: c, configured: configured}
}

func (p *googleCSEProvider) Name() string     { return ProviderGoogleCSE }
func (p *googleCSEProvider) Configured() bool { return p.configured }

func (p *googleCSEProvider) Search(ctx context.Context, query string, maxResults int) ([]model.SearchHit, error) {
	resp, err := p.client.Search(ctx, query, maxResults)
	if err != nil {
		return nil, classify(err)
	}
	hits := make([]model.SearchHit, 0, len(resp.Items))
	for _, r := range resp.Items {
		hits = appendHit(hits, r.Link, r.Title)
	}
	return hits, nil
}

func appendHit(hits []model.SearchHit, rawURL, title string) []model.SearchHit {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return hits
	}
	return append(hits, model.SearchHit{URL: rawURL, Title: strings.TrimSpace(title)})
}

// classify marks retryable vendor status errors as transient.
func classify(err error) error {
	var be *brave.APIError
	if errors.As(err, &be) {
		return resilience.ClassifyStatus(err, be.StatusCode)
	}
	var se *serper.APIError
	if errors.As(err, &se) {
		return resilience.ClassifyStatus(err, se.StatusCode)
	}
	var ge *googlecse.APIError
	if errors.As(err, &ge) {
		return resilience.ClassifyStatus(err, ge.StatusCode)
	}
	return err
}
