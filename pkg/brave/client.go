// Package brave is a client for the Brave Web Search API.
package brave

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://api.search.brave.com/res/v1"

// MaxCount is the largest page size the API accepts.
const MaxCount = 20

// Client performs Brave web searches.
type Client interface {
	WebSearch(ctx context.Context, query string, count int) (*SearchResponse, error)
}

// SearchResponse is the subset of the web search response we read.
type SearchResponse struct {
	Web WebResults `json:"web"`
}

// WebResults holds the organic web results.
type WebResults struct {
	Results []Result `json:"results"`
}

// Result is one organic result.
type Result struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

// APIError is returned for non-200 responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("brave: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a Brave Search client using the subscription token.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) WebSearch(ctx context.Context, query string, count int) (*SearchResponse, error) {
	if count <= 0 {
		return &SearchResponse{}, nil
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("count", strconv.Itoa(min(count, MaxCount)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/web/search?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "brave: create request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "brave: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "brave: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var result SearchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "brave: unmarshal response")
	}
	return &result, nil
}
