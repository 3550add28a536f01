// Package googlecse is a client for the Google Custom Search JSON API.
package googlecse

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

const defaultBaseURL = "https://customsearch.googleapis.com/customsearch/v1"

// MaxNum is the largest page size the API accepts.
const MaxNum = 10

// Client performs Custom Search queries against one engine.
type Client interface {
	Search(ctx context.Context, query string, num int) (*SearchResponse, error)
}

// SearchResponse is the subset of the Custom Search response we read.
type SearchResponse struct {
	Items []Item `json:"items"`
}

// Item is one search result.
type Item struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// APIError is returned for non-200 responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("googlecse: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API endpoint.
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
	apiKey   string
	engineID string
	baseURL  string
	http     *http.Client
}

// NewClient creates a Custom Search client for the engine cx.
func NewClient(apiKey, cx string, opts ...Option) Client {
	c := &httpClient{
		apiKey:   apiKey,
		engineID: cx,
		baseURL:  defaultBaseURL,
		http: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, query string, num int) (*SearchResponse, error) {
	if num <= 0 {
		return &SearchResponse{}, nil
	}

	params := url.Values{}
	params.Set("key", c.apiKey)
	params.Set("cx", c.engineID)
	params.Set("q", query)
	params.Set("num", strconv.Itoa(min(num, MaxNum)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "googlecse: create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "googlecse: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "googlecse: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var result SearchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "googlecse: unmarshal response")
	}
	return &result, nil
}
