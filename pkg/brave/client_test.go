package brave

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebSearch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/web/search", r.URL.Path)
		assert.Equal(t, "2019 opus one site:vivino.com", r.URL.Query().Get("q"))
		assert.Equal(t, "8", r.URL.Query().Get("count"))
		assert.Equal(t, "test-key", r.Header.Get("X-Subscription-Token"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(SearchResponse{Web: WebResults{Results: []Result{
			{Title: "Opus One 2019 | Vivino", URL: "https://www.vivino.com/US/en/opus-one/w/1?year=2019"},
		}}})
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := client.WebSearch(context.Background(), "2019 opus one site:vivino.com", 8)

	require.NoError(t, err)
	require.Len(t, resp.Web.Results, 1)
	assert.Equal(t, "Opus One 2019 | Vivino", resp.Web.Results[0].Title)
}

func TestWebSearch_CapsCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "20", r.URL.Query().Get("count"))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL))
	resp, err := client.WebSearch(context.Background(), "q", 50)
	require.NoError(t, err)
	assert.Empty(t, resp.Web.Results)
}

func TestWebSearch_ZeroCountSkipsCall(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		called = true
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL))
	resp, err := client.WebSearch(context.Background(), "q", 0)
	require.NoError(t, err)
	assert.Empty(t, resp.Web.Results)
	assert.False(t, called)
}

func TestWebSearch_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`rate limited`))
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL))
	resp, err := client.WebSearch(context.Background(), "q", 8)

	require.Error(t, err)
	assert.Nil(t, resp)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Contains(t, err.Error(), "429")
}

func TestWebSearch_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL))
	_, err := client.WebSearch(context.Background(), "q", 8)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "brave: unmarshal response")
}

func TestWebSearch_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient("k", WithBaseURL(srv.URL))
	_, err := client.WebSearch(ctx, "q", 8)
	assert.Error(t, err)
}
