package quote

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChartServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewClient(
		WithChartURL(server.URL+"/chart/"),
		WithSearchURL(server.URL+"/search"),
		WithMaxRetries(0),
	)
	return server, client
}

func TestClient_Series(t *testing.T) {
	var gotPath, gotQuery string
	_, client := newChartServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		fmt.Fprint(w, chartDoc)
	})

	q, err := client.Series(context.Background(), "aapl", GranularityMonthly)
	require.NoError(t, err, "Series should succeed")
	assert.Equal(t, "/chart/AAPL", gotPath, "symbol is canonicalised into the path")
	assert.Equal(t, "interval=1d&range=1mo", gotQuery, "granularity picks interval and range")
	assert.Equal(t, 151.75, q.LastPrice(), "series parses to the newest sample")
}

func TestClient_Latest(t *testing.T) {
	var gotQuery string
	_, client := newChartServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		fmt.Fprint(w, chartDoc)
	})

	q, err := client.Latest(context.Background(), "AAPL")
	require.NoError(t, err, "Latest should succeed")
	assert.Equal(t, "interval=1m&range=1d", gotQuery, "fast fetches use one-minute samples")
	assert.Equal(t, 151.75, q.LastPrice(), "latest parses to the newest sample")
}

func TestClient_Search(t *testing.T) {
	_, client := newChartServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "nike", r.URL.Query().Get("q"), "query is lowercased")
		fmt.Fprint(w, `{"quotes":[{"symbol":"NKE","longname":"NIKE, Inc.","quoteType":"EQUITY"}]}`)
	})

	results, err := client.Search(context.Background(), "  Nike ")
	require.NoError(t, err, "Search should succeed")
	require.Len(t, results, 1, "one equity match")
	assert.Equal(t, "NKE", results[0].Symbol, "symbol from the match")
}

func TestClient_SearchEmptyQuery(t *testing.T) {
	results, err := NewClient().Search(context.Background(), "   ")
	assert.NoError(t, err, "an empty query is not an error")
	assert.Empty(t, results, "an empty query returns nothing without a network call")
}

func TestClient_ServerErrorIsUnavailable(t *testing.T) {
	_, client := newChartServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})

	_, err := client.Series(context.Background(), "AAPL", GranularityIntraday)
	assert.ErrorIs(t, err, ErrQuoteUnavailable, "HTTP failures surface as unavailable")
}

func TestClient_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "try again", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, chartDoc)
	}))
	defer server.Close()

	client := NewClient(WithChartURL(server.URL+"/chart/"), WithMaxRetries(2))
	q, err := client.Series(context.Background(), "AAPL", GranularityIntraday)
	require.NoError(t, err, "a transient failure is retried")
	assert.Equal(t, int32(2), calls.Load(), "exactly one retry was needed")
	assert.False(t, q.IsEmpty(), "the retried fetch parsed")
}

func TestClient_LogoURL(t *testing.T) {
	client := NewClient()
	assert.Equal(t, "https://s3.polygon.io/logos/nke/logo.png", client.LogoURL("NKE"),
		"logo URL uses the lowercased symbol")
}
