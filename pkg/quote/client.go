package quote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultChartURL  = "https://query1.finance.yahoo.com/v8/finance/chart/"
	defaultSearchURL = "https://query2.finance.yahoo.com/v1/finance/search"
	defaultLogoURL   = "https://s3.polygon.io/logos/%s/logo.png"

	defaultHTTPTimeout      = 10 * time.Second
	defaultMaxRetries       = 2
	defaultRetryBackoffBase = 150 * time.Millisecond
)

// ErrQuoteUnavailable indicates the quote source could not be reached or did
// not return a usable document. Polling callers skip the tick and retry later.
var ErrQuoteUnavailable = errors.New("quote: unavailable")

// Client fetches price series and equity search results from a chart API.
type Client struct {
	chartURL   string
	searchURL  string
	logoURL    string
	httpClient *http.Client
	maxRetries int
}

// Option configures a new Client.
type Option func(*Client)

// WithHTTPClient injects a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithChartURL overrides the chart endpoint base URL.
func WithChartURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.chartURL = u
		}
	}
}

// WithSearchURL overrides the search endpoint URL.
func WithSearchURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.searchURL = u
		}
	}
}

// WithLogoURL overrides the logo URL template. The template must contain a
// single %s placeholder for the lowercased symbol.
func WithLogoURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.logoURL = u
		}
	}
}

// WithMaxRetries adjusts how many times a failed request is retried.
func WithMaxRetries(max int) Option {
	return func(c *Client) {
		if max >= 0 {
			c.maxRetries = max
		}
	}
}

// NewClient constructs a chart API client.
func NewClient(opts ...Option) *Client {
	client := &Client{
		chartURL:   defaultChartURL,
		searchURL:  defaultSearchURL,
		logoURL:    defaultLogoURL,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return client
}

// Series fetches the full price series for symbol at the given granularity.
func (c *Client) Series(ctx context.Context, symbol string, g Granularity) (Quote, error) {
	interval, dataRange := g.Params()
	return c.fetchChart(ctx, symbol, interval, dataRange)
}

// Latest fetches the freshest one-minute series for symbol. Callers typically
// only consume its LastPrice.
func (c *Client) Latest(ctx context.Context, symbol string) (Quote, error) {
	interval, dataRange := fastParams()
	return c.fetchChart(ctx, symbol, interval, dataRange)
}

func (c *Client) fetchChart(ctx context.Context, symbol, interval, dataRange string) (Quote, error) {
	symbol = CanonicalSymbol(symbol)
	if symbol == "" {
		return Quote{}, fmt.Errorf("quote: symbol is required")
	}
	endpoint := fmt.Sprintf("%s%s?interval=%s&range=%s",
		c.chartURL, url.PathEscape(symbol), interval, dataRange)
	body, err := c.doGet(ctx, endpoint)
	if err != nil {
		return Quote{}, err
	}
	return parseChart(body)
}

// Search returns equity instruments matching the query.
func (c *Client) Search(ctx context.Context, query string) ([]StockIdentity, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	endpoint := fmt.Sprintf("%s?q=%s&lang=en-US&region=US&newsCount=0",
		c.searchURL, url.QueryEscape(strings.ToLower(query)))
	body, err := c.doGet(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return parseSearch(body, c.LogoURL)
}

// LogoURL derives the company logo URL for a symbol.
func (c *Client) LogoURL(symbol string) string {
	return fmt.Sprintf(c.logoURL, strings.ToLower(CanonicalSymbol(symbol)))
}

// doGet performs a GET with bounded retries and linear backoff.
func (c *Client) doGet(ctx context.Context, endpoint string) ([]byte, error) {
	var lastErr error
	backoff := defaultRetryBackoffBase
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("quote: build request: %w", err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
		} else {
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			switch {
			case readErr != nil:
				lastErr = fmt.Errorf("read response: %w", readErr)
			case resp.StatusCode < 200 || resp.StatusCode >= 300:
				lastErr = fmt.Errorf("http status %d", resp.StatusCode)
			default:
				return body, nil
			}
		}
		if attempt < c.maxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff += defaultRetryBackoffBase
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrQuoteUnavailable, lastErr)
}
