package quote

import (
	"context"
	"net/http"
	"strings"
	"sync"
)

// Provider exposes source-agnostic market data for the engine.
type Provider interface {
	// Series returns the full price series for symbol at the given granularity.
	Series(ctx context.Context, symbol string, g Granularity) (Quote, error)
	// Latest returns the freshest available series; callers read its last price.
	Latest(ctx context.Context, symbol string) (Quote, error)
	// Search returns equity instruments matching the query.
	Search(ctx context.Context, query string) ([]StockIdentity, error)
	// LogoURL derives the company logo URL for a symbol.
	LogoURL(symbol string) string
}

// ProviderBuilder constructs a Provider from configuration.
type ProviderBuilder func(name string, cfg *ProviderConfig) (Provider, error)

var (
	providerRegistry   = make(map[string]ProviderBuilder)
	providerRegistryMu sync.RWMutex
)

// RegisterProvider registers a quote provider constructor.
func RegisterProvider(typeName string, builder ProviderBuilder) {
	providerRegistryMu.Lock()
	defer providerRegistryMu.Unlock()
	providerRegistry[strings.ToLower(strings.TrimSpace(typeName))] = builder
}

func lookupProviderBuilder(typeName string) (ProviderBuilder, bool) {
	providerRegistryMu.RLock()
	defer providerRegistryMu.RUnlock()
	builder, ok := providerRegistry[strings.ToLower(strings.TrimSpace(typeName))]
	return builder, ok
}

// The chart client doubles as the default provider implementation.
var _ Provider = (*Client)(nil)

func init() {
	RegisterProvider("chart", func(name string, cfg *ProviderConfig) (Provider, error) {
		opts := []Option{}
		if cfg != nil {
			opts = append(opts,
				WithChartURL(cfg.ChartURL),
				WithSearchURL(cfg.SearchURL),
				WithLogoURL(cfg.LogoURL),
			)
			if cfg.MaxRetries > 0 {
				opts = append(opts, WithMaxRetries(cfg.MaxRetries))
			}
			if cfg.HTTPTimeout > 0 {
				opts = append(opts, WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}))
			}
		}
		return NewClient(opts...), nil
	})
}
