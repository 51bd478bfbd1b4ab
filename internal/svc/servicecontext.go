package svc

import (
	"context"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"papertrade/internal/config"
	"papertrade/internal/store"
	"papertrade/pkg/blobcache"
	"papertrade/pkg/ledger"
	"papertrade/pkg/quote"
	"papertrade/pkg/tracker"
	"papertrade/pkg/watchlist"
)

// ServiceContext wires the engine components from configuration.
type ServiceContext struct {
	Config *config.Config

	Store          store.Store
	Ledger         *ledger.Ledger
	Watchlist      *watchlist.Watchlist
	QuoteProviders map[string]quote.Provider
	Quotes         quote.Provider
	Logos          *blobcache.Cache
	Tracker        *tracker.Tracker
}

// NewServiceContext builds every component, restoring persisted state.
func NewServiceContext(ctx context.Context, c *config.Config) (*ServiceContext, error) {
	svc := &ServiceContext{Config: c}

	st, err := buildStore(ctx, c)
	if err != nil {
		return nil, err
	}
	svc.Store = st

	quoteCfg, err := loadQuoteConfig(c)
	if err != nil {
		return nil, err
	}
	providers, err := quoteCfg.BuildProviders()
	if err != nil {
		return nil, err
	}
	svc.QuoteProviders = providers
	svc.Quotes, err = quoteCfg.DefaultProvider(providers)
	if err != nil {
		return nil, err
	}

	svc.Ledger, err = ledger.Load(ctx, st, ledger.WithStartingBalance(c.StartingBalance))
	if err != nil {
		return nil, err
	}
	svc.Watchlist, err = watchlist.Load(ctx, st)
	if err != nil {
		return nil, err
	}

	cacheOpts := []blobcache.Option{}
	if c.CoalesceFetches {
		cacheOpts = append(cacheOpts, blobcache.WithCoalescing())
	}
	svc.Logos, err = blobcache.New(c.CacheDir, cacheOpts...)
	if err != nil {
		return nil, err
	}

	svc.Tracker = tracker.New(svc.Quotes, svc.Ledger,
		tracker.WithWatchlist(svc.Watchlist),
		tracker.WithFastInterval(c.FastIntervalDuration()),
		tracker.WithSlowInterval(c.SlowIntervalDuration()),
	)
	return svc, nil
}

func buildStore(ctx context.Context, c *config.Config) (store.Store, error) {
	if c.Postgres.DSN != "" {
		conn := sqlx.NewSqlConn("pgx", c.Postgres.DSN)
		sqlStore := store.NewSQLStore(conn, c.Postgres.Table)
		if err := sqlStore.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("svc: prepare postgres store: %w", err)
		}
		return sqlStore, nil
	}
	return store.NewFileStore(c.DataDir)
}

func loadQuoteConfig(c *config.Config) (*quote.Config, error) {
	if c.QuoteConfigFile == "" {
		return quote.DefaultConfig(), nil
	}
	cfg, err := quote.LoadConfig(c.QuoteConfigFile)
	if err != nil {
		return nil, fmt.Errorf("svc: load quote config: %w", err)
	}
	return cfg, nil
}
