package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"papertrade/internal/cli"
	"papertrade/internal/config"
	"papertrade/internal/svc"
)

const shutdownTimeout = 10 * time.Second

var configFile = flag.String("f", "etc/papertrade.yaml", "config file")

func main() {
	flag.Parse()
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Println("[main] Starting paper trading engine...")

	appCfg, err := config.Load(*configFile)
	if err != nil {
		log.Printf("[main] Warning: failed to load config: %v", err)
		log.Printf("[main] Using default configuration")
		appCfg = config.Default()
	}

	log.Printf("[main] Configuration loaded:")
	for _, line := range cli.ConfigSummaryLines(appCfg) {
		log.Printf("  - %s", line)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serviceCtx, err := svc.NewServiceContext(ctx, appCfg)
	if err != nil {
		log.Fatalf("[main] Failed to build service context: %v", err)
	}

	valuation := serviceCtx.Ledger.Recompute()
	log.Printf("[main] Portfolio restored: value=%.2f available=%.2f positions=%d watchlist=%d",
		valuation.PortfolioValue, valuation.AvailableBalance,
		len(serviceCtx.Ledger.Positions()), len(serviceCtx.Watchlist.All()))

	// Warm the logo cache for watchlist tiles so first paint is served
	// from memory or disk.
	go warmLogoCache(ctx, serviceCtx)

	// Background refresh for held positions and watchlist tiles.
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := serviceCtx.Tracker.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("[main] Tracker run ended: %v", err)
		}
	}()

	if symbol := trackSymbol(serviceCtx); symbol != "" {
		log.Printf("[main] Tracking %s", symbol)
		serviceCtx.Tracker.StartTracking(symbol)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Printf("[main] Received %v, shutting down...", sig)

	cancel()
	serviceCtx.Tracker.Stop()

	select {
	case <-runDone:
		log.Println("[main] Shutdown complete")
	case <-time.After(shutdownTimeout):
		log.Println("[main] Shutdown timed out")
	}
}

// warmLogoCache fetches every watchlist logo through the tiered cache.
// Failures are non-fatal; the tile simply renders without a logo until the
// next lookup.
func warmLogoCache(ctx context.Context, serviceCtx *svc.ServiceContext) {
	for _, entry := range serviceCtx.Watchlist.All() {
		if ctx.Err() != nil {
			return
		}
		url := entry.LogoURL
		if url == "" {
			url = serviceCtx.Quotes.LogoURL(entry.Symbol)
		}
		if _, _, err := serviceCtx.Logos.Get(ctx, url); err != nil {
			log.Printf("[main] Logo warmup for %s skipped: %v", entry.Symbol, err)
		}
	}
}

// trackSymbol picks the configured startup symbol, falling back to the first
// watchlist entry.
func trackSymbol(serviceCtx *svc.ServiceContext) string {
	if serviceCtx.Config.TrackSymbol != "" {
		return serviceCtx.Config.TrackSymbol
	}
	if entries := serviceCtx.Watchlist.All(); len(entries) > 0 {
		return entries[0].Symbol
	}
	return ""
}
