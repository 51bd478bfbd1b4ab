package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrade/internal/store"
	"papertrade/pkg/ledger"
	"papertrade/pkg/quote"
)

// fakeProvider serves canned quotes and can block or fail on demand.
type fakeProvider struct {
	mu              sync.Mutex
	latest          map[string]float64
	series          map[string]quote.Quote
	err             error
	lastGranularity quote.Granularity
	seriesGate      map[string]chan struct{} // Series blocks on the symbol's gate when present
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		latest:     make(map[string]float64),
		series:     make(map[string]quote.Quote),
		seriesGate: make(map[string]chan struct{}),
	}
}

func (p *fakeProvider) setLatest(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latest[symbol] = price
}

func (p *fakeProvider) setSeries(symbol string, q quote.Quote) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.series[symbol] = q
}

func (p *fakeProvider) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *fakeProvider) granularity() quote.Granularity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastGranularity
}

func (p *fakeProvider) Latest(ctx context.Context, symbol string) (quote.Quote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return quote.Quote{}, p.err
	}
	price, ok := p.latest[symbol]
	if !ok {
		return quote.Quote{}, quote.ErrQuoteUnavailable
	}
	return quote.Quote{Prices: []float64{price}, PreviousClose: price}, nil
}

func (p *fakeProvider) Series(ctx context.Context, symbol string, g quote.Granularity) (quote.Quote, error) {
	p.mu.Lock()
	gate := p.seriesGate[symbol]
	p.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return quote.Quote{}, p.err
	}
	p.lastGranularity = g
	q, ok := p.series[symbol]
	if !ok {
		return quote.Quote{}, quote.ErrQuoteUnavailable
	}
	return q, nil
}

func (p *fakeProvider) Search(ctx context.Context, query string) ([]quote.StockIdentity, error) {
	return nil, nil
}

func (p *fakeProvider) LogoURL(symbol string) string { return "logo://" + symbol }

func newTestLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	l, err := ledger.Load(context.Background(), store.NewMemoryStore())
	require.NoError(t, err, "ledger load should succeed")
	return l
}

func TestTracker_SlowLoopFetchesImmediately(t *testing.T) {
	provider := newFakeProvider()
	provider.setSeries("AAPL", quote.Quote{Prices: []float64{10, 11, 12}, PreviousClose: 9})
	ldg := newTestLedger(t)

	tr := New(provider, ldg, WithFastInterval(time.Hour), WithSlowInterval(time.Hour))
	tr.StartTracking("aapl")
	defer tr.Stop()

	assert.Equal(t, "AAPL", tr.ActiveSymbol(), "the tracked symbol is canonicalised")
	assert.Eventually(t, func() bool {
		series, ok := tr.CurrentSeries()
		if !ok || series.LastPrice() != 12 {
			return false
		}
		price, held := ldg.LastQuote("AAPL")
		return held && price == 12
	}, time.Second, 5*time.Millisecond, "the slow loop fetches the series and feeds the ledger without waiting a full interval")
}

func TestTracker_FastLoopSplicesActiveSeries(t *testing.T) {
	provider := newFakeProvider()
	provider.setSeries("AAPL", quote.Quote{Prices: []float64{10, 11, 12}, PreviousClose: 9})
	provider.setLatest("AAPL", 13.5)
	ldg := newTestLedger(t)

	tr := New(provider, ldg, WithFastInterval(10*time.Millisecond), WithSlowInterval(time.Hour))
	tr.StartTracking("AAPL")
	defer tr.Stop()

	assert.Eventually(t, func() bool {
		series, ok := tr.CurrentSeries()
		return ok && series.LastPrice() == 13.5 && len(series.Prices) == 3
	}, time.Second, 5*time.Millisecond, "the fast loop replaces only the last sample")

	series, _ := tr.CurrentSeries()
	assert.Equal(t, []float64{10, 11, 13.5}, series.Prices, "earlier samples are untouched")
	assert.Equal(t, 9.0, series.PreviousClose, "previous close is retained across splices")
}

func TestTracker_FastLoopRecomputesHeldPosition(t *testing.T) {
	provider := newFakeProvider()
	provider.setSeries("AAPL", quote.Quote{Prices: []float64{50}, PreviousClose: 50})
	provider.setLatest("AAPL", 55)
	ldg := newTestLedger(t)
	ldg.SetLastQuote("AAPL", 50)
	_, err := ldg.Buy(context.Background(), "AAPL", 10, quote.StockIdentity{Symbol: "AAPL"})
	require.NoError(t, err, "buy should succeed")

	tr := New(provider, ldg, WithFastInterval(10*time.Millisecond), WithSlowInterval(time.Hour))
	tr.StartTracking("AAPL")
	defer tr.Stop()

	assert.Eventually(t, func() bool {
		return ldg.Recompute().UnrealizedPL == 50.0
	}, time.Second, 5*time.Millisecond, "a fast-loop update moves the held position's valuation")
}

func TestTracker_SwitchingSymbolDropsLateUpdate(t *testing.T) {
	provider := newFakeProvider()
	provider.setSeries("AAPL", quote.Quote{Prices: []float64{1, 2, 3}, PreviousClose: 1})
	provider.setSeries("MSFT", quote.Quote{Prices: []float64{100, 101}, PreviousClose: 99})

	appleGate := make(chan struct{})
	provider.seriesGate["AAPL"] = appleGate
	ldg := newTestLedger(t)

	tr := New(provider, ldg, WithFastInterval(time.Hour), WithSlowInterval(time.Hour))
	tr.StartTracking("AAPL") // the series fetch parks on the gate
	tr.StartTracking("MSFT") // cancels the AAPL loops
	defer tr.Stop()

	close(appleGate) // the stale AAPL fetch completes late

	assert.Eventually(t, func() bool {
		series, ok := tr.CurrentSeries()
		return ok && series.LastPrice() == 101
	}, time.Second, 5*time.Millisecond, "the new symbol's series arrives")

	// Give the stale loop time to misbehave, then confirm it did not.
	time.Sleep(50 * time.Millisecond)
	series, ok := tr.CurrentSeries()
	require.True(t, ok, "the active series is present")
	assert.Equal(t, []float64{100, 101}, series.Prices, "the cancelled loop never applied its update")
	assert.Equal(t, "MSFT", tr.ActiveSymbol(), "the active symbol is the new one")
}

func TestTracker_SetGranularityTriggersImmediateFetch(t *testing.T) {
	provider := newFakeProvider()
	provider.setSeries("AAPL", quote.Quote{Prices: []float64{5, 6}, PreviousClose: 5})
	ldg := newTestLedger(t)

	tr := New(provider, ldg, WithFastInterval(time.Hour), WithSlowInterval(time.Hour))
	tr.StartTracking("AAPL")
	defer tr.Stop()

	assert.Eventually(t, func() bool {
		_, ok := tr.CurrentSeries()
		return ok
	}, time.Second, 5*time.Millisecond, "the initial fetch completes")

	tr.SetGranularity(quote.GranularityYearly)
	assert.Eventually(t, func() bool {
		return provider.granularity() == quote.GranularityYearly
	}, time.Second, 5*time.Millisecond, "changing granularity refetches without waiting for the slow tick")
	assert.Equal(t, quote.GranularityYearly, tr.Granularity(), "the selection sticks")
}

func TestTracker_FailedFetchRetainsSeries(t *testing.T) {
	provider := newFakeProvider()
	provider.setSeries("AAPL", quote.Quote{Prices: []float64{7, 8}, PreviousClose: 7})
	ldg := newTestLedger(t)

	tr := New(provider, ldg, WithFastInterval(time.Hour), WithSlowInterval(time.Hour))
	tr.StartTracking("AAPL")
	defer tr.Stop()

	assert.Eventually(t, func() bool {
		_, ok := tr.CurrentSeries()
		return ok
	}, time.Second, 5*time.Millisecond, "the initial fetch completes")

	provider.setErr(errors.New("rate limited"))
	tr.SetGranularity(quote.GranularityMonthly) // forces a fetch that will fail

	time.Sleep(50 * time.Millisecond)
	series, ok := tr.CurrentSeries()
	require.True(t, ok, "the series is still cached")
	assert.Equal(t, []float64{7, 8}, series.Prices, "a failed refresh keeps the prior series")
}

func TestTracker_StopTrackingClearsActiveState(t *testing.T) {
	provider := newFakeProvider()
	provider.setSeries("AAPL", quote.Quote{Prices: []float64{1}, PreviousClose: 1})
	ldg := newTestLedger(t)

	tr := New(provider, ldg, WithFastInterval(time.Hour), WithSlowInterval(time.Hour))
	tr.StartTracking("AAPL")
	assert.Eventually(t, func() bool {
		_, ok := tr.CurrentSeries()
		return ok
	}, time.Second, 5*time.Millisecond, "the initial fetch completes")

	tr.StopTracking()
	assert.Equal(t, "", tr.ActiveSymbol(), "no symbol is active after StopTracking")
	_, ok := tr.CurrentSeries()
	assert.False(t, ok, "the cached series is dropped with the active symbol")
	tr.Stop()
}

// watchSymbols is a minimal Watchlist for background refresh tests.
type watchSymbols []string

func (w watchSymbols) Symbols() []string { return w }

func TestTracker_BackgroundRefreshFeedsLedger(t *testing.T) {
	provider := newFakeProvider()
	provider.setLatest("MSFT", 310.0)
	provider.setLatest("NKE", 95.5)
	ldg := newTestLedger(t)
	ldg.SetLastQuote("MSFT", 300)
	_, err := ldg.Buy(context.Background(), "MSFT", 1, quote.StockIdentity{Symbol: "MSFT"})
	require.NoError(t, err, "buy should succeed")

	tr := New(provider, ldg,
		WithFastInterval(10*time.Millisecond),
		WithSlowInterval(time.Hour),
		WithWatchlist(watchSymbols{"NKE"}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = tr.Run(ctx)
	}()

	assert.Eventually(t, func() bool {
		held, okHeld := ldg.LastQuote("MSFT")
		watched, okWatched := ldg.LastQuote("NKE")
		return okHeld && okWatched && held == 310.0 && watched == 95.5
	}, time.Second, 5*time.Millisecond, "held and watched symbols both refresh in the background")

	tr.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
