package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"papertrade/pkg/ledger"
	"papertrade/pkg/quote"
)

const (
	defaultFastInterval = 60 * time.Second
	defaultSlowInterval = 300 * time.Second
)

// Ledger is the portfolio view the tracker feeds with polled prices.
type Ledger interface {
	SetLastQuote(symbol string, price float64) bool
	Recompute() ledger.Valuation
	Positions() []ledger.Position
}

// Watchlist supplies the symbols refreshed silently in the background.
type Watchlist interface {
	Symbols() []string
}

// UpdateFunc observes applied price updates (symbol, latest price).
type UpdateFunc func(symbol string, price float64)

// Tracker drives market data refresh for one active symbol plus background
// refresh for held positions and watchlist entries. It runs two loops for the
// active symbol: a fast loop that splices only the newest price into the
// cached series, and a slow loop that replaces the series wholesale at the
// selected granularity. Fetch failures are logged and dropped; the next tick
// retries.
type Tracker struct {
	mu sync.Mutex

	provider quote.Provider
	ledger   Ledger
	watch    Watchlist

	fastInterval time.Duration
	slowInterval time.Duration
	onUpdate     UpdateFunc

	active      string
	granularity quote.Granularity
	series      quote.Quote
	cancel      context.CancelFunc
	refresh     chan struct{}

	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// Option configures tracker construction.
type Option func(*Tracker)

// WithFastInterval overrides the fast-loop cadence.
func WithFastInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.fastInterval = d
		}
	}
}

// WithSlowInterval overrides the slow-loop cadence.
func WithSlowInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.slowInterval = d
		}
	}
}

// WithWatchlist registers the watchlist whose symbols get background refresh.
func WithWatchlist(w Watchlist) Option {
	return func(t *Tracker) { t.watch = w }
}

// WithUpdateFunc registers an observer for applied price updates.
func WithUpdateFunc(fn UpdateFunc) Option {
	return func(t *Tracker) { t.onUpdate = fn }
}

// New constructs a tracker around a quote provider and a ledger.
func New(provider quote.Provider, ldg Ledger, opts ...Option) *Tracker {
	t := &Tracker{
		provider:     provider,
		ledger:       ldg,
		fastInterval: defaultFastInterval,
		slowInterval: defaultSlowInterval,
		granularity:  quote.GranularityIntraday,
		stopChan:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartTracking makes symbol the active one: any loops for a previous symbol
// are cancelled first, then both loops start fresh. The slow loop fetches the
// full series immediately.
func (t *Tracker) StartTracking(symbol string) {
	symbol = quote.CanonicalSymbol(symbol)
	if symbol == "" {
		return
	}

	t.mu.Lock()
	t.cancelLocked()
	ctx, cancel := context.WithCancel(context.Background())
	refresh := make(chan struct{}, 1)
	t.cancel = cancel
	t.refresh = refresh
	t.active = symbol
	t.series = quote.Quote{}
	t.mu.Unlock()

	t.wg.Add(2)
	go t.fastLoop(ctx, symbol)
	go t.slowLoop(ctx, symbol, refresh)
}

// StopTracking cancels both loops for the active symbol. Cancelled loops
// never deliver a late update: every apply re-checks its context and the
// still-active symbol first.
func (t *Tracker) StopTracking() {
	t.mu.Lock()
	t.cancelLocked()
	t.active = ""
	t.series = quote.Quote{}
	t.mu.Unlock()
}

// SetGranularity selects the series granularity and kicks an immediate
// slow-loop fetch for the active symbol.
func (t *Tracker) SetGranularity(g quote.Granularity) {
	t.mu.Lock()
	t.granularity = g
	refresh := t.refresh
	t.mu.Unlock()

	if refresh != nil {
		select {
		case refresh <- struct{}{}:
		default: // a refresh is already pending
		}
	}
}

// Granularity returns the currently selected series granularity.
func (t *Tracker) Granularity() quote.Granularity {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.granularity
}

// ActiveSymbol returns the symbol currently tracked, or "".
func (t *Tracker) ActiveSymbol() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// CurrentSeries returns the cached series for the active symbol. The boolean
// reports whether a series has been fetched yet.
func (t *Tracker) CurrentSeries() (quote.Quote, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == "" || t.series.IsEmpty() {
		return quote.Quote{}, false
	}
	return t.series, true
}

// Run refreshes every held position and watchlist symbol at the fast cadence
// until ctx is cancelled or Stop is called. The active symbol is skipped; its
// own fast loop covers it.
func (t *Tracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.fastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.stopChan:
			return nil
		case <-ticker.C:
			t.refreshBackground(ctx)
		}
	}
}

// Stop terminates Run and the active-symbol loops, then waits for them.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() { close(t.stopChan) })
	t.StopTracking()
	t.wg.Wait()
}

// cancelLocked cancels the current loops. Callers hold t.mu.
func (t *Tracker) cancelLocked() {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.refresh = nil
}

// fastLoop polls the latest price for symbol and applies it incrementally.
func (t *Tracker) fastLoop(ctx context.Context, symbol string) {
	defer t.wg.Done()
	ticker := time.NewTicker(t.fastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q, err := t.provider.Latest(ctx, symbol)
			if err != nil {
				logx.Infof("tracker: fast fetch %s skipped: %v", symbol, err)
				continue
			}
			t.applyLatest(ctx, symbol, q.LastPrice(), true)
		}
	}
}

// slowLoop re-fetches the full series for symbol at the selected granularity.
// It fetches once immediately so a freshly tracked symbol gets a chart.
func (t *Tracker) slowLoop(ctx context.Context, symbol string, refresh <-chan struct{}) {
	defer t.wg.Done()
	ticker := time.NewTicker(t.slowInterval)
	defer ticker.Stop()

	t.fetchSeries(ctx, symbol)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.fetchSeries(ctx, symbol)
		case <-refresh:
			t.fetchSeries(ctx, symbol)
		}
	}
}

// fetchSeries replaces the cached series wholesale. Between a slow refresh
// and a fast splice the later-completing write wins; there is no versioning.
func (t *Tracker) fetchSeries(ctx context.Context, symbol string) {
	t.mu.Lock()
	granularity := t.granularity
	t.mu.Unlock()

	q, err := t.provider.Series(ctx, symbol, granularity)
	if err != nil {
		logx.Infof("tracker: series fetch %s skipped: %v", symbol, err)
		return
	}

	t.mu.Lock()
	if ctx.Err() != nil || t.active != symbol {
		t.mu.Unlock()
		return
	}
	t.series = q
	t.mu.Unlock()

	t.applyLatest(ctx, symbol, q.LastPrice(), false)
}

// applyLatest feeds the ledger a polled price and, for the active symbol,
// splices it into the cached series. The ledger is never called while t.mu is
// held. A stale loop (cancelled context or symbol no longer active for the
// splice) drops its update.
func (t *Tracker) applyLatest(ctx context.Context, symbol string, price float64, splice bool) {
	if price <= 0 || ctx.Err() != nil {
		return
	}

	if held := t.ledger.SetLastQuote(symbol, price); held {
		t.ledger.Recompute()
	}

	if splice {
		t.mu.Lock()
		if ctx.Err() == nil && t.active == symbol && !t.series.IsEmpty() {
			t.series = t.series.Splice(price)
		}
		t.mu.Unlock()
	}

	if t.onUpdate != nil {
		t.onUpdate(symbol, price)
	}
}

// refreshBackground fetches the latest price for every held and watched
// symbol, feeding the ledger. Failures skip to the next symbol.
func (t *Tracker) refreshBackground(ctx context.Context) {
	seen := make(map[string]struct{})
	symbols := make([]string, 0, 8)

	for _, position := range t.ledger.Positions() {
		if _, ok := seen[position.Symbol]; !ok {
			seen[position.Symbol] = struct{}{}
			symbols = append(symbols, position.Symbol)
		}
	}
	if t.watch != nil {
		for _, symbol := range t.watch.Symbols() {
			if _, ok := seen[symbol]; !ok {
				seen[symbol] = struct{}{}
				symbols = append(symbols, symbol)
			}
		}
	}

	active := t.ActiveSymbol()
	for _, symbol := range symbols {
		if symbol == active {
			continue
		}
		q, err := t.provider.Latest(ctx, symbol)
		if err != nil {
			logx.Infof("tracker: background fetch %s skipped: %v", symbol, err)
			continue
		}
		t.applyLatest(ctx, symbol, q.LastPrice(), false)
	}
}
