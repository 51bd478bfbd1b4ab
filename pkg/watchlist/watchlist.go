package watchlist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"papertrade/pkg/quote"
)

const defaultStateKey = "watchlist"

// Store is the durable backend the watchlist persists through.
type Store interface {
	Load(ctx context.Context, key string) ([]byte, bool, error)
	Save(ctx context.Context, key string, value []byte) error
}

// DefaultEntries seeds a watchlist when nothing has been persisted yet.
func DefaultEntries() []quote.StockIdentity {
	logo := func(symbol string) string {
		return fmt.Sprintf("https://s3.polygon.io/logos/%s/logo.png", symbol)
	}
	return []quote.StockIdentity{
		{Symbol: "MCD", CompanyName: "McDonald's Corporation", LogoURL: logo("mcd")},
		{Symbol: "C", CompanyName: "Citigroup Inc.", LogoURL: logo("c")},
		{Symbol: "AMZN", CompanyName: "Amazon.com, Inc.", LogoURL: logo("amzn")},
		{Symbol: "NKE", CompanyName: "NIKE, Inc.", LogoURL: logo("nke")},
	}
}

// Watchlist is a persisted ordered set of followed stocks the user does not
// hold. Persisted as a mapping keyed by symbol so a re-save is idempotent; an
// explicit order index preserves insertion order across the map layout.
type Watchlist struct {
	mu      sync.Mutex
	store   Store
	key     string
	entries []quote.StockIdentity
}

// persistedEntry is the fixed on-store schema for one watchlist entry.
type persistedEntry struct {
	Symbol  string `json:"symbol"`
	Name    string `json:"name"`
	LogoURL string `json:"url"`
	Order   int    `json:"order"`
}

// Option configures watchlist construction.
type Option func(*Watchlist)

// WithStateKey overrides the store key the watchlist persists under.
func WithStateKey(key string) Option {
	return func(w *Watchlist) {
		if key != "" {
			w.key = key
		}
	}
}

// Load restores a watchlist from the store, falling back to the default seed
// when nothing is persisted. The seed is not written back until the user
// first toggles an entry.
func Load(ctx context.Context, st Store, opts ...Option) (*Watchlist, error) {
	if st == nil {
		return nil, errors.New("watchlist: store is required")
	}
	w := &Watchlist{store: st, key: defaultStateKey}
	for _, opt := range opts {
		opt(w)
	}

	raw, ok, err := st.Load(ctx, w.key)
	if err != nil {
		return nil, fmt.Errorf("watchlist: load state: %w", err)
	}
	if !ok {
		w.entries = DefaultEntries()
		return w, nil
	}

	var state map[string]persistedEntry
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("watchlist: decode state: %w", err)
	}
	records := make([]persistedEntry, 0, len(state))
	for _, record := range state {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Order < records[j].Order })
	for _, record := range records {
		w.entries = append(w.entries, quote.StockIdentity{
			Symbol:      quote.CanonicalSymbol(record.Symbol),
			CompanyName: record.Name,
			LogoURL:     record.LogoURL,
		})
	}
	return w, nil
}

// Add appends identity to the watchlist and persists. Re-adding an existing
// symbol moves it to the end, matching a toggle-off/toggle-on cycle.
func (w *Watchlist) Add(ctx context.Context, identity quote.StockIdentity) error {
	identity.Symbol = quote.CanonicalSymbol(identity.Symbol)
	if identity.Symbol == "" {
		return errors.New("watchlist: symbol is required")
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.removeLocked(identity.Symbol)
	w.entries = append(w.entries, identity)
	return w.persistLocked(ctx)
}

// Remove drops the entry for symbol and persists. Removing an absent symbol
// is a no-op that still re-saves the current state.
func (w *Watchlist) Remove(ctx context.Context, symbol string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.removeLocked(quote.CanonicalSymbol(symbol))
	return w.persistLocked(ctx)
}

// Contains reports whether symbol is on the watchlist.
func (w *Watchlist) Contains(symbol string) bool {
	symbol = quote.CanonicalSymbol(symbol)
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, entry := range w.entries {
		if entry.Symbol == symbol {
			return true
		}
	}
	return false
}

// All returns the watchlist entries in insertion order.
func (w *Watchlist) All() []quote.StockIdentity {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]quote.StockIdentity, len(w.entries))
	copy(out, w.entries)
	return out
}

// Symbols returns the watched symbols in insertion order.
func (w *Watchlist) Symbols() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.entries))
	for i, entry := range w.entries {
		out[i] = entry.Symbol
	}
	return out
}

func (w *Watchlist) removeLocked(symbol string) {
	kept := w.entries[:0]
	for _, entry := range w.entries {
		if entry.Symbol != symbol {
			kept = append(kept, entry)
		}
	}
	w.entries = kept
}

func (w *Watchlist) persistLocked(ctx context.Context) error {
	state := make(map[string]persistedEntry, len(w.entries))
	for i, entry := range w.entries {
		state[entry.Symbol] = persistedEntry{
			Symbol:  entry.Symbol,
			Name:    entry.CompanyName,
			LogoURL: entry.LogoURL,
			Order:   i,
		}
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("watchlist: encode state: %w", err)
	}
	if err := w.store.Save(ctx, w.key, raw); err != nil {
		return fmt.Errorf("watchlist: persist state: %w", err)
	}
	return nil
}
