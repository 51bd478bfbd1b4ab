package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"papertrade/pkg/quote"
)

// DefaultStartingBalance is the paper-trading cash a fresh ledger starts with.
const DefaultStartingBalance = 100000.0

const defaultStateKey = "ledger"

var (
	// ErrInvalidOrder rejects a buy with a non-positive share count or no
	// current quote for the symbol. The ledger state is unchanged.
	ErrInvalidOrder = errors.New("ledger: invalid order")
	// ErrNoPosition rejects a sell for a symbol that is not held.
	ErrNoPosition = errors.New("ledger: no open position")
)

// Store is the durable backend the ledger writes through on every mutation.
type Store interface {
	Load(ctx context.Context, key string) ([]byte, bool, error)
	Save(ctx context.Context, key string, value []byte) error
}

// Position is an open holding. One position per symbol; the ledger owns it.
type Position struct {
	Symbol   string
	Shares   int
	AvgCost  float64
	Identity quote.StockIdentity
}

// CostBasis is the capital committed to the position.
func (p Position) CostBasis() float64 { return p.AvgCost * float64(p.Shares) }

// UnrealizedPL is the paper profit or loss at the given price.
func (p Position) UnrealizedPL(lastPrice float64) float64 {
	return (lastPrice - p.AvgCost) * float64(p.Shares)
}

// MarketValue is the position value at the given price.
func (p Position) MarketValue(lastPrice float64) float64 {
	return lastPrice * float64(p.Shares)
}

// Valuation is the derived view of the ledger, recomputed from raw state.
type Valuation struct {
	CashOnHand         float64 // raw persisted balance, before cost basis
	AvailableBalance   float64 // cashOnHand - totalCostBasis
	TotalCostBasis     float64
	UnrealizedPL       float64
	PortfolioValue     float64 // availableBalance + totalCostBasis + unrealizedPL
	ValueChange        float64 // portfolioValue - startingBalance
	ValueChangePercent float64
}

// Ledger owns cash and positions for a single paper-trading account. Every
// mutation is written through to the store before it returns success, so a
// crash immediately after a trade loses nothing.
type Ledger struct {
	mu sync.Mutex

	store Store
	key   string

	startingBalance float64
	cashOnHand      float64
	positions       map[string]Position
	lastQuote       map[string]float64 // ephemeral, refreshed by polling
}

// Option configures ledger construction.
type Option func(*Ledger)

// WithStartingBalance overrides the cash a fresh ledger is seeded with.
func WithStartingBalance(balance float64) Option {
	return func(l *Ledger) {
		if balance > 0 {
			l.startingBalance = balance
		}
	}
}

// WithStateKey overrides the store key the ledger persists under.
func WithStateKey(key string) Option {
	return func(l *Ledger) {
		if key != "" {
			l.key = key
		}
	}
}

// persistedPosition is the fixed on-store schema for one position.
type persistedPosition struct {
	Symbol   string              `json:"symbol"`
	Shares   int                 `json:"shares"`
	AvgCost  float64             `json:"avgCost"`
	Identity quote.StockIdentity `json:"identity"`
}

// persistedState is the fixed on-store schema for the ledger.
type persistedState struct {
	Balance   float64                      `json:"balance"`
	Positions map[string]persistedPosition `json:"positions"`
}

// Load restores a ledger from the store, or seeds a fresh one with the
// starting balance when nothing is persisted yet.
func Load(ctx context.Context, st Store, opts ...Option) (*Ledger, error) {
	if st == nil {
		return nil, errors.New("ledger: store is required")
	}
	l := &Ledger{
		store:           st,
		key:             defaultStateKey,
		startingBalance: DefaultStartingBalance,
		positions:       make(map[string]Position),
		lastQuote:       make(map[string]float64),
	}
	for _, opt := range opts {
		opt(l)
	}

	raw, ok, err := st.Load(ctx, l.key)
	if err != nil {
		return nil, fmt.Errorf("ledger: load state: %w", err)
	}
	if !ok {
		l.cashOnHand = l.startingBalance
		if err := l.persistLocked(ctx); err != nil {
			return nil, err
		}
		return l, nil
	}

	var state persistedState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("ledger: decode state: %w", err)
	}
	l.cashOnHand = state.Balance
	if l.cashOnHand == 0 {
		l.cashOnHand = l.startingBalance
	}
	for symbol, record := range state.Positions {
		canonical := quote.CanonicalSymbol(symbol)
		l.positions[canonical] = Position{
			Symbol:   canonical,
			Shares:   record.Shares,
			AvgCost:  record.AvgCost,
			Identity: record.Identity,
		}
	}
	return l, nil
}

// Buy opens or extends a position at the symbol's latest polled quote, merging
// the cost basis as a share-weighted average. Buying power is deliberately not
// checked here; the trade surface enforces it before confirming an order.
func (l *Ledger) Buy(ctx context.Context, symbol string, shares int, identity quote.StockIdentity) (Position, error) {
	symbol = quote.CanonicalSymbol(symbol)
	if shares <= 0 {
		return Position{}, fmt.Errorf("%w: share count must be positive", ErrInvalidOrder)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	lastPrice, ok := l.lastQuote[symbol]
	if !ok || lastPrice <= 0 {
		return Position{}, fmt.Errorf("%w: no quote for %s", ErrInvalidOrder, symbol)
	}

	previous, held := l.positions[symbol]
	updated := Position{Symbol: symbol, Shares: shares, AvgCost: lastPrice, Identity: identity}
	if held {
		totalShares := previous.Shares + shares
		updated.Shares = totalShares
		updated.AvgCost = (previous.AvgCost*float64(previous.Shares) + lastPrice*float64(shares)) / float64(totalShares)
		updated.Identity = previous.Identity
	}
	l.positions[symbol] = updated

	if err := l.persistLocked(ctx); err != nil {
		if held {
			l.positions[symbol] = previous
		} else {
			delete(l.positions, symbol)
		}
		return Position{}, err
	}
	return updated, nil
}

// SellAll liquidates the full position for symbol at its latest polled quote,
// booking the realized profit or loss into cash. Falls back to the average
// cost when no quote has arrived yet, which books a flat trade.
func (l *Ledger) SellAll(ctx context.Context, symbol string) (float64, error) {
	symbol = quote.CanonicalSymbol(symbol)

	l.mu.Lock()
	defer l.mu.Unlock()

	position, held := l.positions[symbol]
	if !held {
		return 0, fmt.Errorf("%w: %s", ErrNoPosition, symbol)
	}
	lastPrice, ok := l.lastQuote[symbol]
	if !ok || lastPrice <= 0 {
		lastPrice = position.AvgCost
	}

	realized := position.UnrealizedPL(lastPrice)
	previousCash := l.cashOnHand
	l.cashOnHand += realized
	delete(l.positions, symbol)

	if err := l.persistLocked(ctx); err != nil {
		l.cashOnHand = previousCash
		l.positions[symbol] = position
		return 0, err
	}
	return realized, nil
}

// SetLastQuote records the freshest polled price for symbol and reports
// whether the symbol is currently held.
func (l *Ledger) SetLastQuote(symbol string, price float64) bool {
	symbol = quote.CanonicalSymbol(symbol)
	if price <= 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastQuote[symbol] = price
	_, held := l.positions[symbol]
	return held
}

// LastQuote returns the latest polled price for symbol, if any.
func (l *Ledger) LastQuote(symbol string) (float64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	price, ok := l.lastQuote[quote.CanonicalSymbol(symbol)]
	return price, ok
}

// HasPosition reports whether symbol is currently held.
func (l *Ledger) HasPosition(symbol string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, held := l.positions[quote.CanonicalSymbol(symbol)]
	return held
}

// Position returns the open position for symbol, if held.
func (l *Ledger) Position(symbol string) (Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	position, held := l.positions[quote.CanonicalSymbol(symbol)]
	return position, held
}

// Positions returns all open positions ordered by symbol.
func (l *Ledger) Positions() []Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Position, 0, len(l.positions))
	for _, position := range l.positions {
		out = append(out, position)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Recompute derives the valuation from raw ledger state. It is a pure
// function of (cashOnHand, positions, lastQuote): calling it twice without an
// intervening mutation yields identical values. A position with no polled
// quote yet values at its average cost, contributing zero unrealized P&L.
func (l *Ledger) Recompute() Valuation {
	l.mu.Lock()
	defer l.mu.Unlock()

	var totalCostBasis, unrealized float64
	for symbol, position := range l.positions {
		lastPrice, ok := l.lastQuote[symbol]
		if !ok || lastPrice <= 0 {
			lastPrice = position.AvgCost
		}
		totalCostBasis += position.CostBasis()
		unrealized += position.UnrealizedPL(lastPrice)
	}

	available := l.cashOnHand - totalCostBasis
	portfolioValue := available + totalCostBasis + unrealized
	return Valuation{
		CashOnHand:         l.cashOnHand,
		AvailableBalance:   available,
		TotalCostBasis:     totalCostBasis,
		UnrealizedPL:       unrealized,
		PortfolioValue:     portfolioValue,
		ValueChange:        portfolioValue - l.startingBalance,
		ValueChangePercent: (portfolioValue - l.startingBalance) / l.startingBalance * 100,
	}
}

// persistLocked writes {balance, positions} through to the store. Callers
// hold l.mu.
func (l *Ledger) persistLocked(ctx context.Context) error {
	state := persistedState{
		Balance:   l.cashOnHand,
		Positions: make(map[string]persistedPosition, len(l.positions)),
	}
	for symbol, position := range l.positions {
		state.Positions[symbol] = persistedPosition{
			Symbol:   position.Symbol,
			Shares:   position.Shares,
			AvgCost:  position.AvgCost,
			Identity: position.Identity,
		}
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("ledger: encode state: %w", err)
	}
	if err := l.store.Save(ctx, l.key, raw); err != nil {
		return fmt.Errorf("ledger: persist state: %w", err)
	}
	return nil
}
