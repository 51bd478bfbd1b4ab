package store

import "context"

// Store is the durable key/value storage behind the ledger and watchlist.
// Save must be synchronous: a caller that returns successfully from Save can
// assume the value survives a process crash.
type Store interface {
	// Load returns the stored value for key. The boolean reports whether the
	// key exists; a missing key is not an error.
	Load(ctx context.Context, key string) ([]byte, bool, error)
	// Save writes value under key, replacing any previous value.
	Save(ctx context.Context, key string, value []byte) error
}

// Well-known keys shared by the engine components.
const (
	KeyLedger    = "ledger"
	KeyWatchlist = "watchlist"
)
