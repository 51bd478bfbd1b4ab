package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

// SQLStore keeps engine state in a single key/value table. It is wired over
// the pgx stdlib driver (see internal/svc) so deployments that already run
// Postgres can share durable state with the rest of their stack.
type SQLStore struct {
	conn  sqlx.SqlConn
	table string
}

// NewSQLStore returns a Postgres-backed store writing to the given table.
func NewSQLStore(conn sqlx.SqlConn, table string) *SQLStore {
	if table == "" {
		table = "engine_state"
	}
	return &SQLStore{conn: conn, table: table}
}

// EnsureSchema creates the backing table when it does not exist yet.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		key TEXT PRIMARY KEY,
		value BYTEA NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`, s.table)
	if _, err := s.conn.ExecCtx(ctx, query); err != nil {
		return fmt.Errorf("store: ensure schema: %w", err)
	}
	return nil
}

// Load returns the stored value for key.
func (s *SQLStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	query := fmt.Sprintf("SELECT value FROM %s WHERE key = $1", s.table)
	err := s.conn.QueryRowCtx(ctx, &value, query, key)
	if errors.Is(err, sqlx.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: load %s: %w", key, err)
	}
	return value, true, nil
}

// Save upserts value under key.
func (s *SQLStore) Save(ctx context.Context, key string, value []byte) error {
	query := fmt.Sprintf(`INSERT INTO %s (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`, s.table)
	if _, err := s.conn.ExecCtx(ctx, query, key, value); err != nil {
		return fmt.Errorf("store: save %s: %w", key, err)
	}
	return nil
}
