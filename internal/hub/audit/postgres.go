package audit

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists lifecycle events to a table this package owns.
// The hub enables it only when IPCHUB_DATABASE_URL is set; the schema is
// intentionally minimal, matching the "lifecycle only, never payloads"
// contract described on Store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an already-validated pool. EnsureSchema must be
// called once before Record is used against a fresh database.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS ipchub_session_events (
	id BIGSERIAL PRIMARY KEY,
	kind TEXT NOT NULL,
	service TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	occurred_at TIMESTAMPTZ NOT NULL
)`

// EnsureSchema creates the backing table if it does not already exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, createTableSQL)
	return err
}

func (s *PostgresStore) Record(ctx context.Context, ev Event) error {
	const insertSQL = `
		INSERT INTO ipchub_session_events (kind, service, detail, occurred_at)
		VALUES ($1, $2, $3, $4)`
	_, err := s.pool.Exec(ctx, insertSQL, string(ev.Kind), ev.Service, ev.Detail, ev.At)
	return err
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
