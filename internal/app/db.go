package app

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// dbAppName identifies this process's connections in pg_stat_activity,
// distinguishing the audit writer from any other service sharing the
// database.
const dbAppName = "ipchubd"

// auditPoolMaxConnIdleTime bounds how long an idle connection is kept
// open. The audit store is the pool's only consumer — session-event
// writes are bursty around connect/disconnect, not constant — so idle
// connections are recycled quickly rather than held the pgxpool default
// 30 minutes.
const auditPoolMaxConnIdleTime = 2 * time.Minute

// NewDBPool builds a pgxpool sized for the audit trail's write pattern
// (infrequent, single-row inserts from internal/hub/audit.PostgresStore,
// never a read path) and validates connectivity before returning. It does
// not run migrations; PostgresStore.EnsureSchema owns the audit table's
// schema.
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns >= 0 {
		pcfg.MinConns = cfg.DBMinConns
	}
	pcfg.MaxConnIdleTime = auditPoolMaxConnIdleTime
	pcfg.ConnConfig.RuntimeParams["application_name"] = dbAppName

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	if err := PingDB(ctx, pool, 3*time.Second); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// PingDB checks if we can acquire a connection within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}
