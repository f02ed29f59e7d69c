package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	dbApplicationName = "thoughtstream"
	dbConnectAttempts = 3
	dbConnectBackoff  = 500 * time.Millisecond
	dbPingTimeout     = 3 * time.Second
)

// poolConfig turns the storage settings into a pgxpool config. The message log and the
// caches are single-row blobs, so the pool stays small and idle connections are reaped.
func poolConfig(cfg StorageConfig) (*pgxpool.Config, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse database url: %w", err)
	}
	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns > 0 && cfg.DBMinConns <= pcfg.MaxConns {
		pcfg.MinConns = cfg.DBMinConns
	}
	pcfg.MaxConnIdleTime = 5 * time.Minute
	if _, ok := pcfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		pcfg.ConnConfig.RuntimeParams["application_name"] = dbApplicationName
	}
	return pcfg, nil
}

// NewDBPool opens the blob database. A server that is still starting gets a few
// attempts before the error is returned.
func NewDBPool(ctx context.Context, cfg StorageConfig) (*pgxpool.Pool, error) {
	pcfg, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}

	for attempt := 1; ; attempt++ {
		err = PingDB(ctx, pool, dbPingTimeout)
		if err == nil {
			return pool, nil
		}
		if attempt == dbConnectAttempts || ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(dbConnectBackoff):
		}
	}
	pool.Close()
	return nil, fmt.Errorf("postgres: unreachable after %d attempts: %w", dbConnectAttempts, err)
}

// PingDB round-trips to the server within timeout. /readyz uses it.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return pool.Ping(ctx)
}
