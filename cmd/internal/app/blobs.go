package app

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"

	"thoughtstream/cmd/internal/storage"
)

// OpenBlobs opens the configured backend. For postgres the returned pool is owned by the
// returned Blobs and closed with it; it is also returned so readiness can ping it.
func OpenBlobs(ctx context.Context, cfg StorageConfig, log Logger) (storage.Blobs, *pgxpool.Pool, error) {
	kind, err := storage.ParseKind(cfg.Backend)
	if err != nil {
		return nil, nil, err
	}

	switch kind {
	case storage.KindMemory:
		log.Info("storage.open", "backend", kind)
		return storage.NewMemoryStore(), nil, nil

	case storage.KindRedis:
		st, err := storage.NewRedisStore(ctx, storage.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open redis %s: %w", cfg.RedisAddr, err)
		}
		log.Info("storage.open", "backend", kind, "addr", cfg.RedisAddr)
		return st, nil, nil

	case storage.KindPostgres:
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		st, err := storage.NewPostgresStore(pool, storage.WithSchema(cfg.DBSchema))
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}
		log.Info("storage.open", "backend", kind, "schema", cfg.DBSchema)
		return pooledBlobs{PostgresStore: st, pool: pool}, pool, nil

	default:
		dir := filepath.Join(cfg.DataDir, "db")
		st, err := storage.OpenPebble(storage.PebbleOptions{Dir: dir, Sync: cfg.PebbleSync})
		if err != nil {
			return nil, nil, err
		}
		log.Info("storage.open", "backend", kind, "dir", dir)
		return st, nil, nil
	}
}

// pooledBlobs closes the pool PostgresStore borrows.
type pooledBlobs struct {
	*storage.PostgresStore
	pool *pgxpool.Pool
}

func (b pooledBlobs) Close() error {
	_ = b.PostgresStore.Close()
	b.pool.Close()
	return nil
}
