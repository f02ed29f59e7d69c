package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// PebbleOptions configures the on-disk store.
type PebbleOptions struct {
	// Dir is the Pebble database directory. Required.
	Dir string
	// Sync forces a WAL fsync on every Put/Delete.
	Sync bool
	// Options allows advanced tuning. If nil, Pebble defaults are used.
	Options *pebble.Options
}

// PebbleStore is a Blobs implementation backed by a local Pebble database.
type PebbleStore struct {
	inner *pebble.DB
	wopts *pebble.WriteOptions
}

// OpenPebble creates or opens the database at opts.Dir.
func OpenPebble(opts PebbleOptions) (*PebbleStore, error) {
	if opts.Dir == "" {
		return nil, errors.New("storage: pebble dir is required")
	}

	po := opts.Options
	if po == nil {
		po = &pebble.Options{}
	}

	inner, err := pebble.Open(opts.Dir, po)
	if err != nil {
		return nil, fmt.Errorf("storage: open pebble: %w", err)
	}

	wopts := pebble.NoSync
	if opts.Sync {
		wopts = pebble.Sync
	}
	return &PebbleStore{inner: inner, wopts: wopts}, nil
}

// Get copies the value stored under key.
func (s *PebbleStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	val, closer, err := s.inner.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()

	return append([]byte(nil), val...), nil
}

// Put overwrites the value stored under key.
func (s *PebbleStore) Put(ctx context.Context, key string, value []byte) error {
	if err := validKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.inner.Set([]byte(key), value, s.wopts)
}

// Delete removes key.
func (s *PebbleStore) Delete(ctx context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.inner.Delete([]byte(key), s.wopts)
}

// Close flushes and closes the database.
func (s *PebbleStore) Close() error {
	if s == nil || s.inner == nil {
		return nil
	}
	return s.inner.Close()
}
