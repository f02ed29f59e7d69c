package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Get when no value is stored under the key.
var ErrNotFound = errors.New("storage: not found")

// ErrInvalidKey is returned for empty keys.
var ErrInvalidKey = errors.New("storage: invalid key")

// Blobs is a whole-value key/value store.
type Blobs interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Kind names a storage backend.
type Kind string

const (
	KindMemory   Kind = "memory"
	KindPebble   Kind = "pebble"
	KindRedis    Kind = "redis"
	KindPostgres Kind = "postgres"
)

// ParseKind normalizes a backend name. Unknown names are an error.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindMemory, KindPebble, KindRedis, KindPostgres:
		return k, nil
	case "":
		return KindPebble, nil
	default:
		return "", fmt.Errorf("storage: unknown backend %q", s)
	}
}

func validKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	return nil
}
