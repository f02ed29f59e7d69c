package identity

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"thoughtstream/cmd/internal/storage"
)

// CacheKey is the storage key holding the serialized cache (JSON array of [did, handle] pairs).
const CacheKey = "thoughtstream_did_cache"

const fallbackPrefixLen = 20

// Lookuper performs one remote DID to handle resolution.
type Lookuper interface {
	Lookup(ctx context.Context, did string) (string, error)
}

// Fallback is the display form used when a DID cannot be resolved. It cuts on runes,
// so the result is valid UTF-8 even for malformed identifiers.
func Fallback(did string) string {
	r := []rune(did)
	if len(r) > fallbackPrefixLen {
		return string(r[:fallbackPrefixLen]) + "..."
	}
	return did
}

// Resolver is the cache-first DID to handle resolver.
//
// Requirements:
//   - A cache hit never touches the network
//   - Successful lookups and fallbacks are both cached and persisted; fallbacks are never retried
//   - Concurrent misses for one DID share a single lookup
type Resolver struct {
	log     *slog.Logger
	lookup  Lookuper
	blobs   storage.Blobs
	key     string
	metrics *Metrics

	mu    sync.RWMutex
	cache map[string]string
	order []string // insertion order, kept stable on overwrite

	group     singleflight.Group
	persistMu sync.Mutex
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithCacheKey overrides CacheKey.
func WithCacheKey(key string) ResolverOption {
	return func(r *Resolver) {
		if key != "" {
			r.key = key
		}
	}
}

// WithMetrics attaches resolver metrics.
func WithMetrics(m *Metrics) ResolverOption {
	return func(r *Resolver) { r.metrics = m }
}

// NewResolver constructs a Resolver with an empty cache. Call Load to restore persisted state.
// A nil blobs store keeps the cache in memory only.
func NewResolver(log *slog.Logger, lookup Lookuper, blobs storage.Blobs, opts ...ResolverOption) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	if lookup == nil {
		lookup = NewProfileClient("", nil)
	}
	r := &Resolver{
		log:    log,
		lookup: lookup,
		blobs:  blobs,
		key:    CacheKey,
		cache:  make(map[string]string),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Lookup returns the cached handle for did without resolving.
func (r *Resolver) Lookup(did string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.cache[did]
	return h, ok
}

// Len returns the number of cached entries.
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

// Resolve returns the handle for did, or its Fallback when the lookup fails.
func (r *Resolver) Resolve(ctx context.Context, did string) string {
	if h, ok := r.Lookup(did); ok {
		r.metrics.hit()
		return h
	}

	v, _, _ := r.group.Do(did, func() (any, error) {
		// Another caller may have finished while this one waited for the group.
		if h, ok := r.Lookup(did); ok {
			return h, nil
		}

		handle, err := r.lookup.Lookup(ctx, did)
		if err != nil {
			fb := Fallback(did)
			if ctx.Err() != nil {
				// Cancellation says nothing about the DID; do not pin the fallback.
				r.log.Debug("identity.resolve.cancelled", "did", did)
				return fb, nil
			}
			r.metrics.lookup(false)
			r.log.Warn("identity.resolve.fallback", "did", did, "handle", fb, "err", err)
			r.store(ctx, did, fb)
			return fb, nil
		}

		r.metrics.lookup(true)
		r.store(ctx, did, handle)
		return handle, nil
	})
	return v.(string)
}

func (r *Resolver) store(ctx context.Context, did, handle string) {
	r.mu.Lock()
	if _, exists := r.cache[did]; !exists {
		r.order = append(r.order, did)
	}
	r.cache[did] = handle
	n := len(r.cache)
	r.mu.Unlock()

	r.metrics.size(n)
	r.persist(ctx)
}

// Load replaces the cache with the persisted one and returns the number of entries.
// Missing or corrupt storage yields an empty cache.
func (r *Resolver) Load(ctx context.Context) int {
	var pairs [][]string

	if r.blobs != nil {
		data, err := r.blobs.Get(ctx, r.key)
		switch {
		case errors.Is(err, storage.ErrNotFound):
		case err != nil:
			r.log.Warn("identity.cache.load.fail", "key", r.key, "err", err)
		default:
			if err := json.Unmarshal(data, &pairs); err != nil {
				r.log.Warn("identity.cache.load.corrupt", "key", r.key, "bytes", len(data), "err", err)
				pairs = nil
			}
		}
	}

	r.mu.Lock()
	r.cache = make(map[string]string, len(pairs))
	r.order = r.order[:0]
	for _, p := range pairs {
		if len(p) != 2 || p[0] == "" {
			continue
		}
		if _, exists := r.cache[p[0]]; !exists {
			r.order = append(r.order, p[0])
		}
		r.cache[p[0]] = p[1]
	}
	n := len(r.cache)
	r.mu.Unlock()

	r.metrics.size(n)
	r.log.Info("identity.cache.load", "count", n)
	return n
}

// persist writes the full cache. Failures are logged and never returned.
func (r *Resolver) persist(ctx context.Context) {
	if r.blobs == nil {
		return
	}

	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	r.mu.RLock()
	pairs := make([][2]string, 0, len(r.order))
	for _, did := range r.order {
		pairs = append(pairs, [2]string{did, r.cache[did]})
	}
	r.mu.RUnlock()

	data, err := json.Marshal(pairs)
	if err != nil {
		r.log.Error("identity.cache.persist.encode.fail", "err", err)
		return
	}
	if err := r.blobs.Put(ctx, r.key, data); err != nil {
		r.log.Warn("identity.cache.persist.fail", "key", r.key, "count", len(pairs), "err", err)
	}
}
