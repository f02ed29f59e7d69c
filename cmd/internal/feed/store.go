package feed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"thoughtstream/cmd/internal/storage"
)

const (
	// DefaultMaxMessages bounds the log length.
	DefaultMaxMessages = 1000

	// MessagesKey is the storage key holding the serialized log (newest-first JSON array).
	MessagesKey = "thoughtstream_messages"
)

// Store is the bounded, deduplicated, newest-first message log.
//
// Requirements:
//   - Idempotency per Message.Key (redelivered frames are no-ops)
//   - len <= max; each insertion past the bound evicts exactly the oldest entry
//   - Every successful insertion persists the whole log; duplicates never do
type Store struct {
	log      *slog.Logger
	blobs    storage.Blobs
	key      string
	max      int
	metrics  *Metrics
	onInsert func(Message)

	mu    sync.RWMutex
	ring  []Message // ring[head] is the newest entry
	head  int
	size  int
	index map[Key]struct{}

	// persistMu serializes snapshot+write so the last write always carries the latest state.
	persistMu sync.Mutex
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithMaxMessages overrides DefaultMaxMessages. Values <= 0 are ignored.
func WithMaxMessages(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.max = n
		}
	}
}

// WithStorageKey overrides MessagesKey.
func WithStorageKey(key string) StoreOption {
	return func(s *Store) {
		if key != "" {
			s.key = key
		}
	}
}

// WithInsertHook registers fn to be called after every successful insertion.
func WithInsertHook(fn func(Message)) StoreOption {
	return func(s *Store) { s.onInsert = fn }
}

// WithStoreMetrics attaches pipeline metrics.
func WithStoreMetrics(m *Metrics) StoreOption {
	return func(s *Store) { s.metrics = m }
}

// NewStore constructs an empty Store. Call Load to restore persisted state.
// A nil blobs store keeps the log in memory only.
func NewStore(log *slog.Logger, blobs storage.Blobs, opts ...StoreOption) *Store {
	if log == nil {
		log = slog.Default()
	}
	s := &Store{
		log:   log,
		blobs: blobs,
		key:   MessagesKey,
		max:   DefaultMaxMessages,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.ring = make([]Message, s.max)
	s.head = 0
	s.size = 0
	s.index = make(map[Key]struct{}, s.max)
}

// Max returns the configured bound.
func (s *Store) Max() int { return s.max }

// Len returns the current log length.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Append inserts m at the front unless an identical key is already present.
// It reports whether m was inserted.
func (s *Store) Append(ctx context.Context, m Message) bool {
	k := m.Key()

	s.mu.Lock()
	if _, dup := s.index[k]; dup {
		s.mu.Unlock()
		return false
	}

	pos := (s.head - 1 + s.max) % s.max
	evicted := false
	if s.size == s.max {
		// The slot before head is the oldest entry once the ring is full.
		delete(s.index, s.ring[pos].Key())
		evicted = true
	} else {
		s.size++
	}
	s.ring[pos] = m
	s.head = pos
	s.index[k] = struct{}{}
	size := s.size
	s.mu.Unlock()

	s.metrics.stored(size, evicted)
	s.persist(ctx)

	if s.onInsert != nil {
		s.onInsert(m)
	}
	return true
}

// Messages returns a newest-first snapshot of the log.
func (s *Store) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() []Message {
	out := make([]Message, s.size)
	for i := 0; i < s.size; i++ {
		out[i] = s.ring[(s.head+i)%s.max]
	}
	return out
}

// Clear empties the log and persists the empty state.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	s.reset()
	s.mu.Unlock()

	s.metrics.size(0)
	s.persist(ctx)
}

// Load replaces the in-memory log with the persisted one and returns the number of
// restored entries. Missing or corrupt storage yields an empty log.
func (s *Store) Load(ctx context.Context) int {
	var persisted []Message

	if s.blobs != nil {
		data, err := s.blobs.Get(ctx, s.key)
		switch {
		case errors.Is(err, storage.ErrNotFound):
		case err != nil:
			s.log.Warn("messages.load.fail", "key", s.key, "err", err)
		default:
			if err := json.Unmarshal(data, &persisted); err != nil {
				s.log.Warn("messages.load.corrupt", "key", s.key, "bytes", len(data), "err", err)
				persisted = nil
			}
		}
	}

	s.mu.Lock()
	s.reset()
	for _, m := range persisted {
		if s.size == s.max {
			break
		}
		k := m.Key()
		if _, dup := s.index[k]; dup {
			continue
		}
		s.ring[s.size] = m
		s.index[k] = struct{}{}
		s.size++
	}
	n := s.size
	s.mu.Unlock()

	s.metrics.size(n)
	s.log.Info("messages.load", "count", n, "max", s.max)
	return n
}

// persist writes the full log. Failures are logged and never returned.
func (s *Store) persist(ctx context.Context) {
	if s.blobs == nil {
		return
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.RLock()
	snap := s.snapshotLocked()
	s.mu.RUnlock()

	data, err := json.Marshal(snap)
	if err != nil {
		s.metrics.persistFailed()
		s.log.Error("messages.persist.encode.fail", "err", err)
		return
	}
	if err := s.blobs.Put(ctx, s.key, data); err != nil {
		s.metrics.persistFailed()
		s.log.Warn("messages.persist.fail", "key", s.key, "count", len(snap), "err", err)
	}
}
