package feed

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"thoughtstream/cmd/internal/storage"
	"thoughtstream/cmd/internal/stream"
	jetstreamv1 "thoughtstream/shared/contracts/jetstream/v1"
)

type fakeResolver struct {
	mu      sync.Mutex
	handles map[string]string
	calls   []string
}

func (r *fakeResolver) Resolve(_ context.Context, did string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, did)
	if h, ok := r.handles[did]; ok {
		return h
	}
	return did
}

func (r *fakeResolver) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func frame(t *testing.T, kind, collection, op, content, createdAt string) []byte {
	t.Helper()
	ev := jetstreamv1.Event{DID: "did:plc:abc", TimeUS: 1, Kind: kind}
	if kind == jetstreamv1.KindCommit {
		ev.Commit = &jetstreamv1.Commit{
			Operation:  op,
			Collection: collection,
			RKey:       "3k",
			Record:     &jetstreamv1.BlipRecord{Type: collection, Content: content, CreatedAt: createdAt},
		}
	}
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	return b
}

func newTestProcessor(t *testing.T) (*Processor, *Store, *fakeResolver) {
	t.Helper()
	store := NewStore(testLogger(), storage.NewMemoryStore())
	res := &fakeResolver{handles: map[string]string{"did:plc:abc": "alice.bsky.social"}}
	p := NewProcessor(testLogger(), store, res, WithClock(func() time.Time { return t0 }))
	return p, store, res
}

func TestProcessor_StoresMatchingCreate(t *testing.T) {
	t.Parallel()

	p, store, _ := newTestProcessor(t)
	raw := frame(t, jetstreamv1.KindCommit, jetstreamv1.BlipCollection, jetstreamv1.OperationCreate, "hello", "2024-01-01T00:00:00Z")

	if !p.HandleFrame(context.Background(), raw) {
		t.Fatalf("expected frame to be stored")
	}

	got := store.Messages()
	if len(got) != 1 {
		t.Fatalf("len=%d want=1", len(got))
	}
	want := Message{
		Handle:    "alice.bsky.social",
		Content:   "hello",
		CreatedAt: "2024-01-01T00:00:00Z",
	}
	if got[0] != want {
		t.Fatalf("message=%+v want=%+v", got[0], want)
	}
}

func TestProcessor_RedeliveryStoresOnce(t *testing.T) {
	t.Parallel()

	p, store, _ := newTestProcessor(t)
	raw := frame(t, jetstreamv1.KindCommit, jetstreamv1.BlipCollection, jetstreamv1.OperationCreate, "hello", "2024-01-01T00:00:00Z")

	p.HandleFrame(context.Background(), raw)
	if p.HandleFrame(context.Background(), raw) {
		t.Fatalf("second delivery reported stored")
	}
	if store.Len() != 1 {
		t.Fatalf("len=%d want=1", store.Len())
	}
}

func TestProcessor_DropsIrrelevantFrames(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name        string
		raw         func(t *testing.T) []byte
		wantResolve bool
	}{
		{
			name: "delete",
			raw: func(t *testing.T) []byte {
				return frame(t, jetstreamv1.KindCommit, jetstreamv1.BlipCollection, jetstreamv1.OperationDelete, "hello", "")
			},
		},
		{
			name: "other collection",
			raw: func(t *testing.T) []byte {
				return frame(t, jetstreamv1.KindCommit, "app.bsky.feed.post", jetstreamv1.OperationCreate, "hello", "")
			},
		},
		{
			name: "identity event",
			raw: func(t *testing.T) []byte {
				return frame(t, jetstreamv1.KindIdentity, "", "", "", "")
			},
		},
		{
			name: "empty content",
			raw: func(t *testing.T) []byte {
				return frame(t, jetstreamv1.KindCommit, jetstreamv1.BlipCollection, jetstreamv1.OperationCreate, "", "")
			},
		},
		{
			name: "missing record",
			raw: func(*testing.T) []byte {
				return []byte(`{"did":"did:plc:abc","kind":"commit","commit":{"operation":"create","collection":"stream.thought.blip"}}`)
			},
		},
		{
			name: "not json",
			raw:  func(*testing.T) []byte { return []byte("{oops") },
		},
		{
			name: "content wrong type",
			raw: func(*testing.T) []byte {
				return []byte(`{"did":"did:plc:abc","kind":"commit","commit":{"operation":"create","collection":"stream.thought.blip","record":{"content":42}}}`)
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			p, store, res := newTestProcessor(t)
			if p.HandleFrame(context.Background(), tc.raw(t)) {
				t.Fatalf("frame unexpectedly stored")
			}
			if store.Len() != 0 {
				t.Fatalf("len=%d want=0", store.Len())
			}
			if n := res.callCount(); n != 0 {
				t.Fatalf("resolver called %d times for a dropped frame", n)
			}
		})
	}
}

func TestProcessor_UpdateIsStored(t *testing.T) {
	t.Parallel()

	p, store, _ := newTestProcessor(t)
	raw := frame(t, jetstreamv1.KindCommit, jetstreamv1.BlipCollection, jetstreamv1.OperationUpdate, "edited", "2024-01-01T00:00:00Z")
	if !p.HandleFrame(context.Background(), raw) || store.Len() != 1 {
		t.Fatalf("update should be stored")
	}
}

func TestProcessor_RedeliveryWithLooseCreatedAtStoresOnce(t *testing.T) {
	t.Parallel()

	p, store, _ := newTestProcessor(t)
	stamps := []string{"2024-01-01T00:00:00", "2024-01-01T00:00:00.000+0000", "garbage"}
	for _, createdAt := range stamps {
		raw := frame(t, jetstreamv1.KindCommit, jetstreamv1.BlipCollection, jetstreamv1.OperationCreate, "hi", createdAt)
		first := p.HandleFrame(context.Background(), raw)
		second := p.HandleFrame(context.Background(), raw)
		if !first || second {
			t.Fatalf("createdAt=%q: first=%v second=%v want=true,false", createdAt, first, second)
		}
	}
	if store.Len() != len(stamps) {
		t.Fatalf("len=%d want=%d", store.Len(), len(stamps))
	}
	for i, m := range store.Messages() {
		if want := stamps[len(stamps)-1-i]; m.CreatedAt != want {
			t.Fatalf("messages[%d].CreatedAt=%q want=%q", i, m.CreatedAt, want)
		}
	}
}

func TestProcessor_CreatedAtMissingUsesClock(t *testing.T) {
	t.Parallel()

	cases := []struct {
		createdAt string
		want      string
	}{
		{createdAt: "", want: FormatStamp(t0)},
		{createdAt: "yesterday", want: "yesterday"},
		{createdAt: "2024-01-01T01:00:00+01:00", want: "2024-01-01T01:00:00+01:00"},
	}
	for _, tc := range cases {
		p, store, _ := newTestProcessor(t)
		raw := frame(t, jetstreamv1.KindCommit, jetstreamv1.BlipCollection, jetstreamv1.OperationCreate, "hi", tc.createdAt)
		p.HandleFrame(context.Background(), raw)

		got := store.Messages()
		if len(got) != 1 || got[0].CreatedAt != tc.want {
			t.Fatalf("createdAt=%q: messages=%+v want createdAt=%q", tc.createdAt, got, tc.want)
		}
	}
}

type panicResolver struct{}

func (panicResolver) Resolve(context.Context, string) string { panic("boom") }

func TestProcessor_RecoversFromPanics(t *testing.T) {
	t.Parallel()

	store := NewStore(testLogger(), nil)
	p := NewProcessor(testLogger(), store, panicResolver{})
	raw := frame(t, jetstreamv1.KindCommit, jetstreamv1.BlipCollection, jetstreamv1.OperationCreate, "hi", "")

	if p.HandleFrame(context.Background(), raw) {
		t.Fatalf("panicking frame reported stored")
	}
	if store.Len() != 0 {
		t.Fatalf("len=%d want=0", store.Len())
	}
}

func TestProcessor_RunAppendsStatusMessages(t *testing.T) {
	t.Parallel()

	p, store, _ := newTestProcessor(t)
	events := make(chan stream.Event, 4)
	events <- stream.Event{Type: stream.EventConnected}
	events <- stream.Event{Type: stream.EventFrame, Data: frame(t, jetstreamv1.KindCommit, jetstreamv1.BlipCollection, jetstreamv1.OperationCreate, "hello", "2024-01-01T00:00:00Z")}
	events <- stream.Event{Type: stream.EventDisconnected}
	close(events)

	p.Run(context.Background(), events)

	got := store.Messages()
	if len(got) != 3 {
		t.Fatalf("len=%d want=3: %+v", len(got), got)
	}
	// Both status messages share the fixed clock but differ in content.
	if got[0].Content != DisconnectedText || !got[0].IsSystem || got[0].Handle != SystemHandle {
		t.Fatalf("newest=%+v", got[0])
	}
	if got[1].Content != "hello" || got[1].IsSystem {
		t.Fatalf("middle=%+v", got[1])
	}
	if got[2].Content != ConnectedText || !got[2].IsSystem {
		t.Fatalf("oldest=%+v", got[2])
	}
}

func TestProcessor_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	p, _, _ := newTestProcessor(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx, make(chan stream.Event))
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}
