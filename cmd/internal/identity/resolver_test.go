package identity

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"thoughtstream/cmd/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const longDID = "did:plc:abcdefghijklmnopqrstuvwxyz"

func TestFallback(t *testing.T) {
	t.Parallel()

	cases := []struct {
		did  string
		want string
	}{
		{did: longDID, want: "did:plc:abcdefghijkl..."},
		{did: "did:plc:abcdefghijkl", want: "did:plc:abcdefghijkl"}, // exactly 20
		{did: "did:plc:short", want: "did:plc:short"},
		{did: "", want: ""},
		{did: "did:web:bücher.例え.jp", want: "did:web:bücher.例え.jp"}, // 20 runes, more bytes
		{did: "did:web:bücher.例えば.jp", want: "did:web:bücher.例えば.j..."},
		{did: "did:web:ééééééééééééé", want: "did:web:éééééééééééé..."},
		{did: "did:plc:abcdefghijk\xff\xfe", want: "did:plc:abcdefghijk\uFFFD..."},
	}
	for _, tc := range cases {
		got := Fallback(tc.did)
		if got != tc.want {
			t.Fatalf("Fallback(%q)=%q want=%q", tc.did, got, tc.want)
		}
		if !utf8.ValidString(got) {
			t.Fatalf("Fallback(%q)=%q is not valid UTF-8", tc.did, got)
		}
	}
}

// profileServer answers getProfile with handles[actor], or status when the actor is unknown.
func profileServer(t *testing.T, handles map[string]string, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/xrpc/app.bsky.actor.getProfile" {
			http.NotFound(w, r)
			return
		}
		actor := r.URL.Query().Get("actor")
		h, ok := handles[actor]
		if !ok {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"InvalidRequest","message":"Profile not found"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"did": actor, "handle": h})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestResolver_ResolvesCachesAndPersists(t *testing.T) {
	t.Parallel()

	srv, calls := profileServer(t, map[string]string{"did:plc:abc": "alice.bsky.social"}, http.StatusBadRequest)
	blobs := storage.NewMemoryStore()
	r := NewResolver(testLogger(), NewProfileClient(srv.URL, srv.Client()), blobs)
	ctx := context.Background()

	if got := r.Resolve(ctx, "did:plc:abc"); got != "alice.bsky.social" {
		t.Fatalf("resolve=%q", got)
	}
	if got := r.Resolve(ctx, "did:plc:abc"); got != "alice.bsky.social" {
		t.Fatalf("cached resolve=%q", got)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("lookups=%d want=1", n)
	}

	data, err := blobs.Get(ctx, CacheKey)
	if err != nil {
		t.Fatalf("get cache: %v", err)
	}
	if string(data) != `[["did:plc:abc","alice.bsky.social"]]` {
		t.Fatalf("persisted=%s", data)
	}
}

func TestResolver_FallbackIsCachedAndNotRetried(t *testing.T) {
	t.Parallel()

	srv, calls := profileServer(t, nil, http.StatusInternalServerError)
	blobs := storage.NewMemoryStore()
	r := NewResolver(testLogger(), NewProfileClient(srv.URL, srv.Client()), blobs)
	ctx := context.Background()

	want := "did:plc:abcdefghijkl..."
	for i := 0; i < 3; i++ {
		if got := r.Resolve(ctx, longDID); got != want {
			t.Fatalf("resolve=%q want=%q", got, want)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("lookups=%d want=1", n)
	}
	if h, ok := r.Lookup(longDID); !ok || h != want {
		t.Fatalf("cached=%q,%v", h, ok)
	}

	// A fresh resolver over the same storage serves the fallback without a lookup.
	r2 := NewResolver(testLogger(), NewProfileClient(srv.URL, srv.Client()), blobs)
	if n := r2.Load(ctx); n != 1 {
		t.Fatalf("loaded=%d want=1", n)
	}
	if got := r2.Resolve(ctx, longDID); got != want {
		t.Fatalf("restored resolve=%q", got)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("lookups after reload=%d want=1", n)
	}
}

func TestResolver_TransportErrorFallsBack(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	r := NewResolver(testLogger(), NewProfileClient(base, nil), nil)
	if got := r.Resolve(context.Background(), "did:plc:short"); got != "did:plc:short" {
		t.Fatalf("resolve=%q", got)
	}
	if r.Len() != 1 {
		t.Fatalf("len=%d want=1", r.Len())
	}
}

type blockingLookuper struct {
	calls   atomic.Int32
	release chan struct{}
}

func (b *blockingLookuper) Lookup(ctx context.Context, did string) (string, error) {
	b.calls.Add(1)
	<-b.release
	return "bob.test", nil
}

func TestResolver_CoalescesConcurrentMisses(t *testing.T) {
	t.Parallel()

	lk := &blockingLookuper{release: make(chan struct{})}
	r := NewResolver(testLogger(), lk, nil)

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.Resolve(context.Background(), "did:plc:bob")
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(lk.release)
	wg.Wait()

	for i, got := range results {
		if got != "bob.test" {
			t.Fatalf("results[%d]=%q", i, got)
		}
	}
	if n := lk.calls.Load(); n != 1 {
		t.Fatalf("lookups=%d want=1", n)
	}
}

type errLookuper struct{}

func (errLookuper) Lookup(ctx context.Context, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestResolver_CancelledLookupIsNotCached(t *testing.T) {
	t.Parallel()

	r := NewResolver(testLogger(), errLookuper{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if got := r.Resolve(ctx, longDID); got != Fallback(longDID) {
		t.Fatalf("resolve=%q", got)
	}
	if _, ok := r.Lookup(longDID); ok {
		t.Fatalf("cancelled lookup must not be cached")
	}
}

func TestResolver_LoadMissingOrCorrupt(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		data string
		want int
	}{
		{name: "missing", want: 0},
		{name: "corrupt", data: "[[", want: 0},
		{name: "object", data: `{"a":"b"}`, want: 0},
		{name: "skips malformed pairs", data: `[["did:a","a.test"],["only-one"],["did:b","b.test"]]`, want: 2},
		{name: "later pair overwrites", data: `[["did:a","old"],["did:a","new"]]`, want: 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			blobs := storage.NewMemoryStore()
			if tc.data != "" {
				_ = blobs.Put(ctx, CacheKey, []byte(tc.data))
			}
			r := NewResolver(testLogger(), errLookuper{}, blobs)
			if n := r.Load(ctx); n != tc.want {
				t.Fatalf("loaded=%d want=%d", n, tc.want)
			}
		})
	}

	blobs := storage.NewMemoryStore()
	_ = blobs.Put(context.Background(), CacheKey, []byte(`[["did:a","old"],["did:a","new"]]`))
	r := NewResolver(testLogger(), errLookuper{}, blobs)
	r.Load(context.Background())
	if h, _ := r.Lookup("did:a"); h != "new" {
		t.Fatalf("handle=%q want=new", h)
	}
}

func TestProfileClient_Errors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("actor") {
		case "did:plc:nohandle":
			_, _ = w.Write([]byte(`{"did":"did:plc:nohandle"}`))
		case "did:plc:garbage":
			_, _ = w.Write([]byte(`<html>`))
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	t.Cleanup(srv.Close)

	c := NewProfileClient(srv.URL+"/", srv.Client())
	for _, did := range []string{"did:plc:nohandle", "did:plc:garbage", "did:plc:other"} {
		_, err := c.Lookup(context.Background(), did)
		if !errors.Is(err, ErrLookup) {
			t.Fatalf("did=%s err=%v want ErrLookup", did, err)
		}
	}

	_, err := c.Lookup(context.Background(), " ")
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err=%v want ErrInvalidInput", err)
	}
	var opErr OpError
	if !errors.As(err, &opErr) || opErr.Op != "identity.Lookup" {
		t.Fatalf("err=%#v want OpError", err)
	}
}
