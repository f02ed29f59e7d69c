// Package main is a smoke test for a running `thoughtstream watch` viewer endpoint.
//
// It validates:
//   - handshake + subprotocol selection
//   - snapshot on connect, not ahead of GET /messages
//   - history_fetch honoring the requested limit
//   - error envelopes for unsupported requests
//   - optionally, that a live message arrives within -live
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	v1 "thoughtstream/shared/contracts/viewer/v1"
)

const maxReadBytes = 4 << 20

type smokeClient struct {
	name string
	conn *websocket.Conn

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8787/ws", "Viewer websocket URL")
		origin  = flag.String("origin", "", "Origin header to send (empty for non-browser clients)")
		limit   = flag.Int("limit", 5, "history_fetch limit")
		live    = flag.Duration("live", 0, "Wait this long for one live message (0 skips)")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()

	a := mustConnect(root, "A", *wsURL, *origin, *timeout)
	defer closeWS(a.conn)

	snapA := a.mustSnapshot(root, *timeout)
	if *verbose {
		fmt.Printf("A snapshot: total=%d sent=%d\n", snapA.Total, len(snapA.Messages))
	}

	httpSnap := mustGetMessages(root, messagesURL(*wsURL), *timeout)
	if httpSnap.Total < snapA.Total {
		fatalf("/messages total=%d is behind ws snapshot total=%d", httpSnap.Total, snapA.Total)
	}

	mustWriteWithTimeout(root, a.conn, v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeHistoryFetch,
		ID:      "A-history-fetch",
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.HistoryFetchPayload{Limit: *limit}),
	}, *timeout)
	fetched := a.mustSnapshot(root, *timeout)
	if *limit > 0 && len(fetched.Messages) > *limit {
		fatalf("history_fetch returned %d messages, limit %d", len(fetched.Messages), *limit)
	}

	mustWriteWithTimeout(root, a.conn, v1.Envelope{
		V:    v1.Version,
		Type: v1.TypeSnapshot,
		ID:   "A-bogus",
		TS:   time.Now().UTC(),
	}, *timeout)
	ep := a.mustError(root, *timeout)
	if ep.Code != "unsupported" {
		fatalf("error code=%q want=unsupported", ep.Code)
	}

	if *live > 0 {
		b := mustConnect(root, "B", *wsURL, *origin, *timeout)
		defer closeWS(b.conn)
		_ = b.mustSnapshot(root, *timeout)

		env := b.mustReadUntilType(root, v1.TypeMessage, *live)
		var m v1.MessagePayload
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			fatalf("unmarshal message payload: %v", err)
		}
		if strings.TrimSpace(m.Handle) == "" || m.CreatedAt == "" {
			fatalf("live message incomplete: %+v", m)
		}
		if *verbose {
			fmt.Printf("B live: %s: %q\n", m.Handle, m.Content)
		}
	}

	fmt.Printf("OK: total=%d fetched=%d\n", snapA.Total, len(fetched.Messages))
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func messagesURL(wsURL string) string {
	u, _ := url.Parse(wsURL)
	if u.Scheme == "wss" {
		u.Scheme = "https"
	} else {
		u.Scheme = "http"
	}
	u.Path = "/messages"
	u.RawQuery = ""
	return u.String()
}

func mustConnect(parent context.Context, name, wsURL, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}
	if got := conn.Subprotocol(); got != v1.Subprotocol {
		fatalf("subprotocol mismatch (%s): got=%q want=%q", name, got, v1.Subprotocol)
	}

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()
	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			_, data, err := c.conn.Read(context.Background())
			if err != nil {
				c.fail(err)
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				c.fail(fmt.Errorf("bad json: %w", err))
				return
			}
			if err := env.Validate(); err != nil {
				c.fail(fmt.Errorf("bad envelope: %w", err))
				return
			}

			select {
			case c.inbox <- env:
			default:
				c.fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

func (c *smokeClient) fail(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

func (c *smokeClient) mustSnapshot(parent context.Context, stepTimeout time.Duration) v1.SnapshotPayload {
	env := c.mustReadUntilType(parent, v1.TypeSnapshot, stepTimeout)
	var p v1.SnapshotPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal snapshot payload (%s): %v", c.name, err)
	}
	if len(p.Messages) > p.Total {
		fatalf("snapshot sent %d messages but total=%d (%s)", len(p.Messages), p.Total, c.name)
	}
	return p
}

func (c *smokeClient) mustError(parent context.Context, stepTimeout time.Duration) v1.ErrorPayload {
	env := c.mustReadUntilType(parent, v1.TypeError, stepTimeout)
	var p v1.ErrorPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal error payload (%s): %v", c.name, err)
	}
	return p
}

// mustReadUntilType skips live message envelopes while waiting for wantType.
func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if env.Type == v1.TypeMessage {
				continue
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func mustGetMessages(parent context.Context, u string, stepTimeout time.Duration) v1.SnapshotPayload {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("GET %s: %v", u, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		fatalf("GET %s: status %d", u, resp.StatusCode)
	}

	var p v1.SnapshotPayload
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		fatalf("decode /messages: %v", err)
	}
	return p
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
