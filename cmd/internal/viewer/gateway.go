package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"thoughtstream/cmd/internal/feed"
	v1 "thoughtstream/shared/contracts/viewer/v1"
)

const (
	defaultSendQueueSize = 256
	minSendQueueSize     = 32

	defaultWriteTimeout     = 5 * time.Second
	defaultReadIdleTimeout  = 2 * time.Minute
	defaultHeartbeatEvery   = 25 * time.Second
	defaultHeartbeatTimeout = 5 * time.Second
	closeGrace              = 1 * time.Second

	maxPingFailures = 3
	maxFrameBytes   = 16 << 10

	defaultSnapshotLimit = 200
)

// Source is the message log the gateway snapshots.
type Source interface {
	Messages() []feed.Message
}

// GatewayOptions configures a Gateway. Zero values select defaults.
type GatewayOptions struct {
	// OriginRequired rejects upgrades without an Origin header. Non-browser clients send none.
	OriginRequired bool
	AllowedOrigins []string

	WriteTimeout     time.Duration
	ReadIdleTimeout  time.Duration
	SendQueueSize    int
	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration
	RateEvents       int
	RateWindow       time.Duration

	// SnapshotLimit caps the entries sent in one snapshot.
	SnapshotLimit int
}

// Gateway is the websocket entrypoint for live viewers.
//
// It enforces origin policy, subprotocol selection, rate limits and heartbeats; sends a snapshot
// on connect; and relays Hub broadcasts.
type Gateway struct {
	log    *slog.Logger
	hub    *Hub
	source Source
	opts   GatewayOptions

	originPatterns []string
}

// NewGateway constructs a gateway.
func NewGateway(log *slog.Logger, hub *Hub, source Source, opts GatewayOptions) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	if hub == nil {
		hub = NewHub(log, nil)
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"http://localhost", "http://127.0.0.1"}
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.ReadIdleTimeout <= 0 {
		opts.ReadIdleTimeout = defaultReadIdleTimeout
	}
	if opts.SendQueueSize <= 0 {
		opts.SendQueueSize = defaultSendQueueSize
	}
	if opts.SendQueueSize < minSendQueueSize {
		opts.SendQueueSize = minSendQueueSize
	}
	if opts.HeartbeatEvery <= 0 {
		opts.HeartbeatEvery = defaultHeartbeatEvery
	}
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if opts.SnapshotLimit <= 0 {
		opts.SnapshotLimit = defaultSnapshotLimit
	}

	return &Gateway{
		log:            log,
		hub:            hub,
		source:         source,
		opts:           opts,
		originPatterns: deriveOriginPatterns(opts.AllowedOrigins),
	}
}

// ServeHTTP upgrades the request and runs the viewer session.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("viewer.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{v1.Subprotocol},
		OriginPatterns: g.originPatterns,
	})
	if err != nil {
		g.log.Error("viewer.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("viewer.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	client := NewClient(newID(), g.opts.SendQueueSize)
	log := g.log.With("session_id", client.SessionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Snapshot is queued before joining so it always precedes live messages. A message stored
	// between the two may appear in both; clients dedupe by (handle, content, createdAt).
	if !g.enqueue(ctx, client, g.snapshot(0)) {
		_ = conn.Close(websocket.StatusInternalError, "snapshot failed")
		return
	}
	g.hub.Join(client)

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.hub.Leave(client.SessionID)
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.opts.WriteTimeout); err != nil {
					log.Info("viewer.write.fail", "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.opts.HeartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.opts.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					log.Info("viewer.ping.fail", "failures", failures, "err", err)
					if failures >= maxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	rl := NewRateLimiter(g.opts.RateEvents, g.opts.RateWindow)

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.opts.ReadIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			switch {
			case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
				g.trySendError(ctx, client, "bad_json", "invalid JSON")
				continue readLoop
			case websocket.CloseStatus(err) != -1:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				shutdown(websocket.StatusNormalClosure, "context done")
			case errors.Is(err, net.ErrClosed), errors.Is(err, io.EOF):
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				log.Info("viewer.read.fail", "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break readLoop
		}

		if now := time.Now().UTC(); !rl.Allow(now) {
			retry := rl.RetryAfter(now).Round(time.Millisecond)
			log.Info("viewer.rate_limited", "retry_in", retry.String())
			g.trySendError(ctx, client, "rate_limited", "too many requests, retry in "+retry.String())
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, client, "bad_envelope", err.Error())
			continue readLoop
		}

		switch env.Type {
		case v1.TypeHistoryFetch:
			var p v1.HistoryFetchPayload
			if len(env.Payload) > 0 {
				if err := json.Unmarshal(env.Payload, &p); err != nil {
					g.trySendError(ctx, client, "bad_payload", err.Error())
					continue readLoop
				}
			}
			if !g.enqueue(ctx, client, g.snapshot(p.Limit)) {
				log.Info("viewer.snapshot.dropped")
			}
		default:
			g.trySendError(ctx, client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
}

func (g *Gateway) snapshot(limit int) v1.Envelope {
	if limit <= 0 || limit > g.opts.SnapshotLimit {
		limit = g.opts.SnapshotLimit
	}
	var msgs []feed.Message
	if g.source != nil {
		msgs = g.source.Messages()
	}
	payload, _ := json.Marshal(v1.SnapshotPayload{
		Messages: ToPayloads(msgs, limit),
		Total:    len(msgs),
	})
	return newEnvelope(v1.TypeSnapshot, payload, time.Now().UTC())
}

func (g *Gateway) trySendError(ctx context.Context, client *Client, code, msg string) {
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	_ = g.enqueue(ctx, client, newEnvelope(v1.TypeError, p, time.Now().UTC()))
}

func (g *Gateway) enqueue(ctx context.Context, client *Client, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		return false
	}
}

func newEnvelope(typ string, payload json.RawMessage, ts time.Time) v1.Envelope {
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      newID(),
		TS:      ts,
		Payload: payload,
	}
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}
