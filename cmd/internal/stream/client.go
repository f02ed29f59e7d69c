// Package stream maintains a best-effort live subscription to one websocket event source.
//
// The Client reconnects forever at a fixed interval and emits typed events on a channel so that a
// single consumer can process frames strictly in receipt order.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultReconnectDelay is the fixed wait between a drop and the next connect attempt.
	DefaultReconnectDelay = 5 * time.Second

	defaultEventBuffer = 256
)

// State is the connection state owned by the Client.
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnectPending
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnectPending:
		return "reconnect_pending"
	default:
		return "unknown"
	}
}

// EventType distinguishes what the Client emitted.
type EventType uint8

const (
	// EventConnected is emitted once a handshake succeeds.
	EventConnected EventType = iota + 1
	// EventFrame carries one received frame.
	EventFrame
	// EventDisconnected is emitted when a connection ends or a connection attempt fails.
	EventDisconnected
)

// Event is one item on the Client's event channel.
type Event struct {
	Type   EventType
	ConnID string
	At     time.Time
	Data   []byte
	Err    error
}

// Conn is one established connection.
type Conn interface {
	// Read blocks until the next frame arrives or the connection fails.
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer opens connections to url.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Options configures a Client.
type Options struct {
	URL            string
	Dialer         Dialer
	ReconnectDelay time.Duration
	EventBuffer    int
	Metrics        *Metrics
}

// Client is the reconnecting subscriber.
//
// Concurrency:
//   - Connect may be called from any goroutine (including the reconnect timer).
//   - At most one connection attempt and at most one reconnect timer are live at a time.
//   - Events are sent by the single connection goroutine, so their order matches receipt order.
type Client struct {
	log     *slog.Logger
	url     string
	dialer  Dialer
	delay   time.Duration
	metrics *Metrics

	events chan Event

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	state  State
	timer  *time.Timer
	conn   Conn
	gen    uint64
	closed bool

	wg sync.WaitGroup
}

// NewClient constructs a Client. It does not connect until Start.
func NewClient(log *slog.Logger, opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, errors.New("stream: url is required")
	}
	if log == nil {
		log = slog.Default()
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = NewWSDialer(0)
	}
	delay := opts.ReconnectDelay
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	buf := opts.EventBuffer
	if buf <= 0 {
		buf = defaultEventBuffer
	}

	return &Client{
		log:     log,
		url:     opts.URL,
		dialer:  dialer,
		delay:   delay,
		metrics: opts.Metrics,
		events:  make(chan Event, buf),
	}, nil
}

// Events returns the channel the Client emits on. It is closed after Close returns.
func (c *Client) Events() <-chan Event { return c.events }

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ReconnectPending reports whether a reconnect timer is armed.
func (c *Client) ReconnectPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer != nil
}

// Start binds the Client to ctx and makes the first connect attempt.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	if c.ctx != nil {
		c.mu.Unlock()
		return
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	context.AfterFunc(c.ctx, c.Close)
	c.Connect()
}

// Connect starts a connection attempt, cancelling any pending reconnect timer first.
// It is a no-op while an attempt is in flight, while connected, or after Close.
func (c *Client) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.ctx == nil || c.ctx.Err() != nil {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.state == StateConnecting || c.state == StateConnected {
		return
	}

	c.gen++
	c.setStateLocked(StateConnecting)
	c.wg.Add(1)
	go c.run(c.gen)
}

// Close cancels the subscription, clears the pending reconnect timer and closes Events.
// It is idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.cancel != nil {
		c.cancel()
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn := c.conn
	c.conn = nil
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.wg.Wait()
	close(c.events)
}

func (c *Client) run(gen uint64) {
	defer c.wg.Done()

	connID := newConnID()
	log := c.log.With("conn_id", connID, "url", c.url)
	log.Info("stream.connect.start")
	c.metrics.attempt()

	conn, err := c.dialer.Dial(c.ctx, c.url)
	if err != nil {
		c.mu.Lock()
		stale := c.closed || gen != c.gen
		c.mu.Unlock()
		if stale || c.ctx.Err() != nil {
			log.Info("stream.closed")
			return
		}
		log.Warn("stream.connect.fail", "err", err, "retry_in", c.delay.String())
		// A failed handshake is reported like a dropped connection.
		c.emit(Event{Type: EventDisconnected, ConnID: connID, At: time.Now().UTC(), Err: err})
		c.scheduleReconnect(gen)
		return
	}

	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.setStateLocked(StateConnected)
	c.mu.Unlock()

	log.Info("stream.connected")
	c.emit(Event{Type: EventConnected, ConnID: connID, At: time.Now().UTC()})

	var readErr error
	for {
		data, err := conn.Read(c.ctx)
		if err != nil {
			readErr = err
			break
		}
		c.metrics.frame(len(data))
		if !c.emit(Event{Type: EventFrame, ConnID: connID, At: time.Now().UTC(), Data: data}) {
			readErr = c.ctx.Err()
			break
		}
	}

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()

	if c.ctx.Err() != nil {
		log.Info("stream.closed")
		return
	}

	log.Info("stream.disconnected", "err", readErr, "retry_in", c.delay.String())
	c.emit(Event{Type: EventDisconnected, ConnID: connID, At: time.Now().UTC(), Err: readErr})
	c.scheduleReconnect(gen)
}

// scheduleReconnect arms the single reconnect timer for the attempt identified by gen.
func (c *Client) scheduleReconnect(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || gen != c.gen {
		return
	}
	c.setStateLocked(StateDisconnected)
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.delay, c.Connect)
	c.setStateLocked(StateReconnectPending)
	c.metrics.reconnectScheduled()
}

// emit blocks until the consumer accepts ev or the Client is cancelled.
func (c *Client) emit(ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *Client) setStateLocked(s State) {
	c.state = s
	c.metrics.state(s)
}
