package stream

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 1 << 20 // 1 MiB

	defaultHandshakeTimeout = 10 * time.Second
)

// WSDialer dials websocket endpoints with coder/websocket.
type WSDialer struct {
	HandshakeTimeout time.Duration
	HTTPClient       *http.Client
	Header           http.Header
}

// NewWSDialer returns a WSDialer with the given handshake timeout (default 10s).
func NewWSDialer(handshakeTimeout time.Duration) *WSDialer {
	if handshakeTimeout <= 0 {
		handshakeTimeout = defaultHandshakeTimeout
	}
	return &WSDialer{HandshakeTimeout: handshakeTimeout}
}

// Dial performs the websocket handshake.
func (d *WSDialer) Dial(parent context.Context, url string) (Conn, error) {
	ctx, cancel := context.WithTimeout(parent, d.HandshakeTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: d.Header,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("stream: dial %s: status %d: %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("stream: dial %s: %w", url, err)
	}

	conn.SetReadLimit(maxFrameBytes)
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	for {
		mt, data, err := c.conn.Read(ctx)
		if err != nil {
			return nil, err
		}
		if mt != websocket.MessageText && mt != websocket.MessageBinary {
			continue
		}
		return data, nil
	}
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}
