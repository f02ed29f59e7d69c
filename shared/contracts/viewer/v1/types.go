// Package v1 defines the thoughtstream local viewer protocol v1.
//
// The viewer is a read-only websocket feed: on connect the server sends one snapshot of the
// message log, then one message envelope per newly stored message. Clients may re-request a
// snapshot with history_fetch.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is the websocket subprotocol clients must offer.
const Subprotocol = "thoughtstream.viewer.v1"

// Type constants (wire-stable).
const (
	// TypeSnapshot carries the newest-first log (server -> client).
	TypeSnapshot = "snapshot"
	// TypeMessage carries one newly stored message (server -> client).
	TypeMessage = "message"
	// TypeHistoryFetch requests a fresh snapshot (client -> server).
	TypeHistoryFetch = "history_fetch"
	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	switch e.Type {
	case "":
		return errors.New("missing field: type")
	case TypeSnapshot, TypeMessage, TypeHistoryFetch, TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// MessagePayload is one log entry as shown to viewers.
type MessagePayload struct {
	Handle     string `json:"handle"`
	Content    string `json:"content"`
	CreatedAt  string `json:"createdAt"`
	IsSystem   bool   `json:"isSystem"`
	ProfileURL string `json:"profileUrl,omitempty"`
}

// SnapshotPayload is the newest-first log, possibly truncated to Limit entries.
type SnapshotPayload struct {
	Messages []MessagePayload `json:"messages"`
	Total    int              `json:"total"`
}

// HistoryFetchPayload requests a snapshot of at most Limit entries (0 means the server default).
type HistoryFetchPayload struct {
	Limit int `json:"limit,omitempty"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
