package viewer

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"thoughtstream/cmd/internal/feed"
	v1 "thoughtstream/shared/contracts/viewer/v1"
)

// Hub fans newly stored messages out to every connected viewer.
//
// Join/Leave are safe under concurrent Broadcast. Broadcast never blocks: a viewer whose queue
// is full misses the envelope.
type Hub struct {
	log *slog.Logger

	mu      sync.RWMutex
	members map[string]*Client

	dropped prometheus.Counter
	viewers prometheus.Gauge
}

// NewHub constructs a Hub. Collectors are registered on reg when it is non-nil.
func NewHub(log *slog.Logger, reg prometheus.Registerer) *Hub {
	if log == nil {
		log = slog.Default()
	}
	h := &Hub{
		log:     log,
		members: make(map[string]*Client),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thoughtstream_viewer_dropped_total", Help: "Live envelopes dropped on viewer backpressure.",
		}),
		viewers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "thoughtstream_viewer_sessions", Help: "Connected websocket viewers.",
		}),
	}
	if reg != nil {
		reg.MustRegister(h.dropped, h.viewers)
	}
	return h
}

// Join adds a client.
func (h *Hub) Join(client *Client) {
	if h == nil || client == nil || client.SessionID == "" {
		return
	}

	h.mu.Lock()
	h.members[client.SessionID] = client
	n := len(h.members)
	h.mu.Unlock()

	h.viewers.Set(float64(n))
	h.log.Info("viewer.join", "session_id", client.SessionID, "viewers", n)
}

// Leave removes a client and signals its shutdown.
func (h *Hub) Leave(sessionID string) {
	if h == nil || sessionID == "" {
		return
	}

	h.mu.Lock()
	cl := h.members[sessionID]
	delete(h.members, sessionID)
	n := len(h.members)
	h.mu.Unlock()

	// Removed from membership first so no broadcaster holds cl while it shuts down.
	if cl != nil {
		cl.Close()
	}

	h.viewers.Set(float64(n))
	h.log.Info("viewer.leave", "session_id", sessionID, "viewers", n)
}

// Len returns the number of connected viewers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.members)
}

// Broadcast fans env out to all members without blocking.
func (h *Hub) Broadcast(env v1.Envelope) {
	if h == nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, m := range h.members {
		if m == nil {
			continue
		}

		select {
		case <-m.Done():
			continue
		default:
		}

		select {
		case m.Send <- env:
		default:
			h.dropped.Inc()
		}
	}
}

// Publish broadcasts m as a message envelope. It is the feed.Store insert hook.
func (h *Hub) Publish(m feed.Message) {
	payload, err := json.Marshal(ToPayload(m))
	if err != nil {
		h.log.Error("viewer.encode.fail", "err", err)
		return
	}
	h.Broadcast(newEnvelope(v1.TypeMessage, payload, time.Now().UTC()))
}

// ToPayload converts a log entry to its wire form.
func ToPayload(m feed.Message) v1.MessagePayload {
	return v1.MessagePayload{
		Handle:     m.Handle,
		Content:    m.Content,
		CreatedAt:  m.CreatedAt,
		IsSystem:   m.IsSystem,
		ProfileURL: m.ProfileURL(),
	}
}

// ToPayloads converts up to limit entries (all when limit <= 0).
func ToPayloads(msgs []feed.Message, limit int) []v1.MessagePayload {
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	out := make([]v1.MessagePayload, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ToPayload(m))
	}
	return out
}
