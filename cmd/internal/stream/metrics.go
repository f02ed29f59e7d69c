package stream

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups the stream client collectors. A nil *Metrics records nothing.
type Metrics struct {
	attempts   prometheus.Counter
	reconnects prometheus.Counter
	frames     prometheus.Counter
	frameBytes prometheus.Counter
	connState  prometheus.Gauge
}

// NewMetrics creates and registers the stream collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thoughtstream_stream_connect_attempts_total", Help: "Connection attempts to the firehose.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thoughtstream_stream_reconnects_scheduled_total", Help: "Reconnect timers armed.",
		}),
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thoughtstream_stream_frames_total", Help: "Frames received from the firehose.",
		}),
		frameBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thoughtstream_stream_frame_bytes_total", Help: "Bytes received from the firehose.",
		}),
		connState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "thoughtstream_stream_state", Help: "0=disconnected 1=connecting 2=connected 3=reconnect_pending.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.attempts, m.reconnects, m.frames, m.frameBytes, m.connState)
	}
	return m
}

func (m *Metrics) attempt() {
	if m != nil {
		m.attempts.Inc()
	}
}

func (m *Metrics) reconnectScheduled() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *Metrics) frame(n int) {
	if m != nil {
		m.frames.Inc()
		m.frameBytes.Add(float64(n))
	}
}

func (m *Metrics) state(s State) {
	if m != nil {
		m.connState.Set(float64(s))
	}
}
