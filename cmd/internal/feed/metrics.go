package feed

import "github.com/prometheus/client_golang/prometheus"

// Drop reasons recorded by the processor.
const (
	dropParse        = "parse"
	dropNotCommit    = "not_commit"
	dropCollection   = "collection"
	dropDelete       = "delete"
	dropEmptyContent = "empty_content"
	dropDuplicate    = "duplicate"
	dropPanic        = "panic"
)

// Metrics groups the feed pipeline collectors. A nil *Metrics records nothing.
type Metrics struct {
	framesTotal    prometheus.Counter
	framesDropped  *prometheus.CounterVec
	messagesStored prometheus.Counter
	evictedTotal   prometheus.Counter
	persistFails   prometheus.Counter
	logSize        prometheus.Gauge
}

// NewMetrics creates and registers the feed collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		framesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thoughtstream_feed_frames_total", Help: "Frames handed to the feed processor.",
		}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "thoughtstream_feed_frames_dropped_total", Help: "Frames ignored by the feed processor.",
		}, []string{"reason"}),
		messagesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thoughtstream_messages_stored_total", Help: "Messages inserted into the log.",
		}),
		evictedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thoughtstream_messages_evicted_total", Help: "Messages evicted by the log bound.",
		}),
		persistFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thoughtstream_messages_persist_failures_total", Help: "Failed message log writes.",
		}),
		logSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "thoughtstream_messages_log_size", Help: "Current message log length.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.framesTotal, m.framesDropped, m.messagesStored, m.evictedTotal, m.persistFails, m.logSize)
	}
	return m
}

func (m *Metrics) frame() {
	if m != nil {
		m.framesTotal.Inc()
	}
}

func (m *Metrics) drop(reason string) {
	if m != nil {
		m.framesDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) stored(size int, evicted bool) {
	if m == nil {
		return
	}
	m.messagesStored.Inc()
	if evicted {
		m.evictedTotal.Inc()
	}
	m.logSize.Set(float64(size))
}

func (m *Metrics) size(n int) {
	if m != nil {
		m.logSize.Set(float64(n))
	}
}

func (m *Metrics) persistFailed() {
	if m != nil {
		m.persistFails.Inc()
	}
}
