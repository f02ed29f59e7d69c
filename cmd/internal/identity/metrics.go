package identity

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups the resolver collectors. A nil *Metrics records nothing.
type Metrics struct {
	lookups   *prometheus.CounterVec
	cacheHits prometheus.Counter
	cacheSize prometheus.Gauge
}

// NewMetrics creates and registers the resolver collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "thoughtstream_identity_lookups_total", Help: "Profile lookups by result.",
		}, []string{"result"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thoughtstream_identity_cache_hits_total", Help: "Resolutions served from the cache.",
		}),
		cacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "thoughtstream_identity_cache_size", Help: "Cached DID to handle entries.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.lookups, m.cacheHits, m.cacheSize)
	}
	return m
}

func (m *Metrics) hit() {
	if m != nil {
		m.cacheHits.Inc()
	}
}

func (m *Metrics) lookup(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.lookups.WithLabelValues("ok").Inc()
		return
	}
	m.lookups.WithLabelValues("fallback").Inc()
}

func (m *Metrics) size(n int) {
	if m != nil {
		m.cacheSize.Set(float64(n))
	}
}
