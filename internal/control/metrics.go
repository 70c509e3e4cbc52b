package control

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts control traffic. It implements prometheus.Collector.
type Metrics struct {
	writes  *prometheus.CounterVec
	applied *prometheus.CounterVec
	stale   *prometheus.CounterVec
}

// NewMetrics creates the control collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dmconsole_control_writes_total",
			Help: "Control writes sent, by outcome.",
		}, []string{"outcome"}),
		applied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dmconsole_control_updates_applied_total",
			Help: "Control values applied, by source.",
		}, []string{"source"}),
		stale: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dmconsole_control_updates_discarded_total",
			Help: "Control values discarded as not newer, by source.",
		}, []string{"source"}),
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.writes.Describe(ch)
	m.applied.Describe(ch)
	m.stale.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.writes.Collect(ch)
	m.applied.Collect(ch)
	m.stale.Collect(ch)
}

func (m *Metrics) write(outcome string) {
	if m != nil {
		m.writes.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) update(source Source, applied bool) {
	if m == nil {
		return
	}
	if applied {
		m.applied.WithLabelValues(string(source)).Inc()
		return
	}
	m.stale.WithLabelValues(string(source)).Inc()
}
