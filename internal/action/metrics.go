package action

import "github.com/prometheus/client_golang/prometheus"

// Metrics observes action sessions. It implements prometheus.Collector.
type Metrics struct {
	sessions   *prometheus.CounterVec
	roundTrips *prometheus.CounterVec
	duration   prometheus.Histogram
	open       prometheus.Gauge
}

// NewMetrics creates the action collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dmconsole_action_sessions_total",
			Help: "Finished action sessions, by target kind and outcome.",
		}, []string{"kind", "outcome"}),
		roundTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dmconsole_action_round_trips_total",
			Help: "Commands sent on behalf of action sessions.",
		}, []string{"command"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dmconsole_action_session_duration_seconds",
			Help:    "Time from invoke to the end of a session.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}),
		open: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dmconsole_action_sessions_open",
			Help: "Sessions currently open.",
		}),
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.sessions.Describe(ch)
	m.roundTrips.Describe(ch)
	m.duration.Describe(ch)
	m.open.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.sessions.Collect(ch)
	m.roundTrips.Collect(ch)
	m.duration.Collect(ch)
	m.open.Collect(ch)
}

func (m *Metrics) started() {
	if m != nil {
		m.open.Inc()
	}
}

func (m *Metrics) sent(command string) {
	if m != nil {
		m.roundTrips.WithLabelValues(command).Inc()
	}
}

func (m *Metrics) finished(t Target, outcome Outcome, seconds float64) {
	if m == nil {
		return
	}
	kind := "instance"
	if t.DeviceID != "" {
		kind = "device"
	}
	m.open.Dec()
	m.sessions.WithLabelValues(kind, string(outcome)).Inc()
	m.duration.Observe(seconds)
}
