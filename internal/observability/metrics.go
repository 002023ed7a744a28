package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the bridge's collectors. A nil *Metrics is valid and records
// nothing, so library users that do not care about metrics pass nil.
type Metrics struct {
	registry        *prometheus.Registry
	State           prometheus.Gauge
	SessionsTotal   prometheus.Counter
	ReconnectsTotal prometheus.Counter
	FramesTotal     *prometheus.CounterVec
	EventsTotal     *prometheus.CounterVec
	ReadAcksTotal   *prometheus.CounterVec
	HeartbeatTotal  prometheus.Counter
	LivenessTotal   *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	r := prometheus.NewRegistry()
	m := &Metrics{
		registry: r,
		State: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rocketchat_bridge",
			Name:      "supervisor_state",
			Help:      "Current supervisor state (0 idle .. 6 closed)",
		}),
		SessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rocketchat_bridge",
			Name:      "sessions_total",
			Help:      "Total sessions created",
		}),
		ReconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rocketchat_bridge",
			Name:      "reconnects_total",
			Help:      "Total reconnects scheduled after a dropped transport",
		}),
		FramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rocketchat_bridge",
			Name:      "frames_total",
			Help:      "Total frames by direction and kind",
		}, []string{"direction", "kind"}),
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rocketchat_bridge",
			Name:      "events_total",
			Help:      "Downstream events by outcome",
		}, []string{"outcome"}),
		ReadAcksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rocketchat_bridge",
			Name:      "read_acks_total",
			Help:      "Read acknowledgements by result",
		}, []string{"result"}),
		HeartbeatTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rocketchat_bridge",
			Name:      "heartbeat_timeouts_total",
			Help:      "Transports terminated for missing pings",
		}),
		LivenessTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rocketchat_bridge",
			Name:      "liveness_polls_total",
			Help:      "Liveness polls by result",
		}, []string{"result"}),
	}
	r.MustRegister(m.State, m.SessionsTotal, m.ReconnectsTotal, m.FramesTotal,
		m.EventsTotal, m.ReadAcksTotal, m.HeartbeatTotal, m.LivenessTotal)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SetState(v int) {
	if m != nil {
		m.State.Set(float64(v))
	}
}

func (m *Metrics) SessionStarted() {
	if m != nil {
		m.SessionsTotal.Inc()
	}
}

func (m *Metrics) Reconnect() {
	if m != nil {
		m.ReconnectsTotal.Inc()
	}
}

func (m *Metrics) Frame(direction, kind string) {
	if m != nil {
		if kind == "" {
			kind = "none"
		}
		m.FramesTotal.WithLabelValues(direction, kind).Inc()
	}
}

func (m *Metrics) Event(outcome string) {
	if m != nil {
		m.EventsTotal.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) ReadAck(result string) {
	if m != nil {
		m.ReadAcksTotal.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) HeartbeatTimeout() {
	if m != nil {
		m.HeartbeatTotal.Inc()
	}
}

func (m *Metrics) LivenessPoll(result string) {
	if m != nil {
		m.LivenessTotal.WithLabelValues(result).Inc()
	}
}
