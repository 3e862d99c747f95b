package metrics

import "github.com/prometheus/client_golang/prometheus"

// QueueMetrics exposes counters/histograms for queue commands.
type QueueMetrics struct {
	commandsTotal   *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
}

func NewQueueMetrics(reg prometheus.Registerer) *QueueMetrics {
	m := &QueueMetrics{
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicqueue",
			Subsystem: "engine",
			Name:      "commands_total",
			Help:      "Total queue commands by operation and outcome",
		}, []string{"operation", "outcome"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinicqueue",
			Subsystem: "engine",
			Name:      "command_duration_seconds",
			Help:      "Latency of queue commands including commit",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.commandsTotal, m.commandDuration)
	return m
}

// ObserveCommand records one command. outcome is "ok" or an error kind.
func (m *QueueMetrics) ObserveCommand(operation, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.commandsTotal.WithLabelValues(operation, outcome).Inc()
	m.commandDuration.WithLabelValues(operation).Observe(seconds)
}

// HubMetrics exposes gauges/counters for live terminal connections.
type HubMetrics struct {
	connections *prometheus.GaugeVec
	published   *prometheus.CounterVec
	dropped     prometheus.Counter
	reaped      prometheus.Counter
	rejected    *prometheus.CounterVec
}

func NewHubMetrics(reg prometheus.Registerer) *HubMetrics {
	m := &HubMetrics{
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "clinicqueue",
			Subsystem: "hub",
			Name:      "connections",
			Help:      "Currently registered terminal connections",
		}, []string{"role"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicqueue",
			Subsystem: "hub",
			Name:      "published_total",
			Help:      "Notifications published by event type",
		}, []string{"event"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinicqueue",
			Subsystem: "hub",
			Name:      "dropped_total",
			Help:      "Deliveries skipped because a connection's buffer was full",
		}),
		reaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinicqueue",
			Subsystem: "hub",
			Name:      "reaped_total",
			Help:      "Connections terminated for missing a heartbeat",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicqueue",
			Subsystem: "hub",
			Name:      "rejected_total",
			Help:      "Connections refused at admission",
		}, []string{"reason"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.connections, m.published, m.dropped, m.reaped, m.rejected)
	return m
}

func (m *HubMetrics) ConnectionOpened(role string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(role).Inc()
}

func (m *HubMetrics) ConnectionClosed(role string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(role).Dec()
}

func (m *HubMetrics) ObservePublish(event string) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(event).Inc()
}

func (m *HubMetrics) ObserveDrop() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

func (m *HubMetrics) ObserveReap() {
	if m == nil {
		return
	}
	m.reaped.Inc()
}

func (m *HubMetrics) ObserveRejected(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}
