package msgbus

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes bus activity as Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	framesSent     *prometheus.CounterVec
	framesQueued   prometheus.Counter
	framesReceived *prometheus.CounterVec
	reconnects     prometheus.Counter
	heartbeats     prometheus.Counter
	pendingFailed  prometheus.Counter
	state          *prometheus.GaugeVec
}

// NewMetrics builds unregistered collectors under namespace.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "msgbus",
			Name:      "frames_sent_total",
			Help:      "Control frames written to the transport, by frame type.",
		}, []string{"type"}),
		framesQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "msgbus",
			Name:      "frames_queued_total",
			Help:      "Frames buffered while the connection was not established.",
		}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "msgbus",
			Name:      "frames_received_total",
			Help:      "Inbound frames, by routing outcome.",
		}, []string{"outcome"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "msgbus",
			Name:      "reconnects_total",
			Help:      "Reconnect attempts scheduled after unclean closes.",
		}),
		heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "msgbus",
			Name:      "heartbeats_total",
			Help:      "Heartbeat frames sent on idle connections.",
		}),
		pendingFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "msgbus",
			Name:      "pending_replies_failed_total",
			Help:      "Pending requests rejected because the connection dropped or closed.",
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "msgbus",
			Name:      "connection_state",
			Help:      "1 for the current connection state, 0 otherwise.",
		}, []string{"state"}),
	}
}

// Collectors returns every collector for registration.
func (metrics *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		metrics.framesSent,
		metrics.framesQueued,
		metrics.framesReceived,
		metrics.reconnects,
		metrics.heartbeats,
		metrics.pendingFailed,
		metrics.state,
	}
}

// Register registers all collectors with registerer.
func (metrics *Metrics) Register(registerer prometheus.Registerer) error {
	for _, collector := range metrics.Collectors() {
		if err := registerer.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

func (metrics *Metrics) frameSent(frameType string) {
	if metrics == nil {
		return
	}
	metrics.framesSent.WithLabelValues(frameType).Inc()
}

func (metrics *Metrics) frameQueued() {
	if metrics == nil {
		return
	}
	metrics.framesQueued.Inc()
}

func (metrics *Metrics) frameReceived(outcome string) {
	if metrics == nil {
		return
	}
	metrics.framesReceived.WithLabelValues(outcome).Inc()
}

func (metrics *Metrics) reconnectScheduled() {
	if metrics == nil {
		return
	}
	metrics.reconnects.Inc()
}

func (metrics *Metrics) heartbeatSent() {
	if metrics == nil {
		return
	}
	metrics.heartbeats.Inc()
}

func (metrics *Metrics) pendingRejected(count int) {
	if metrics == nil || count == 0 {
		return
	}
	metrics.pendingFailed.Add(float64(count))
}

func (metrics *Metrics) stateChanged(state State) {
	if metrics == nil {
		return
	}
	for _, candidate := range []State{StateConnecting, StateConnected, StateReconnecting, StateClosed} {
		value := 0.0
		if candidate == state {
			value = 1
		}
		metrics.state.WithLabelValues(candidate.String()).Set(value)
	}
}
