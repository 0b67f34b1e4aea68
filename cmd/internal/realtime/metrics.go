package realtime

import "github.com/prometheus/client_golang/prometheus"

// Metrics collects counters for the sync layer. A nil *Metrics is valid and
// turns every record method into a no-op, so wiring stays optional in tests.
type Metrics struct {
	reconnects    *prometheus.CounterVec
	connState     *prometheus.GaugeVec
	framesDropped *prometheus.CounterVec
	ingested      prometheus.Counter
	deduped       prometheus.Counter
	typingOut     prometheus.Counter
	typingIn      prometheus.Counter
}

// NewMetrics constructs and registers the collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tether",
			Subsystem: "ws",
			Name:      "reconnects_scheduled_total",
			Help:      "Reconnection attempts scheduled, per channel.",
		}, []string{"channel"}),
		connState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tether",
			Subsystem: "ws",
			Name:      "connection_state",
			Help:      "Connection state per channel: 0 disconnected, 1 connecting, 2 connected.",
		}, []string{"channel"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tether",
			Subsystem: "ws",
			Name:      "frames_dropped_total",
			Help:      "Malformed or unrecognized inbound frames dropped, per channel.",
		}, []string{"channel"}),
		ingested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tether",
			Subsystem: "sync",
			Name:      "messages_ingested_total",
			Help:      "Messages accepted by the synchronizer.",
		}),
		deduped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tether",
			Subsystem: "sync",
			Name:      "messages_deduplicated_total",
			Help:      "Messages discarded because their identifier was already loaded.",
		}),
		typingOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tether",
			Subsystem: "typing",
			Name:      "signals_sent_total",
			Help:      "Outbound typing signals actually written to the wire.",
		}),
		typingIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tether",
			Subsystem: "typing",
			Name:      "signals_received_total",
			Help:      "Inbound typing signals applied.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.reconnects, m.connState, m.framesDropped, m.ingested, m.deduped, m.typingOut, m.typingIn)
	}
	return m
}

func (m *Metrics) reconnectScheduled(ch Channel) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(string(ch)).Inc()
}

func (m *Metrics) setConnectionState(ch Channel, st Status) {
	if m == nil {
		return
	}
	var v float64
	switch st {
	case StatusConnecting:
		v = 1
	case StatusConnected:
		v = 2
	}
	m.connState.WithLabelValues(string(ch)).Set(v)
}

func (m *Metrics) frameDropped(ch Channel) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(string(ch)).Inc()
}

func (m *Metrics) messageIngested() {
	if m == nil {
		return
	}
	m.ingested.Inc()
}

func (m *Metrics) messageDeduped() {
	if m == nil {
		return
	}
	m.deduped.Inc()
}

func (m *Metrics) typingSent() {
	if m == nil {
		return
	}
	m.typingOut.Inc()
}

func (m *Metrics) typingApplied() {
	if m == nil {
		return
	}
	m.typingIn.Inc()
}
