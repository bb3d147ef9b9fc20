package channel

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes a channel's view of its peers to Prometheus. A nil
// *Metrics records nothing.
type Metrics struct {
	peers    prometheus.Gauge
	leader   prometheus.Gauge
	messages *prometheus.CounterVec
	dropped  prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg when it is
// non-nil. Use one registry per channel.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "keygate",
			Subsystem: "channel",
			Name:      "peers",
			Help:      "Number of live peers in the local view, excluding this node.",
		}),
		leader: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "keygate",
			Subsystem: "channel",
			Name:      "is_leader",
			Help:      "1 when this node believes it is the leader.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keygate",
			Subsystem: "channel",
			Name:      "messages_total",
			Help:      "Channel messages by direction and kind.",
		}, []string{"direction", "kind"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "keygate",
			Subsystem: "channel",
			Name:      "dropped_total",
			Help:      "Outbound messages dropped because the send queue was full.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.peers, m.leader, m.messages, m.dropped)
	}
	return m
}

func (m *Metrics) observeView(peers int, isLeader bool) {
	if m == nil {
		return
	}
	m.peers.Set(float64(peers))
	if isLeader {
		m.leader.Set(1)
	} else {
		m.leader.Set(0)
	}
}

func (m *Metrics) sent(kind string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues("out", kind).Inc()
}

func (m *Metrics) received(kind string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues("in", kind).Inc()
}

func (m *Metrics) drop() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

// messageKind labels a wire message for metrics.
func messageKind(msg string) string {
	switch msg {
	case MessageLogin:
		return "login"
	case MessageLogout:
		return "logout"
	}
	if hb, ok, err := parseHeartbeat(msg); ok && err == nil {
		return hb.kind.String()
	}
	if IsReserved(msg) {
		return "reserved"
	}
	return "message"
}
