package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"duelnet/internal/core/domain"
)

// PrometheusCollector exports connection lifecycle and data path metrics.
// It satisfies both webrtc.Metrics and scheduler.Metrics.
type PrometheusCollector struct {
	// Connections
	negotiationsStarted *prometheus.CounterVec
	negotiationDuration *prometheus.HistogramVec
	connectionsOpen     *prometheus.GaugeVec
	connectionsClosed   *prometheus.CounterVec
	inputsDropped       *prometheus.CounterVec

	// Data path
	tickDuration     prometheus.Histogram
	messagesSent     *prometheus.CounterVec
	messagesReceived *prometheus.CounterVec
	sendFailures     *prometheus.CounterVec
	decodeFailures   *prometheus.CounterVec
	staleInputs      prometheus.Gauge
}

// NewPrometheusCollector registers the metrics on reg. A nil reg uses the
// default registerer.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		negotiationsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "duelnet_negotiations_started_total",
			Help: "Peer connection negotiations started",
		}, []string{"role"}),

		negotiationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "duelnet_negotiation_duration_seconds",
			Help:    "Time from record creation until both data channels are open",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"role"}),

		connectionsOpen: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "duelnet_connections_open",
			Help: "Peer connections with both data channels open",
		}, []string{"role"}),

		connectionsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "duelnet_connections_closed_total",
			Help: "Peer connections torn down, by reason",
		}, []string{"role", "reason"}),

		inputsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "duelnet_inputs_dropped_total",
			Help: "Inbound input messages dropped by the rate limiter",
		}, []string{"peer_id"}),

		tickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "duelnet_tick_duration_seconds",
			Help:    "Wall time of one fixed simulation step",
			Buckets: []float64{0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}),

		messagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "duelnet_messages_sent_total",
			Help: "Data channel messages sent",
		}, []string{"kind"}),

		messagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "duelnet_messages_received_total",
			Help: "Data channel messages received and decoded",
		}, []string{"kind"}),

		sendFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "duelnet_send_failures_total",
			Help: "Failed data channel sends",
		}, []string{"kind"}),

		decodeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "duelnet_decode_failures_total",
			Help: "Malformed inbound messages dropped",
		}, []string{"kind"}),

		staleInputs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "duelnet_stale_inputs",
			Help: "Peers whose last input is older than the stale threshold",
		}),
	}
}

func (p *PrometheusCollector) NegotiationStarted(role domain.Role) {
	p.negotiationsStarted.WithLabelValues(string(role)).Inc()
}

func (p *PrometheusCollector) NegotiationCompleted(role domain.Role, elapsed time.Duration) {
	p.negotiationDuration.WithLabelValues(string(role)).Observe(elapsed.Seconds())
	p.connectionsOpen.WithLabelValues(string(role)).Inc()
}

// ConnectionClosed is reported for every torn down record, open or not.
func (p *PrometheusCollector) ConnectionClosed(role domain.Role, reason string, wasOpen bool) {
	p.connectionsClosed.WithLabelValues(string(role), reason).Inc()
	if wasOpen {
		p.connectionsOpen.WithLabelValues(string(role)).Dec()
	}
}

func (p *PrometheusCollector) InputDropped(peerID domain.PeerID) {
	p.inputsDropped.WithLabelValues(string(peerID)).Inc()
}

// ForgetPeer removes per-peer series once the peer has left.
func (p *PrometheusCollector) ForgetPeer(peerID domain.PeerID) {
	p.inputsDropped.DeleteLabelValues(string(peerID))
}

func (p *PrometheusCollector) TickCompleted(elapsed time.Duration) {
	p.tickDuration.Observe(elapsed.Seconds())
}

func (p *PrometheusCollector) MessagesSent(kind string, n int) {
	p.messagesSent.WithLabelValues(kind).Add(float64(n))
}

func (p *PrometheusCollector) MessageReceived(kind string) {
	p.messagesReceived.WithLabelValues(kind).Inc()
}

func (p *PrometheusCollector) SendFailed(kind string, n int) {
	p.sendFailures.WithLabelValues(kind).Add(float64(n))
}

func (p *PrometheusCollector) DecodeFailed(kind string) {
	p.decodeFailures.WithLabelValues(kind).Inc()
}

func (p *PrometheusCollector) StaleInputs(n int) {
	p.staleInputs.Set(float64(n))
}
