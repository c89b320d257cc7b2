package node

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ergo-services/erldist/dist"
)

// DefaultNamespace prefixes all the metric names.
const DefaultNamespace = "erldist"

const (
	directionInbound  = "inbound"
	directionOutbound = "outbound"
)

// Metrics of the node:
//
//	erldist_handshake_results_total{direction="inbound|outbound",result="ok|race_lost|malformed|rejected|auth_failed|timeout|transport"}
//	erldist_handshake_duration_seconds{direction="inbound|outbound"}
//	erldist_active_peers
type Metrics struct {
	handshakeResults  *prometheus.CounterVec
	handshakeDuration *prometheus.HistogramVec
	activePeers       prometheus.Gauge
}

// NewMetrics registers the metrics with the default registry. It panics if
// they are registered already.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates the metrics and registers them with
// registerer unless it is nil.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	m := &Metrics{
		handshakeResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_results_total",
			Help:      "Total number of handshakes by direction and result",
		}, []string{"direction", "result"}),
		handshakeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handshake_duration_seconds",
			Help:      "Duration of handshakes in seconds",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		}, []string{"direction"}),
		activePeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_peers",
			Help:      "Number of authenticated peer connections",
		}),
	}

	if registerer != nil {
		registerer.MustRegister(m.handshakeResults, m.handshakeDuration, m.activePeers)
	}
	return m
}

func (m *Metrics) handshakeDone(direction string, started time.Time, err error) {
	m.handshakeResults.WithLabelValues(direction, dist.Outcome(err)).Inc()
	m.handshakeDuration.WithLabelValues(direction).Observe(time.Since(started).Seconds())
}

func (m *Metrics) setActivePeers(n int) {
	m.activePeers.Set(float64(n))
}
