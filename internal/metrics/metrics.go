package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	Inbound  = "inbound"
	Outbound = "outbound"
	Event    = "event"
)

// RPC counts and times message-bus traffic. A nil *RPC is a no-op.
type RPC struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
}

func NewRPC(reg prometheus.Registerer) *RPC {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orders",
		Subsystem: "rpc",
		Name:      "messages_total",
		Help:      "Total number of bus messages handled or sent.",
	}, []string{"direction", "command", "outcome"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "orders",
		Subsystem: "rpc",
		Name:      "duration_ms",
		Help:      "Message handling or round-trip latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"direction", "command"})

	reg.MustRegister(requests, latency)
	return &RPC{Requests: requests, LatencyMS: latency}
}

func (m *RPC) Observe(direction, command string, err error, start time.Time) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Requests.WithLabelValues(direction, command, outcome).Inc()
	m.LatencyMS.WithLabelValues(direction, command).Observe(float64(time.Since(start).Milliseconds()))
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
