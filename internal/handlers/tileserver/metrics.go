package tileserver

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics are registered per server so several servers (and tests) can coexist
type metrics struct {
	registry        *prometheus.Registry
	tiles           *prometheus.CounterVec
	upstreamStatus  *prometheus.CounterVec
	upstreamLatency prometheus.Histogram
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		tiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stellarcanvas",
			Subsystem: "tileserver",
			Name:      "tiles_total",
			Help:      "Tiles requested through the proxy, by result",
		}, []string{"result"}),
		upstreamStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stellarcanvas",
			Subsystem: "tileserver",
			Name:      "upstream_responses_total",
			Help:      "Upstream tile responses, by HTTP status",
		}, []string{"status"}),
		upstreamLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "stellarcanvas",
			Subsystem: "tileserver",
			Name:      "upstream_duration_seconds",
			Help:      "Latency of upstream tile requests",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}
	m.registry.MustRegister(m.tiles, m.upstreamStatus, m.upstreamLatency)
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
