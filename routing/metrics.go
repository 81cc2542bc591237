package routing

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus metrics for route searches.
type Metrics struct {
	requestsTotal *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	expansions    prometheus.Histogram
}

// NewMetrics creates and registers the metrics for the routing engine.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "routing_requests_total",
			Help: "Route requests, labeled by mode (direct, multi) and result.",
		}, []string{"mode", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "routing_duration_seconds",
			Help:    "Time taken to find a route.",
			Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
		}, []string{"mode"}),
		expansions: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "routing_candidates_expanded",
			Help:    "Partial routes expanded per search.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 9),
		}),
	}
	reg.MustRegister(m.requestsTotal, m.duration, m.expansions)
	return m
}
