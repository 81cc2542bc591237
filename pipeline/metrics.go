package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus metrics of the update pipeline.
type Metrics struct {
	updatesTotal       *prometheus.CounterVec
	edgeRefreshesTotal *prometheus.CounterVec
	updateDuration     prometheus.Histogram
	newestSlot         prometheus.Gauge
	subscribedAccounts prometheus.Gauge
}

// NewMetrics creates and registers the metrics for the pipeline.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		updatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_account_updates_total",
			Help: "Account updates received, labeled by result (applied, stale, unwatched).",
		}, []string{"result"}),
		edgeRefreshesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_edge_refreshes_total",
			Help: "Edge state refreshes, labeled by protocol and result (replaced, invalidated, stale).",
		}, []string{"protocol", "result"}),
		updateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipeline_update_duration_seconds",
			Help:    "Time taken to apply one account update to every affected edge.",
			Buckets: []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .025, .05},
		}),
		newestSlot: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_newest_slot",
			Help: "Newest slot observed from account or slot notifications.",
		}),
		subscribedAccounts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_subscribed_accounts",
			Help: "Number of accounts in the account-to-edge index.",
		}),
	}
	reg.MustRegister(m.updatesTotal, m.edgeRefreshesTotal, m.updateDuration, m.newestSlot, m.subscribedAccounts)
	return m
}
