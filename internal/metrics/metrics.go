// Package metrics registers the controller's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the controller's instruments on a dedicated registry so
// tests can create isolated instances.
type Metrics struct {
	Registry *prometheus.Registry

	AgentsConnected prometheus.GaugeFunc
	JobsPending     prometheus.GaugeFunc
	LeasesTotal     prometheus.Counter
	RequeuesTotal   prometheus.Counter
	JobsCompleted   *prometheus.CounterVec
}

// New creates and registers the instrument set. The two gauges sample the
// registries on scrape via the supplied callbacks.
func New(agentsConnected, jobsPending func() float64) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		AgentsConnected: factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "encodefleet_agents_connected",
			Help: "Number of agents with a live control connection.",
		}, agentsConnected),
		JobsPending: factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "encodefleet_jobs_pending",
			Help: "Depth of the pending job queue.",
		}, jobsPending),
		LeasesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "encodefleet_leases_total",
			Help: "Total job leases delivered to agents.",
		}),
		RequeuesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "encodefleet_requeues_total",
			Help: "Total jobs returned to the pending queue.",
		}),
		JobsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "encodefleet_jobs_completed_total",
			Help: "Total completed jobs by result.",
		}, []string{"result"}),
	}
}
