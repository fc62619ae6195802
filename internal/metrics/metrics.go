// Package metrics exposes the service's process-level Prometheus
// gauges (queue depth, running job counts), registered once at process
// start and served over /metrics — separate from the per-route latency
// histogram the store itself keeps (see internal/cache), which answers
// a different question (request latency distribution vs. current
// process state) and is queried by the dashboard, not scraped.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry holds the gauges this service reports.
type Registry struct {
	QueueDepth   *prometheus.GaugeVec
	RunningJobs  *prometheus.GaugeVec
	JobsTotal    *prometheus.CounterVec
}

// New creates the gauges and registers them against reg; the front end
// passes prometheus.DefaultRegisterer, and a separate registry gives an
// independent instance.
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "unica_wb_queue_depth",
			Help: "Number of items currently waiting in a named queue.",
		}, []string{"queue"}),
		RunningJobs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "unica_wb_running_jobs",
			Help: "Number of jobs currently running, by kind.",
		}, []string{"kind"}),
		JobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "unica_wb_jobs_total",
			Help: "Jobs created, by kind and initial status (queued or reused).",
		}, []string{"kind", "status"}),
	}
	reg.MustRegister(r.QueueDepth, r.RunningJobs, r.JobsTotal)
	return r
}
