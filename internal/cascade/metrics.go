package cascade

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics exports the job-board and peer-connectivity gauges a diagnostics
// dashboard scrapes, mirroring arkeep server's use of
// prometheus/client_golang for its own job/connection counters. Each Agent
// owns one private registry rather than the global default, so multiple
// agents can run in a single test process without collector collisions.
type metrics struct {
	registry       *prometheus.Registry
	activeJobs     prometheus.Gauge
	pendingJobs    prometheus.Gauge
	runningJobs    prometheus.Gauge
	completedJobs  prometheus.Gauge
	duplicateJobs  prometheus.Gauge
	connectedPeers prometheus.Gauge
}

func newMetrics(selfName string) *metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	labels := prometheus.Labels{"agent": selfName}
	return &metrics{
		registry: reg,
		activeJobs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "openportal_active_jobs", Help: "Non-terminal jobs across all boards.", ConstLabels: labels,
		}),
		pendingJobs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "openportal_pending_jobs", Help: "Pending jobs across all boards.", ConstLabels: labels,
		}),
		runningJobs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "openportal_running_jobs", Help: "Running jobs across all boards.", ConstLabels: labels,
		}),
		completedJobs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "openportal_completed_jobs", Help: "Completed jobs across all boards.", ConstLabels: labels,
		}),
		duplicateJobs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "openportal_duplicate_jobs", Help: "Duplicate jobs across all boards.", ConstLabels: labels,
		}),
		connectedPeers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "openportal_connected_peers", Help: "Peers currently marked connected in the registry.", ConstLabels: labels,
		}),
	}
}

// RefreshMetrics samples the current board stats and peer registry into
// the gauges; call this on the same cadence as the health cascade's local
// report so /metrics and /health never disagree for long.
func (c *Cascade) RefreshMetrics() {
	stats := c.boards.AggregateStats()
	c.metrics.activeJobs.Set(float64(stats.Active))
	c.metrics.pendingJobs.Set(float64(stats.Pending))
	c.metrics.runningJobs.Set(float64(stats.Running))
	c.metrics.completedJobs.Set(float64(stats.Completed))
	c.metrics.duplicateJobs.Set(float64(stats.Duplicates))

	connected := 0
	for _, p := range c.reg.All() {
		if p.Connected {
			connected++
		}
	}
	c.metrics.connectedPeers.Set(float64(connected))
}

// MetricsHandler exposes this agent's private registry over /metrics.
func (c *Cascade) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(c.metrics.registry, promhttp.HandlerOpts{})
}
