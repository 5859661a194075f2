// Package metrics holds the process-wide metric instruments on a dedicated
// Prometheus registry, injected into the engine and the API server rather
// than living as package-global state.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the orchestrator's metric instruments. All instruments
// are safe for concurrent use; nothing persists across restarts.
type Registry struct {
	reg *prometheus.Registry

	MissionsTotal   prometheus.Counter
	MissionsSuccess prometheus.Counter
	MissionsFailed  prometheus.Counter
	RedTeamFlags    prometheus.Counter
	CostTotal       prometheus.Counter
	AgentsActive    prometheus.Gauge

	durations *durationRing
}

// New creates a Registry with all instruments registered.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		MissionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nebula_missions_total",
			Help: "Total missions received",
		}),
		MissionsSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nebula_missions_success",
			Help: "Missions that reached a completed trace",
		}),
		MissionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nebula_missions_failed",
			Help: "Missions that reached a failed trace",
		}),
		RedTeamFlags: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nebula_red_team_flags_total",
			Help: "Red-team flags raised across all scans",
		}),
		CostTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nebula_cost_total",
			Help: "Accumulated actual mission cost in dollars",
		}),
		AgentsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nebula_swarm_agents_active",
			Help: "Agent calls currently in flight",
		}),
		durations: newDurationRing(1000),
	}

	reg.MustRegister(
		r.MissionsTotal,
		r.MissionsSuccess,
		r.MissionsFailed,
		r.RedTeamFlags,
		r.CostTotal,
		r.AgentsActive,
		r.durations,
	)

	return r
}

// ObserveDuration records a mission duration in milliseconds into the
// bounded ring from which scrape-time quantiles are derived.
func (r *Registry) ObserveDuration(ms float64) {
	r.durations.observe(ms)
}

// Handler returns the HTTP handler serving the text exposition format
// (text/plain; version=0.0.4).
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
