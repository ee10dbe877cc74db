// Package telemetry exposes the forge engine's Prometheus metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds the engine's Prometheus collectors. A nil *Recorder is
// valid and records nothing, so callers never need to guard.
type Recorder struct {
	jobsStarted       *prometheus.CounterVec
	jobsFinished      *prometheus.CounterVec
	branchesCompleted prometheus.Counter
	branchesPassing   prometheus.Counter
	runningJobs       prometheus.Gauge
}

// New creates a Recorder registered on the default registry.
func New() *Recorder {
	return &Recorder{
		jobsStarted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forge_jobs_started_total",
				Help: "Total number of forge jobs started",
			},
			[]string{"indicator"},
		),
		jobsFinished: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forge_jobs_finished_total",
				Help: "Total number of forge jobs finished, by terminal status",
			},
			[]string{"status"},
		),
		branchesCompleted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "forge_branches_completed_total",
				Help: "Total number of branches backtested",
			},
		),
		branchesPassing: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "forge_branches_passing_total",
				Help: "Total number of branches that cleared the in-sample filter",
			},
		),
		runningJobs: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "forge_jobs_running",
				Help: "Number of jobs currently running",
			},
		),
	}
}

// JobStarted records a job entering the running state.
func (r *Recorder) JobStarted(indicator string) {
	if r == nil {
		return
	}
	r.jobsStarted.WithLabelValues(indicator).Inc()
	r.runningJobs.Inc()
}

// JobFinished records a job reaching a terminal status.
func (r *Recorder) JobFinished(status string) {
	if r == nil {
		return
	}
	r.jobsFinished.WithLabelValues(status).Inc()
	r.runningJobs.Dec()
}

// BranchesCompleted adds completed and passing branch deltas.
func (r *Recorder) BranchesCompleted(completed, passing int64) {
	if r == nil {
		return
	}
	r.branchesCompleted.Add(float64(completed))
	r.branchesPassing.Add(float64(passing))
}
