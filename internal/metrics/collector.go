// Package metrics provides internal metrics collection for the generation
// core. This package is internal and should not be imported by external
// projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector records generation job metrics.
type Collector struct {
	jobsDispatched *prometheus.CounterVec
	jobsCompleted  *prometheus.CounterVec
	jobsFailed     *prometheus.CounterVec
	pollDuration   *prometheus.HistogramVec

	workspaceSaves  prometheus.Counter
	syncConflicts   prometheus.Counter
	syncResolutions *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector creates a metrics collector registered on reg. A nil registerer
// uses the default registry.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.jobsDispatched = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_dispatched_total",
			Help:      "Total number of generation jobs dispatched",
		},
		[]string{"provider"},
	)
	c.jobsCompleted = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Total number of generation jobs completed",
		},
		[]string{"provider"},
	)
	c.jobsFailed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failed_total",
			Help:      "Total number of generation jobs failed",
		},
		[]string{"provider"},
	)
	c.pollDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Time from dispatch to terminal state for async jobs",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"provider"},
	)
	c.workspaceSaves = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workspace_saves_total",
			Help:      "Total number of persisted workspace snapshots",
		},
	)
	c.syncConflicts = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_conflicts_total",
			Help:      "Total number of sync conflicts detected",
		},
	)
	c.syncResolutions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_resolutions_total",
			Help:      "Total number of sync conflicts resolved, by choice",
		},
		[]string{"choice"},
	)

	return c
}

// JobsDispatched records n dispatched jobs for a provider.
func (c *Collector) JobsDispatched(provider string, n int) {
	c.jobsDispatched.WithLabelValues(provider).Add(float64(n))
}

// JobCompleted records one completed job.
func (c *Collector) JobCompleted(provider string) {
	c.jobsCompleted.WithLabelValues(provider).Inc()
}

// JobFailed records one failed job.
func (c *Collector) JobFailed(provider string) {
	c.jobsFailed.WithLabelValues(provider).Inc()
}

// ObservePollDuration records the total async wait for a completed job.
func (c *Collector) ObservePollDuration(provider string, d time.Duration) {
	c.pollDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// WorkspaceSaved records one persisted snapshot.
func (c *Collector) WorkspaceSaved() {
	c.workspaceSaves.Inc()
}

// SyncConflict records one detected snapshot divergence.
func (c *Collector) SyncConflict() {
	c.syncConflicts.Inc()
}

// SyncResolved records one conflict resolution by choice (local/cloud/merge).
func (c *Collector) SyncResolved(choice string) {
	c.syncResolutions.WithLabelValues(choice).Inc()
}
