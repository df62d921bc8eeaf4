package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/uow-go/core/es"
	"github.com/codewandler/uow-go/core/metrics"
)

type RepositoryMetrics struct {
	loadDuration         *prometheus.HistogramVec
	saveDuration         *prometheus.HistogramVec
	eventsAppended       *prometheus.CounterVec
	concurrencyConflicts *prometheus.CounterVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	snapshotsSaved *prometheus.CounterVec
}

func NewRepositoryMetrics(reg prometheus.Registerer) *RepositoryMetrics {
	labels := []string{"aggregate_type"}
	m := &RepositoryMetrics{
		loadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "repo_load_duration_seconds",
			Help:      "Repository load latency in seconds",
			Buckets:   defaultBuckets,
		}, labels),
		saveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "repo_save_duration_seconds",
			Help:      "Repository save latency in seconds",
			Buckets:   defaultBuckets,
		}, labels),
		eventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repo_events_appended_total",
			Help:      "Total number of events appended to the event store",
		}, labels),
		concurrencyConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repo_concurrency_conflicts_total",
			Help:      "Total number of appends rejected for a stale stream",
		}, labels),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repo_cache_hits_total",
			Help:      "Total number of cache hits",
		}, labels),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repo_cache_misses_total",
			Help:      "Total number of cache misses",
		}, labels),
		snapshotsSaved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repo_snapshots_saved_total",
			Help:      "Total number of snapshot events appended",
		}, labels),
	}

	reg.MustRegister(
		m.loadDuration,
		m.saveDuration,
		m.eventsAppended,
		m.concurrencyConflicts,
		m.cacheHits,
		m.cacheMisses,
		m.snapshotsSaved,
	)
	return m
}

func (m *RepositoryMetrics) RepoLoadDuration(aggType string) metrics.Timer {
	return newTimer(m.loadDuration.WithLabelValues(aggType))
}

func (m *RepositoryMetrics) RepoSaveDuration(aggType string) metrics.Timer {
	return newTimer(m.saveDuration.WithLabelValues(aggType))
}

func (m *RepositoryMetrics) EventsAppended(aggType string, count int) {
	m.eventsAppended.WithLabelValues(aggType).Add(float64(count))
}

func (m *RepositoryMetrics) ConcurrencyConflict(aggType string) {
	m.concurrencyConflicts.WithLabelValues(aggType).Inc()
}

func (m *RepositoryMetrics) CacheHit(aggType string)  { m.cacheHits.WithLabelValues(aggType).Inc() }
func (m *RepositoryMetrics) CacheMiss(aggType string) { m.cacheMisses.WithLabelValues(aggType).Inc() }

func (m *RepositoryMetrics) SnapshotSaved(aggType string) {
	m.snapshotsSaved.WithLabelValues(aggType).Inc()
}

var _ es.Metrics = (*RepositoryMetrics)(nil)
