package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/uow-go/core/metrics"
	"github.com/codewandler/uow-go/core/uow"
)

type UnitOfWorkMetrics struct {
	commitDuration  prometheus.Histogram
	committed       prometheus.Counter
	rolledBack      prometheus.Counter
	aggregatesSaved prometheus.Counter
	eventsPublished prometheus.Counter
	active          prometheus.Gauge
}

func NewUnitOfWorkMetrics(reg prometheus.Registerer) *UnitOfWorkMetrics {
	m := &UnitOfWorkMetrics{
		commitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "commit_duration_seconds",
			Help:      "Unit of work commit latency in seconds",
			Buckets:   defaultBuckets,
		}),
		committed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "committed_total",
			Help:      "Total number of committed units of work",
		}),
		rolledBack: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rolled_back_total",
			Help:      "Total number of rolled back units of work",
		}),
		aggregatesSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aggregates_saved_total",
			Help:      "Total number of aggregates saved by committing units of work",
		}),
		eventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total number of events flushed to event buses",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active",
			Help:      "Number of started units of work not yet cleaned up",
		}),
	}

	reg.MustRegister(
		m.commitDuration,
		m.committed,
		m.rolledBack,
		m.aggregatesSaved,
		m.eventsPublished,
		m.active,
	)
	return m
}

func (m *UnitOfWorkMetrics) CommitDuration() metrics.Timer { return newTimer(m.commitDuration) }
func (m *UnitOfWorkMetrics) Committed()                    { m.committed.Inc() }
func (m *UnitOfWorkMetrics) RolledBack()                   { m.rolledBack.Inc() }
func (m *UnitOfWorkMetrics) AggregatesSaved(count int)     { m.aggregatesSaved.Add(float64(count)) }
func (m *UnitOfWorkMetrics) EventsPublished(count int)     { m.eventsPublished.Add(float64(count)) }
func (m *UnitOfWorkMetrics) Active(delta int)              { m.active.Add(float64(delta)) }

var _ uow.Metrics = (*UnitOfWorkMetrics)(nil)
