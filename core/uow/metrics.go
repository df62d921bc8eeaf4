package uow

import "github.com/codewandler/uow-go/core/metrics"

// Metrics defines the instrumentation of units of work. Implementations must be safe
// for concurrent use.
type Metrics interface {
	CommitDuration() metrics.Timer
	Committed()
	RolledBack()
	AggregatesSaved(count int)
	EventsPublished(count int)
	Active(delta int)
}

type nopMetrics struct{}

func (nopMetrics) CommitDuration() metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) Committed()                    {}
func (nopMetrics) RolledBack()                   {}
func (nopMetrics) AggregatesSaved(int)           {}
func (nopMetrics) EventsPublished(int)           {}
func (nopMetrics) Active(int)                    {}

// NopMetrics returns a no-op Metrics implementation.
func NopMetrics() Metrics { return nopMetrics{} }
