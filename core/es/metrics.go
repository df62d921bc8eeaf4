package es

import "github.com/codewandler/uow-go/core/metrics"

// Metrics defines the instrumentation of repositories. Implementations must be safe for
// concurrent use.
type Metrics interface {
	RepoLoadDuration(aggType string) metrics.Timer
	RepoSaveDuration(aggType string) metrics.Timer
	EventsAppended(aggType string, count int)
	ConcurrencyConflict(aggType string)

	CacheHit(aggType string)
	CacheMiss(aggType string)

	SnapshotSaved(aggType string)
}

type nopMetrics struct{}

func (nopMetrics) RepoLoadDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) RepoSaveDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) EventsAppended(string, int)            {}
func (nopMetrics) ConcurrencyConflict(string)            {}

func (nopMetrics) CacheHit(string)  {}
func (nopMetrics) CacheMiss(string) {}

func (nopMetrics) SnapshotSaved(string) {}

// NopMetrics returns a no-op Metrics implementation.
func NopMetrics() Metrics { return nopMetrics{} }
