// Package prometheus implements the metrics ports of the uow, es and command packages
// with Prometheus collectors.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/uow-go/core/metrics"
)

const namespace = "uow"

// Default histogram buckets for latency metrics (in seconds).
var defaultBuckets = []float64{
	.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5,
}

func newTimer(o prometheus.Observer) metrics.Timer { return metrics.NewTimer(o) }

// AllMetrics bundles the implementations of every port, registered with one registerer.
type AllMetrics struct {
	UnitOfWork *UnitOfWorkMetrics
	Repository *RepositoryMetrics
	Command    *CommandMetrics
}

func NewAllMetrics(reg prometheus.Registerer) *AllMetrics {
	return &AllMetrics{
		UnitOfWork: NewUnitOfWorkMetrics(reg),
		Repository: NewRepositoryMetrics(reg),
		Command:    NewCommandMetrics(reg),
	}
}
