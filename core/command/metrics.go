package command

import "github.com/codewandler/uow-go/core/metrics"

// Metrics instruments command dispatch.
type Metrics interface {
	DispatchDuration(command string) metrics.Timer
	Dispatched(command string, success bool)
}

type nopMetrics struct{}

func (nopMetrics) DispatchDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) Dispatched(string, bool)               {}

func NopMetrics() Metrics { return nopMetrics{} }
