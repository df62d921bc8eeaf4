package prometheus

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/uow-go/core/command"
	"github.com/codewandler/uow-go/core/metrics"
)

type CommandMetrics struct {
	duration   *prometheus.HistogramVec
	dispatched *prometheus.CounterVec
}

func NewCommandMetrics(reg prometheus.Registerer) *CommandMetrics {
	m := &CommandMetrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Command dispatch latency in seconds, including the commit",
			Buckets:   defaultBuckets,
		}, []string{"command"}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Total number of dispatched commands",
		}, []string{"command", "success"}),
	}
	reg.MustRegister(m.duration, m.dispatched)
	return m
}

func (m *CommandMetrics) DispatchDuration(cmd string) metrics.Timer {
	return newTimer(m.duration.WithLabelValues(cmd))
}

func (m *CommandMetrics) Dispatched(cmd string, success bool) {
	m.dispatched.WithLabelValues(cmd, strconv.FormatBool(success)).Inc()
}

var _ command.Metrics = (*CommandMetrics)(nil)
