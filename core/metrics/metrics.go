// Package metrics holds the instrumentation primitives the core packages report through.
// Backends implement them; the adapters/prometheus package is the one shipped here.
package metrics

import "time"

// Counter only goes up.
type Counter interface {
	Inc()
	Add(delta float64)
}

// Gauge goes up and down.
type Gauge interface {
	Set(value float64)
	Inc()
	Dec()
	Add(delta float64)
}

// Histogram samples observations into buckets.
type Histogram interface {
	Observe(value float64)
}

// Timer measures one operation. Call ObserveDuration when it completes, typically
//
//	defer m.CommitDuration().ObserveDuration()
type Timer interface {
	ObserveDuration()
}

type histogramTimer struct {
	h     Histogram
	start time.Time
}

func (t histogramTimer) ObserveDuration() { t.h.Observe(time.Since(t.start).Seconds()) }

// NewTimer starts a Timer observing the elapsed seconds into h.
func NewTimer(h Histogram) Timer { return histogramTimer{h: h, start: time.Now()} }
