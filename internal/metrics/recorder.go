// Package metrics records invocation and per-node measurements.
package metrics

import "time"

// Recorder receives observability hooks from the engine. Every method must be
// safe to call on a nil *PrometheusRecorder.
type Recorder interface {
	ObserveStageDuration(stage string, d time.Duration)
	ObserveRunDuration(command string, d time.Duration)
	ObserveNodeDuration(kind, status string, d time.Duration)
	IncNodeResult(kind, status string)
	IncRetry(uniqueID string)
	AddDeferred(n int)
}

// NoopRecorder is the default when metrics are not configured.
type NoopRecorder struct{}

func (NoopRecorder) ObserveStageDuration(string, time.Duration)        {}
func (NoopRecorder) ObserveRunDuration(string, time.Duration)          {}
func (NoopRecorder) ObserveNodeDuration(string, string, time.Duration) {}
func (NoopRecorder) IncNodeResult(string, string)                      {}
func (NoopRecorder) IncRetry(string)                                   {}
func (NoopRecorder) AddDeferred(int)                                   {}
