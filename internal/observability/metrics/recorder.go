// Package metrics provides custom Prometheus metrics for the storefront client.
package metrics

// Recorder defines a minimal interface for recording metrics.
// Components depend on this rather than on StorefrontMetrics so tests can
// pass a TestRecorder and production can pass nil.
type Recorder interface {
	// RecordOperation records an operation with its outcome, e.g.
	// ("view_track", "cached").
	RecordOperation(operation, status string)

	// RecordDuration records the duration of an operation in seconds.
	RecordDuration(operation string, seconds float64)

	// RecordError records an error occurrence with its category.
	RecordError(operation, errorType string)
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) RecordOperation(string, string) {}
func (NopRecorder) RecordDuration(string, float64) {}
func (NopRecorder) RecordError(string, string)     {}

// OrNop returns r, or a NopRecorder when r is nil.
func OrNop(r Recorder) Recorder {
	if r == nil {
		return NopRecorder{}
	}
	return r
}
