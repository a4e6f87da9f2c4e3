// Package metrics provides a small, backend-agnostic abstraction for
// recording operational metrics from the export and load flows.
//
// The package is intentionally minimal and opinionated:
//
//   - It exposes a narrow interface (Backend) focused on counters and timing
//     data (histograms).
//   - It provides a global, pluggable backend that defaults to a no-op
//     implementation, so metrics are always safe to call even when no real
//     backend is configured.
//   - Concrete metric systems (Prometheus Pushgateway, Datadog statsd) live
//     in subpackages and are selected at program start.
//
// The primary use case is instrumentation of the pipeline stages (row
// source, writer, loader) without coupling the core logic to a specific
// metrics system.
package metrics

import "time"

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it.
	Flush() error
}

// nopBackend is used by default so metrics are optional.
type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the existing one.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// IncCounter delegates to the current backend.
func IncCounter(name string, delta float64, labels Labels) {
	backend.IncCounter(name, delta, labels)
}

// ObserveHistogram delegates to the current backend.
func ObserveHistogram(name string, value float64, labels Labels) {
	backend.ObserveHistogram(name, value, labels)
}

// Flush delegates to the current backend.
func Flush() error { return backend.Flush() }

// Canonical metric names used across the pipeline.
const (
	RowsRead     = "csvflow_rows_read_total"
	RowsWritten  = "csvflow_rows_written_total"
	RowsFailed   = "csvflow_rows_failed_total"
	BytesWritten = "csvflow_bytes_written_total"
	BatchSeconds = "csvflow_batch_seconds"
)

// RecordStep measures one pipeline step: latency plus a success/failure
// counter, labelled by step name.
func RecordStep(step string, start time.Time, err error) {
	labels := Labels{"step": step, "ok": "true"}
	if err != nil {
		labels["ok"] = "false"
	}
	ObserveHistogram("csvflow_step_seconds", time.Since(start).Seconds(), labels)
	IncCounter("csvflow_step_total", 1, labels)
}
