// Package metrics provides a small, backend-agnostic abstraction for recording
// operational metrics from the pipeline.
//
//   - Backend is a narrow interface over counters, timings and gauges.
//   - A global backend defaults to a no-op, so instrumentation is always safe
//     to call when no metrics system is configured.
//   - Concrete systems (Prometheus Pushgateway, DogStatsD) live in
//     subpackages and are installed with SetBackend.
package metrics

import (
	"sync"
	"time"
)

// Metric names.
const (
	StepTotal       = "redfinetl_step_total"
	StepDuration    = "redfinetl_step_duration_seconds"
	RowsTotal       = "redfinetl_rows_total"
	UploadedBytes   = "redfinetl_uploaded_bytes_total"
	LastSuccessTime = "redfinetl_last_success_timestamp_seconds"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// SetGauge sets a gauge to value.
	SetGauge(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) SetGauge(string, float64, Labels)         {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// SetBackend installs a concrete backend. Passing nil keeps the existing backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

// Flush delegates to the current backend.
func Flush() error {
	return current().Flush()
}

// RecordStep counts one execution of a pipeline step and observes its
// duration, labelled with success or failure.
func RecordStep(job, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{
		"job":    job,
		"step":   step,
		"status": status,
	}
	b := current()
	b.IncCounter(StepTotal, 1, lbls)
	b.ObserveHistogram(StepDuration, d.Seconds(), lbls)
}

// RecordRows increments the row counter for kind. Kinds used by the pipeline:
//   - "raw"     rows fetched from the source
//   - "clean"   rows written to the transformed artifact
//   - "dropped" rows removed by the cleaning chain
func RecordRows(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(RowsTotal, float64(delta), Labels{
		"job":  job,
		"kind": kind,
	})
}

// RecordUpload counts bytes uploaded to a store ("landing" or "transformed").
func RecordUpload(job, store string, bytes int64) {
	if bytes <= 0 {
		return
	}
	current().IncCounter(UploadedBytes, float64(bytes), Labels{
		"job":   job,
		"store": store,
	})
}

// RecordSuccess sets the last-success gauge for job to t.
func RecordSuccess(job string, t time.Time) {
	current().SetGauge(LastSuccessTime, float64(t.Unix()), Labels{"job": job})
}
