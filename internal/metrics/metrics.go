// Package metrics records pipeline counters and stage durations behind a
// small backend interface. The default backend is a no-op, so callers never
// need to check whether metrics are configured.
package metrics

import (
	"sync"
	"time"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend receives metric updates.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	SetGauge(name string, value float64, labels Labels)
	// Flush pushes buffered metrics, if the backend needs it.
	Flush() error
}

const (
	StageTotal      = "marquee_stage_total"
	StageDuration   = "marquee_stage_duration_seconds"
	RowsTotal       = "marquee_rows_total"
	BatchesTotal    = "marquee_load_batches_total"
	TableRows       = "marquee_table_rows"
	QualityFailures = "marquee_quality_failures"
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) SetGauge(string, float64, Labels)         {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b; nil restores the no-op backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush delegates to the current backend.
func Flush() error {
	return current().Flush()
}

// RecordStage counts one stage attempt and its duration.
func RecordStage(stage string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{"stage": stage, "status": status}
	b := current()
	b.IncCounter(StageTotal, 1, lbls)
	b.ObserveHistogram(StageDuration, d.Seconds(), lbls)
}

// RecordRows adds delta rows written to table.
func RecordRows(table string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(RowsTotal, float64(delta), Labels{"table": table})
}

// RecordBatch counts one bulk-insert chunk for table.
func RecordBatch(table string) {
	current().IncCounter(BatchesTotal, 1, Labels{"table": table})
}

// SetTableRows records the current size of a relation.
func SetTableRows(table string, n int64) {
	current().SetGauge(TableRows, float64(n), Labels{"table": table})
}

// SetQualityFailures records the number of failed quality checks.
func SetQualityFailures(n int) {
	current().SetGauge(QualityFailures, float64(n), nil)
}
