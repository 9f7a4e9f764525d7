// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package. A batch run has no scrape window, so the registry is
// pushed once at the end of the run.
package prompush

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/marquee/marquee/internal/metrics"
)

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string
	jobName    string
	reg        *prometheus.Registry

	stageCounter  *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	rowCounter    *prometheus.CounterVec
	batchCounter  *prometheus.CounterVec
	tableRows     *prometheus.GaugeVec
	qualityFailed prometheus.Gauge
}

// NewBackend builds a backend pushing to gatewayURL under jobName.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "marquee"
	}

	b := &Backend{
		gatewayURL: gatewayURL,
		jobName:    jobName,
		reg:        prometheus.NewRegistry(),
		stageCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.StageTotal,
			Help: "Pipeline stage attempts by stage and status.",
		}, []string{"stage", "status"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metrics.StageDuration,
			Help:    "Pipeline stage duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"stage", "status"}),
		rowCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RowsTotal,
			Help: "Rows written per relation.",
		}, []string{"table"}),
		batchCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.BatchesTotal,
			Help: "Bulk-insert chunks flushed per staging relation.",
		}, []string{"table"}),
		tableRows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metrics.TableRows,
			Help: "Row count of each relation at the end of its stage.",
		}, []string{"table"}),
		qualityFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metrics.QualityFailures,
			Help: "Failed quality checks in the last run.",
		}),
	}

	for _, c := range []prometheus.Collector{
		b.stageCounter, b.stageDuration, b.rowCounter, b.batchCounter, b.tableRows, b.qualityFailed,
	} {
		if err := b.reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register collector: %w", err)
		}
	}
	return b, nil
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case metrics.StageTotal:
		b.stageCounter.WithLabelValues(labels["stage"], labels["status"]).Add(delta)
	case metrics.RowsTotal:
		b.rowCounter.WithLabelValues(labels["table"]).Add(delta)
	case metrics.BatchesTotal:
		b.batchCounter.WithLabelValues(labels["table"]).Add(delta)
	}
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != metrics.StageDuration {
		return
	}
	b.stageDuration.WithLabelValues(labels["stage"], labels["status"]).Observe(value)
}

func (b *Backend) SetGauge(name string, value float64, labels metrics.Labels) {
	switch name {
	case metrics.TableRows:
		b.tableRows.WithLabelValues(labels["table"]).Set(value)
	case metrics.QualityFailures:
		b.qualityFailed.Set(value)
	}
}

// Gatherer exposes the registry for tests and local inspection.
func (b *Backend) Gatherer() prometheus.Gatherer {
	return b.reg
}

// Flush pushes the registry to the Pushgateway, replacing the job's group.
func (b *Backend) Flush() error {
	if err := push.New(b.gatewayURL, b.jobName).Gatherer(b.reg).Push(); err != nil {
		return fmt.Errorf("prompush: push to %s: %w", b.gatewayURL, err)
	}
	return nil
}
