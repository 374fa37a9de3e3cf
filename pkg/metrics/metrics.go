// Package metrics provides Prometheus instrumentation for sqlstream.
//
// All collectors live on a package-level registry rather than the default
// one, so importing the package never clashes with other instrumentation in
// the same binary.
//
// # Basic Usage
//
//	metrics.RowsExtracted.WithLabelValues("orders").Add(float64(n))
//	metrics.Cycles.WithLabelValues(metrics.CycleSkipped).Inc()
//
//	http.Handle("/metrics", metrics.Handler())
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cycle outcomes
const (
	CycleCompleted = "completed"
	CycleSkipped   = "skipped"
)

// Delivery outcomes
const (
	DeliveryDelivered = "delivered"
	DeliveryRejected  = "rejected"
	DeliveryFailed    = "failed"
)

// Registry holds every sqlstream collector
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

var (
	// RowsExtracted counts rows emitted per table
	RowsExtracted = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlstream_rows_extracted_total",
			Help: "Rows read from the source database and emitted downstream",
		},
		[]string{"table"},
	)

	// RowsSkipped counts rows that could not be converted into records
	RowsSkipped = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlstream_rows_skipped_total",
			Help: "Rows dropped because they could not be converted",
		},
		[]string{"table"},
	)

	// Cycles counts polling cycles by outcome
	Cycles = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlstream_cycles_total",
			Help: "Polling cycles by outcome",
		},
		[]string{"outcome"},
	)

	// TableErrors counts per-table extraction failures
	TableErrors = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlstream_table_errors_total",
			Help: "Extraction failures per table",
		},
		[]string{"table"},
	)

	// ActiveTables is the number of tables being polled
	ActiveTables = factory.NewGauge(prometheus.GaugeOpts{
		Name: "sqlstream_active_tables",
		Help: "Tables in the active polling set",
	})

	// ExtractionDuration observes the time spent per table query
	ExtractionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlstream_extraction_duration_seconds",
			Help:    "Time spent extracting one table in one cycle",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"table"},
	)

	// WatermarkPersists counts watermark writes by result
	WatermarkPersists = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlstream_watermark_persists_total",
			Help: "Watermark persist operations by result",
		},
		[]string{"result"},
	)

	// RecordsDelivered counts sink records by outcome
	RecordsDelivered = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlstream_records_total",
			Help: "Records handed to the stream by outcome",
		},
		[]string{"stream", "outcome"},
	)

	// RecordsRetried counts records re-sent after a partial failure
	RecordsRetried = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlstream_records_retried_total",
			Help: "Records re-sent after the stream rejected them",
		},
		[]string{"stream"},
	)

	// PutLatency observes PutRecords request latency
	PutLatency = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlstream_put_records_duration_seconds",
			Help:    "PutRecords request latency",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"stream"},
	)
)

// Handler serves the registry in the Prometheus exposition format
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Timer measures an operation's duration
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time on o and returns it
func (t *Timer) ObserveDuration(o prometheus.Observer) time.Duration {
	d := time.Since(t.start)
	o.Observe(d.Seconds())
	return d
}
