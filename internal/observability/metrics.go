package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges shared by the
// ingest worker and the API service. Each binary only touches its own subset.
type Metrics struct {
	MessagesConsumed prometheus.Counter
	ParseErrors      prometheus.Counter
	SamplesRejected  *prometheus.CounterVec // label: kind={telemetry,speedtest}
	SamplesWritten   *prometheus.CounterVec // label: kind={telemetry,speedtest}
	WriteFailures    prometheus.Counter
	PipelineRunning  prometheus.Gauge

	// Batch processing metrics.
	BatchSize          prometheus.Histogram
	BatchWriteDuration prometheus.Histogram

	// Enrichment metrics.
	RegistryLookupDuration prometheus.Histogram
	EnrichmentSamples      *prometheus.CounterVec // label: outcome={matched,unmatched}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.MessagesConsumed,
		m.ParseErrors,
		m.SamplesRejected,
		m.SamplesWritten,
		m.WriteFailures,
		m.PipelineRunning,
		m.BatchSize,
		m.BatchWriteDuration,
		m.RegistryLookupDuration,
		m.EnrichmentSamples,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		MessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "signalmap",
			Name:      "messages_consumed_total",
			Help:      "Total messages read from the measurement topic.",
		}),
		ParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "signalmap",
			Name:      "parse_errors_total",
			Help:      "Total messages dropped because the payload was not valid JSON.",
		}),
		SamplesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signalmap",
			Name:      "samples_rejected_total",
			Help:      "Records dropped by normalization, by kind.",
		}, []string{"kind"}),
		SamplesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signalmap",
			Name:      "samples_written_total",
			Help:      "Records persisted to the store, by kind.",
		}, []string{"kind"}),
		WriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "signalmap",
			Name:      "write_failures_total",
			Help:      "Batch write invocations that rolled back.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "signalmap",
			Name:      "pipeline_running",
			Help:      "1 when the ingest pipeline is active, 0 when shut down.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "signalmap",
			Name:      "batch_size",
			Help:      "Number of messages per batch extracted from the queue.",
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50, 75, 100},
		}),
		BatchWriteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "signalmap",
			Name:      "batch_write_duration_seconds",
			Help:      "Duration of a complete extract-normalize-write cycle.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		RegistryLookupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "signalmap",
			Name:      "registry_lookup_duration_seconds",
			Help:      "Duration of the batched BTS registry candidate lookup.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5},
		}),
		EnrichmentSamples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signalmap",
			Name:      "enrichment_samples_total",
			Help:      "Samples processed by the enrichment path, by match outcome.",
		}, []string{"outcome"}),
	}
}
