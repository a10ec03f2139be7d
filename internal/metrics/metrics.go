package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	registry *prometheus.Registry

	// Ingestion metrics
	BatchesInserted *prometheus.CounterVec
	RowsInserted    *prometheus.CounterVec
	BatchFailures   *prometheus.CounterVec
	CycleDuration   prometheus.Histogram

	// Query metrics
	KPIQueries *prometheus.CounterVec
	KPILatency *prometheus.HistogramVec
	CacheHits  *prometheus.CounterVec

	// Enrichment metrics
	EnrichedRows   prometheus.Counter
	EnrichFailures prometheus.Counter
}

// New creates all metrics on a private registry so that several instances
// (one per test, for example) never collide.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		BatchesInserted: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingest_batches_total",
				Help:      "Batches committed by the ingestion loop",
			},
			[]string{"kind"},
		),
		RowsInserted: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingest_rows_total",
				Help:      "Event rows committed by the ingestion loop",
			},
			[]string{"kind"},
		),
		BatchFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingest_batch_failures_total",
				Help:      "Batches skipped because the store rejected them",
			},
			[]string{"kind"},
		),
		CycleDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ingest_cycle_seconds",
				Help:      "Duration of one ingestion cycle",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),

		KPIQueries: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "kpi_queries_total",
				Help:      "KPI evaluations by outcome",
			},
			[]string{"kpi", "status"},
		),
		KPILatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "kpi_latency_seconds",
				Help:      "KPI evaluation latency",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"kpi"},
		),
		CacheHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "kpi_cache_lookups_total",
				Help:      "KPI cache lookups by result",
			},
			[]string{"result"},
		),

		EnrichedRows: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrich_rows_total",
			Help:      "Visits whose country was backfilled",
		}),
		EnrichFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrich_failures_total",
			Help:      "Visits skipped by the enrichment pass",
		}),
	}
}

// ObserveKPI records one KPI evaluation.
func (m *Metrics) ObserveKPI(name string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.KPIQueries.WithLabelValues(name, status).Inc()
	m.KPILatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
