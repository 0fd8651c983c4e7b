// Package observability holds Prometheus metrics and OpenTelemetry tracing
// setup shared by the binaries.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the importer.
type Metrics struct {
	// Registry owns these metrics and backs Handler.
	Registry *prometheus.Registry

	importDuration       *prometheus.HistogramVec
	importedTransactions *prometheus.CounterVec
	externalErrors       *prometheus.CounterVec
	parseOutcomes        *prometheus.CounterVec
	jobs                 *prometheus.CounterVec
	requestDuration      *prometheus.HistogramVec
}

// NewMetrics registers the application metrics in a private registry, so it
// can be called more than once in tests.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		importDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bill_importer_import_duration_seconds",
				Help:    "Duration of document imports by source and outcome.",
				Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"source", "outcome"},
		),
		importedTransactions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bill_importer_imported_transactions_total",
				Help: "Total transactions persisted by imports.",
			},
			[]string{"source"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bill_importer_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		parseOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bill_importer_model_parse_outcomes_total",
				Help: "Model replies by how they were interpreted.",
			},
			[]string{"outcome"},
		),
		jobs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bill_importer_jobs_total",
				Help: "Import jobs by final status.",
			},
			[]string{"status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bill_importer_http_request_duration_seconds",
				Help:    "Duration of HTTP requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
	}
}

// ObserveImport records one finished import.
func (m *Metrics) ObserveImport(source, outcome string, elapsed time.Duration) {
	m.importDuration.WithLabelValues(source, outcome).Observe(elapsed.Seconds())
}

// AddImportedTransactions counts persisted transactions.
func (m *Metrics) AddImportedTransactions(source string, n int) {
	m.importedTransactions.WithLabelValues(source).Add(float64(n))
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrParseOutcome counts a model reply outcome.
func (m *Metrics) IncrParseOutcome(outcome string) {
	m.parseOutcomes.WithLabelValues(outcome).Inc()
}

// IncrJob counts a job reaching a final status.
func (m *Metrics) IncrJob(status string) {
	m.jobs.WithLabelValues(status).Inc()
}

// ObserveRequest records an HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	m.requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
