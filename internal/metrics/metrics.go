package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	filesDecoded      *prometheus.CounterVec
	pagesHighlighted  prometheus.Counter
	annotateFailures  prometheus.Counter
	auditRuns         *prometheus.CounterVec
	auditDuration     prometheus.Histogram
	reportTokensFound prometheus.Histogram
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "docaudit",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests processed.",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "docaudit",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		filesDecoded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "docaudit",
				Subsystem: "ingest",
				Name:      "files_decoded_total",
				Help:      "Uploaded files decoded, by file kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		pagesHighlighted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "docaudit",
				Subsystem: "annotate",
				Name:      "pages_highlighted_total",
				Help:      "PDF pages rendered with at least one highlighted token.",
			},
		),
		annotateFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "docaudit",
				Subsystem: "annotate",
				Name:      "failures_total",
				Help:      "PDFs that could not be annotated.",
			},
		),
		auditRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "docaudit",
				Subsystem: "audit",
				Name:      "runs_total",
				Help:      "Audit runs by final status.",
			},
			[]string{"status"},
		),
		auditDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "docaudit",
				Subsystem: "audit",
				Name:      "report_stream_seconds",
				Help:      "Time spent streaming an audit report from the LLM.",
				Buckets:   []float64{1, 5, 10, 20, 40, 60, 120, 240},
			},
		),
		reportTokensFound: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "docaudit",
				Subsystem: "audit",
				Name:      "error_tokens",
				Help:      "Flagged error tokens per audit report.",
				Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
			},
		),
	}

	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.filesDecoded,
		m.pagesHighlighted,
		m.annotateFailures,
		m.auditRuns,
		m.auditDuration,
		m.reportTokensFound,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveDecode(kind, outcome string) {
	if m == nil {
		return
	}
	m.filesDecoded.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObserveHighlights(pages int) {
	if m == nil {
		return
	}
	m.pagesHighlighted.Add(float64(pages))
}

func (m *Metrics) ObserveAnnotateFailure() {
	if m == nil {
		return
	}
	m.annotateFailures.Inc()
}

func (m *Metrics) ObserveAudit(status string, streamed time.Duration, tokens int) {
	if m == nil {
		return
	}
	m.auditRuns.WithLabelValues(status).Inc()
	if streamed > 0 {
		m.auditDuration.Observe(streamed.Seconds())
	}
	m.reportTokensFound.Observe(float64(tokens))
}
