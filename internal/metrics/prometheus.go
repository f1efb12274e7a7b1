package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var IngestOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kb_ingest_outcomes_total",
	Help: "Per-document ingestion outcomes labelled by status.",
}, []string{"status"})

var stageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "kb_ingest_stage_duration_seconds",
	Help:    "Time spent in each ingestion stage.",
	Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10, 30, 60, 180},
}, []string{"stage"})

var OCRPagesTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "kb_ocr_pages_total",
	Help: "Pages whose text was replaced by OCR.",
})

var OCRPageSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "kb_ocr_page_duration_seconds",
	Help:    "Rasterize plus OCR time per page.",
	Buckets: []float64{.5, 1, 2, 5, 10, 20, 40},
})

var inFlightDocuments = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "kb_ingest_in_flight_documents",
	Help: "Documents currently being ingested.",
})

var retrievalLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "kb_retrieval_duration_seconds",
	Help:    "End to end hybrid retrieval latency.",
	Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2, 5},
})

var RetrievalDegraded = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kb_retrieval_degraded_total",
	Help: "Retrievals answered from full-text search only, by reason.",
}, []string{"reason"})

var dependencyLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "kb_dependency_latency_seconds",
	Help:    "Latency of external service calls.",
	Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10},
}, []string{"service"})

var QueryCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kb_query_cache_lookups_total",
	Help: "Query embedding cache lookups by result.",
}, []string{"result"})

var HttpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kb_http_requests_total",
	Help: "Total number of requests labelled by route and status",
}, []string{"route", "status"})

func CaptureStage(stage string, elapsed time.Duration) {
	stageLatency.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func CaptureDependency(service string, elapsed time.Duration) {
	dependencyLatency.WithLabelValues(service).Observe(elapsed.Seconds())
}

func CaptureRetrieval(elapsed time.Duration) {
	retrievalLatency.Observe(elapsed.Seconds())
}

func IncrementInFlight() { inFlightDocuments.Inc() }
func DecrementInFlight() { inFlightDocuments.Dec() }

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Instrument counts requests by a fixed route label and response status.
func Instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		HttpRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}
