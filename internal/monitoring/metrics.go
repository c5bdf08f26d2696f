package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Ingestion metrics
	DocumentsProcessed  *prometheus.CounterVec
	ChunksEmbedded      prometheus.Counter
	IngestBatchDuration prometheus.Histogram
	IngestContinuations prometheus.Counter
	CsvRowsStored       prometheus.Counter

	// Chat metrics
	ChatTurnsTotal   *prometheus.CounterVec
	ChatTurnDuration prometheus.Histogram
	ActionsTriggered *prometheus.CounterVec
	ToolCallsTotal   *prometheus.CounterVec
	FallbackSearches prometheus.Counter

	// Provider metrics
	ProviderLatency *prometheus.HistogramVec
	ProviderErrors  *prometheus.CounterVec

	// Quota metrics
	QuotaRejections prometheus.Counter

	// Vector index metrics
	VectorUpserts prometheus.Counter
	VectorQueries *prometheus.CounterVec
}

var metrics *Metrics

// Init initializes all Prometheus metrics
func Init() *Metrics {
	if metrics != nil {
		return metrics
	}

	metrics = &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),

		DocumentsProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_documents_processed_total",
				Help: "Documents reaching a terminal embedding status",
			},
			[]string{"status"},
		),
		ChunksEmbedded: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_chunks_embedded_total",
				Help: "Total chunks embedded and stored",
			},
		),
		IngestBatchDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ingest_batch_duration_seconds",
				Help:    "Duration of one embed-and-store batch",
				Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		IngestContinuations: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_continuations_total",
				Help: "Batch-continue re-invocations enqueued",
			},
		),
		CsvRowsStored: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_csv_rows_stored_total",
				Help: "CSV data rows stored via the structured path",
			},
		),

		ChatTurnsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_turns_total",
				Help: "Chat turns by outcome",
			},
			[]string{"outcome"},
		),
		ChatTurnDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chat_turn_duration_seconds",
				Help:    "End-to-end chat turn duration",
				Buckets: []float64{.5, 1, 2, 5, 10, 20, 30, 60},
			},
		),
		ActionsTriggered: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_actions_triggered_total",
				Help: "Keyword-triggered actions by result",
			},
			[]string{"result"},
		),
		ToolCallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_tool_calls_total",
				Help: "Model-initiated tool calls by tool and result",
			},
			[]string{"tool", "result"},
		),
		FallbackSearches: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "chat_fallback_searches_total",
				Help: "Relational keyword fallback searches performed",
			},
		),

		ProviderLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "provider_latency_seconds",
				Help:    "External provider response latency",
				Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"provider", "operation"},
		),
		ProviderErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provider_errors_total",
				Help: "External provider errors",
			},
			[]string{"provider", "operation"},
		),

		QuotaRejections: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "quota_rejections_total",
				Help: "Chat turns rejected because the owner's quota was exhausted",
			},
		),

		VectorUpserts: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "vector_upserts_total",
				Help: "Vectors upserted to the index",
			},
		),
		VectorQueries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vector_queries_total",
				Help: "Vector index queries by result",
			},
			[]string{"result"},
		),
	}

	return metrics
}

// Get returns the initialized metrics, initializing them if needed.
func Get() *Metrics {
	return Init()
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// MetricsMiddleware records HTTP request metrics for gin
func MetricsMiddleware() gin.HandlerFunc {
	m := Init()
	return func(c *gin.Context) {
		start := time.Now()
		m.HTTPRequestsInFlight.Inc()

		c.Next()

		m.HTTPRequestsInFlight.Dec()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			path,
			strconv.Itoa(c.Writer.Status()),
		).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).
			Observe(time.Since(start).Seconds())
	}
}
