// Package metrics provides Prometheus instrumentation for the churn scoring service.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "churnsight",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "churnsight",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// PredictionsTotal counts scored requests by model, risk tier, and decision.
	PredictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "churnsight",
			Name:      "predictions_total",
			Help:      "Total predictions produced by model, risk tier, and decision.",
		},
		[]string{"model", "risk_tier", "decision"},
	)

	// ChurnProbability observes the probability distribution per model.
	ChurnProbability = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "churnsight",
			Name:      "churn_probability",
			Help:      "Distribution of churn probabilities per model.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		},
		[]string{"model"},
	)

	// DefaultedFieldsTotal counts schema columns filled with defaults because the
	// inbound profile was missing or malformed for that column. A client that
	// always omits a field shows up here long before anyone notices skewed scores.
	DefaultedFieldsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "churnsight",
			Name:      "defaulted_fields_total",
			Help:      "Schema columns defaulted during normalization, by column name.",
		},
		[]string{"field"},
	)

	// AttributionCheckFailures counts reconstruction-invariant violations.
	// These indicate an internal defect, never a client error.
	AttributionCheckFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "churnsight",
			Name:      "attribution_check_failures_total",
			Help:      "Attribution reconstruction invariant violations by model.",
		},
		[]string{"model"},
	)

	// RecommendationItemsTotal counts emitted recommendation items by category.
	RecommendationItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "churnsight",
			Name:      "recommendation_items_total",
			Help:      "Recommendation bundle items emitted, by rule category.",
		},
		[]string{"category"},
	)

	// PipelineDuration observes full pipeline latency per stage.
	PipelineDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "churnsight",
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Duration of each pipeline stage in seconds.",
			Buckets:   []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
		},
		[]string{"stage"},
	)

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "churnsight",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "churnsight", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "churnsight", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "churnsight", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "churnsight", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		PredictionsTotal,
		ChurnProbability,
		DefaultedFieldsTotal,
		AttributionCheckFailures,
		RecommendationItemsTotal,
		PipelineDuration,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// ObserveStage records a pipeline stage duration.
func ObserveStage(stage string, start time.Time) {
	PipelineDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
