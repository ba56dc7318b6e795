package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "nutriscan",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nutriscan",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nutriscan",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)

	predictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nutriscan",
			Subsystem: "predictor",
			Name:      "predictions_total",
			Help:      "Total number of prediction attempts by outcome.",
		},
		[]string{"outcome"},
	)

	predictionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nutriscan",
			Subsystem: "predictor",
			Name:      "prediction_duration_seconds",
			Help:      "Duration of prediction attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"outcome"},
	)

	modelState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "nutriscan",
			Subsystem: "predictor",
			Name:      "model_state",
			Help:      "1 for the current classifier lifecycle state, 0 otherwise.",
		},
		[]string{"state"},
	)

	recordsWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "nutriscan",
			Subsystem: "ledger",
			Name:      "records_total",
			Help:      "Total number of prediction records persisted.",
		},
	)
)

var modelStates = []string{"unloaded", "loading", "ready", "failed"}

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		predictions,
		predictionDuration,
		modelState,
		recordsWritten,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	SetModelState("unloaded")
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency for gin routes.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}
		start := time.Now()
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := strings.ToUpper(c.Request.Method)
		httpRequests.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

// RecordPrediction records the outcome and latency of one prediction.
func RecordPrediction(outcome string, duration time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}
	if duration <= 0 {
		duration = time.Microsecond
	}
	predictions.WithLabelValues(outcome).Inc()
	predictionDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// SetModelState marks state as the current classifier state.
func SetModelState(state string) {
	for _, s := range modelStates {
		v := 0.0
		if s == state {
			v = 1
		}
		modelState.WithLabelValues(s).Set(v)
	}
}

// RecordLedgerWrite counts a persisted prediction record.
func RecordLedgerWrite() {
	recordsWritten.Inc()
}
