package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Chat metrics
	chatTurns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_chat_turns_total",
		Help: "Total number of chat turns by outcome",
	}, []string{"outcome"})

	modelSelections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_model_selections_total",
		Help: "Total number of model selections",
	}, []string{"model"})

	// Upstream metrics
	aiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "assistant_upstream_request_duration_seconds",
		Help:    "Duration of upstream chat completion requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"model", "status"})

	aiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_upstream_requests_total",
		Help: "Total number of upstream chat completion requests",
	}, []string{"model", "status"})

	// Rate limit metrics
	rateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_rate_limit_exceeded_total",
		Help: "Total number of rate limit exceeded events",
	}, []string{"route"})

	// Storage metrics
	storageOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_storage_operations_total",
		Help: "Total number of transcript storage operations",
	}, []string{"operation", "status"})

	// HTTP metrics
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"route", "method", "code"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "assistant_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)

// Metrics provides methods to record metrics
type Metrics struct{}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordChatTurn records a finished chat turn
func (m *Metrics) RecordChatTurn(outcome string) {
	chatTurns.WithLabelValues(outcome).Inc()
}

// RecordModelSelection records the model chosen for a turn
func (m *Metrics) RecordModelSelection(model string) {
	modelSelections.WithLabelValues(model).Inc()
}

// RecordAIRequest records an upstream request
func (m *Metrics) RecordAIRequest(model, status string, duration time.Duration) {
	aiRequestDuration.WithLabelValues(model, status).Observe(duration.Seconds())
	aiRequestsTotal.WithLabelValues(model, status).Inc()
}

// RecordRateLimitExceeded records a rate limit exceeded event
func (m *Metrics) RecordRateLimitExceeded(route string) {
	rateLimitExceeded.WithLabelValues(route).Inc()
}

// RecordStorageOperation records a transcript storage operation
func (m *Metrics) RecordStorageOperation(operation string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	storageOperations.WithLabelValues(operation, status).Inc()
}

// RecordHTTPRequest records a served HTTP request
func (m *Metrics) RecordHTTPRequest(route, method string, code int, duration time.Duration) {
	httpRequests.WithLabelValues(route, method, fmt.Sprint(code)).Inc()
	httpDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// NewMetricsServer builds the metrics HTTP server
func NewMetricsServer(port int, path string) *http.Server {
	router := mux.NewRouter()
	router.Handle(path, promhttp.Handler())

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}
