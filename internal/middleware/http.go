package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// RequestIDHeader carries the request id in and out
const RequestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// RequestID reads it from the request context, "" when absent
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// WithRequestID assigns every request an id, reusing a client supplied one
func WithRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Logging logs every request and records HTTP metrics. metrics may be nil.
func Logging(logger *logrus.Logger, metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			duration := time.Since(start)

			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}

			logger.WithFields(logrus.Fields{
				"request_id": RequestID(r.Context()),
				"method":     r.Method,
				"route":      route,
				"status":     rec.status,
				"duration":   duration,
				"remote":     r.RemoteAddr,
			}).Info("HTTP request")

			if metrics != nil {
				metrics.RecordHTTPRequest(route, r.Method, rec.status, duration)
			}
		})
	}
}
