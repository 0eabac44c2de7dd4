package handlers

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/sirupsen/logrus"
)

// maxBodyBytes bounds every JSON request body
const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, logger *logrus.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithError(err).Warn("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, logger *logrus.Logger, status int, message string) {
	writeJSON(w, logger, status, errorResponse{Error: message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

// clientAddr is the rate limit key of anonymous visitors
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
