package handlers

import (
	"net/http"

	"github.com/aethrix-hub/assistant/internal/middleware"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// NewRouter wires the public and admin routes. metrics may be nil.
func NewRouter(chat *ChatHandler, admin *AdminHandler, metrics *middleware.Metrics, logger *logrus.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.WithRequestID, middleware.Logging(logger, metrics))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	router.HandleFunc("/api/chat/message", chat.HandleMessage).Methods(http.MethodPost)
	router.HandleFunc("/api/chat/history", chat.GetHistory).Methods(http.MethodGet)
	router.HandleFunc("/api/chat/history", chat.ClearHistory).Methods(http.MethodDelete)
	router.HandleFunc("/api/assistant/chat", chat.HandleLegacy).Methods(http.MethodPost)

	admin.Register(router)
	return router
}
