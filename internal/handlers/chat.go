package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/aethrix-hub/assistant/internal/i18n"
	"github.com/aethrix-hub/assistant/internal/middleware"
	"github.com/aethrix-hub/assistant/internal/models"
	"github.com/aethrix-hub/assistant/internal/services/auth"
	"github.com/aethrix-hub/assistant/internal/services/chat"
	"github.com/aethrix-hub/assistant/internal/services/storage"
	"github.com/aethrix-hub/assistant/pkg/logger"
	"github.com/sirupsen/logrus"
)

// SettingsSource provides the current assistant settings
type SettingsSource interface {
	Current(ctx context.Context) (models.AiSettings, error)
}

// ChatHandler serves the visitor chat API
type ChatHandler struct {
	relay       *chat.Relay
	settings    SettingsSource
	sessions    auth.SessionResolver
	transcripts storage.TranscriptStore
	rateLimiter middleware.RateLimiter
	metrics     *middleware.Metrics
	localizer   *i18n.Localizer
	cookieName  string
	lang        string
	logger      *logrus.Logger
}

// NewChatHandler creates a new chat handler. metrics may be nil.
func NewChatHandler(
	relay *chat.Relay,
	settings SettingsSource,
	sessions auth.SessionResolver,
	transcripts storage.TranscriptStore,
	rateLimiter middleware.RateLimiter,
	metrics *middleware.Metrics,
	localizer *i18n.Localizer,
	cookieName string,
	lang string,
	logger *logrus.Logger,
) *ChatHandler {
	return &ChatHandler{
		relay:       relay,
		settings:    settings,
		sessions:    sessions,
		transcripts: transcripts,
		rateLimiter: rateLimiter,
		metrics:     metrics,
		localizer:   localizer,
		cookieName:  cookieName,
		lang:        lang,
		logger:      logger,
	}
}

type messageRequest struct {
	Message string `json:"message"`
}

type messageResponse struct {
	Success          bool                `json:"success"`
	Reply            string              `json:"reply"`
	UserMessage      *models.ChatMessage `json:"userMessage,omitempty"`
	AssistantMessage *models.ChatMessage `json:"assistantMessage,omitempty"`
}

type historyResponse struct {
	Success   bool                 `json:"success"`
	Messages  []models.ChatMessage `json:"messages"`
	SessionID string               `json:"sessionId"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type legacyRequest struct {
	Message string           `json:"message"`
	History []models.Message `json:"history"`
}

type legacyResponse struct {
	Reply string `json:"reply"`
}

// userKey resolves the visitor session cookie, "" for anonymous visitors
func (h *ChatHandler) userKey(r *http.Request) string {
	cookie, err := r.Cookie(h.cookieName)
	if err != nil || cookie.Value == "" {
		return ""
	}
	key, ok := h.sessions.Resolve(r.Context(), cookie.Value)
	if !ok {
		return ""
	}
	return key
}

func (h *ChatHandler) allow(w http.ResponseWriter, r *http.Request, key, route string) bool {
	if key == "" {
		key = clientAddr(r)
	}
	if h.rateLimiter.Allow(key) {
		return true
	}
	if h.metrics != nil {
		h.metrics.RecordRateLimitExceeded(route)
	}
	writeError(w, h.logger, http.StatusTooManyRequests, h.localizer.Get(h.lang, i18n.MsgRateLimitExceeded, nil))
	return false
}

func (h *ChatHandler) validationMessage(err error) string {
	var verr *chat.ValidationError
	if errors.As(err, &verr) && verr.Max > 0 {
		return h.localizer.Get(h.lang, i18n.MsgMessageTooLong, map[string]interface{}{"Max": verr.Max})
	}
	return h.localizer.Get(h.lang, i18n.MsgMessageRequired, nil)
}

// currentSettings never fails; unreadable settings come back with defaults
func (h *ChatHandler) currentSettings(ctx context.Context) models.AiSettings {
	settings, err := h.settings.Current(ctx)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to read assistant settings")
	}
	return settings
}

// HandleMessage runs one persisted chat turn
func (h *ChatHandler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, h.localizer.Get(h.lang, i18n.MsgMessageRequired, nil))
		return
	}

	userKey := h.userKey(r)
	if !h.allow(w, r, userKey, "/api/chat/message") {
		return
	}

	result, err := h.relay.HandleTurn(r.Context(), userKey, req.Message, h.currentSettings(r.Context()))
	if err != nil {
		if errors.Is(err, chat.ErrValidation) {
			writeError(w, h.logger, http.StatusBadRequest, h.validationMessage(err))
			return
		}
		logger.WithUser(h.logger, userKey, middleware.RequestID(r.Context())).WithError(err).Error("Chat turn failed")
		writeError(w, h.logger, http.StatusInternalServerError, h.localizer.Get(h.lang, i18n.MsgUpstreamError, nil))
		return
	}

	resp := messageResponse{Reply: result.Reply}
	switch result.Outcome {
	case chat.OutcomeSuccess:
		resp.Success = true
		resp.UserMessage = result.UserMessage
		resp.AssistantMessage = result.AssistantMessage
	case chat.OutcomeNotConfigured:
		resp.Success = true
	}
	writeJSON(w, h.logger, http.StatusOK, resp)
}

// GetHistory returns the signed-in visitor's transcript
func (h *ChatHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userKey := h.userKey(r)
	if userKey == "" {
		writeError(w, h.logger, http.StatusUnauthorized, h.localizer.Get(h.lang, i18n.MsgUnauthorized, nil))
		return
	}

	transcript, err := h.transcripts.GetTranscript(r.Context(), userKey)
	if err != nil {
		logger.WithUser(h.logger, userKey, middleware.RequestID(r.Context())).WithError(err).Error("Failed to read chat history")
		writeError(w, h.logger, http.StatusInternalServerError, err.Error())
		return
	}

	messages := transcript.Messages
	if messages == nil {
		messages = []models.ChatMessage{}
	}
	writeJSON(w, h.logger, http.StatusOK, historyResponse{
		Success:   true,
		Messages:  messages,
		SessionID: transcript.SessionID,
	})
}

// ClearHistory empties the signed-in visitor's transcript
func (h *ChatHandler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	userKey := h.userKey(r)
	if userKey == "" {
		writeError(w, h.logger, http.StatusUnauthorized, h.localizer.Get(h.lang, i18n.MsgUnauthorized, nil))
		return
	}

	if err := h.transcripts.ClearHistory(r.Context(), userKey); err != nil {
		logger.WithUser(h.logger, userKey, middleware.RequestID(r.Context())).WithError(err).Error("Failed to clear chat history")
		writeError(w, h.logger, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, h.logger, http.StatusOK, successResponse{Success: true})
}

// HandleLegacy serves the stateless endpoint kept for older widgets
func (h *ChatHandler) HandleLegacy(w http.ResponseWriter, r *http.Request) {
	var req legacyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, h.localizer.Get(h.lang, i18n.MsgMessageRequired, nil))
		return
	}

	if !h.allow(w, r, h.userKey(r), "/api/assistant/chat") {
		return
	}

	reply, err := h.relay.RelayStateless(r.Context(), req.Message, req.History, h.currentSettings(r.Context()))
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, h.validationMessage(err))
		return
	}
	writeJSON(w, h.logger, http.StatusOK, legacyResponse{Reply: reply})
}
