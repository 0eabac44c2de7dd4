package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/aethrix-hub/assistant/internal/i18n"
	"github.com/aethrix-hub/assistant/internal/services/ai"
	"github.com/aethrix-hub/assistant/internal/services/auth"
	settingscfg "github.com/aethrix-hub/assistant/internal/services/config"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// SettingsAdmin reads and updates the assistant settings for the admin panel
type SettingsAdmin interface {
	Masked(ctx context.Context) (settingscfg.AdminView, error)
	Update(ctx context.Context, u settingscfg.SettingsUpdate) error
}

// ConnectionTester probes an upstream endpoint with the given credentials
type ConnectionTester interface {
	TestConnection(ctx context.Context, endpoint, model, apiKey string) (string, error)
}

// AdminHandler serves the admin endpoints of the assistant
type AdminHandler struct {
	settings  SettingsAdmin
	tester    ConnectionTester
	verifier  *auth.AdminVerifier
	localizer *i18n.Localizer
	lang      string
	logger    *logrus.Logger
}

func NewAdminHandler(
	settings SettingsAdmin,
	tester ConnectionTester,
	verifier *auth.AdminVerifier,
	localizer *i18n.Localizer,
	lang string,
	logger *logrus.Logger,
) *AdminHandler {
	return &AdminHandler{
		settings:  settings,
		tester:    tester,
		verifier:  verifier,
		localizer: localizer,
		lang:      lang,
		logger:    logger,
	}
}

type testRequest struct {
	Endpoint string `json:"endpoint"`
	Model    string `json:"model"`
	APIKey   string `json:"apiKey"`
}

type testResponse struct {
	Success bool   `json:"success"`
	Reply   string `json:"reply,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RequireAdmin rejects requests without a valid admin bearer token
func (h *AdminHandler) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := h.verifier.Verify(auth.BearerToken(r.Header.Get("Authorization"))); err != nil {
			h.logger.WithError(err).WithField("remote", clientAddr(r)).Warn("Admin request rejected")
			writeError(w, h.logger, http.StatusUnauthorized, h.localizer.Get(h.lang, i18n.MsgUnauthorized, nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetSettings returns the masked assistant settings
func (h *AdminHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	view, err := h.settings.Masked(r.Context())
	if err != nil {
		h.logger.WithError(err).Warn("Serving default assistant settings")
	}
	writeJSON(w, h.logger, http.StatusOK, view)
}

// UpdateSettings applies a partial settings update
func (h *AdminHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var update settingscfg.SettingsUpdate
	if err := decodeJSON(w, r, &update); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, h.localizer.Get(h.lang, i18n.MsgInvalidSettings, map[string]interface{}{"Detail": err.Error()}))
		return
	}

	if err := h.settings.Update(r.Context(), update); err != nil {
		if errors.Is(err, settingscfg.ErrInvalidSettings) {
			detail := strings.TrimPrefix(err.Error(), settingscfg.ErrInvalidSettings.Error()+": ")
			writeError(w, h.logger, http.StatusBadRequest, h.localizer.Get(h.lang, i18n.MsgInvalidSettings, map[string]interface{}{"Detail": detail}))
			return
		}
		h.logger.WithError(err).Error("Failed to update assistant settings")
		writeError(w, h.logger, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, h.logger, http.StatusOK, successResponse{Success: true})
}

// TestConnection probes the endpoint given in the request body
func (h *AdminHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	var req testRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Endpoint == "" || req.Model == "" || req.APIKey == "" {
		writeJSON(w, h.logger, http.StatusBadRequest, testResponse{Error: h.localizer.Get(h.lang, i18n.MsgTestMissingParams, nil)})
		return
	}

	reply, err := h.tester.TestConnection(r.Context(), req.Endpoint, req.Model, req.APIKey)
	if err != nil {
		h.logger.WithError(err).WithField("model", req.Model).Warn("Connection test failed")
		writeJSON(w, h.logger, http.StatusOK, testResponse{Error: h.testError(err)})
		return
	}
	writeJSON(w, h.logger, http.StatusOK, testResponse{Success: true, Reply: reply})
}

func (h *AdminHandler) testError(err error) string {
	var upstream *ai.UpstreamError
	switch {
	case errors.Is(err, ai.ErrTimeout):
		return h.localizer.Get(h.lang, i18n.MsgTestTimeout, nil)
	case errors.Is(err, ai.ErrEmptyResponse):
		return h.localizer.Get(h.lang, i18n.MsgTestBadFormat, nil)
	case errors.As(err, &upstream) && upstream.StatusCode >= 300:
		return h.localizer.Get(h.lang, i18n.MsgTestStatusError, map[string]interface{}{"Status": upstream.StatusCode})
	case errors.As(err, &upstream) && upstream.StatusCode >= 200:
		return h.localizer.Get(h.lang, i18n.MsgTestBadFormat, nil)
	default:
		return h.localizer.Get(h.lang, i18n.MsgTestFailed, nil)
	}
}

// Register adds the admin routes to router
func (h *AdminHandler) Register(router *mux.Router) {
	router.Handle("/api/admin/ai-assistant-settings", h.RequireAdmin(http.HandlerFunc(h.GetSettings))).Methods(http.MethodGet)
	router.Handle("/api/admin/ai-assistant-settings", h.RequireAdmin(http.HandlerFunc(h.UpdateSettings))).Methods(http.MethodPost)
	router.Handle("/api/chat/test", h.RequireAdmin(http.HandlerFunc(h.TestConnection))).Methods(http.MethodPost)
}
