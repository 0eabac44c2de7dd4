package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aethrix-hub/assistant/internal/config"
	"github.com/aethrix-hub/assistant/internal/i18n"
	"github.com/aethrix-hub/assistant/internal/middleware"
	"github.com/aethrix-hub/assistant/internal/models"
	"github.com/aethrix-hub/assistant/internal/services/ai"
	"github.com/aethrix-hub/assistant/internal/services/auth"
	"github.com/aethrix-hub/assistant/internal/services/chat"
	settingscfg "github.com/aethrix-hub/assistant/internal/services/config"
	"github.com/aethrix-hub/assistant/internal/services/knowledge"
	"github.com/aethrix-hub/assistant/internal/services/prompt"
	"github.com/aethrix-hub/assistant/internal/services/rotation"
	"github.com/aethrix-hub/assistant/internal/services/storage"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	adminSecret = "test-secret"
	visitorTok  = "visitor-token"
	visitorUID  = "firebase-uid-1"
)

type env struct {
	router      *mux.Router
	dataDir     string
	sessions    *auth.MemorySessions
	transcripts storage.TranscriptStore
	localizer   *i18n.Localizer
	upstream    *httptest.Server

	mu        sync.Mutex
	lastModel string
	reply     string
	status    int
}

func (e *env) setUpstream(status int, reply string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status = status
	e.reply = reply
}

func (e *env) model() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastModel
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func completion(content string) string {
	body, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "m",
		"choices": []any{map[string]any{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
	})
	return string(body)
}

func newEnv(t *testing.T, rateLimit config.RateLimitConfig) *env {
	t.Helper()
	logger := quietLogger()
	e := &env{dataDir: t.TempDir(), reply: "很高兴为你服务", status: http.StatusOK}

	e.upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model string `json:"model"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		e.mu.Lock()
		e.lastModel = req.Model
		status, reply := e.status, e.reply
		e.mu.Unlock()

		if status != http.StatusOK {
			http.Error(w, "upstream failure", status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, completion(reply))
	}))
	t.Cleanup(e.upstream.Close)

	e.writeSettings(t, map[string]any{
		"siteName": "以太夜",
		"aiAssistant": map[string]any{
			"modelName":   "gpt-main",
			"apiKey":      "sk-abcdefghijklmnop",
			"apiEndpoint": e.upstream.URL + "/v1/chat/completions",
		},
	})

	var err error
	e.localizer, err = i18n.NewLocalizer(&config.I18nConfig{DefaultLanguage: "zh", Languages: []string{"zh", "en"}})
	require.NoError(t, err)

	cfg := &config.Config{RateLimit: rateLimit}
	cfg.Chat = config.ChatConfig{MaxTokens: 1024, Temperature: 0.7, MaxMessageLength: 100, Language: "zh"}

	e.sessions = auth.NewMemorySessions(time.Hour)
	e.sessions.Register(visitorTok, auth.SessionUser{FirebaseUID: visitorUID, Email: "v@example.com"})
	e.transcripts = storage.NewFileStorage(e.dataDir, logger)

	settings := settingscfg.NewSettingsService(e.dataDir, "", logger)
	client := ai.NewClient(nil, logger)
	composer := prompt.NewComposer(knowledge.NewFileStore(e.dataDir, logger), "", logger)
	selector := rotation.NewSelector(rotation.NewMemoryLedger(), logger)
	relay := chat.NewRelay(cfg.Chat, selector, composer, client, e.transcripts, e.localizer, nil, logger)

	chatHandler := NewChatHandler(relay, settings, e.sessions, e.transcripts,
		middleware.NewRateLimiter(cfg, logger), middleware.NewMetrics(), e.localizer, "user_token", "zh", logger)
	adminHandler := NewAdminHandler(settings, client, auth.NewAdminVerifier(adminSecret), e.localizer, "zh", logger)
	e.router = NewRouter(chatHandler, adminHandler, middleware.NewMetrics(), logger)
	return e
}

func (e *env) writeSettings(t *testing.T, doc map[string]any) {
	t.Helper()
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(e.dataDir, "settings.json"), data, 0o644))
}

func (e *env) do(t *testing.T, method, path string, body any, opts ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func asVisitor(req *http.Request) {
	req.AddCookie(&http.Cookie{Name: "user_token", Value: visitorTok})
}

func asAdmin(t *testing.T) func(*http.Request) {
	token, err := auth.NewAdminVerifier(adminSecret).Issue("admin", time.Hour)
	require.NoError(t, err)
	return func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestChatMessage_SignedInVisitor(t *testing.T) {
	e := newEnv(t, config.RateLimitConfig{})

	rec := e.do(t, http.MethodPost, "/api/chat/message", map[string]string{"message": "你好"}, asVisitor)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))

	resp := decode[messageResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "很高兴为你服务", resp.Reply)
	require.NotNil(t, resp.UserMessage)
	require.NotNil(t, resp.AssistantMessage)
	assert.Equal(t, "你好", resp.UserMessage.Content)
	assert.Equal(t, "gpt-main", e.model())

	transcript, err := e.transcripts.GetTranscript(context.Background(), visitorUID)
	require.NoError(t, err)
	assert.Len(t, transcript.Messages, 2)
}

func TestChatMessage_Anonymous(t *testing.T) {
	e := newEnv(t, config.RateLimitConfig{})

	rec := e.do(t, http.MethodPost, "/api/chat/message", map[string]string{"message": "hi"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[messageResponse](t, rec).Success)

	transcript, err := e.transcripts.GetTranscript(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, transcript.Messages)
}

func TestChatMessage_BadRequests(t *testing.T) {
	e := newEnv(t, config.RateLimitConfig{})

	tests := []struct {
		name string
		body any
		want string
	}{
		{"invalid json", "{", e.localizer.Default(i18n.MsgMessageRequired)},
		{"missing message", map[string]any{}, e.localizer.Default(i18n.MsgMessageRequired)},
		{"empty message", map[string]string{"message": ""}, e.localizer.Default(i18n.MsgMessageRequired)},
		{"wrong type", `{"message": 42}`, e.localizer.Default(i18n.MsgMessageRequired)},
		{"too long", map[string]string{"message": string(bytes.Repeat([]byte("x"), 101))},
			e.localizer.Get("zh", i18n.MsgMessageTooLong, map[string]interface{}{"Max": 100})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, http.MethodPost, "/api/chat/message", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.want, decode[errorResponse](t, rec).Error)
		})
	}
}

func TestChatMessage_WhitespaceMessage(t *testing.T) {
	e := newEnv(t, config.RateLimitConfig{})

	rec := e.do(t, http.MethodPost, "/api/chat/message", map[string]string{"message": "   "}, asVisitor)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[messageResponse](t, rec).Success)
}

func TestChatMessage_UpstreamFailure(t *testing.T) {
	e := newEnv(t, config.RateLimitConfig{})
	e.setUpstream(http.StatusInternalServerError, "")

	rec := e.do(t, http.MethodPost, "/api/chat/message", map[string]string{"message": "hi"}, asVisitor)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[messageResponse](t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, e.localizer.Default(i18n.MsgUpstreamError)+e.localizer.Default(i18n.MsgFailureSuffix), resp.Reply)
	assert.Nil(t, resp.UserMessage)
}

func TestChatMessage_NotConfigured(t *testing.T) {
	e := newEnv(t, config.RateLimitConfig{})
	e.writeSettings(t, map[string]any{"aiAssistant": map[string]any{"enabled": false, "modelName": "m", "apiKey": "k"}})

	rec := e.do(t, http.MethodPost, "/api/chat/message", map[string]string{"message": "hi"}, asVisitor)
	resp := decode[messageResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, e.localizer.Default(i18n.MsgNotConfigured), resp.Reply)
	assert.Nil(t, resp.UserMessage)
}

func TestChatMessage_RateLimited(t *testing.T) {
	e := newEnv(t, config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1, Burst: 1})

	first := e.do(t, http.MethodPost, "/api/chat/message", map[string]string{"message": "one"}, asVisitor)
	assert.Equal(t, http.StatusOK, first.Code)

	second := e.do(t, http.MethodPost, "/api/chat/message", map[string]string{"message": "two"}, asVisitor)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, e.localizer.Default(i18n.MsgRateLimitExceeded), decode[errorResponse](t, second).Error)

	anon := e.do(t, http.MethodPost, "/api/chat/message", map[string]string{"message": "three"})
	assert.Equal(t, http.StatusOK, anon.Code, "anonymous visitors are limited by address")
}

func TestChatHistory(t *testing.T) {
	e := newEnv(t, config.RateLimitConfig{})

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		rec := e.do(t, method, "/api/chat/history", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, method)

		rec = e.do(t, method, "/api/chat/history", nil, func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: "user_token", Value: "unknown"})
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code, method)
	}

	rec := e.do(t, http.MethodGet, "/api/chat/history", nil, asVisitor)
	require.Equal(t, http.StatusOK, rec.Code)
	empty := decode[historyResponse](t, rec)
	assert.True(t, empty.Success)
	assert.NotNil(t, empty.Messages)
	assert.Empty(t, empty.Messages)

	e.do(t, http.MethodPost, "/api/chat/message", map[string]string{"message": "remember me"}, asVisitor)

	before := decode[historyResponse](t, e.do(t, http.MethodGet, "/api/chat/history", nil, asVisitor))
	require.Len(t, before.Messages, 2)
	assert.Equal(t, "remember me", before.Messages[0].Content)
	assert.NotEmpty(t, before.SessionID)

	rec = e.do(t, http.MethodDelete, "/api/chat/history", nil, asVisitor)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[successResponse](t, rec).Success)

	after := decode[historyResponse](t, e.do(t, http.MethodGet, "/api/chat/history", nil, asVisitor))
	assert.Empty(t, after.Messages)
	assert.NotEqual(t, before.SessionID, after.SessionID)
}

func TestLegacyChat(t *testing.T) {
	e := newEnv(t, config.RateLimitConfig{})

	rec := e.do(t, http.MethodPost, "/api/assistant/chat", map[string]any{
		"message": "hi",
		"history": []models.Message{{Role: "user", Content: "earlier"}, {Role: "assistant", Content: "reply"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "很高兴为你服务", decode[legacyResponse](t, rec).Reply)

	rec = e.do(t, http.MethodPost, "/api/assistant/chat", map[string]any{"history": []any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	e.setUpstream(http.StatusBadGateway, "")
	rec = e.do(t, http.MethodPost, "/api/assistant/chat", map[string]any{"message": "hi"})
	assert.Equal(t, e.localizer.Default(i18n.MsgLegacyError), decode[legacyResponse](t, rec).Reply)
}

func TestAdminSettings(t *testing.T) {
	e := newEnv(t, config.RateLimitConfig{})
	admin := asAdmin(t)

	rec := e.do(t, http.MethodGet, "/api/admin/ai-assistant-settings", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/admin/ai-assistant-settings", nil, func(r *http.Request) {
		token, _ := auth.NewAdminVerifier("other-secret").Issue("admin", time.Hour)
		r.Header.Set("Authorization", "Bearer "+token)
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/admin/ai-assistant-settings", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[settingscfg.AdminView](t, rec)
	assert.Equal(t, "***ijklmnop", view.APIKey)
	assert.True(t, view.HasAPIKey)
	assert.True(t, view.Enabled)
	assert.Equal(t, 20, view.MaxHistoryMessages)

	rec = e.do(t, http.MethodPost, "/api/admin/ai-assistant-settings", map[string]any{
		"modelName":   "gpt-new",
		"apiKey":      view.APIKey,
		"savedModels": []string{"a", "b"},
		"autoSwitch":  true,
	}, admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	updated := decode[settingscfg.AdminView](t, e.do(t, http.MethodGet, "/api/admin/ai-assistant-settings", nil, admin))
	assert.Equal(t, "gpt-new", updated.ModelName)
	assert.Equal(t, "***ijklmnop", updated.APIKey, "masked key keeps the stored key")
	assert.Equal(t, []string{"a", "b"}, updated.SavedModels)

	var doc map[string]any
	data, err := os.ReadFile(filepath.Join(e.dataDir, "settings.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "以太夜", doc["siteName"], "other keys survive the update")

	rec = e.do(t, http.MethodPost, "/api/admin/ai-assistant-settings", map[string]any{"timeout": 10}, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[errorResponse](t, rec).Error, "设置无效")
}

func TestAdminConnectionTest(t *testing.T) {
	e := newEnv(t, config.RateLimitConfig{})
	admin := asAdmin(t)
	endpoint := e.upstream.URL + "/v1/chat/completions"

	rec := e.do(t, http.MethodPost, "/api/chat/test", map[string]string{"endpoint": endpoint}, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, e.localizer.Default(i18n.MsgTestMissingParams), decode[testResponse](t, rec).Error)

	body := map[string]string{"endpoint": endpoint, "model": "probe", "apiKey": "sk-x"}

	e.setUpstream(http.StatusOK, "Connection successful!")
	rec = e.do(t, http.MethodPost, "/api/chat/test", body, admin)
	resp := decode[testResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "Connection successful!", resp.Reply)
	assert.Equal(t, "probe", e.model())

	e.setUpstream(http.StatusUnauthorized, "")
	resp = decode[testResponse](t, e.do(t, http.MethodPost, "/api/chat/test", body, admin))
	assert.False(t, resp.Success)
	assert.Equal(t, fmt.Sprintf("API 返回错误: %d", http.StatusUnauthorized), resp.Error)

	rec = e.do(t, http.MethodPost, "/api/chat/test", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealth(t *testing.T) {
	e := newEnv(t, config.RateLimitConfig{})
	rec := e.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}
