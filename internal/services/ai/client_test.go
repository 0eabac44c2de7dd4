package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/aethrix-hub/assistant/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	Path          string
	Authorization string
	Body          map[string]any
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func completionJSON(content string) string {
	resp := map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "test-model",
		"choices": []any{map[string]any{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
	}
	data, _ := json.Marshal(resp)
	return string(data)
}

func newUpstream(t *testing.T, captured *capturedRequest, handler func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			captured.Path = r.URL.Path
			captured.Authorization = r.Header.Get("Authorization")
			_ = json.NewDecoder(r.Body).Decode(&captured.Body)
		}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func baseRequest(endpoint string) Request {
	return Request{
		Endpoint: endpoint,
		APIKey:   "sk-test",
		Model:    "gpt-4o-mini",
		Messages: []models.Message{
			{Role: models.RoleSystem, Content: "be nice"},
			{Role: models.RoleUser, Content: "hello"},
		},
		MaxTokens:   1024,
		Temperature: 0.7,
		Timeout:     2 * time.Second,
	}
}

func TestComplete_Success(t *testing.T) {
	var captured capturedRequest
	srv := newUpstream(t, &captured, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, completionJSON("你好呀"))
	})

	client := NewClient(nil, quietLogger())
	reply, err := client.Complete(context.Background(), baseRequest(srv.URL+"/custom/v1/chat"))
	require.NoError(t, err)
	assert.Equal(t, "你好呀", reply)

	assert.Equal(t, "/custom/v1/chat", captured.Path, "request goes to the configured URL verbatim")
	assert.Equal(t, "Bearer sk-test", captured.Authorization)
	assert.Equal(t, "gpt-4o-mini", captured.Body["model"])
	assert.EqualValues(t, 1024, captured.Body["max_tokens"])
	assert.InDelta(t, 0.7, captured.Body["temperature"], 0.001)

	msgs, ok := captured.Body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "hello", msgs[1].(map[string]any)["content"])
}

func TestComplete_UpstreamStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"openai error body", http.StatusUnauthorized, `{"error":{"message":"bad key","type":"invalid_request_error"}}`},
		{"plain text body", http.StatusBadGateway, `upstream exploded`},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newUpstream(t, nil, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})

			_, err := NewClient(nil, quietLogger()).Complete(context.Background(), baseRequest(srv.URL))
			var upstream *UpstreamError
			require.ErrorAs(t, err, &upstream)
			assert.Equal(t, tt.status, upstream.StatusCode)
			assert.Equal(t, tt.body, upstream.Body)
			assert.NotErrorIs(t, err, ErrTimeout)
		})
	}
}

func TestComplete_MalformedBody(t *testing.T) {
	srv := newUpstream(t, nil, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"choices": [`)
	})

	_, err := NewClient(nil, quietLogger()).Complete(context.Background(), baseRequest(srv.URL))
	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, http.StatusOK, upstream.StatusCode)
}

func TestComplete_EmptyChoices(t *testing.T) {
	tests := map[string]string{
		"no choices":    `{"id":"x","object":"chat.completion","choices":[]}`,
		"empty content": completionJSON(""),
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			srv := newUpstream(t, nil, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				io.WriteString(w, body)
			})
			_, err := NewClient(nil, quietLogger()).Complete(context.Background(), baseRequest(srv.URL))
			assert.ErrorIs(t, err, ErrEmptyResponse)
		})
	}
}

func TestComplete_Timeout(t *testing.T) {
	srv := newUpstream(t, nil, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})

	req := baseRequest(srv.URL)
	req.Timeout = 50 * time.Millisecond

	start := time.Now()
	_, err := NewClient(nil, quietLogger()).Complete(context.Background(), req)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestComplete_ParentCancelIsNotTimeout(t *testing.T) {
	srv := newUpstream(t, nil, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err := NewClient(nil, quietLogger()).Complete(ctx, baseRequest(srv.URL))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrTimeout))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestComplete_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	_, err := NewClient(nil, quietLogger()).Complete(context.Background(), baseRequest(endpoint))
	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Zero(t, upstream.StatusCode)
}

func TestComplete_InvalidEndpoint(t *testing.T) {
	_, err := NewClient(nil, quietLogger()).Complete(context.Background(), baseRequest("ftp://example.com"))
	var upstream *UpstreamError
	assert.ErrorAs(t, err, &upstream)
}

func TestComplete_ReasoningModelUsesCompletionTokens(t *testing.T) {
	var captured capturedRequest
	srv := newUpstream(t, &captured, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, completionJSON("ok"))
	})

	req := baseRequest(srv.URL)
	req.Model = "o3-mini"
	_, err := NewClient(nil, quietLogger()).Complete(context.Background(), req)
	require.NoError(t, err)
	assert.NotContains(t, captured.Body, "max_tokens")
	assert.EqualValues(t, 1024, captured.Body["max_completion_tokens"])
}

func TestTestConnection(t *testing.T) {
	var captured capturedRequest
	long := strings.Repeat("好", 150)
	srv := newUpstream(t, &captured, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, completionJSON(long))
	})

	reply, err := NewClient(nil, quietLogger()).TestConnection(context.Background(), srv.URL, "probe-model", "sk-probe")
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("好", 100), reply)

	assert.Equal(t, "probe-model", captured.Body["model"])
	assert.EqualValues(t, 50, captured.Body["max_tokens"])
	assert.InDelta(t, 0.1, captured.Body["temperature"], 0.001)
	assert.Equal(t, "Bearer sk-probe", captured.Authorization)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abc", truncate("abcdef", 3))

	// each of these is three bytes
	body := strings.Repeat("错误", 3)
	for n := 0; n <= len(body); n++ {
		got := truncate(body, n)
		assert.True(t, utf8.ValidString(got), "cut at %d", n)
		assert.LessOrEqual(t, len(got), n)
		assert.Equal(t, n/3*3, len(got))
	}
}
