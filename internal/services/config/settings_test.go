package config

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T, doc string) (*SettingsService, string) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	dir := t.TempDir()
	if doc != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, settingsFileName), []byte(doc), 0o644))
	}
	return NewSettingsService(dir, "", logger), filepath.Join(dir, settingsFileName)
}

func ptr[T any](v T) *T { return &v }

func TestCurrent_Defaults(t *testing.T) {
	svc, _ := newService(t, "")
	settings, err := svc.Current(context.Background())
	require.NoError(t, err)

	assert.True(t, settings.IsEnabled())
	assert.False(t, settings.IsConfigured())
	assert.Equal(t, DefaultEndpoint, settings.APIEndpoint)
	assert.Equal(t, DefaultMaxHistoryMessages, settings.MaxHistoryMessages)
	assert.Equal(t, DefaultTimeoutMs, settings.Timeout)
}

func TestCurrent_LegacyKeys(t *testing.T) {
	svc, _ := newService(t, `{"aiAssistant": {"model": "gpt-3.5", "baseUrl": "https://old.example/v1/chat/completions", "apiKey": "k"}}`)
	settings, err := svc.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "gpt-3.5", settings.ModelName)
	assert.Equal(t, "https://old.example/v1/chat/completions", settings.APIEndpoint)
	assert.True(t, settings.IsConfigured())
}

func TestCurrent_Unreadable(t *testing.T) {
	svc, _ := newService(t, `{"aiAssistant": `)
	settings, err := svc.Current(context.Background())
	assert.Error(t, err)
	assert.Equal(t, DefaultEndpoint, settings.APIEndpoint)
}

func TestMasked(t *testing.T) {
	svc, _ := newService(t, `{"aiAssistant": {"enabled": false, "modelName": "m", "apiKey": "sk-1234567890abcdef"}}`)
	view, err := svc.Masked(context.Background())
	require.NoError(t, err)

	assert.False(t, view.Enabled)
	assert.Equal(t, "***90abcdef", view.APIKey)
	assert.True(t, view.HasAPIKey)
	assert.Equal(t, []string{}, view.SavedModels)
}

func TestMaskAPIKey(t *testing.T) {
	assert.Equal(t, "", MaskAPIKey(""))
	assert.Equal(t, "***short", MaskAPIKey("short"))
	assert.Equal(t, "***12345678", MaskAPIKey("abc12345678"))
}

func TestUpdate_PreservesOtherKeys(t *testing.T) {
	ctx := context.Background()
	svc, path := newService(t, `{
		"siteName": "以太夜",
		"footer": {"email": "a@b.c"},
		"aiAssistant": {"modelName": "old", "apiKey": "sk-secret-key-123", "customFlag": 7}
	}`)

	err := svc.Update(ctx, SettingsUpdate{
		ModelName:   ptr("new-model"),
		SavedModels: []string{"a", "b"},
		AutoSwitch:  ptr(true),
		Timeout:     ptr(15000),
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "以太夜", doc["siteName"])
	assert.Equal(t, map[string]any{"email": "a@b.c"}, doc["footer"])

	block := doc["aiAssistant"].(map[string]any)
	assert.EqualValues(t, 7, block["customFlag"])

	settings, err := svc.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "new-model", settings.ModelName)
	assert.Equal(t, []string{"a", "b"}, settings.SavedModels)
	assert.True(t, settings.AutoSwitch)
	assert.Equal(t, 15000, settings.Timeout)
	assert.Equal(t, "sk-secret-key-123", settings.APIKey)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestUpdate_MaskedKeyKeepsStoredKey(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, `{"aiAssistant": {"modelName": "m", "apiKey": "sk-original-00000000"}}`)

	view, err := svc.Masked(ctx)
	require.NoError(t, err)

	for _, key := range []string{view.APIKey, ""} {
		require.NoError(t, svc.Update(ctx, SettingsUpdate{APIKey: ptr(key), ModelName: ptr("m2")}))
		settings, err := svc.Current(ctx)
		require.NoError(t, err)
		assert.Equal(t, "sk-original-00000000", settings.APIKey)
	}

	require.NoError(t, svc.Update(ctx, SettingsUpdate{APIKey: ptr("sk-rotated")}))
	settings, err := svc.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sk-rotated", settings.APIKey)
}

func TestUpdate_CreatesFile(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, "")

	require.NoError(t, svc.Update(ctx, SettingsUpdate{Enabled: ptr(false), APIKey: ptr("k")}))
	settings, err := svc.Current(ctx)
	require.NoError(t, err)
	assert.False(t, settings.IsEnabled())
	assert.Equal(t, "k", settings.APIKey)
}

func TestUpdate_Validation(t *testing.T) {
	tests := []struct {
		name   string
		update SettingsUpdate
	}{
		{"endpoint not a url", SettingsUpdate{APIEndpoint: ptr("not a url")}},
		{"history zero", SettingsUpdate{MaxHistoryMessages: ptr(0)}},
		{"history too large", SettingsUpdate{MaxHistoryMessages: ptr(500)}},
		{"timeout too small", SettingsUpdate{Timeout: ptr(10)}},
		{"timeout too large", SettingsUpdate{Timeout: ptr(MaxTimeoutMs + 1)}},
		{"blank model in pool", SettingsUpdate{SavedModels: []string{"a", ""}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, path := newService(t, `{"aiAssistant": {"modelName": "m"}}`)
			before, err := os.ReadFile(path)
			require.NoError(t, err)

			err = svc.Update(context.Background(), tt.update)
			assert.ErrorIs(t, err, ErrInvalidSettings)

			after, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, before, after, "rejected updates leave the file untouched")
		})
	}
}

func TestUpdate_TimeoutUpperBound(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, `{"aiAssistant": {"modelName": "m"}}`)

	require.NoError(t, svc.Update(ctx, SettingsUpdate{Timeout: ptr(MaxTimeoutMs)}))
	settings, err := svc.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, MaxTimeoutMs, settings.Timeout)
}

func TestUpdate_ClearPool(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, `{"aiAssistant": {"savedModels": ["a"], "autoSwitch": true}}`)

	require.NoError(t, svc.Update(ctx, SettingsUpdate{SavedModels: []string{}}))
	settings, err := svc.Current(ctx)
	require.NoError(t, err)
	assert.Empty(t, settings.SavedModels)
	assert.True(t, settings.AutoSwitch)
}
