package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aethrix-hub/assistant/internal/models"
	"github.com/aethrix-hub/assistant/pkg/jsonfile"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

// Defaults applied to unset assistant settings
const (
	DefaultEndpoint           = "https://aihubmix.com/v1/chat/completions"
	DefaultMaxHistoryMessages = 20
	DefaultTimeoutMs          = 30000
	MaxTimeoutMs              = 300000 // mirrored by the timeout validate tag
)

const (
	settingsFileName = "settings.json"
	assistantKey     = "aiAssistant"
	maskedPrefix     = "***"
	maskedTail       = 8
)

// ErrInvalidSettings is returned by Update when the update fails validation
var ErrInvalidSettings = errors.New("invalid assistant settings")

// AdminView is the assistant configuration as shown in the admin panel. The
// API key is masked.
type AdminView struct {
	Enabled            bool     `json:"enabled"`
	ModelName          string   `json:"modelName"`
	SavedModels        []string `json:"savedModels"`
	AutoSwitch         bool     `json:"autoSwitch"`
	APIKey             string   `json:"apiKey"`
	APIEndpoint        string   `json:"apiEndpoint"`
	SystemPrompt       string   `json:"systemPrompt"`
	MaxHistoryMessages int      `json:"maxHistoryMessages"`
	Timeout            int      `json:"timeout"`
	HasAPIKey          bool     `json:"hasApiKey"`
}

// SettingsUpdate is a partial update; nil fields are left untouched
type SettingsUpdate struct {
	Enabled            *bool    `json:"enabled"`
	ModelName          *string  `json:"modelName" validate:"omitnil,max=200"`
	SavedModels        []string `json:"savedModels" validate:"omitempty,dive,required,max=200"`
	AutoSwitch         *bool    `json:"autoSwitch"`
	APIKey             *string  `json:"apiKey"`
	APIEndpoint        *string  `json:"apiEndpoint" validate:"omitnil,http_url"`
	SystemPrompt       *string  `json:"systemPrompt"`
	MaxHistoryMessages *int     `json:"maxHistoryMessages" validate:"omitnil,min=1,max=200"`
	Timeout            *int     `json:"timeout" validate:"omitnil,min=1000,max=300000"`
}

// storedSettings also accepts the key names used by older settings files
type storedSettings struct {
	models.AiSettings
	Model   string `json:"model"`
	BaseURL string `json:"baseUrl"`
}

// SettingsService reads and updates the aiAssistant block of settings.json
type SettingsService struct {
	path            string
	defaultEndpoint string
	validate        *validator.Validate
	mu              sync.Mutex
	logger          *logrus.Logger
}

// NewSettingsService manages <dataDir>/settings.json. An empty
// defaultEndpoint uses DefaultEndpoint.
func NewSettingsService(dataDir, defaultEndpoint string, logger *logrus.Logger) *SettingsService {
	if defaultEndpoint == "" {
		defaultEndpoint = DefaultEndpoint
	}
	return &SettingsService{
		path:            filepath.Join(dataDir, settingsFileName),
		defaultEndpoint: defaultEndpoint,
		validate:        validator.New(validator.WithRequiredStructEnabled()),
		logger:          logger,
	}
}

// Current returns the assistant settings read fresh from disk with defaults
// applied. An unreadable file yields the defaults and the read error.
func (s *SettingsService) Current(ctx context.Context) (models.AiSettings, error) {
	raw, err := s.readDocument()
	if err != nil {
		s.logger.WithError(err).Warn("Assistant settings unreadable, using defaults")
		return s.withDefaults(storedSettings{}), err
	}

	var stored storedSettings
	if block, ok := raw[assistantKey]; ok {
		if err := json.Unmarshal(block, &stored); err != nil {
			s.logger.WithError(err).Warn("Assistant settings malformed, using defaults")
			return s.withDefaults(storedSettings{}), fmt.Errorf("failed to parse assistant settings: %w", err)
		}
	}
	return s.withDefaults(stored), nil
}

// Masked returns the admin view of the current settings
func (s *SettingsService) Masked(ctx context.Context) (AdminView, error) {
	settings, err := s.Current(ctx)
	savedModels := settings.SavedModels
	if savedModels == nil {
		savedModels = []string{}
	}
	return AdminView{
		Enabled:            settings.IsEnabled(),
		ModelName:          settings.ModelName,
		SavedModels:        savedModels,
		AutoSwitch:         settings.AutoSwitch,
		APIKey:             MaskAPIKey(settings.APIKey),
		APIEndpoint:        settings.APIEndpoint,
		SystemPrompt:       settings.SystemPrompt,
		MaxHistoryMessages: settings.MaxHistoryMessages,
		Timeout:            settings.Timeout,
		HasAPIKey:          settings.APIKey != "",
	}, err
}

// Update validates u and writes it into settings.json. All other keys of the
// document are preserved. An empty API key, or one that is still masked, keeps
// the stored key.
func (s *SettingsService) Update(ctx context.Context, u SettingsUpdate) error {
	if err := s.validate.Struct(u); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("%w: %s", ErrInvalidSettings, describe(verrs))
		}
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.readDocument()
	if err != nil {
		return err
	}

	block := make(map[string]json.RawMessage)
	if existing, ok := raw[assistantKey]; ok && string(existing) != "null" {
		if err := json.Unmarshal(existing, &block); err != nil {
			return fmt.Errorf("failed to parse assistant settings: %w", err)
		}
	}

	set := func(key string, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		block[key] = data
		return nil
	}

	fields := []struct {
		key   string
		value any
		ok    bool
	}{
		{"enabled", u.Enabled, u.Enabled != nil},
		{"modelName", u.ModelName, u.ModelName != nil},
		{"savedModels", u.SavedModels, u.SavedModels != nil},
		{"autoSwitch", u.AutoSwitch, u.AutoSwitch != nil},
		{"apiKey", u.APIKey, u.APIKey != nil && *u.APIKey != "" && !strings.HasPrefix(*u.APIKey, maskedPrefix)},
		{"apiEndpoint", u.APIEndpoint, u.APIEndpoint != nil},
		{"systemPrompt", u.SystemPrompt, u.SystemPrompt != nil},
		{"maxHistoryMessages", u.MaxHistoryMessages, u.MaxHistoryMessages != nil},
		{"timeout", u.Timeout, u.Timeout != nil},
	}
	for _, f := range fields {
		if !f.ok {
			continue
		}
		if err := set(f.key, f.value); err != nil {
			return fmt.Errorf("failed to encode %s: %w", f.key, err)
		}
	}

	encoded, err := json.Marshal(block)
	if err != nil {
		return fmt.Errorf("failed to encode assistant settings: %w", err)
	}
	raw[assistantKey] = encoded

	if err := jsonfile.Write(s.path, raw); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}

	s.logger.Info("Assistant settings updated")
	return nil
}

func (s *SettingsService) readDocument() (map[string]json.RawMessage, error) {
	raw := make(map[string]json.RawMessage)
	if _, err := jsonfile.Read(s.path, &raw); err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	if raw == nil {
		raw = make(map[string]json.RawMessage)
	}
	return raw, nil
}

func (s *SettingsService) withDefaults(stored storedSettings) models.AiSettings {
	settings := stored.AiSettings
	if settings.ModelName == "" {
		settings.ModelName = stored.Model
	}
	if settings.APIEndpoint == "" {
		settings.APIEndpoint = stored.BaseURL
	}
	if settings.APIEndpoint == "" {
		settings.APIEndpoint = s.defaultEndpoint
	}
	if settings.MaxHistoryMessages <= 0 {
		settings.MaxHistoryMessages = DefaultMaxHistoryMessages
	}
	if settings.Timeout <= 0 {
		settings.Timeout = DefaultTimeoutMs
	}
	return settings
}

// MaskAPIKey hides all but the last 8 characters of key
func MaskAPIKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) > maskedTail {
		key = key[len(key)-maskedTail:]
	}
	return maskedPrefix + key
}

func describe(verrs validator.ValidationErrors) string {
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
