package i18n

import (
	"embed"
	"encoding/json"
	"fmt"

	"github.com/aethrix-hub/assistant/internal/config"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

// Localizer manages internationalization
type Localizer struct {
	bundle          *i18n.Bundle
	defaultLanguage string
	localizers      map[string]*i18n.Localizer
}

// NewLocalizer creates a localizer for the configured languages from the
// embedded message files
func NewLocalizer(cfg *config.I18nConfig) (*Localizer, error) {
	bundle := i18n.NewBundle(language.Chinese)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	for _, lang := range cfg.Languages {
		if _, err := bundle.LoadMessageFileFS(localeFS, fmt.Sprintf("locales/%s.json", lang)); err != nil {
			return nil, fmt.Errorf("failed to load language file %s: %w", lang, err)
		}
	}

	localizers := make(map[string]*i18n.Localizer)
	for _, lang := range cfg.Languages {
		localizers[lang] = i18n.NewLocalizer(bundle, lang)
	}
	if _, ok := localizers[cfg.DefaultLanguage]; !ok {
		return nil, fmt.Errorf("default language %s is not loaded", cfg.DefaultLanguage)
	}

	return &Localizer{
		bundle:          bundle,
		defaultLanguage: cfg.DefaultLanguage,
		localizers:      localizers,
	}, nil
}

// Get returns localized message
func (l *Localizer) Get(lang, messageID string, data map[string]interface{}) string {
	localizer, exists := l.localizers[lang]
	if !exists {
		localizer = l.localizers[l.defaultLanguage]
	}

	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if err != nil {
		return messageID // Fallback to message ID
	}

	return msg
}

// Default returns a message in the default language
func (l *Localizer) Default(messageID string) string {
	return l.Get(l.defaultLanguage, messageID, nil)
}

// Message IDs
const (
	MsgNotConfigured       = "chat_not_configured"
	MsgUpstreamError       = "chat_error"
	MsgTimeout             = "chat_timeout"
	MsgFailureSuffix       = "chat_failure_suffix"
	MsgFallbackReply       = "chat_fallback"
	MsgLegacyNotConfigured = "legacy_not_configured"
	MsgLegacyError         = "legacy_error"
	MsgMessageRequired     = "message_required"
	MsgMessageTooLong      = "message_too_long"
	MsgRateLimitExceeded   = "rate_limit_exceeded"
	MsgUnauthorized        = "unauthorized"
	MsgTestMissingParams   = "test_missing_params"
	MsgTestStatusError     = "test_status_error"
	MsgTestBadFormat       = "test_bad_format"
	MsgTestTimeout         = "test_timeout"
	MsgTestFailed          = "test_failed"
	MsgInvalidSettings     = "invalid_settings"
)
