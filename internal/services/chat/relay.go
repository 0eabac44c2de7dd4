package chat

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/aethrix-hub/assistant/internal/config"
	"github.com/aethrix-hub/assistant/internal/i18n"
	"github.com/aethrix-hub/assistant/internal/models"
	"github.com/aethrix-hub/assistant/internal/services/ai"
	settingscfg "github.com/aethrix-hub/assistant/internal/services/config"
	"github.com/aethrix-hub/assistant/internal/services/storage"
	"github.com/aethrix-hub/assistant/pkg/markdown"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// legacyHistoryLimit is how many client supplied messages the stateless
// endpoint forwards
const legacyHistoryLimit = 10

// ModelSelector picks the model for a user's turn
type ModelSelector interface {
	SelectModel(ctx context.Context, settings models.AiSettings, userKey string) string
}

// PromptComposer builds the system prompt
type PromptComposer interface {
	Compose(ctx context.Context, override, modelName string) string
}

// Completer calls the upstream chat endpoint
type Completer interface {
	Complete(ctx context.Context, req ai.Request) (string, error)
}

// Recorder receives turn metrics
type Recorder interface {
	RecordChatTurn(outcome string)
	RecordModelSelection(model string)
	RecordAIRequest(model, status string, duration time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) RecordChatTurn(string) {}

func (noopRecorder) RecordModelSelection(string) {}

func (noopRecorder) RecordAIRequest(string, string, time.Duration) {}

// TurnResult is what a visitor gets back for one message
type TurnResult struct {
	Reply string
	// Persisted is true when the assistant reply was stored
	Persisted        bool
	Outcome          Outcome
	Model            string
	UserMessage      *models.ChatMessage
	AssistantMessage *models.ChatMessage
}

// Relay runs chat turns against the upstream endpoint
type Relay struct {
	selector   ModelSelector
	composer   PromptComposer
	completer  Completer
	transcript storage.TranscriptStore
	localizer  *i18n.Localizer
	recorder   Recorder
	cfg        config.ChatConfig
	logger     *logrus.Logger
	now        func() time.Time
}

// NewRelay creates a relay. A nil recorder disables metrics.
func NewRelay(
	cfg config.ChatConfig,
	selector ModelSelector,
	composer PromptComposer,
	completer Completer,
	transcript storage.TranscriptStore,
	localizer *i18n.Localizer,
	recorder Recorder,
	logger *logrus.Logger,
) *Relay {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &Relay{
		selector:   selector,
		composer:   composer,
		completer:  completer,
		transcript: transcript,
		localizer:  localizer,
		recorder:   recorder,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Validate checks a visitor message without side effects
func (r *Relay) Validate(text string) error {
	if text == "" {
		return &ValidationError{Reason: "message is required"}
	}
	if r.cfg.MaxMessageLength > 0 && utf8.RuneCountInString(text) > r.cfg.MaxMessageLength {
		return &ValidationError{Reason: "message is too long", Max: r.cfg.MaxMessageLength}
	}
	return nil
}

// HandleTurn answers one visitor message. An empty userKey is an anonymous
// visitor: no history is read or written.
//
// The only returned error is a *ValidationError. Every other failure is
// reported through the result's Outcome and a canned reply.
func (r *Relay) HandleTurn(ctx context.Context, userKey, text string, settings models.AiSettings) (*TurnResult, error) {
	if err := r.Validate(text); err != nil {
		return nil, err
	}

	if !settings.IsConfigured() {
		r.recorder.RecordChatTurn(string(OutcomeNotConfigured))
		return &TurnResult{
			Reply:   r.message(i18n.MsgNotConfigured),
			Outcome: OutcomeNotConfigured,
		}, nil
	}

	log := r.logger.WithField("user", displayKey(userKey))

	model := r.selector.SelectModel(ctx, settings, userKey)
	r.recorder.RecordModelSelection(model)
	log.WithField("model", model).Info("Using model")

	messages := []models.Message{{
		Role:    models.RoleSystem,
		Content: r.composer.Compose(ctx, settings.SystemPrompt, model),
	}}

	identified := userKey != ""
	if identified {
		history, err := r.transcript.ReadRecentMessages(ctx, userKey, historyLimit(settings))
		if err != nil {
			log.WithError(err).Warn("Failed to read chat history, continuing without it")
		}
		messages = append(messages, forwardable(toMessages(history))...)
	}
	messages = append(messages, models.Message{Role: models.RoleUser, Content: text})

	userMessage := r.newMessage(models.RoleUser, text)
	if identified {
		if err := r.transcript.AppendMessage(ctx, userKey, userMessage); err != nil {
			log.WithError(err).Error("Failed to save user message")
		}
	}

	start := r.now()
	reply, err := r.completer.Complete(ctx, r.request(settings, model, messages))
	duration := r.now().Sub(start)

	if err != nil && !errors.Is(err, ai.ErrEmptyResponse) {
		outcome, msgID := OutcomeUpstreamError, i18n.MsgUpstreamError
		if errors.Is(err, ai.ErrTimeout) {
			outcome, msgID = OutcomeTimeout, i18n.MsgTimeout
		}
		r.recorder.RecordAIRequest(model, string(outcome), duration)
		r.recorder.RecordChatTurn(string(outcome))
		r.logFailure(log.WithField("model", model), err)

		return &TurnResult{
			Reply:       r.message(msgID) + r.message(i18n.MsgFailureSuffix),
			Outcome:     outcome,
			Model:       model,
			UserMessage: &userMessage,
		}, nil
	}

	r.recorder.RecordAIRequest(model, string(OutcomeSuccess), duration)
	if err != nil {
		log.WithField("model", model).Warn("Upstream returned no content, using fallback reply")
		reply = r.message(i18n.MsgFallbackReply)
	} else if r.cfg.StripMarkdown {
		reply = markdown.ToPlainText(reply)
	}

	assistantMessage := r.newMessage(models.RoleAssistant, reply)
	persisted := false
	if identified {
		if err := r.transcript.AppendMessage(ctx, userKey, assistantMessage); err != nil {
			log.WithError(err).Error("Failed to save assistant message")
		} else {
			persisted = true
		}
	}

	r.recorder.RecordChatTurn(string(OutcomeSuccess))
	return &TurnResult{
		Reply:            reply,
		Persisted:        persisted,
		Outcome:          OutcomeSuccess,
		Model:            model,
		UserMessage:      &userMessage,
		AssistantMessage: &assistantMessage,
	}, nil
}

// RelayStateless answers with client supplied history and no persistence.
// The configured model is used as is. Failures of any kind produce the
// legacy apology.
func (r *Relay) RelayStateless(ctx context.Context, text string, history []models.Message, settings models.AiSettings) (string, error) {
	if err := r.Validate(text); err != nil {
		return "", err
	}

	if settings.APIKey == "" || settings.ModelName == "" {
		return r.message(i18n.MsgLegacyNotConfigured), nil
	}

	model := settings.ModelName
	if len(history) > legacyHistoryLimit {
		history = history[len(history)-legacyHistoryLimit:]
	}

	messages := []models.Message{{
		Role:    models.RoleSystem,
		Content: r.composer.Compose(ctx, settings.SystemPrompt, model),
	}}
	messages = append(messages, forwardable(history)...)
	messages = append(messages, models.Message{Role: models.RoleUser, Content: text})

	start := r.now()
	reply, err := r.completer.Complete(ctx, r.request(settings, model, messages))
	duration := r.now().Sub(start)

	switch {
	case err == nil:
		r.recorder.RecordAIRequest(model, string(OutcomeSuccess), duration)
		if r.cfg.StripMarkdown {
			reply = markdown.ToPlainText(reply)
		}
		return reply, nil
	case errors.Is(err, ai.ErrEmptyResponse):
		r.recorder.RecordAIRequest(model, string(OutcomeSuccess), duration)
		return r.message(i18n.MsgFallbackReply), nil
	default:
		r.recorder.RecordAIRequest(model, string(OutcomeUpstreamError), duration)
		r.logFailure(r.logger.WithField("model", model), err)
		return r.message(i18n.MsgLegacyError), nil
	}
}

func (r *Relay) request(settings models.AiSettings, model string, messages []models.Message) ai.Request {
	endpoint := settings.APIEndpoint
	if endpoint == "" {
		endpoint = r.cfg.DefaultEndpoint
	}
	if endpoint == "" {
		endpoint = settingscfg.DefaultEndpoint
	}

	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = settingscfg.DefaultTimeoutMs
	}

	return ai.Request{
		Endpoint:    endpoint,
		APIKey:      settings.APIKey,
		Model:       model,
		Messages:    messages,
		MaxTokens:   r.cfg.MaxTokens,
		Temperature: r.cfg.Temperature,
		Timeout:     time.Duration(timeout) * time.Millisecond,
	}
}

func (r *Relay) newMessage(role, content string) models.ChatMessage {
	return models.ChatMessage{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: r.now().UnixMilli(),
	}
}

func (r *Relay) message(id string) string {
	return r.localizer.Get(r.cfg.Language, id, nil)
}

func (r *Relay) logFailure(log *logrus.Entry, err error) {
	var upstream *ai.UpstreamError
	if errors.As(err, &upstream) {
		log = log.WithFields(logrus.Fields{
			"status": upstream.StatusCode,
			"body":   upstream.Body,
		})
	}
	log.WithError(err).Error("Upstream chat request failed")
}

func historyLimit(settings models.AiSettings) int {
	if settings.MaxHistoryMessages > 0 {
		return settings.MaxHistoryMessages
	}
	return settingscfg.DefaultMaxHistoryMessages
}

// forwardable keeps user and assistant entries with content
func forwardable(entries []models.Message) []models.Message {
	out := make([]models.Message, 0, len(entries))
	for _, msg := range entries {
		if msg.Content == "" {
			continue
		}
		if msg.Role != models.RoleUser && msg.Role != models.RoleAssistant {
			continue
		}
		out = append(out, msg)
	}
	return out
}

func toMessages(history []models.ChatMessage) []models.Message {
	out := make([]models.Message, len(history))
	for i, msg := range history {
		out[i] = models.Message{Role: msg.Role, Content: msg.Content}
	}
	return out
}

func displayKey(userKey string) string {
	if userKey == "" {
		return "anonymous"
	}
	return userKey
}
