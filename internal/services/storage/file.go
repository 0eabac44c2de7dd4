package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/aethrix-hub/assistant/internal/models"
	"github.com/aethrix-hub/assistant/pkg/jsonfile"
	"github.com/sirupsen/logrus"
)

// HistoryFileName holds every transcript keyed by user
const HistoryFileName = "chat_history.json"

// FileStorage keeps all transcripts in one JSON document. The file is read on
// every operation and replaced atomically on writes.
type FileStorage struct {
	path   string
	mu     sync.Mutex
	logger *logrus.Logger
}

func NewFileStorage(dir string, logger *logrus.Logger) *FileStorage {
	return &FileStorage{path: filepath.Join(dir, HistoryFileName), logger: logger}
}

func (f *FileStorage) load() (map[string]*models.Transcript, error) {
	history := make(map[string]*models.Transcript)
	if _, err := jsonfile.Read(f.path, &history); err != nil {
		return nil, fmt.Errorf("failed to read chat history: %w", err)
	}
	if history == nil {
		history = make(map[string]*models.Transcript)
	}
	return history, nil
}

func (f *FileStorage) save(history map[string]*models.Transcript) error {
	if err := jsonfile.Write(f.path, history); err != nil {
		return fmt.Errorf("failed to write chat history: %w", err)
	}
	return nil
}

func (f *FileStorage) AppendMessage(ctx context.Context, userKey string, msg models.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	history, err := f.load()
	if err != nil {
		return err
	}

	t, ok := history[userKey]
	if !ok || t == nil {
		t = &models.Transcript{SessionID: newSessionID()}
		history[userKey] = t
	}
	t.Messages = append(t.Messages, msg)
	t.LastUpdated = nowMillis()

	return f.save(history)
}

func (f *FileStorage) ReadRecentMessages(ctx context.Context, userKey string, limit int) ([]models.ChatMessage, error) {
	t, err := f.GetTranscript(ctx, userKey)
	if err != nil {
		return nil, err
	}
	return tail(t.Messages, limit), nil
}

func (f *FileStorage) GetTranscript(ctx context.Context, userKey string) (*models.Transcript, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	history, err := f.load()
	if err != nil {
		return nil, err
	}
	t, ok := history[userKey]
	if !ok || t == nil {
		return emptyTranscript(), nil
	}
	return cloneTranscript(t), nil
}

func (f *FileStorage) ClearHistory(ctx context.Context, userKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	history, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := history[userKey]; !ok {
		return nil
	}

	history[userKey] = &models.Transcript{
		Messages:    []models.ChatMessage{},
		LastUpdated: nowMillis(),
		SessionID:   newSessionID(),
	}
	f.logger.WithField("user", userKey).Info("Chat history cleared")
	return f.save(history)
}
