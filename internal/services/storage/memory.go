package storage

import (
	"context"
	"sync"

	"github.com/aethrix-hub/assistant/internal/config"
	"github.com/aethrix-hub/assistant/internal/models"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// MemoryStorage keeps transcripts in process memory. Idle transcripts expire
// after the configured default expiration.
type MemoryStorage struct {
	transcripts *cache.Cache
	mu          sync.Mutex
	logger      *logrus.Logger
}

func NewMemoryStorage(cfg config.MemoryConfig, logger *logrus.Logger) *MemoryStorage {
	return &MemoryStorage{
		transcripts: cache.New(cfg.DefaultExpiration, cfg.CleanupInterval),
		logger:      logger,
	}
}

func (m *MemoryStorage) get(userKey string) (*models.Transcript, bool) {
	if val, found := m.transcripts.Get(userKey); found {
		return val.(*models.Transcript), true
	}
	return nil, false
}

func (m *MemoryStorage) AppendMessage(ctx context.Context, userKey string, msg models.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.get(userKey)
	if ok {
		t = cloneTranscript(t)
	} else {
		t = &models.Transcript{SessionID: newSessionID()}
	}
	t.Messages = append(t.Messages, msg)
	t.LastUpdated = nowMillis()
	m.transcripts.SetDefault(userKey, t)
	return nil
}

func (m *MemoryStorage) ReadRecentMessages(ctx context.Context, userKey string, limit int) ([]models.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.get(userKey)
	if !ok {
		return []models.ChatMessage{}, nil
	}
	return tail(t.Messages, limit), nil
}

func (m *MemoryStorage) GetTranscript(ctx context.Context, userKey string) (*models.Transcript, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.get(userKey)
	if !ok {
		return emptyTranscript(), nil
	}
	return cloneTranscript(t), nil
}

func (m *MemoryStorage) ClearHistory(ctx context.Context, userKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.get(userKey); !ok {
		return nil
	}
	m.transcripts.SetDefault(userKey, &models.Transcript{
		Messages:    []models.ChatMessage{},
		LastUpdated: nowMillis(),
		SessionID:   newSessionID(),
	})
	return nil
}
