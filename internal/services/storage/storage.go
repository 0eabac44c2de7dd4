package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/aethrix-hub/assistant/internal/config"
	"github.com/aethrix-hub/assistant/internal/models"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// TranscriptStore persists per-user chat transcripts
type TranscriptStore interface {
	// AppendMessage adds msg to the end of userKey's transcript, creating it
	// with a fresh session id when missing
	AppendMessage(ctx context.Context, userKey string, msg models.ChatMessage) error
	// ReadRecentMessages returns the last limit messages, oldest first
	ReadRecentMessages(ctx context.Context, userKey string, limit int) ([]models.ChatMessage, error)
	// GetTranscript returns the whole transcript, empty when none exists
	GetTranscript(ctx context.Context, userKey string) (*models.Transcript, error)
	// ClearHistory empties an existing transcript and starts a new session
	ClearHistory(ctx context.Context, userKey string) error
}

// OpObserver is told about every store operation, e.g. for metrics
type OpObserver func(op string, err error)

// Manager manages the transcript backend and the shared redis connection
type Manager struct {
	store       TranscriptStore
	logger      *logrus.Logger
	redisClient *redis.Client
	closers     []func() error
	observer    OpObserver
}

// NewManager creates the backend named by cfg.Storage.Type. A redis client
// is opened when any component is configured for redis.
func NewManager(cfg *config.Config, logger *logrus.Logger) (*Manager, error) {
	manager := &Manager{logger: logger}

	if needsRedis(cfg) {
		client, err := NewRedisClient(cfg.Storage.Redis)
		if err != nil {
			return nil, err
		}
		manager.redisClient = client
		manager.closers = append(manager.closers, client.Close)
	}

	switch cfg.Storage.Type {
	case config.StoreFile:
		manager.store = NewFileStorage(cfg.Data.Dir, logger)
	case config.StoreRedis:
		manager.store = NewRedisStorage(manager.redisClient, logger)
	case config.StoreMemory:
		manager.store = NewMemoryStorage(cfg.Storage.Memory, logger)
	case config.StoreSQL:
		sqlStorage, err := NewSQLStorage(cfg.Storage.SQL, logger)
		if err != nil {
			manager.Close()
			return nil, err
		}
		manager.store = sqlStorage
		manager.closers = append(manager.closers, sqlStorage.Close)
	default:
		manager.Close()
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	logger.WithField("type", cfg.Storage.Type).Info("Transcript storage initialized")
	return manager, nil
}

// NewManagerWithStore wraps an existing backend
func NewManagerWithStore(store TranscriptStore, logger *logrus.Logger) *Manager {
	return &Manager{store: store, logger: logger}
}

func needsRedis(cfg *config.Config) bool {
	return cfg.Storage.Type == config.StoreRedis ||
		cfg.Rotation.Store == config.StoreRedis ||
		cfg.Auth.Sessions == config.StoreRedis
}

// NewRedisClient connects to redis and verifies the connection
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// SetObserver registers fn to be called after every operation
func (m *Manager) SetObserver(fn OpObserver) {
	m.observer = fn
}

func (m *Manager) observe(op string, err error) {
	if m.observer != nil {
		m.observer(op, err)
	}
}

func (m *Manager) AppendMessage(ctx context.Context, userKey string, msg models.ChatMessage) error {
	err := m.store.AppendMessage(ctx, userKey, msg)
	m.observe("append", err)
	return err
}

func (m *Manager) ReadRecentMessages(ctx context.Context, userKey string, limit int) ([]models.ChatMessage, error) {
	msgs, err := m.store.ReadRecentMessages(ctx, userKey, limit)
	m.observe("read_recent", err)
	return msgs, err
}

func (m *Manager) GetTranscript(ctx context.Context, userKey string) (*models.Transcript, error) {
	t, err := m.store.GetTranscript(ctx, userKey)
	m.observe("get", err)
	return t, err
}

func (m *Manager) ClearHistory(ctx context.Context, userKey string) error {
	err := m.store.ClearHistory(ctx, userKey)
	m.observe("clear", err)
	return err
}

// GetRedisClient returns the shared redis client, nil when redis is unused
func (m *Manager) GetRedisClient() *redis.Client {
	return m.redisClient
}

// Close releases backend connections
func (m *Manager) Close() error {
	var firstErr error
	for _, closeFn := range m.closers {
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.closers = nil
	return firstErr
}

func newSessionID() string {
	return uuid.NewString()
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func emptyTranscript() *models.Transcript {
	return &models.Transcript{Messages: []models.ChatMessage{}}
}

// tail returns a copy of the last limit messages
func tail(messages []models.ChatMessage, limit int) []models.ChatMessage {
	if limit <= 0 || len(messages) == 0 {
		return []models.ChatMessage{}
	}
	if len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return append([]models.ChatMessage(nil), messages...)
}

func cloneTranscript(t *models.Transcript) *models.Transcript {
	out := *t
	out.Messages = append([]models.ChatMessage{}, t.Messages...)
	return &out
}
