package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aethrix-hub/assistant/internal/models"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

const maxTxRetries = 5

// RedisStorage keeps one JSON transcript per user under chat_history:<userKey>
type RedisStorage struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewRedisStorage(client *redis.Client, logger *logrus.Logger) *RedisStorage {
	return &RedisStorage{client: client, logger: logger}
}

func historyKey(userKey string) string {
	return fmt.Sprintf("chat_history:%s", userKey)
}

func readTranscript(ctx context.Context, cmd redis.Cmdable, key string) (*models.Transcript, bool, error) {
	data, err := cmd.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var t models.Transcript
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return nil, false, fmt.Errorf("failed to parse transcript: %w", err)
	}
	return &t, true, nil
}

// update applies fn to the stored transcript inside an optimistic
// transaction. fn returns nil to skip the write.
func (r *RedisStorage) update(ctx context.Context, userKey string, fn func(t *models.Transcript, found bool) *models.Transcript) error {
	key := historyKey(userKey)

	txf := func(tx *redis.Tx) error {
		t, found, err := readTranscript(ctx, tx, key)
		if err != nil {
			return err
		}
		next := fn(t, found)
		if next == nil {
			return nil
		}
		data, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("transcript update for %s kept conflicting", userKey)
}

func (r *RedisStorage) AppendMessage(ctx context.Context, userKey string, msg models.ChatMessage) error {
	return r.update(ctx, userKey, func(t *models.Transcript, found bool) *models.Transcript {
		if !found {
			t = &models.Transcript{SessionID: newSessionID()}
		}
		t.Messages = append(t.Messages, msg)
		t.LastUpdated = nowMillis()
		return t
	})
}

func (r *RedisStorage) ReadRecentMessages(ctx context.Context, userKey string, limit int) ([]models.ChatMessage, error) {
	t, err := r.GetTranscript(ctx, userKey)
	if err != nil {
		return nil, err
	}
	return tail(t.Messages, limit), nil
}

func (r *RedisStorage) GetTranscript(ctx context.Context, userKey string) (*models.Transcript, error) {
	t, found, err := readTranscript(ctx, r.client, historyKey(userKey))
	if err != nil {
		return nil, err
	}
	if !found {
		return emptyTranscript(), nil
	}
	if t.Messages == nil {
		t.Messages = []models.ChatMessage{}
	}
	return t, nil
}

func (r *RedisStorage) ClearHistory(ctx context.Context, userKey string) error {
	return r.update(ctx, userKey, func(t *models.Transcript, found bool) *models.Transcript {
		if !found {
			return nil
		}
		return &models.Transcript{
			Messages:    []models.ChatMessage{},
			LastUpdated: nowMillis(),
			SessionID:   newSessionID(),
		}
	})
}
