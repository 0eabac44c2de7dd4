package rotation

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/aethrix-hub/assistant/internal/config"
	"github.com/aethrix-hub/assistant/internal/models"
	"github.com/aethrix-hub/assistant/pkg/jsonfile"
	"github.com/go-redis/redis/v8"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// LedgerFileName is the ledger document inside the data directory
const LedgerFileName = "model_usage.json"

const redisLedgerKey = "assistant:model_usage"

// LedgerStore persists the rotation ledger
type LedgerStore interface {
	Load(ctx context.Context) (*models.RotationState, error)
	Save(ctx context.Context, state *models.RotationState) error
}

// NewLedgerStore creates the ledger backend named by cfg.Rotation.Store.
// The redis backend reuses client, which may be nil for other backends.
func NewLedgerStore(cfg *config.Config, client *redis.Client, logger *logrus.Logger) (LedgerStore, error) {
	switch cfg.Rotation.Store {
	case config.StoreFile:
		return NewFileLedger(filepath.Join(cfg.Data.Dir, LedgerFileName), logger), nil
	case config.StoreRedis:
		if client == nil {
			return nil, fmt.Errorf("redis ledger requires a redis client")
		}
		return NewRedisLedger(client), nil
	case config.StoreMemory:
		return NewMemoryLedger(), nil
	default:
		return nil, fmt.Errorf("unsupported rotation store: %s", cfg.Rotation.Store)
	}
}

// normalize makes a freshly decoded state safe to mutate
func normalize(state *models.RotationState) *models.RotationState {
	if state == nil {
		return models.NewRotationState()
	}
	if state.Users == nil {
		state.Users = make(map[string]models.UserRotation)
	}
	return state
}

func clone(state *models.RotationState) *models.RotationState {
	out := &models.RotationState{
		CurrentModelIndex: state.CurrentModelIndex,
		UsageCount:        state.UsageCount,
		Users:             make(map[string]models.UserRotation, len(state.Users)),
	}
	for k, v := range state.Users {
		out.Users[k] = v
	}
	return out
}

// FileLedger keeps the ledger in a JSON file compatible with model_usage.json
type FileLedger struct {
	path   string
	logger *logrus.Logger
}

func NewFileLedger(path string, logger *logrus.Logger) *FileLedger {
	return &FileLedger{path: path, logger: logger}
}

// Load returns an empty ledger when the file is missing or unparsable
func (f *FileLedger) Load(ctx context.Context) (*models.RotationState, error) {
	var state models.RotationState
	found, err := jsonfile.Read(f.path, &state)
	if err != nil {
		f.logger.WithError(err).WithField("path", f.path).Warn("Rotation ledger unreadable, starting empty")
		return models.NewRotationState(), nil
	}
	if !found {
		return models.NewRotationState(), nil
	}
	return normalize(&state), nil
}

func (f *FileLedger) Save(ctx context.Context, state *models.RotationState) error {
	return jsonfile.Write(f.path, normalize(state))
}

// RedisLedger keeps the ledger as a single JSON value
type RedisLedger struct {
	client *redis.Client
}

func NewRedisLedger(client *redis.Client) *RedisLedger {
	return &RedisLedger{client: client}
}

func (r *RedisLedger) Load(ctx context.Context) (*models.RotationState, error) {
	data, err := r.client.Get(ctx, redisLedgerKey).Result()
	if err == redis.Nil {
		return models.NewRotationState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load rotation ledger: %w", err)
	}

	var state models.RotationState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("failed to parse rotation ledger: %w", err)
	}
	return normalize(&state), nil
}

func (r *RedisLedger) Save(ctx context.Context, state *models.RotationState) error {
	data, err := json.Marshal(normalize(state))
	if err != nil {
		return err
	}
	return r.client.Set(ctx, redisLedgerKey, data, 0).Err()
}

// MemoryLedger keeps the ledger in process memory
type MemoryLedger struct {
	cache *cache.Cache
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{cache: cache.New(cache.NoExpiration, time.Hour)}
}

func (m *MemoryLedger) Load(ctx context.Context) (*models.RotationState, error) {
	if val, found := m.cache.Get(redisLedgerKey); found {
		return clone(val.(*models.RotationState)), nil
	}
	return models.NewRotationState(), nil
}

func (m *MemoryLedger) Save(ctx context.Context, state *models.RotationState) error {
	m.cache.Set(redisLedgerKey, clone(normalize(state)), cache.NoExpiration)
	return nil
}
