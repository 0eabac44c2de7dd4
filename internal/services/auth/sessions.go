package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aethrix-hub/assistant/internal/config"
	"github.com/go-redis/redis/v8"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// SessionUser is the visitor identity stored by the login flow
type SessionUser struct {
	FirebaseUID string `json:"firebaseUid,omitempty"`
	UID         string `json:"uid,omitempty"`
	Email       string `json:"email,omitempty"`
}

// Key is the stable identifier used for transcripts and rotation
func (u SessionUser) Key() string {
	switch {
	case u.FirebaseUID != "":
		return u.FirebaseUID
	case u.UID != "":
		return u.UID
	default:
		return u.Email
	}
}

// SessionResolver maps a visitor session token to a user key
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (string, bool)
}

// NewSessionResolver creates the resolver named by cfg.Auth.Sessions
func NewSessionResolver(cfg *config.Config, client *redis.Client, logger *logrus.Logger) (SessionResolver, error) {
	switch cfg.Auth.Sessions {
	case config.StoreMemory:
		// Nothing outside this process can register a memory session
		logger.Error("auth.sessions is memory: no login flow can register visitors, every visitor will be anonymous")
		return NewMemorySessions(24 * time.Hour), nil
	case config.StoreRedis:
		if client == nil {
			return nil, fmt.Errorf("redis sessions require a redis client")
		}
		return NewRedisSessions(client, logger), nil
	default:
		return nil, fmt.Errorf("unsupported session store: %s", cfg.Auth.Sessions)
	}
}

// MemorySessions holds sessions registered in this process
type MemorySessions struct {
	sessions *cache.Cache
}

func NewMemorySessions(ttl time.Duration) *MemorySessions {
	return &MemorySessions{sessions: cache.New(ttl, 10*time.Minute)}
}

// Register stores user under token
func (m *MemorySessions) Register(token string, user SessionUser) {
	m.sessions.SetDefault(token, user)
}

// Revoke removes token
func (m *MemorySessions) Revoke(token string) {
	m.sessions.Delete(token)
}

func (m *MemorySessions) Resolve(ctx context.Context, token string) (string, bool) {
	if token == "" {
		return "", false
	}
	val, found := m.sessions.Get(token)
	if !found {
		return "", false
	}
	key := val.(SessionUser).Key()
	return key, key != ""
}

// RedisSessions reads sessions written by the login flow under
// user_session:<token>
type RedisSessions struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewRedisSessions(client *redis.Client, logger *logrus.Logger) *RedisSessions {
	return &RedisSessions{client: client, logger: logger}
}

func sessionKey(token string) string {
	return fmt.Sprintf("user_session:%s", token)
}

func (r *RedisSessions) Resolve(ctx context.Context, token string) (string, bool) {
	if token == "" {
		return "", false
	}

	data, err := r.client.Get(ctx, sessionKey(token)).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		r.logger.WithError(err).Warn("Failed to read session")
		return "", false
	}

	var user SessionUser
	if err := json.Unmarshal([]byte(data), &user); err != nil {
		r.logger.WithError(err).Warn("Malformed session record")
		return "", false
	}
	key := user.Key()
	return key, key != ""
}
