package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Data       DataConfig       `mapstructure:"data"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Rotation   RotationConfig   `mapstructure:"rotation"`
	Chat       ChatConfig       `mapstructure:"chat"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Admin      AdminConfig      `mapstructure:"admin"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	I18n       I18nConfig       `mapstructure:"i18n"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DataConfig struct {
	Dir string `mapstructure:"dir"`
}

type StorageConfig struct {
	Type   string       `mapstructure:"type"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Memory MemoryConfig `mapstructure:"memory"`
	SQL    SQLConfig    `mapstructure:"sql"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MemoryConfig struct {
	DefaultExpiration time.Duration `mapstructure:"default_expiration"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
}

type SQLConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type RotationConfig struct {
	Store         string        `mapstructure:"store"`
	MaxIdle       time.Duration `mapstructure:"max_idle"`
	PruneInterval time.Duration `mapstructure:"prune_interval"`
}

type ChatConfig struct {
	DefaultEndpoint  string  `mapstructure:"default_endpoint"`
	MaxTokens        int     `mapstructure:"max_tokens"`
	Temperature      float32 `mapstructure:"temperature"`
	MaxMessageLength int     `mapstructure:"max_message_length"`
	StripMarkdown    bool    `mapstructure:"strip_markdown"`
	PersonaName      string  `mapstructure:"persona_name"`
	Language         string  `mapstructure:"language"`
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

type AuthConfig struct {
	Sessions   string `mapstructure:"sessions"`
	CookieName string `mapstructure:"cookie_name"`
}

type AdminConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type LoggingConfig struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"`
	Output string     `mapstructure:"output"`
	File   FileConfig `mapstructure:"file"`
}

type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

type MonitoringConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

type I18nConfig struct {
	DefaultLanguage string   `mapstructure:"default_language"`
	Languages       []string `mapstructure:"languages"`
}

// Storage backends
const (
	StoreFile   = "file"
	StoreRedis  = "redis"
	StoreMemory = "memory"
	StoreSQL    = "sql"
)

// SetDefaults registers the default value of every key on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":3000")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)

	v.SetDefault("data.dir", "data")

	v.SetDefault("storage.type", StoreFile)
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.memory.default_expiration", 24*time.Hour)
	v.SetDefault("storage.memory.cleanup_interval", 10*time.Minute)
	v.SetDefault("storage.sql.driver", "sqlite")
	v.SetDefault("storage.sql.dsn", "data/assistant.db")

	v.SetDefault("rotation.store", StoreFile)
	v.SetDefault("rotation.max_idle", time.Duration(0))
	v.SetDefault("rotation.prune_interval", time.Hour)

	v.SetDefault("chat.default_endpoint", "https://aihubmix.com/v1/chat/completions")
	v.SetDefault("chat.max_tokens", 1024)
	v.SetDefault("chat.temperature", 0.7)
	v.SetDefault("chat.max_message_length", 4096)
	v.SetDefault("chat.strip_markdown", false)
	v.SetDefault("chat.persona_name", "以太夜助手")
	v.SetDefault("chat.language", "zh")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_minute", 20)
	v.SetDefault("rate_limit.burst", 5)

	v.SetDefault("auth.sessions", StoreRedis)
	v.SetDefault("auth.cookie_name", "user_token")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("monitoring.metrics.enabled", false)
	v.SetDefault("monitoring.metrics.port", 9090)
	v.SetDefault("monitoring.metrics.path", "/metrics")

	v.SetDefault("i18n.default_language", "zh")
	v.SetDefault("i18n.languages", []string{"zh", "en"})
}

// LoadConfig loads configuration from file and environment variables.
// A missing config file is not an error; defaults and environment apply.
func LoadConfig(v *viper.Viper, configPath string) (*Config, error) {
	SetDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// ASSISTANT_STORAGE_TYPE overrides storage.type and so on
	v.SetEnvPrefix("assistant")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.BindEnv("storage.redis.addr", "REDIS_ADDR")
	v.BindEnv("storage.redis.password", "REDIS_PASSWORD")
	v.BindEnv("admin.jwt_secret", "ADMIN_JWT_SECRET")

	if err := v.ReadInConfig(); err != nil {
		if !isNotFound(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func isNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}

func validateConfig(cfg *Config) error {
	switch cfg.Storage.Type {
	case StoreFile, StoreRedis, StoreMemory, StoreSQL:
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
	switch cfg.Rotation.Store {
	case StoreFile, StoreRedis, StoreMemory:
	default:
		return fmt.Errorf("unsupported rotation store: %s", cfg.Rotation.Store)
	}
	switch cfg.Auth.Sessions {
	case StoreRedis, StoreMemory:
	default:
		return fmt.Errorf("unsupported session store: %s", cfg.Auth.Sessions)
	}
	if cfg.Storage.Type == StoreSQL && cfg.Storage.SQL.DSN == "" {
		return fmt.Errorf("storage.sql.dsn is required for sql storage")
	}
	if cfg.Data.Dir == "" {
		return fmt.Errorf("data directory is required")
	}
	if cfg.Rotation.MaxIdle < 0 {
		return fmt.Errorf("rotation.max_idle must not be negative")
	}
	return nil
}
