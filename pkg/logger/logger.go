package logger

import (
	"os"
	"path/filepath"

	"github.com/aethrix-hub/assistant/internal/config"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger creates a new logger instance
func NewLogger(cfg *config.LoggingConfig) (*logrus.Logger, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
			FullTimestamp:   true,
		})
	}

	switch cfg.Output {
	case "file":
		logDir := filepath.Dir(cfg.File.Path)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, err
		}

		logger.SetOutput(&lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSize, // megabytes
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAge, // days
			Compress:   true,
		})
	default:
		logger.SetOutput(os.Stdout)
	}

	return logger, nil
}

// SetLevel changes the level of an existing logger, keeping the old level on
// a parse error
func SetLevel(logger *logrus.Logger, level string) error {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logger.SetLevel(parsed)
	return nil
}

// WithUser adds the request's user and request id to the logger
func WithUser(logger *logrus.Logger, userKey, requestID string) *logrus.Entry {
	if userKey == "" {
		userKey = "anonymous"
	}
	return logger.WithFields(logrus.Fields{
		"user":       userKey,
		"request_id": requestID,
	})
}
