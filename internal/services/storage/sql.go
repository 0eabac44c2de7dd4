package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aethrix-hub/assistant/internal/config"
	"github.com/aethrix-hub/assistant/internal/models"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// SQL drivers supported by SQLStorage
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

var schemas = map[string][]string{
	DriverSQLite: {
		`CREATE TABLE IF NOT EXISTS chat_sessions (
			user_key     TEXT PRIMARY KEY,
			session_id   TEXT NOT NULL,
			last_updated INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			seq      INTEGER PRIMARY KEY AUTOINCREMENT,
			id       TEXT NOT NULL,
			user_key TEXT NOT NULL,
			role     TEXT NOT NULL,
			content  TEXT NOT NULL,
			ts       INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_user ON chat_messages (user_key, seq)`,
	},
	DriverPostgres: {
		`CREATE TABLE IF NOT EXISTS chat_sessions (
			user_key     TEXT PRIMARY KEY,
			session_id   TEXT NOT NULL,
			last_updated BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			seq      BIGSERIAL PRIMARY KEY,
			id       TEXT NOT NULL,
			user_key TEXT NOT NULL,
			role     TEXT NOT NULL,
			content  TEXT NOT NULL,
			ts       BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_user ON chat_messages (user_key, seq)`,
	},
}

type sessionRow struct {
	SessionID   string `db:"session_id"`
	LastUpdated int64  `db:"last_updated"`
}

type messageRow struct {
	ID        string `db:"id"`
	Role      string `db:"role"`
	Content   string `db:"content"`
	Timestamp int64  `db:"ts"`
}

func (r messageRow) toModel() models.ChatMessage {
	return models.ChatMessage{ID: r.ID, Role: r.Role, Content: r.Content, Timestamp: r.Timestamp}
}

// SQLStorage keeps transcripts in chat_sessions and chat_messages tables
type SQLStorage struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewSQLStorage opens cfg.DSN with cfg.Driver and creates the schema
func NewSQLStorage(cfg config.SQLConfig, logger *logrus.Logger) (*SQLStorage, error) {
	schema, ok := schemas[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unsupported sql driver: %s", cfg.Driver)
	}

	db, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.Driver == DriverSQLite {
		// single writer; also keeps :memory: databases on one connection
		db.SetMaxOpenConns(1)
	}

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	logger.WithField("driver", cfg.Driver).Info("SQL transcript storage ready")
	return &SQLStorage{db: db, logger: logger}, nil
}

func (s *SQLStorage) Close() error {
	return s.db.Close()
}

func (s *SQLStorage) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLStorage) AppendMessage(ctx context.Context, userKey string, msg models.ChatMessage) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		now := nowMillis()
		_, err := tx.ExecContext(ctx, tx.Rebind(
			`INSERT INTO chat_sessions (user_key, session_id, last_updated) VALUES (?, ?, ?)
			 ON CONFLICT (user_key) DO UPDATE SET last_updated = excluded.last_updated`),
			userKey, newSessionID(), now)
		if err != nil {
			return fmt.Errorf("failed to upsert session: %w", err)
		}

		_, err = tx.ExecContext(ctx, tx.Rebind(
			`INSERT INTO chat_messages (id, user_key, role, content, ts) VALUES (?, ?, ?, ?, ?)`),
			msg.ID, userKey, msg.Role, msg.Content, msg.Timestamp)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		return nil
	})
}

func (s *SQLStorage) ReadRecentMessages(ctx context.Context, userKey string, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 {
		return []models.ChatMessage{}, nil
	}

	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		`SELECT id, role, content, ts FROM (
			SELECT seq, id, role, content, ts FROM chat_messages
			WHERE user_key = ? ORDER BY seq DESC LIMIT ?
		) recent ORDER BY seq ASC`),
		userKey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	return toModels(rows), nil
}

func (s *SQLStorage) GetTranscript(ctx context.Context, userKey string) (*models.Transcript, error) {
	var session sessionRow
	err := s.db.GetContext(ctx, &session, s.db.Rebind(
		`SELECT session_id, last_updated FROM chat_sessions WHERE user_key = ?`), userKey)
	if errors.Is(err, sql.ErrNoRows) {
		return emptyTranscript(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var rows []messageRow
	err = s.db.SelectContext(ctx, &rows, s.db.Rebind(
		`SELECT id, role, content, ts FROM chat_messages WHERE user_key = ? ORDER BY seq ASC`), userKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}

	return &models.Transcript{
		Messages:    toModels(rows),
		LastUpdated: session.LastUpdated,
		SessionID:   session.SessionID,
	}, nil
}

func (s *SQLStorage) ClearHistory(ctx context.Context, userKey string) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(
			`UPDATE chat_sessions SET session_id = ?, last_updated = ? WHERE user_key = ?`),
			newSessionID(), nowMillis(), userKey)
		if err != nil {
			return fmt.Errorf("failed to reset session: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return nil
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(
			`DELETE FROM chat_messages WHERE user_key = ?`), userKey); err != nil {
			return fmt.Errorf("failed to delete messages: %w", err)
		}
		return nil
	})
}

func toModels(rows []messageRow) []models.ChatMessage {
	out := make([]models.ChatMessage, len(rows))
	for i, row := range rows {
		out[i] = row.toModel()
	}
	return out
}
