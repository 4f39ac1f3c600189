package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jredh-dev/nexus-relay/internal/apperr"
	"github.com/jredh-dev/nexus-relay/internal/models"

	_ "modernc.org/sqlite"
)

// SQLite wraps a SQLite connection.
type SQLite struct {
	conn *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS threads (
	id                   TEXT PRIMARY KEY,
	phone_number         TEXT NOT NULL UNIQUE,
	assistant_session_id TEXT NOT NULL DEFAULT '',
	created_at           DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id           TEXT PRIMARY KEY,
	thread_id    TEXT NOT NULL REFERENCES threads(id),
	phone_number TEXT NOT NULL,
	message_body TEXT NOT NULL,
	message_type TEXT NOT NULL CHECK (message_type IN ('inbound', 'outbound')),
	created_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_thread_id ON messages(thread_id, created_at);
`

// OpenSQLite creates or opens the database at path and applies the schema.
func OpenSQLite(path string) (*SQLite, error) {
	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single writer, many readers.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{conn: conn}, nil
}

// Close shuts down the database connection.
func (s *SQLite) Close() error {
	return s.conn.Close()
}

// --- Thread operations ---

func (s *SQLite) ThreadByPhone(ctx context.Context, phone string) (*models.Thread, error) {
	t := &models.Thread{}
	err := s.conn.QueryRowContext(ctx,
		`SELECT id, phone_number, assistant_session_id, created_at FROM threads WHERE phone_number = ?`,
		phone,
	).Scan(&t.ID, &t.PhoneNumber, &t.AssistantSessionID, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Wrap(apperr.NotFound, "store.ThreadByPhone", fmt.Errorf("no thread for %s", phone))
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Upstream, "store.ThreadByPhone", err)
	}
	return t, nil
}

func (s *SQLite) UpsertThread(ctx context.Context, phone, sessionID string) (*models.Thread, error) {
	// COALESCE(NULLIF(...)) keeps a session id that is already assigned.
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO threads (id, phone_number, assistant_session_id, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(phone_number) DO UPDATE SET
		   assistant_session_id = COALESCE(NULLIF(threads.assistant_session_id, ''), excluded.assistant_session_id)`,
		uuid.New().String(), phone, sessionID, time.Now().UTC(),
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.Upstream, "store.UpsertThread", err)
	}
	return s.ThreadByPhone(ctx, phone)
}

// --- Message operations ---

func (s *SQLite) AppendMessage(ctx context.Context, m *models.Message) error {
	stamp(m)
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO messages (id, thread_id, phone_number, message_body, message_type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.ThreadID, m.PhoneNumber, m.Body, string(m.Direction), m.CreatedAt,
	)
	if err != nil {
		return apperr.Wrap(apperr.Upstream, "store.AppendMessage", err)
	}
	return nil
}

func (s *SQLite) MessagesByThread(ctx context.Context, threadID string) ([]*models.Message, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, thread_id, phone_number, message_body, message_type, created_at
		 FROM messages WHERE thread_id = ? ORDER BY created_at ASC, rowid ASC`,
		threadID,
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.Upstream, "store.MessagesByThread", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		m := &models.Message{}
		var dir string
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.PhoneNumber, &m.Body, &dir, &m.CreatedAt); err != nil {
			return nil, apperr.Wrap(apperr.Upstream, "store.MessagesByThread", err)
		}
		m.Direction = models.Direction(dir)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.Upstream, "store.MessagesByThread", err)
	}
	return messages, nil
}

// stamp fills the store-assigned fields of m.
func stamp(m *models.Message) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
}
