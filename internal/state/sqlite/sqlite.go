// Package sqlite implements state.Store on an embedded SQLite database.
// Suited to deployments where the JSON file backend's whole-file rewrites
// become a bottleneck, or where several records change at high rates.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/threadclaw/threadclaw/internal/state"
)

const schema = `
CREATE TABLE IF NOT EXISTS bindings (
  channel_id TEXT PRIMARY KEY,
  project_id TEXT NOT NULL,
  branch     TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
  thread_id    TEXT PRIMARY KEY,
  channel_id   TEXT NOT NULL,
  project_id   TEXT NOT NULL,
  branch       TEXT NOT NULL,
  resume_token TEXT NOT NULL DEFAULT '',
  status       TEXT NOT NULL,
  created_at   TEXT NOT NULL,
  updated_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_channel ON sessions(channel_id);
CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
`

// Store is a SQLite-backed state.Store.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and ensures the schema exists.
// WAL mode plus synchronous=FULL keeps every committed write durable.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	// modernc sqlite is single-writer; serialize through one connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply state schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) GetBinding(channelID string) (state.Binding, bool, error) {
	var b state.Binding
	var createdAt string
	err := s.db.QueryRow(
		`SELECT channel_id, project_id, branch, created_at FROM bindings WHERE channel_id = ?`,
		channelID,
	).Scan(&b.ChannelID, &b.ProjectID, &b.Branch, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return state.Binding{}, false, nil
	}
	if err != nil {
		return state.Binding{}, false, fmt.Errorf("get binding: %w", err)
	}
	b.CreatedAt = parseTime(createdAt)
	return b, true, nil
}

func (s *Store) PutBinding(b state.Binding) error {
	_, err := s.db.Exec(
		`INSERT INTO bindings (channel_id, project_id, branch, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(channel_id) DO UPDATE SET
		   project_id = excluded.project_id,
		   branch     = excluded.branch,
		   created_at = excluded.created_at`,
		b.ChannelID, b.ProjectID, b.Branch, formatTime(b.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("put binding: %w", err)
	}
	return nil
}

func (s *Store) DeleteBinding(channelID string) error {
	if _, err := s.db.Exec(`DELETE FROM bindings WHERE channel_id = ?`, channelID); err != nil {
		return fmt.Errorf("delete binding: %w", err)
	}
	return nil
}

func (s *Store) GetSession(threadID string) (state.Session, bool, error) {
	row := s.db.QueryRow(
		`SELECT thread_id, channel_id, project_id, branch, resume_token, status, created_at, updated_at
		 FROM sessions WHERE thread_id = ?`,
		threadID,
	)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return state.Session{}, false, nil
	}
	if err != nil {
		return state.Session{}, false, fmt.Errorf("get session: %w", err)
	}
	return sess, true, nil
}

func (s *Store) PutSession(sess state.Session) error {
	_, err := s.db.Exec(
		`INSERT INTO sessions (thread_id, channel_id, project_id, branch, resume_token, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(thread_id) DO UPDATE SET
		   resume_token = excluded.resume_token,
		   status       = excluded.status,
		   updated_at   = excluded.updated_at`,
		sess.ThreadID, sess.ChannelID, sess.ProjectID, sess.Branch,
		sess.ResumeToken, string(sess.Status),
		formatTime(sess.CreatedAt), formatTime(sess.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

func (s *Store) DeleteSession(threadID string) error {
	if _, err := s.db.Exec(`DELETE FROM sessions WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *Store) ListSessions() ([]state.Session, error) {
	rows, err := s.db.Query(
		`SELECT thread_id, channel_id, project_id, branch, resume_token, status, created_at, updated_at
		 FROM sessions ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []state.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (state.Session, error) {
	var sess state.Session
	var status, createdAt, updatedAt string
	err := row.Scan(&sess.ThreadID, &sess.ChannelID, &sess.ProjectID, &sess.Branch,
		&sess.ResumeToken, &status, &createdAt, &updatedAt)
	if err != nil {
		return state.Session{}, err
	}
	sess.Status = state.SessionStatus(status)
	sess.CreatedAt = parseTime(createdAt)
	sess.UpdatedAt = parseTime(updatedAt)
	return sess, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
