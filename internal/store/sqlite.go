package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zhouzirui/agent-salon/backend/internal/model/session"
)

// SQLiteStore implements Store on top of modernc.org/sqlite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path and ensures the
// schema exists. Parent directories are created if needed.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single connection serializes writers; readers are fast enough
	// for the session volumes this service handles.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			topic      TEXT NOT NULL,
			agent_ids  TEXT NOT NULL,
			max_turns  INTEGER NOT NULL CHECK (max_turns > 0),
			status     TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,

			CHECK (status IN ('ACTIVE', 'STOPPED', 'COMPLETED'))
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at DESC);

		CREATE TABLE IF NOT EXISTS turns (
			session_id TEXT NOT NULL,
			sequence   INTEGER NOT NULL CHECK (sequence > 0),
			agent_id   TEXT NOT NULL,
			content    TEXT NOT NULL,
			prompt     TEXT,
			created_at TEXT NOT NULL,

			PRIMARY KEY (session_id, sequence),
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *session.Session) error {
	agentIDs, err := json.Marshal(sess.AgentIDs)
	if err != nil {
		return fmt.Errorf("encoding agent ids: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, topic, agent_ids, max_turns, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		sess.ID,
		sess.Topic,
		string(agentIDs),
		sess.MaxTurns,
		string(sess.Status),
		formatTime(sess.CreatedAt),
		formatTime(sess.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicate, sess.ID)
		}
		return fmt.Errorf("inserting session: %w", err)
	}

	s.logger.Debug("created session", "id", sess.ID, "agents", len(sess.AgentIDs))
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, topic, agent_ids, max_turns, status, created_at, updated_at
		FROM sessions
		WHERE id = ?
	`, id)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", session.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	turns, err := s.loadTurns(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	sess.Turns = turns
	return sess, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]*session.Session, error) {
	query := `
		SELECT id, topic, agent_ids, max_turns, status, created_at, updated_at
		FROM sessions
		ORDER BY created_at DESC, id DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}

	var sessions []*session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}
	rows.Close()

	for _, sess := range sessions {
		turns, err := s.loadTurns(ctx, s.db, sess.ID)
		if err != nil {
			return nil, err
		}
		sess.Turns = turns
	}
	return sessions, nil
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status session.Status, updatedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), formatTime(updatedAt), id,
	)
	if err != nil {
		return fmt.Errorf("updating session status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", session.ErrNotFound, id)
	}
	return nil
}

func (s *SQLiteStore) AppendTurns(ctx context.Context, id string, turns []session.Turn, status session.Status, updatedAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var maxTurns, stored int
	err = tx.QueryRowContext(ctx, `
		SELECT s.max_turns, (SELECT COUNT(*) FROM turns t WHERE t.session_id = s.id)
		FROM sessions s
		WHERE s.id = ?
	`, id).Scan(&maxTurns, &stored)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", session.ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("reading session state: %w", err)
	}
	if err := checkContinuity(stored, maxTurns, turns); err != nil {
		return err
	}

	for _, t := range turns {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO turns (session_id, sequence, agent_id, content, prompt, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, id, t.Sequence, t.AgentID, t.Content, nullString(t.Prompt), formatTime(t.CreatedAt))
		if err != nil {
			if isConstraintViolation(err) {
				return fmt.Errorf("%w: sequence %d", ErrSequenceConflict, t.Sequence)
			}
			return fmt.Errorf("inserting turn: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), formatTime(updatedAt), id,
	); err != nil {
		return fmt.Errorf("updating session status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing turns: %w", err)
	}

	s.logger.Debug("appended turns", "session_id", id, "count", len(turns), "status", status)
	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLiteStore) loadTurns(ctx context.Context, q queryer, id string) ([]session.Turn, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT sequence, agent_id, content, prompt, created_at
		FROM turns
		WHERE session_id = ?
		ORDER BY sequence ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	turns := []session.Turn{}
	for rows.Next() {
		var t session.Turn
		var prompt sql.NullString
		var createdAt string
		if err := rows.Scan(&t.Sequence, &t.AgentID, &t.Content, &prompt, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning turn row: %w", err)
		}
		t.Prompt = prompt.String
		if t.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing turn created_at: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating turn rows: %w", err)
	}
	return turns, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*session.Session, error) {
	var sess session.Session
	var agentIDs, status, createdAt, updatedAt string

	if err := row.Scan(&sess.ID, &sess.Topic, &agentIDs, &sess.MaxTurns, &status, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning session row: %w", err)
	}

	if err := json.Unmarshal([]byte(agentIDs), &sess.AgentIDs); err != nil {
		return nil, fmt.Errorf("decoding agent ids: %w", err)
	}
	sess.Status = session.Status(status)

	var err error
	if sess.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing session created_at: %w", err)
	}
	if sess.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing session updated_at: %w", err)
	}
	return &sess, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, raw)
}

// nullString returns nil for empty strings so optional columns stay NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// isConstraintViolation checks for SQLite UNIQUE / PRIMARY KEY violations.
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed")
}
