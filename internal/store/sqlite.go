package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nto-labs/agentforce-portal/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db       *sql.DB
	endpoint string        // normalized upstream endpoint sessions must match
	ttl      time.Duration // maximum session age before invalidation
	now      func() time.Time

	seqMu sync.Mutex // serializes sequence counter read-modify-write
	msgMu sync.Mutex // serializes message appends to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository. Stored sessions are
// validated against endpoint and ttl on read.
func NewSQLite(dbPath, endpoint string, ttl time.Duration) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{
		db:       db,
		endpoint: domain.NormalizeEndpoint(endpoint),
		ttl:      ttl,
		now:      time.Now,
	}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS chat_sessions (
		agent_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		endpoint TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chat_messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		agent_id TEXT NOT NULL,
		message_id TEXT NOT NULL,
		content TEXT NOT NULL,
		is_user INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		tool_outputs_json TEXT,
		UNIQUE(agent_id, message_id)
	);
	CREATE INDEX IF NOT EXISTS idx_chat_messages_agent ON chat_messages(agent_id, seq);

	CREATE TABLE IF NOT EXISTS sequence_counters (
		agent_id TEXT PRIMARY KEY,
		next_seq INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetSession retrieves the stored session for an agent, validating endpoint
// and age. Invalid sessions are cleared and reported as absent.
func (s *SQLiteStore) GetSession(ctx context.Context, agentID string) (*domain.ChatSession, error) {
	query := `SELECT session_id, endpoint, created_at FROM chat_sessions WHERE agent_id = ?`
	row := s.db.QueryRowContext(ctx, query, agentID)

	var session domain.ChatSession
	var createdAt int64
	err := row.Scan(&session.SessionID, &session.Endpoint, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		// Fail closed: a row we cannot decode is treated as absent.
		slog.Warn("failed to scan session row, clearing", "agent_id", agentID, "error", err)
		s.clearQuietly(ctx, agentID)
		return nil, nil
	}

	session.AgentID = agentID
	session.CreatedAt = time.Unix(createdAt, 0)

	if s.endpoint != "" && !session.MatchesEndpoint(s.endpoint) {
		slog.Info("session targets a different upstream endpoint, clearing",
			"agent_id", agentID,
			"session_endpoint", session.Endpoint,
			"configured_endpoint", s.endpoint,
		)
		s.clearQuietly(ctx, agentID)
		return nil, nil
	}

	if session.Expired(s.now(), s.ttl) {
		slog.Info("session expired, clearing",
			"agent_id", agentID,
			"age", s.now().Sub(session.CreatedAt).Round(time.Minute),
		)
		s.clearQuietly(ctx, agentID)
		return nil, nil
	}

	return &session, nil
}

// PutSession upserts the session for an agent.
func (s *SQLiteStore) PutSession(ctx context.Context, session *domain.ChatSession) error {
	query := `
	INSERT INTO chat_sessions (agent_id, session_id, endpoint, created_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(agent_id) DO UPDATE SET
		session_id = excluded.session_id,
		endpoint = excluded.endpoint,
		created_at = excluded.created_at`

	_, err := s.db.ExecContext(ctx, query,
		session.AgentID, session.SessionID, session.Endpoint, session.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// ClearSession removes the session, all messages and the sequence counter
// for an agent. Retries with exponential backoff on SQLITE_BUSY.
func (s *SQLiteStore) ClearSession(ctx context.Context, agentID string) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = s.clearSessionOnce(ctx, agentID)
		if err == nil {
			return nil
		}
		if !isSQLiteConflict(err) {
			break
		}
		if i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i)
			slog.Debug("ClearSession hit SQLITE_BUSY, retrying",
				"agent_id", agentID, "attempt", i+1, "delay", delay)
			time.Sleep(delay)
		}
	}
	return fmt.Errorf("clear session for %s: %w", agentID, err)
}

func (s *SQLiteStore) clearSessionOnce(ctx context.Context, agentID string) error {
	s.msgMu.Lock()
	defer s.msgMu.Unlock()
	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, q := range []string{
		`DELETE FROM chat_sessions WHERE agent_id = ?`,
		`DELETE FROM chat_messages WHERE agent_id = ?`,
		`DELETE FROM sequence_counters WHERE agent_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, agentID); err != nil {
			return fmt.Errorf("clear session state: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit clear: %w", err)
	}
	return nil
}

// clearQuietly invalidates an agent's state where the caller treats the
// session as absent regardless of the outcome.
func (s *SQLiteStore) clearQuietly(ctx context.Context, agentID string) {
	if err := s.ClearSession(ctx, agentID); err != nil {
		slog.Warn("failed to clear invalid session", "agent_id", agentID, "error", err)
	}
}

// GetMessages returns stored messages for an agent, oldest first. Corrupt
// rows are skipped; a query failure yields an empty history.
func (s *SQLiteStore) GetMessages(ctx context.Context, agentID string) ([]domain.ChatMessage, error) {
	query := `
		SELECT message_id, content, is_user, created_at, tool_outputs_json
		FROM chat_messages WHERE agent_id = ? ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, agentID)
	if err != nil {
		slog.Warn("failed to query messages", "agent_id", agentID, "error", err)
		return []domain.ChatMessage{}, nil
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	messages := []domain.ChatMessage{}
	for rows.Next() {
		var msg domain.ChatMessage
		var isUser int
		var createdAt int64
		var toolOutputs sql.NullString

		if err := rows.Scan(&msg.ID, &msg.Content, &isUser, &createdAt, &toolOutputs); err != nil {
			slog.Warn("failed to scan message row, skipping", "agent_id", agentID, "error", err)
			continue
		}

		msg.IsUser = isUser != 0
		msg.Timestamp = time.Unix(createdAt, 0)
		if toolOutputs.Valid && toolOutputs.String != "" {
			if err := json.Unmarshal([]byte(toolOutputs.String), &msg.ToolOutputs); err != nil {
				slog.Warn("failed to decode tool outputs", "message_id", msg.ID, "error", err)
			}
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		slog.Warn("failed to iterate message rows", "agent_id", agentID, "error", err)
	}

	return messages, nil
}

// AppendMessage appends a finalized message. Duplicate message IDs for the
// same agent are dropped, which makes redelivered events idempotent.
func (s *SQLiteStore) AppendMessage(ctx context.Context, agentID string, msg *domain.ChatMessage) error {
	s.msgMu.Lock()
	defer s.msgMu.Unlock()

	var toolOutputs interface{}
	if len(msg.ToolOutputs) > 0 {
		data, err := json.Marshal(msg.ToolOutputs)
		if err != nil {
			return fmt.Errorf("encode tool outputs: %w", err)
		}
		toolOutputs = string(data)
	}

	query := `
	INSERT OR IGNORE INTO chat_messages (agent_id, message_id, content, is_user, created_at, tool_outputs_json)
	VALUES (?, ?, ?, ?, ?, ?)`

	result, err := s.db.ExecContext(ctx, query,
		agentID, msg.ID, msg.Content, boolToInt(msg.IsUser), msg.Timestamp.Unix(), toolOutputs,
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("append message rows affected: %w", err)
	}
	if rowsAffected == 0 {
		slog.Debug("duplicate message id, skipping", "agent_id", agentID, "message_id", msg.ID)
	}
	return nil
}

// NextSequenceID increments and returns the per-agent sequence counter.
func (s *SQLiteStore) NextSequenceID(ctx context.Context, agentID string) (int, error) {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	query := `
	INSERT INTO sequence_counters (agent_id, next_seq) VALUES (?, 1)
	ON CONFLICT(agent_id) DO UPDATE SET next_seq = next_seq + 1
	RETURNING next_seq`

	var next int
	if err := s.db.QueryRowContext(ctx, query, agentID).Scan(&next); err != nil {
		return 0, fmt.Errorf("next sequence id: %w", err)
	}
	return next, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isSQLiteConflict checks for SQLITE_BUSY / "database is locked" errors,
// which warrant a retry.
func isSQLiteConflict(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "SQLITE_BUSY") ||
		strings.Contains(err.Error(), "database is locked")
}
