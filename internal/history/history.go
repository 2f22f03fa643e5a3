// Package history keeps the most recent canonical messages, in memory for
// delivery and in SQLite so a restart does not lose the backlog.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/john/chatmux/internal/message"
	"github.com/john/chatmux/internal/telemetry"
)

// DefaultMaxSize is used when the configured size is not positive
const DefaultMaxSize = 50

// schemaVersion is stored in PRAGMA user_version
const schemaVersion = 2

// ErrPersist wraps failures to write history to disk
var ErrPersist = errors.New("persist history")

const createMessages = `CREATE TABLE IF NOT EXISTS messages (
	seq  INTEGER PRIMARY KEY AUTOINCREMENT,
	id   TEXT NOT NULL,
	body TEXT NOT NULL
)`

// Store is a bounded, ordered message log
type Store struct {
	db     *sql.DB
	logger *zap.Logger

	mu      sync.Mutex
	maxSize int
	msgs    []message.ChatMessage
}

// Open opens or creates the database at path and loads the newest maxSize
// messages.
func Open(path string, maxSize int, logger *zap.Logger) (*Store, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	dsn := "file:" + path + "?" + url.Values{"_pragma": {"busy_timeout(5000)", "journal_mode(WAL)"}}.Encode()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// one connection keeps BEGIN IMMEDIATE and the statements after it together
	db.SetMaxOpenConns(1)

	s := &Store{
		db:      db,
		logger:  logger.With(zap.String("component", "history")),
		maxSize: maxSize,
	}

	ctx := context.Background()
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.load(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read history version: %w", err)
	}

	switch version {
	case schemaVersion:
		_, err := s.db.ExecContext(ctx, createMessages)
		if err != nil {
			return fmt.Errorf("create history table: %w", err)
		}
		return nil
	case 0:
		return s.exec(ctx, "create history schema",
			stmt(createMessages),
			setVersion())
	case 1:
		// v1 kept one row per message keyed by id, ordered by rowid
		s.logger.Info("migrating history", zap.Int("from", version), zap.Int("to", schemaVersion))
		return s.exec(ctx, "migrate history",
			stmt(createMessages),
			stmt("INSERT INTO messages (id, body) SELECT id, message FROM history ORDER BY rowid"),
			stmt("DROP TABLE history"),
			setVersion())
	default:
		s.logger.Warn("unknown history version; starting empty", zap.Int("version", version))
		return s.exec(ctx, "reset history",
			stmt("DROP TABLE IF EXISTS history"),
			stmt("DROP TABLE IF EXISTS messages"),
			stmt(createMessages),
			setVersion())
	}
}

type statement struct {
	query string
	args  []any
}

func stmt(query string, args ...any) statement {
	return statement{query: query, args: args}
}

// exec runs stmts in one immediate transaction
func (s *Store) exec(ctx context.Context, what string, stmts ...statement) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("%s: begin: %w", what, err)
	}
	for _, st := range stmts {
		if _, err := conn.ExecContext(ctx, st.query, st.args...); err != nil {
			_, _ = conn.ExecContext(ctx, "ROLLBACK")
			return fmt.Errorf("%s: %w", what, err)
		}
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		_, _ = conn.ExecContext(ctx, "ROLLBACK")
		return fmt.Errorf("%s: commit: %w", what, err)
	}
	return nil
}

func (s *Store) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT body FROM (SELECT seq, body FROM messages ORDER BY seq DESC LIMIT ?) ORDER BY seq",
		s.maxSize)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return fmt.Errorf("load history: %w", err)
		}
		var msg message.ChatMessage
		if err := json.Unmarshal([]byte(body), &msg); err != nil {
			s.logger.Warn("skipping unreadable history row", zap.Error(err))
			continue
		}
		s.msgs = append(s.msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	if err := s.trimDB(ctx); err != nil {
		s.logger.Warn("failed to trim history on load", zap.Error(err))
	}
	telemetry.SetGauge(telemetry.HistorySize, float64(len(s.msgs)))
	s.logger.Info("history loaded", zap.Int("messages", len(s.msgs)), zap.Int("max", s.maxSize))
	return nil
}

// Append adds msg as the newest entry and evicts the oldest beyond the
// maximum size. The in-memory log is updated even when persisting fails; the
// returned error then wraps ErrPersist.
func (s *Store) Append(ctx context.Context, msg message.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.msgs = append(s.msgs, msg)
	s.trim()

	body, err := json.Marshal(msg)
	if err == nil {
		err = s.exec(ctx, "append history",
			stmt("INSERT INTO messages (id, body) VALUES (?, ?)", msg.ID, string(body)),
			s.trimStatement())
	}
	if err != nil {
		return s.persistFailed(err)
	}
	return nil
}

// All returns a copy of the retained messages, oldest first
func (s *Store) All() []message.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]message.ChatMessage(nil), s.msgs...)
}

// Len returns how many messages are retained
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

// SetMaxSize changes the bound, evicting immediately when it shrinks
func (s *Store) SetMaxSize(n int) {
	if n <= 0 {
		n = DefaultMaxSize
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n == s.maxSize {
		return
	}
	s.maxSize = n
	s.trim()
	if err := s.trimDB(context.Background()); err != nil {
		_ = s.persistFailed(err)
	}
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// trim evicts the oldest messages one at a time; caller holds mu
func (s *Store) trim() {
	for len(s.msgs) > s.maxSize {
		s.msgs[0] = message.ChatMessage{}
		s.msgs = s.msgs[1:]
	}
	telemetry.SetGauge(telemetry.HistorySize, float64(len(s.msgs)))
}

func (s *Store) trimDB(ctx context.Context) error {
	return s.exec(ctx, "trim history", s.trimStatement())
}

func (s *Store) trimStatement() statement {
	return stmt("DELETE FROM messages WHERE seq NOT IN (SELECT seq FROM messages ORDER BY seq DESC LIMIT ?)", s.maxSize)
}

// PRAGMA does not take bound parameters
func setVersion() statement {
	return stmt(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion))
}

func (s *Store) persistFailed(err error) error {
	telemetry.IncCounter(telemetry.HistoryWriteFailures)
	s.logger.Error("failed to persist history", zap.Error(err))
	return fmt.Errorf("%w: %w", ErrPersist, err)
}
