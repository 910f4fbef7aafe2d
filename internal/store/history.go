// Package store persists the input journal: every buffer the session
// controller acted on, with its outcome. The terminal driver preloads
// recent inputs from it and `natrepl history` prints it.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"natrepl/internal/logging"
)

// Outcome classifies what happened to one input.
type Outcome string

const (
	OutcomeAccepted     Outcome = "accepted"
	OutcomeEmpty        Outcome = "empty"
	OutcomeSyntaxError  Outcome = "syntax_error"
	OutcomeCompileError Outcome = "compile_error"
	OutcomeLoadError    Outcome = "load_error"
	OutcomeRuntimeError Outcome = "runtime_error"
	OutcomeInternal     Outcome = "internal_error"
)

// Entry is one journaled input.
type Entry struct {
	SessionID string
	Seq       int
	Input     string
	Outcome   Outcome
	Message   string
	CreatedAt time.Time
}

// HistoryStore is a SQLite-backed journal.
type HistoryStore struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// Open creates or opens the journal at path. ":memory:" gives a private
// in-memory journal.
func Open(path string) (*HistoryStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "open history")
	defer timer.Stop()

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
		}
	}

	s := &HistoryStore{db: db, path: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	logging.StoreDebug("history store ready at %s", path)
	return s, nil
}

func (s *HistoryStore) initialize() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS history (
		id INTEGER PRIMARY KEY,
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		input TEXT NOT NULL,
		outcome TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		UNIQUE(session_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_history_session ON history(session_id);
	`)
	return err
}

// Path returns the database path.
func (s *HistoryStore) Path() string {
	return s.path
}

// Record appends e. A second record for the same session and seq is ignored.
func (s *HistoryStore) Record(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO history (session_id, seq, input, outcome, message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.Seq, e.Input, string(e.Outcome), e.Message, e.CreatedAt.UnixNano(),
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to record history: session=%s seq=%d: %v", e.SessionID, e.Seq, err)
		return err
	}
	logging.StoreDebug("recorded %s seq=%d outcome=%s", e.SessionID, e.Seq, e.Outcome)
	return nil
}

// Recent returns up to limit entries across all sessions, oldest first.
func (s *HistoryStore) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	entries, err := s.query(
		`SELECT session_id, seq, input, outcome, message, created_at
		 FROM history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// Session returns every entry of one session in input order.
func (s *HistoryStore) Session(sessionID string) ([]Entry, error) {
	return s.query(
		`SELECT session_id, seq, input, outcome, message, created_at
		 FROM history WHERE session_id = ? ORDER BY seq`, sessionID)
}

func (s *HistoryStore) query(q string, args ...interface{}) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var outcome string
		var created int64
		if err := rows.Scan(&e.SessionID, &e.Seq, &e.Input, &outcome, &e.Message, &created); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		e.Outcome = Outcome(outcome)
		e.CreatedAt = time.Unix(0, created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the database connection.
func (s *HistoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
