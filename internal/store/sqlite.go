package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"taleweaver/internal/game"
	"taleweaver/internal/logging"
)

// SessionStore implements Gateway on SQLite. A single connection with WAL
// journaling is plenty for a client-resident engine; the mutex serializes
// writers above the driver.
type SessionStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

var _ Gateway = (*SessionStore)(nil)

// NewSessionStore opens (or creates) the session database at path.
func NewSessionStore(path string) (*SessionStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewSessionStore")
	defer timer.Stop()

	logging.Store("Opening session store at %s", path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}

	s := &SessionStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Store("Session store ready")
	return s, nil
}

// initialize creates the required tables.
func (s *SessionStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		universe TEXT NOT NULL DEFAULT '',
		turn_count INTEGER NOT NULL DEFAULT 0,
		last_played DATETIME,
		schema_version INTEGER NOT NULL,
		payload TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS action_options (
		session_id TEXT PRIMARY KEY,
		cache_key TEXT NOT NULL,
		last_message_id TEXT NOT NULL DEFAULT '',
		options TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_last_played ON sessions(last_played DESC);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SessionStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// LoadAll returns summaries of every stored session, newest first.
func (s *SessionStore) LoadAll() ([]game.SessionSummary, error) {
	timer := logging.StartTimer(logging.CategoryStore, "LoadAll")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, title, universe, turn_count, last_played
		 FROM sessions ORDER BY last_played DESC`)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("LoadAll query failed: %v", err)
		return nil, err
	}
	defer rows.Close()

	var summaries []game.SessionSummary
	for rows.Next() {
		var sum game.SessionSummary
		var lastPlayed sql.NullTime
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.Universe, &sum.TurnCount, &lastPlayed); err != nil {
			continue
		}
		if lastPlayed.Valid {
			sum.LastPlayed = lastPlayed.Time
		}
		summaries = append(summaries, sum)
	}
	logging.StoreDebug("LoadAll returned %d sessions", len(summaries))
	return summaries, rows.Err()
}

// Load returns the full session record.
func (s *SessionStore) Load(id string) (*game.Session, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Load")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var payload string
	err := s.db.QueryRow(`SELECT payload FROM sessions WHERE id = ?`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Load %s failed: %v", id, err)
		return nil, err
	}

	var sess game.Session
	if err := json.Unmarshal([]byte(payload), &sess); err != nil {
		logging.Get(logging.CategoryStore).Error("Load %s: corrupt payload: %v", id, err)
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	logging.StoreDebug("Loaded %s (turn=%d, messages=%d)", id, sess.TurnCount, len(sess.Messages))
	return &sess, nil
}

// Save writes the full session record. INSERT OR REPLACE keeps saves
// idempotent under the fire-and-forget persistence model.
func (s *SessionStore) Save(sess *game.Session) error {
	timer := logging.StartTimer(logging.CategoryStore, "Save")
	defer timer.StopWithThreshold(200 * time.Millisecond)

	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO sessions (id, title, universe, turn_count, last_played, schema_version, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Title, sess.Config.UniverseName, sess.TurnCount, sess.LastPlayed, SchemaVersion, string(payload),
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Save %s failed: %v", sess.ID, err)
		return err
	}
	logging.StoreDebug("Saved %s (turn=%d, %d bytes)", sess.ID, sess.TurnCount, len(payload))
	return nil
}

// Delete removes a session and its cached action options.
func (s *SessionStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id); err != nil {
		logging.Get(logging.CategoryStore).Error("Delete %s failed: %v", id, err)
		return err
	}
	if _, err := s.db.Exec(`DELETE FROM action_options WHERE session_id = ?`, id); err != nil {
		logging.Get(logging.CategoryStore).Warn("Delete %s options failed: %v", id, err)
	}
	logging.Store("Deleted session %s", id)
	return nil
}

// LoadOptions returns the cached action options for a session, or nil when
// none are stored.
func (s *SessionStore) LoadOptions(sessionID string) (*game.CachedActionOptions, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var opts game.CachedActionOptions
	var optionsJSON string
	err := s.db.QueryRow(
		`SELECT session_id, cache_key, last_message_id, options
		 FROM action_options WHERE session_id = ?`, sessionID,
	).Scan(&opts.SessionID, &opts.CacheKey, &opts.LastMessageID, &optionsJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(optionsJSON), &opts.Options); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return &opts, nil
}

// SaveOptions writes through the one live options entry for a session.
func (s *SessionStore) SaveOptions(opts *game.CachedActionOptions) error {
	optionsJSON, err := json.Marshal(opts.Options)
	if err != nil {
		return fmt.Errorf("failed to marshal options: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO action_options (session_id, cache_key, last_message_id, options)
		 VALUES (?, ?, ?, ?)`,
		opts.SessionID, opts.CacheKey, opts.LastMessageID, string(optionsJSON),
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Warn("SaveOptions %s failed: %v", opts.SessionID, err)
	}
	return err
}
