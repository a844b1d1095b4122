// Package history is ralph's durable learning-transfer and run-ledger
// store, backed by SQLite. Grounded on the teacher's pkg/persistence/db.go
// singleton-via-sync.Once pattern and WAL-mode/single-writer discipline;
// the schema and operations are new (approach hints and iteration
// outcomes, not agent sessions).
package history

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"ralph/internal/logx"
)

var (
	globalDB     *sql.DB
	globalDBOnce sync.Once
	globalDBMu   sync.RWMutex
	log          = logx.New("history")
)

const schema = `
CREATE TABLE IF NOT EXISTS approach_hints (
	story_id    TEXT NOT NULL,
	description TEXT NOT NULL,
	successes   INTEGER NOT NULL DEFAULT 0,
	samples     INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (story_id, description)
);

CREATE TABLE IF NOT EXISTS iteration_outcomes (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL,
	story_id    TEXT NOT NULL,
	iteration   INTEGER NOT NULL,
	success     INTEGER NOT NULL,
	verdict     TEXT NOT NULL,
	recorded_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);
`

// Initialize opens (or reuses) the singleton database at dbPath. Safe to
// call more than once; only the first call takes effect.
func Initialize(dbPath string) error {
	var initErr error
	globalDBOnce.Do(func() {
		db, err := sql.Open("sqlite", fmt.Sprintf(
			"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000", dbPath))
		if err != nil {
			initErr = fmt.Errorf("open history db: %w", err)
			return
		}
		if err := db.Ping(); err != nil {
			_ = db.Close()
			initErr = fmt.Errorf("ping history db: %w", err)
			return
		}
		if _, err := db.Exec(schema); err != nil {
			_ = db.Close()
			initErr = fmt.Errorf("init history schema: %w", err)
			return
		}
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		globalDB = db
		log.Info("history database initialized: %s", dbPath)
	})
	return initErr
}

// GetDB returns the singleton connection. Panics if Initialize has not
// been called, matching the teacher's own singleton contract.
func GetDB() *sql.DB {
	globalDBMu.RLock()
	defer globalDBMu.RUnlock()
	if globalDB == nil {
		panic("history.Initialize must be called before GetDB")
	}
	return globalDB
}

// IsInitialized reports whether Initialize has succeeded.
func IsInitialized() bool {
	globalDBMu.RLock()
	defer globalDBMu.RUnlock()
	return globalDB != nil
}

// Close shuts down the singleton connection.
func Close() error {
	globalDBMu.Lock()
	defer globalDBMu.Unlock()
	if globalDB == nil {
		return nil
	}
	err := globalDB.Close()
	globalDB = nil
	return err
}

// Reset closes and clears the singleton, for test re-initialization only.
func Reset() error {
	globalDBMu.Lock()
	defer globalDBMu.Unlock()
	if globalDB != nil {
		if err := globalDB.Close(); err != nil {
			return err
		}
		globalDB = nil
	}
	globalDBOnce = sync.Once{}
	return nil
}
