// Package store persists terminal rows, tab rows, and the view-state
// singleton in SQLite. It is the only durable state shared between the
// terminal subsystem and the rest of the application; all mutation
// goes through the session manager and tab registry.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/termhub/termhub/internal/logging"
	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const schema = `
CREATE TABLE IF NOT EXISTS terminals (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	cwd             TEXT NOT NULL,
	cols            INTEGER NOT NULL,
	rows            INTEGER NOT NULL,
	status          TEXT NOT NULL,
	exit_code       INTEGER,
	tab_id          TEXT,
	position_in_tab INTEGER NOT NULL DEFAULT 0,
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tabs (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	position   INTEGER NOT NULL,
	directory  TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS view_state (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	active_tab_id TEXT,
	focused_json  TEXT NOT NULL DEFAULT '{}'
);

INSERT OR IGNORE INTO view_state (id, active_tab_id, focused_json)
VALUES (1, NULL, '{}');
`

// Store is a fixed-size pool of SQLite connections over the service
// database. Safe for concurrent use; individual connections are not,
// so every operation takes its own connection and returns it.
type Store struct {
	pool   *sqlitex.Pool
	logger *logging.Logger
	path   string
}

// Open creates the database (and its parent directory) if needed,
// applies pragmas, and ensures the schema. The pool layer does not
// accept ":memory:"; tests open a throwaway file under a temp dir.
func Open(path string, poolSize int, logger *logging.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store: path is required")
	}
	if poolSize <= 0 {
		poolSize = 4
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("store: creating data dir: %w", err)
	}

	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", path, err)
	}

	s := &Store{
		pool:   pool,
		logger: logger.Component("store"),
		path:   path,
	}

	// Force schema creation eagerly so startup fails fast on a broken
	// database instead of on the first query.
	conn, err := s.pool.Take(context.Background())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: initializing %s: %w", path, err)
	}
	s.pool.Put(conn)

	s.logger.Info("store opened", zap.String("path", path))
	return s, nil
}

// Close closes all connections. Blocks until borrowed connections are
// returned.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("store: closing %s: %w", s.path, err)
	}
	return nil
}

func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=OFF",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("store: %s: %w", pragma, err)
		}
	}
	return sqlitex.ExecuteScript(conn, schema, nil)
}

// take borrows a connection for one operation.
func (s *Store) take() (*sqlite.Conn, error) {
	conn, err := s.pool.Take(context.Background())
	if err != nil {
		return nil, fmt.Errorf("store: take: %w", err)
	}
	return conn, nil
}
