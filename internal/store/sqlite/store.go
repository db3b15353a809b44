// Package sqlite implements the tunnelgate registry backed by a SQLite
// database. It owns tunnel records, their embedded users, the activity log,
// and server settings.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/tunnelgate/tunnelgate/internal/auth"
)

// Store wraps a SQLite database connection for all tunnelgate persistence.
type Store struct {
	db *sql.DB
}

const defaultMaxOpenConns = 10
const defaultMaxIdleConns = 10

// OpenOptions controls SQLite connection pool sizing.
type OpenOptions struct {
	MaxOpenConns int
	MaxIdleConns int
}

// Open creates or opens the SQLite database at path, runs migrations, and
// enables WAL mode for improved concurrent read performance.
func Open(path string) (*Store, error) {
	return OpenWithOptions(path, OpenOptions{})
}

// OpenWithOptions creates or opens the SQLite database at path with tunable
// connection pool settings, runs migrations, and enables WAL mode.
func OpenWithOptions(path string, opts OpenOptions) (*Store, error) {
	if err := ensureParentDir(path); err != nil {
		return nil, err
	}
	// Append per-connection PRAGMAs to the DSN so every pooled connection gets them.
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn := path + sep + "_pragma=foreign_keys(1)&_pragma=synchronous(normal)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	maxOpenConns := opts.MaxOpenConns
	if maxOpenConns <= 0 {
		maxOpenConns = defaultMaxOpenConns
	}
	maxIdleConns := opts.MaxIdleConns
	if maxIdleConns <= 0 {
		maxIdleConns = defaultMaxIdleConns
	}
	if maxIdleConns > maxOpenConns {
		maxIdleConns = maxOpenConns
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)

	// journal_mode and busy_timeout are database-wide; set them once here.
	// foreign_keys and synchronous are per-connection and are handled via DSN _pragma parameters.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite setup (%s): %w", pragma, err)
		}
	}
	s := &Store{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes if they do not already exist.
func (s *Store) Migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS tunnels (
	tunnel_id TEXT PRIMARY KEY,
	active INTEGER NOT NULL,
	port INTEGER NOT NULL,
	description TEXT NOT NULL,
	password_hash TEXT NULL,
	admin_password_hash TEXT NULL,
	max_users INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	last_seen DATETIME NOT NULL,
	total_accesses INTEGER NOT NULL DEFAULT 0,
	current_sessions INTEGER NOT NULL DEFAULT 0,
	expires_at DATETIME NULL
);
CREATE TABLE IF NOT EXISTS tunnel_users (
	tunnel_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	username TEXT NOT NULL,
	password_hash TEXT NOT NULL,
	permissions TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	last_access DATETIME NULL,
	access_count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (tunnel_id, username)
);
CREATE TABLE IF NOT EXISTS activity (
	id TEXT PRIMARY KEY,
	tunnel_id TEXT NOT NULL,
	principal TEXT NOT NULL,
	action TEXT NOT NULL,
	metadata TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	expires_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS server_settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tunnel_users_position ON tunnel_users(tunnel_id, position);
CREATE INDEX IF NOT EXISTS idx_tunnels_expires_at ON tunnels(expires_at);
CREATE INDEX IF NOT EXISTS idx_activity_tunnel_created ON activity(tunnel_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_activity_expires_at ON activity(expires_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// ResolveSessionSecret returns the persistent session signing secret,
// creating one if the database has none. A non-empty suggested value must
// match the stored secret once set.
func (s *Store) ResolveSessionSecret(ctx context.Context, suggested string) (string, error) {
	suggested = strings.TrimSpace(suggested)

	var current string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM server_settings WHERE key = 'session_secret'`).Scan(&current)
	if err == nil {
		if suggested != "" && suggested != current {
			return "", errors.New("provided session secret does not match database")
		}
		return current, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}
	if suggested == "" {
		generated, genErr := auth.GenerateSecret()
		if genErr != nil {
			return "", genErr
		}
		suggested = generated
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO server_settings(key, value) VALUES('session_secret', ?)`, suggested); err != nil {
		return "", err
	}
	return suggested, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullableString(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func ensureParentDir(path string) error {
	path = strings.TrimSpace(path)
	if path == "" || path == ":memory:" || strings.HasPrefix(path, "file:") {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
