package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/ternarybob/petrel/internal/common"
)

// ErrDuplicate is returned when an insert collides with a unique
// constraint, and ErrNotFound when a lookup matches no row.
var (
	ErrDuplicate = errors.New("row already exists")
	ErrNotFound  = errors.New("row not found")
)

// DB wraps one SQLite database file
type DB struct {
	db     *sql.DB
	logger arbor.ILogger
}

// open opens (creating if needed) a database file, applies pragmas, and
// bootstraps the given schema. modernc.org/sqlite registers as "sqlite",
// not "sqlite3".
func open(path string, cfg *common.SQLiteConfig, schema string, logger arbor.ILogger) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+dsnPragmas(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	s := &DB{db: db, logger: logger}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema to %s: %w", path, err)
	}

	logger.Info().Str("path", path).Msg("SQLite database initialized")
	return s, nil
}

// dsnPragmas renders the configured pragmas as DSN parameters so that
// every connection in the database/sql pool gets them, not just the one
// that happens to service a PRAGMA Exec.
func dsnPragmas(cfg *common.SQLiteConfig) string {
	pragmas := []string{
		fmt.Sprintf("_pragma=cache_size(-%d)", cfg.CacheSizeMB*1024), // negative means KB
		fmt.Sprintf("_pragma=busy_timeout(%d)", cfg.BusyTimeoutMS),
		"_pragma=foreign_keys(1)",
		"_pragma=synchronous(NORMAL)",
	}
	if cfg.WALMode {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)")
	}
	return "?" + strings.Join(pragmas, "&")
}

// Close closes the underlying connection pool
func (s *DB) Close() error {
	return s.db.Close()
}

// isConstraintViolation reports whether err is any SQLite constraint
// failure (unique, primary key, check). The extended result code keeps
// the primary code in its low byte.
func isConstraintViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	return false
}
