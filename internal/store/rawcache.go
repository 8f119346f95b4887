package store

import (
	"database/sql"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/petrel/internal/common"
	"github.com/ternarybob/petrel/internal/twitter"
)

const rawCacheSchema = `
CREATE TABLE IF NOT EXISTS "tweet" (
	id INTEGER PRIMARY KEY NOT NULL UNIQUE,
	url TEXT NOT NULL UNIQUE,
	json BLOB NOT NULL,
	fetch_time INTEGER NOT NULL DEFAULT (STRFTIME('%s', 'now'))
);
`

// RawCache is the id -> raw payload store, the crawl's resume checkpoint.
// Rows are written once on successful fetch, removed only when the
// orchestrator forces a re-fetch, and never updated.
type RawCache struct {
	db     *DB
	logger arbor.ILogger
}

// OpenRawCache opens or creates the raw cache database file
func OpenRawCache(path string, cfg *common.SQLiteConfig, logger arbor.ILogger) (*RawCache, error) {
	db, err := open(path, cfg, rawCacheSchema, logger)
	if err != nil {
		return nil, err
	}
	return &RawCache{db: db, logger: logger}, nil
}

// Close closes the cache database
func (c *RawCache) Close() error {
	return c.db.Close()
}

// Exists reports whether a payload is cached for the id
func (c *RawCache) Exists(id twitter.TweetID) bool {
	var exists bool
	err := c.db.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM tweet WHERE id = ?)`, id).Scan(&exists)
	if err != nil {
		c.logger.Warn().Err(err).Int64("id", int64(id)).Msg("Raw cache existence check failed")
		return false
	}
	return exists
}

// Insert stores a fetched payload. Returns ErrDuplicate when either the
// id or the url is already present.
func (c *RawCache) Insert(id twitter.TweetID, url string, payload string) error {
	_, err := c.db.db.Exec(`INSERT INTO tweet (id, url, json) VALUES (?, ?, ?)`, id, url, payload)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("raw cache insert %d: %w", id, ErrDuplicate)
		}
		return fmt.Errorf("raw cache insert %d: %w", id, err)
	}
	return nil
}

// GetJSON returns the cached payload for the id, or ErrNotFound
func (c *RawCache) GetJSON(id twitter.TweetID) (string, error) {
	var payload string
	err := c.db.db.QueryRow(`SELECT json FROM tweet WHERE id = ?`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("raw cache get %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("raw cache get %d: %w", id, err)
	}
	return payload, nil
}

// Remove evicts the cached payload for the id. Removing a missing id is
// a no-op.
func (c *RawCache) Remove(id twitter.TweetID) error {
	if _, err := c.db.db.Exec(`DELETE FROM tweet WHERE id = ?`, id); err != nil {
		return fmt.Errorf("raw cache remove %d: %w", id, err)
	}
	return nil
}
