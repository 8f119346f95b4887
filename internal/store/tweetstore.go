package store

import (
	"database/sql"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/petrel/internal/common"
	"github.com/ternarybob/petrel/internal/twitter"
)

const tweetStoreSchema = `
CREATE TABLE IF NOT EXISTS "tweet" (
	"id"	INTEGER NOT NULL UNIQUE,
	"author"	TEXT NOT NULL,
	"content"	TEXT NOT NULL,
	"create_time"	TIMESTAMP NOT NULL,
	"index_time"	TIMESTAMP NOT NULL DEFAULT (STRFTIME('%s', 'now')),
	"fetch_time"	TIMESTAMP NOT NULL DEFAULT (STRFTIME('%s', 'now')),
	PRIMARY KEY("id")
);
CREATE TABLE IF NOT EXISTS "media" (
	"id"	TEXT NOT NULL UNIQUE,
	"tweet_id"	INTEGER NOT NULL,
	"url"	TEXT NOT NULL UNIQUE,
	"width"	INTEGER,
	"height"	INTEGER,
	"no"	INTEGER,
	"type"	TEXT,
	PRIMARY KEY("id")
);
CREATE TABLE IF NOT EXISTS "thread" (
	"tweet_id"	INTEGER NOT NULL UNIQUE,
	"thread_master_id"	INTEGER NOT NULL,
	"in_reply_to"	INTEGER,
	PRIMARY KEY("tweet_id")
);
CREATE TABLE IF NOT EXISTS "fail" (
	"id"	INTEGER,
	"tweet_id"	INTEGER NOT NULL,
	"url"	TEXT NOT NULL,
	"type"	TEXT NOT NULL CHECK ("type" IN ('restricted', 'deleted', 'account suspended', 'account not existed')),
	PRIMARY KEY("id")
);
`

// TweetStore is the parsed-output database: tweets, their media, thread
// membership, and terminal failures. Inserts are idempotent: a
// unique-constraint collision is a benign no-op so repeated runs never
// crash on re-insert. Any other storage error is surfaced and aborts the
// run, since continuing risks silent data loss.
type TweetStore struct {
	db     *DB
	logger arbor.ILogger
	codec  *twitter.URLCodec
}

// OpenTweetStore opens or creates the tweet store database file
func OpenTweetStore(path string, cfg *common.SQLiteConfig, codec *twitter.URLCodec, logger arbor.ILogger) (*TweetStore, error) {
	db, err := open(path, cfg, tweetStoreSchema, logger)
	if err != nil {
		return nil, err
	}
	return &TweetStore{db: db, logger: logger, codec: codec}, nil
}

// Close closes the store database
func (s *TweetStore) Close() error {
	return s.db.Close()
}

// Exists reports whether the id has already been processed: either a
// tweet row or a terminal failure row satisfies it.
func (s *TweetStore) Exists(id twitter.TweetID) bool {
	var exists bool
	err := s.db.db.QueryRow(
		`SELECT EXISTS(SELECT 1 FROM tweet WHERE id = ?) OR EXISTS(SELECT 1 FROM fail WHERE tweet_id = ?)`,
		id, id,
	).Scan(&exists)
	if err != nil {
		s.logger.Warn().Err(err).Int64("id", int64(id)).Msg("Tweet store existence check failed")
		return false
	}
	return exists
}

// InsertTweet stores a tweet row. Duplicate rows are ignored.
func (s *TweetStore) InsertTweet(t *twitter.Tweet) error {
	_, err := s.db.db.Exec(
		`INSERT INTO tweet (id, author, content, create_time) VALUES (?, ?, ?, ?)`,
		t.ID, t.Author, t.Content, t.CreateTime,
	)
	if err != nil && !isConstraintViolation(err) {
		return fmt.Errorf("insert tweet %s/%d: %w", t.Author, t.ID, err)
	}
	return nil
}

// InsertMedia stores a media row. Duplicate rows are ignored.
func (s *TweetStore) InsertMedia(m *twitter.Media) error {
	_, err := s.db.db.Exec(
		`INSERT INTO media (id, tweet_id, url, width, height, no, type) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.TweetID, m.URL, m.Width, m.Height, m.No, m.Type,
	)
	if err != nil && !isConstraintViolation(err) {
		return fmt.Errorf("insert media %d/%s: %w", m.TweetID, m.ID, err)
	}
	return nil
}

// InsertThread stores a thread-membership row. Duplicate rows are ignored.
func (s *TweetStore) InsertThread(e *twitter.ThreadEdge) error {
	_, err := s.db.db.Exec(
		`INSERT INTO thread (tweet_id, thread_master_id, in_reply_to) VALUES (?, ?, ?)`,
		e.TweetID, e.ThreadID, e.ReplyTo,
	)
	if err != nil && !isConstraintViolation(err) {
		return fmt.Errorf("insert thread %d: %w", e.TweetID, err)
	}
	return nil
}

// InsertFail records a terminal failure for a tweet URL. Failures here
// are logged and swallowed: losing a fail row only means one wasted
// re-fetch on the next run.
func (s *TweetStore) InsertFail(url string, reason twitter.FailReason) {
	_, id, ok := s.codec.ParseStatusURL(url)
	if !ok {
		s.logger.Error().Str("url", url).Msg("Cannot record failure for non-tweet url")
		return
	}
	_, err := s.db.db.Exec(
		`INSERT INTO fail (tweet_id, url, type) VALUES (?, ?, ?)`,
		id, url, string(reason),
	)
	if err != nil && !isConstraintViolation(err) {
		s.logger.Error().Err(err).Str("url", url).Msg("Failed to record terminal failure")
	}
}

// GetTweet returns the stored tweet row for the id, or ErrNotFound
func (s *TweetStore) GetTweet(id twitter.TweetID) (*twitter.Tweet, error) {
	t := &twitter.Tweet{}
	err := s.db.db.QueryRow(
		`SELECT id, author, content, create_time FROM tweet WHERE id = ?`, id,
	).Scan(&t.ID, &t.Author, &t.Content, &t.CreateTime)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("tweet %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("tweet %d: %w", id, err)
	}
	return t, nil
}

// GetFailReason returns the recorded terminal reason for the id, if any
func (s *TweetStore) GetFailReason(id twitter.TweetID) (twitter.FailReason, bool) {
	var reason string
	err := s.db.db.QueryRow(`SELECT type FROM fail WHERE tweet_id = ?`, id).Scan(&reason)
	if err != nil {
		return "", false
	}
	return twitter.FailReason(reason), true
}

// GetMedias returns the stored media rows for a tweet, in list order
func (s *TweetStore) GetMedias(id twitter.TweetID) ([]twitter.Media, error) {
	rows, err := s.db.db.Query(
		`SELECT id, tweet_id, url, width, height, no, type FROM media WHERE tweet_id = ? ORDER BY no`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("medias for %d: %w", id, err)
	}
	defer rows.Close()

	var medias []twitter.Media
	for rows.Next() {
		var m twitter.Media
		if err := rows.Scan(&m.ID, &m.TweetID, &m.URL, &m.Width, &m.Height, &m.No, &m.Type); err != nil {
			return nil, fmt.Errorf("medias for %d: %w", id, err)
		}
		medias = append(medias, m)
	}
	return medias, rows.Err()
}

// MediaTask is one (author, media url) pair for the downloader
type MediaTask struct {
	Author string
	URL    string
}

// MediaTasks returns every stored (author, media url) pair. The
// downloader derives its work list from this.
func (s *TweetStore) MediaTasks() ([]MediaTask, error) {
	rows, err := s.db.db.Query(
		`SELECT t.author, m.url FROM tweet AS t INNER JOIN media AS m ON t.id = m.tweet_id ORDER BY t.id, m.no`,
	)
	if err != nil {
		return nil, fmt.Errorf("media task query: %w", err)
	}
	defer rows.Close()

	var tasks []MediaTask
	for rows.Next() {
		var task MediaTask
		if err := rows.Scan(&task.Author, &task.URL); err != nil {
			return nil, fmt.Errorf("media task scan: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}
