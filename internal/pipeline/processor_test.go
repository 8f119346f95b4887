package pipeline

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/petrel/internal/common"
	"github.com/ternarybob/petrel/internal/store"
	"github.com/ternarybob/petrel/internal/twitter"
)

type pipelineFixture struct {
	codec  *twitter.URLCodec
	cache  *store.RawCache
	tweets *store.TweetStore
	tally  *Tally
	proc   *Processor
}

func setupPipeline(t *testing.T) *pipelineFixture {
	t.Helper()
	dir := t.TempDir()
	logger := arbor.NewLogger()
	sqlite := &common.SQLiteConfig{CacheSizeMB: 10, BusyTimeoutMS: 5000}
	codec := twitter.NewURLCodec()

	cache, err := store.OpenRawCache(filepath.Join(dir, "dl.sqlite"), sqlite, logger)
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	tweets, err := store.OpenTweetStore(filepath.Join(dir, "tw.sqlite"), sqlite, codec, logger)
	require.NoError(t, err)
	t.Cleanup(func() { tweets.Close() })

	tally := &Tally{}
	proc := NewProcessor(codec, cache, tweets, twitter.NewParser(logger), tally, logger)
	return &pipelineFixture{codec: codec, cache: cache, tweets: tweets, tally: tally, proc: proc}
}

func singleTweetPayload(id, author, text, mediaJSON string) string {
	media := ""
	if mediaJSON != "" {
		media = fmt.Sprintf(`, "extended_entities": {"media": [%s]}`, mediaJSON)
	}
	return fmt.Sprintf(`{
		"data": {"threaded_conversation_with_injections_v2": {"instructions": [
			{"type": "TimelineAddEntries", "entries": [
				{"entryId": "tweet-%s", "content": {"entryType": "TimelineTimelineItem", "itemContent": {"tweet_results": {"result": {
					"__typename": "Tweet",
					"rest_id": "%s",
					"core": {"user_results": {"result": {"__typename": "User", "legacy": {"name": "n", "screen_name": "%s"}}}},
					"legacy": {"created_at": "Wed Oct 10 20:19:24 +0000 2018", "id_str": "%s", "full_text": "%s"%s}
				}}}}}
			]}
		]}}
	}`, id, id, author, id, text, media)
}

func tombstonePayload(id, text string) string {
	return fmt.Sprintf(`{
		"data": {"threaded_conversation_with_injections_v2": {"instructions": [
			{"type": "TimelineAddEntries", "entries": [
				{"entryId": "tweet-%s", "content": {"entryType": "TimelineTimelineItem", "itemContent": {"tweet_results": {"result": {
					"__typename": "TweetTombstone",
					"tombstone": {"__typename": "TextTombstone", "text": {"text": "%s"}}
				}}}}}
			]}
		]}}
	}`, id, text)
}

const photoMedia = `{"id_str": "m1", "media_url_https": "https://pbs.twimg.com/a.jpg", "type": "photo", "original_info": {"width": 100, "height": 200}}`

func TestProcessor_Success(t *testing.T) {
	f := setupPipeline(t)
	url := "https://twitter.com/alice/status/100"
	require.NoError(t, f.cache.Insert(100, url, singleTweetPayload("100", "alice", "hello", photoMedia)))

	requeue := f.proc.Process(url, false)
	assert.False(t, requeue)

	tw, err := f.tweets.GetTweet(100)
	require.NoError(t, err)
	assert.Equal(t, "alice", tw.Author)
	assert.Equal(t, "hello", tw.Content)

	medias, err := f.tweets.GetMedias(100)
	require.NoError(t, err)
	require.Len(t, medias, 1)
	assert.Equal(t, "https://pbs.twimg.com/a.jpg", medias[0].URL)

	s := f.tally.Snapshot()
	assert.Equal(t, 1, s.Success)
	assert.Empty(t, s.NoMedia)
}

func TestProcessor_SuccessWithoutMedia(t *testing.T) {
	f := setupPipeline(t)
	url := "https://twitter.com/alice/status/100"
	require.NoError(t, f.cache.Insert(100, url, singleTweetPayload("100", "alice", "text only", "")))

	assert.False(t, f.proc.Process(url, false))

	s := f.tally.Snapshot()
	assert.Equal(t, 1, s.Success)
	assert.Equal(t, []string{url}, s.NoMedia)
}

func TestProcessor_RestrictedRequeuedThenRecorded(t *testing.T) {
	f := setupPipeline(t)
	url := "https://twitter.com/alice/status/100"
	restricted := "该账号所有者限制了可以查看其推文的用户。"
	require.NoError(t, f.cache.Insert(100, url, tombstonePayload("100", restricted)))

	// Anonymous round: a logged-in session may still see it
	assert.True(t, f.proc.Process(url, true))
	_, ok := f.tweets.GetFailReason(100)
	assert.False(t, ok)
	assert.Equal(t, 0, f.tally.Snapshot().Restricted)

	// Final round: terminal
	assert.False(t, f.proc.Process(url, false))
	reason, ok := f.tweets.GetFailReason(100)
	require.True(t, ok)
	assert.Equal(t, twitter.FailRestricted, reason)
	assert.Equal(t, 1, f.tally.Snapshot().Restricted)
}

func TestProcessor_DeletedRecorded(t *testing.T) {
	f := setupPipeline(t)
	url := "https://twitter.com/alice/status/100"
	require.NoError(t, f.cache.Insert(100, url, `{"errors":[{"message":"_Missing: No status found with that ID."}]}`))

	assert.False(t, f.proc.Process(url, true))

	reason, ok := f.tweets.GetFailReason(100)
	require.True(t, ok)
	assert.Equal(t, twitter.FailDeleted, reason)
	assert.Equal(t, 1, f.tally.Snapshot().Deleted)
	assert.True(t, f.tweets.Exists(100))
}

func TestProcessor_MissingPayloadRequeues(t *testing.T) {
	f := setupPipeline(t)

	assert.True(t, f.proc.Process("https://twitter.com/alice/status/100", false))
	assert.Equal(t, 0, f.tally.Snapshot().Success)
}

func TestProcessor_SchemaInvalidRequeues(t *testing.T) {
	f := setupPipeline(t)
	url := "https://twitter.com/alice/status/100"
	require.NoError(t, f.cache.Insert(100, url, `{"data":{}}`))

	assert.True(t, f.proc.Process(url, false))
	_, ok := f.tweets.GetFailReason(100)
	assert.False(t, ok)
}

func TestTally_Snapshot(t *testing.T) {
	tally := &Tally{}
	tally.RecordSuccess()
	tally.RecordSuccess()
	tally.RecordFail(twitter.FailDeleted)
	tally.RecordFail(twitter.FailRestricted)
	tally.RecordFail(twitter.FailAccountSuspended)
	tally.RecordFail(twitter.FailAccountNotExisted)
	tally.RecordNoMedia("https://twitter.com/a/status/1")

	s := tally.Snapshot()
	assert.Equal(t, 2, s.Success)
	assert.Equal(t, 1, s.Deleted)
	assert.Equal(t, 1, s.Restricted)
	assert.Equal(t, 1, s.AccountSuspended)
	assert.Equal(t, 1, s.AccountNotExisted)
	assert.Len(t, s.NoMedia, 1)
}
