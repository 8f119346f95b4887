package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/petrel/internal/twitter"
)

func TestReporter_FullCoverage(t *testing.T) {
	f := setupPipeline(t)
	logger := arbor.NewLogger()

	urls := []string{
		"https://twitter.com/alice/status/100",
		"https://twitter.com/alice/status/101",
		"https://twitter.com/bob/status/200",
		"https://twitter.com/carol/status/300",
	}
	for _, url := range urls {
		require.NoError(t, f.cache.Insert(f.codec.MustParseID(url), url, "{}"))
	}

	// 100: stored with media, 101: stored without, 200: restricted,
	// 300: deleted
	require.NoError(t, f.tweets.InsertTweet(&twitter.Tweet{ID: 100, Author: "alice", Content: "with pic"}))
	require.NoError(t, f.tweets.InsertMedia(&twitter.Media{ID: "m1", TweetID: 100, URL: "https://pbs.twimg.com/a.jpg", No: 1}))
	require.NoError(t, f.tweets.InsertMedia(&twitter.Media{ID: "m2", TweetID: 100, URL: "https://pbs.twimg.com/b.jpg", No: 2}))
	require.NoError(t, f.tweets.InsertTweet(&twitter.Tweet{ID: 101, Author: "alice", Content: "words only"}))
	f.tweets.InsertFail("https://twitter.com/bob/status/200", twitter.FailRestricted)
	f.tweets.InsertFail("https://twitter.com/carol/status/300", twitter.FailDeleted)

	report := NewReporter(f.codec, f.cache, f.tweets, logger).Run(urls)

	assert.Equal(t, 4, report.ListTotal)
	assert.Equal(t, 0, report.MissingFromCache)
	assert.Equal(t, 0, report.MissingFromStore)
	assert.Equal(t, 2, report.Success)
	assert.Equal(t, 1, report.Restricted)
	assert.Equal(t, 1, report.Deleted)
	assert.Equal(t, 2, report.MediaCount)
	require.Len(t, report.NoMedia, 1)
	assert.Equal(t, "https://twitter.com/alice/status/101", report.NoMedia[0].URL)
	assert.Equal(t, "words only", report.NoMedia[0].Detail)
	assert.Empty(t, report.Failed)
}

func TestReporter_NarrowsToCoverageGap(t *testing.T) {
	f := setupPipeline(t)
	logger := arbor.NewLogger()

	covered := "https://twitter.com/alice/status/100"
	uncovered := "https://twitter.com/bob/status/200"
	require.NoError(t, f.cache.Insert(100, covered, "{}"))
	require.NoError(t, f.tweets.InsertTweet(&twitter.Tweet{ID: 100, Author: "alice", Content: "done"}))

	report := NewReporter(f.codec, f.cache, f.tweets, logger).Run([]string{covered, uncovered})

	// The audit narrows to the uncovered URL, which has no outcome at all
	assert.Equal(t, 1, report.MissingFromCache)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, uncovered, report.Failed[0].URL)
	assert.Equal(t, 0, report.Success)
}
