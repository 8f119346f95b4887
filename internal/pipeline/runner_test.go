package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/petrel/internal/fetcher"
	"github.com/ternarybob/petrel/internal/twitter"
)

// scriptedFetcher serves canned payloads and records every URL it is
// asked for.
type scriptedFetcher struct {
	mu       sync.Mutex
	payloads map[string]string
	calls    []string
}

func (s *scriptedFetcher) FetchTweet(ctx context.Context, url string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, url)
	body, ok := s.payloads[url]
	if !ok {
		return "", twitter.Errorf(twitter.KindOther, "no canned payload for %s", url)
	}
	return body, nil
}

func (s *scriptedFetcher) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func TestRunner_TwoTierCrawl(t *testing.T) {
	f := setupPipeline(t)
	logger := arbor.NewLogger()

	urlOK := "https://twitter.com/alice/status/100"
	urlRestricted := "https://twitter.com/bob/status/200"
	restricted := "该账号所有者限制了可以查看其推文的用户。"

	anon := &scriptedFetcher{payloads: map[string]string{
		urlOK:         singleTweetPayload("100", "alice", "public", photoMedia),
		urlRestricted: tombstonePayload("200", restricted),
	}}
	// The logged-in session sees the same tombstone, so the tweet is
	// terminally restricted
	auth := &scriptedFetcher{payloads: map[string]string{
		urlRestricted: tombstonePayload("200", restricted),
	}}

	orch := fetcher.NewOrchestrator(f.codec, f.cache, logger)
	runner := NewRunner(f.codec, orch, f.proc, f.tweets, f.tally, 5, logger)

	err := runner.Run(context.Background(), anon, auth, []string{urlOK, urlRestricted}, false)
	require.NoError(t, err)

	// The public tweet landed in the store
	tw, err := f.tweets.GetTweet(100)
	require.NoError(t, err)
	assert.Equal(t, "alice", tw.Author)

	// The restricted one was requeued past the anonymous round, then
	// recorded terminally by the logged-in round
	reason, ok := f.tweets.GetFailReason(200)
	require.True(t, ok)
	assert.Equal(t, twitter.FailRestricted, reason)

	// The anonymous round fetched both; the logged-in round re-fetched
	// only the restricted one after eviction
	assert.Equal(t, 2, anon.callCount())
	assert.Equal(t, []string{urlRestricted}, auth.calls)

	s := f.tally.Snapshot()
	assert.Equal(t, 1, s.Success)
	assert.Equal(t, 1, s.Restricted)
}

func TestRunner_AnonOnlyRecordsRestricted(t *testing.T) {
	f := setupPipeline(t)
	logger := arbor.NewLogger()

	url := "https://twitter.com/bob/status/200"
	restricted := "该账号所有者限制了可以查看其推文的用户。"
	anon := &scriptedFetcher{payloads: map[string]string{
		url: tombstonePayload("200", restricted),
	}}

	orch := fetcher.NewOrchestrator(f.codec, f.cache, logger)
	runner := NewRunner(f.codec, orch, f.proc, f.tweets, f.tally, 5, logger)

	// No logged-in tier will ever see this tweet, so restricted is
	// terminal right away instead of being requeued
	err := runner.Run(context.Background(), anon, nil, []string{url}, false)
	require.NoError(t, err)

	reason, ok := f.tweets.GetFailReason(200)
	require.True(t, ok)
	assert.Equal(t, twitter.FailRestricted, reason)
	assert.Equal(t, 1, f.tally.Snapshot().Restricted)
	assert.Equal(t, 1, anon.callCount())
}

func TestRunner_FilterExistingSkipsProcessed(t *testing.T) {
	f := setupPipeline(t)
	logger := arbor.NewLogger()

	urlNew := "https://twitter.com/alice/status/100"
	urlDone := "https://twitter.com/bob/status/200"
	require.NoError(t, f.tweets.InsertTweet(&twitter.Tweet{ID: 200, Author: "bob", Content: "already stored"}))

	anon := &scriptedFetcher{payloads: map[string]string{
		urlNew: singleTweetPayload("100", "alice", "fresh", ""),
	}}

	orch := fetcher.NewOrchestrator(f.codec, f.cache, logger)
	runner := NewRunner(f.codec, orch, f.proc, f.tweets, f.tally, 5, logger)

	err := runner.Run(context.Background(), anon, nil, []string{urlNew, urlDone}, true)
	require.NoError(t, err)

	assert.Equal(t, []string{urlNew}, anon.calls)
	_, err = f.tweets.GetTweet(100)
	assert.NoError(t, err)
}

func TestRunner_AuthOnly(t *testing.T) {
	f := setupPipeline(t)
	logger := arbor.NewLogger()

	url := "https://twitter.com/alice/status/100"
	auth := &scriptedFetcher{payloads: map[string]string{
		url: singleTweetPayload("100", "alice", "members only", ""),
	}}

	orch := fetcher.NewOrchestrator(f.codec, f.cache, logger)
	runner := NewRunner(f.codec, orch, f.proc, f.tweets, f.tally, 5, logger)

	err := runner.Run(context.Background(), nil, auth, []string{url}, false)
	require.NoError(t, err)

	_, err = f.tweets.GetTweet(100)
	assert.NoError(t, err)
	assert.Equal(t, 1, auth.callCount())
}

func TestRunner_ProcessAllParallelBatch(t *testing.T) {
	f := setupPipeline(t)
	logger := arbor.NewLogger()

	// Enough URLs to keep every worker in the pool busy at once
	var urls []string
	for i := 0; i < 24; i++ {
		id := fmt.Sprintf("%d", 100+i)
		url := "https://twitter.com/alice/status/" + id
		urls = append(urls, url)
		require.NoError(t, f.cache.Insert(twitter.TweetID(100+i), url, singleTweetPayload(id, "alice", "post "+id, "")))
	}

	orch := fetcher.NewOrchestrator(f.codec, f.cache, logger)
	runner := NewRunner(f.codec, orch, f.proc, f.tweets, f.tally, 5, logger)

	requeued := runner.processAll(urls, false)
	assert.Empty(t, requeued)
	assert.Equal(t, 24, f.tally.Snapshot().Success)
	for i := 0; i < 24; i++ {
		_, err := f.tweets.GetTweet(twitter.TweetID(100 + i))
		assert.NoError(t, err)
	}
}

func TestRunner_ProcessAllKeepsRequeueOrder(t *testing.T) {
	f := setupPipeline(t)
	logger := arbor.NewLogger()

	urls := []string{
		"https://twitter.com/alice/status/100",
		"https://twitter.com/alice/status/101",
		"https://twitter.com/alice/status/102",
		"https://twitter.com/alice/status/103",
	}
	// 100 and 102 have payloads; 101 and 103 miss the cache and requeue
	require.NoError(t, f.cache.Insert(100, urls[0], singleTweetPayload("100", "alice", "a", "")))
	require.NoError(t, f.cache.Insert(102, urls[2], singleTweetPayload("102", "alice", "c", "")))

	orch := fetcher.NewOrchestrator(f.codec, f.cache, logger)
	runner := NewRunner(f.codec, orch, f.proc, f.tweets, f.tally, 5, logger)

	requeued := runner.processAll(urls, false)
	assert.Equal(t, []string{urls[1], urls[3]}, requeued)
}

func TestRunner_RoundBudgetStopsRetrying(t *testing.T) {
	f := setupPipeline(t)
	logger := arbor.NewLogger()

	// Every fetch fails, so the URL stays in the remaining set
	url := "https://twitter.com/alice/status/100"
	auth := &scriptedFetcher{payloads: map[string]string{}}

	orch := fetcher.NewOrchestrator(f.codec, f.cache, logger)
	runner := NewRunner(f.codec, orch, f.proc, f.tweets, f.tally, 2, logger)

	err := runner.Run(context.Background(), nil, auth, []string{url}, false)
	require.NoError(t, err)

	// One fetch attempt per allowed round, then the budget cut it off
	assert.Equal(t, 2, auth.callCount())
	assert.False(t, f.tweets.Exists(100))
}
