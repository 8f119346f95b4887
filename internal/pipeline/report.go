package pipeline

import (
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/petrel/internal/store"
	"github.com/ternarybob/petrel/internal/twitter"
)

// ReportEntry pairs a tweet URL with a detail line: the tweet text for
// media-less tweets, the failure description for unresolved ones.
type ReportEntry struct {
	URL    string
	Detail string
}

// Report is the outcome audit of a URL list against the two databases.
type Report struct {
	ListTotal         int
	MissingFromCache  int
	MissingFromStore  int
	Success           int
	AccountSuspended  int
	AccountNotExisted int
	Deleted           int
	Restricted        int
	MediaCount        int
	NoMedia           []ReportEntry
	Failed            []ReportEntry
}

// Reporter audits a finished crawl: for every URL in the list it checks
// what the tweet store recorded and tallies the outcome. When the list
// is not fully covered by the databases, the audit narrows to the gap so
// the uncovered URLs are the ones listed.
type Reporter struct {
	codec  *twitter.URLCodec
	cache  *store.RawCache
	tweets *store.TweetStore
	logger arbor.ILogger
}

func NewReporter(codec *twitter.URLCodec, cache *store.RawCache, tweets *store.TweetStore, logger arbor.ILogger) *Reporter {
	return &Reporter{codec: codec, cache: cache, tweets: tweets, logger: logger}
}

// Run builds the report for the URL list
func (r *Reporter) Run(urls []string) Report {
	report := Report{ListTotal: len(urls)}

	urls, report.MissingFromCache = r.narrowToGap(urls, func(id twitter.TweetID) bool {
		return r.cache.Exists(id)
	})
	if report.MissingFromCache > 0 {
		r.logger.Warn().
			Int("count", report.MissingFromCache).
			Msg("URLs in the list are missing from the raw cache")
	}
	urls, report.MissingFromStore = r.narrowToGap(urls, func(id twitter.TweetID) bool {
		return r.tweets.Exists(id)
	})
	if report.MissingFromStore > 0 {
		r.logger.Warn().
			Int("count", report.MissingFromStore).
			Msg("URLs in the list are missing from the tweet store")
	}

	var mu sync.Mutex
	sem := make(chan struct{}, poolSize)
	var wg sync.WaitGroup
	for _, url := range urls {
		wg.Add(1)
		sem <- struct{}{}
		go func(url string) {
			defer wg.Done()
			defer func() { <-sem }()
			r.auditOne(url, &mu, &report)
		}(url)
	}
	wg.Wait()

	return report
}

// narrowToGap checks list coverage against a database. Full coverage
// returns the list untouched; otherwise only the uncovered URLs remain,
// since those are the ones the audit needs to surface.
func (r *Reporter) narrowToGap(urls []string, exists func(twitter.TweetID) bool) ([]string, int) {
	missing := make([]bool, len(urls))
	sem := make(chan struct{}, poolSize)
	var wg sync.WaitGroup
	for i, url := range urls {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, url string) {
			defer wg.Done()
			defer func() { <-sem }()
			missing[i] = !exists(r.codec.MustParseID(url))
		}(i, url)
	}
	wg.Wait()

	var gap []string
	for i, url := range urls {
		if missing[i] {
			gap = append(gap, url)
		}
	}
	if len(gap) == 0 {
		return urls, 0
	}
	return gap, len(gap)
}

func (r *Reporter) auditOne(url string, mu *sync.Mutex, report *Report) {
	id := r.codec.MustParseID(url)

	tweet, err := r.tweets.GetTweet(id)
	if err == nil {
		medias, merr := r.tweets.GetMedias(id)
		mu.Lock()
		defer mu.Unlock()
		report.Success++
		if merr == nil && len(medias) > 0 {
			report.MediaCount += len(medias)
		} else {
			report.NoMedia = append(report.NoMedia, ReportEntry{URL: url, Detail: tweet.Content})
		}
		return
	}

	mu.Lock()
	defer mu.Unlock()
	reason, ok := r.tweets.GetFailReason(id)
	if !ok {
		report.Failed = append(report.Failed, ReportEntry{URL: url, Detail: "no tweet or failure recorded"})
		return
	}
	switch reason {
	case twitter.FailDeleted:
		report.Deleted++
	case twitter.FailRestricted:
		report.Restricted++
	case twitter.FailAccountSuspended:
		report.AccountSuspended++
	case twitter.FailAccountNotExisted:
		report.AccountNotExisted++
	default:
		report.Failed = append(report.Failed, ReportEntry{URL: url, Detail: string(reason)})
	}
}

// Log writes the report through the logger
func (rep Report) Log(logger arbor.ILogger) {
	resolved := rep.Success + rep.AccountSuspended + rep.AccountNotExisted + rep.Deleted + rep.Restricted
	logger.Info().
		Int("list_total", rep.ListTotal).
		Int("success", rep.Success).
		Int("account_suspended", rep.AccountSuspended).
		Int("account_not_existed", rep.AccountNotExisted).
		Int("deleted", rep.Deleted).
		Int("restricted", rep.Restricted).
		Int("resolved_total", resolved).
		Msg("Crawl outcome")
	logger.Info().
		Int("media_count", rep.MediaCount).
		Int("tweets_without_media", len(rep.NoMedia)).
		Msg("Media coverage")
	for _, e := range rep.NoMedia {
		logger.Info().Str("url", e.URL).Str("content", e.Detail).Msg("Tweet without media")
	}
	logger.Info().Int("failed", len(rep.Failed)).Msg("Unresolved tweets")
	for _, e := range rep.Failed {
		logger.Info().Str("url", e.URL).Str("reason", e.Detail).Msg("Unresolved")
	}
}
