package pipeline

import (
	"context"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/petrel/internal/fetcher"
	"github.com/ternarybob/petrel/internal/store"
	"github.com/ternarybob/petrel/internal/twitter"
)

// poolSize bounds the worker sets of the existence pre-filter, the
// parse+persist pass, and the report audit.
const poolSize = 8

// Runner drives a full crawl: an optional anonymous round first, then
// logged-in rounds over whatever remains until the remaining set drains
// or the round budget runs out.
type Runner struct {
	codec         *twitter.URLCodec
	orch          *fetcher.Orchestrator
	proc          *Processor
	tweets        *store.TweetStore
	tally         *Tally
	logger        arbor.ILogger
	maxAuthRounds int
}

// NewRunner assembles the crawl driver
func NewRunner(codec *twitter.URLCodec, orch *fetcher.Orchestrator, proc *Processor, tweets *store.TweetStore, tally *Tally, maxAuthRounds int, logger arbor.ILogger) *Runner {
	return &Runner{
		codec:         codec,
		orch:          orch,
		proc:          proc,
		tweets:        tweets,
		tally:         tally,
		logger:        logger,
		maxAuthRounds: maxAuthRounds,
	}
}

// Run executes the crawl over the URL list. anon and auth are the two
// fetch tiers; either may be nil when the corresponding mode is
// disabled, but not both. filterExisting should be true when the tweet
// store predates this run, so already-processed URLs are skipped.
func (r *Runner) Run(ctx context.Context, anon, auth fetcher.TweetFetcher, urls []string, filterExisting bool) error {
	if filterExisting {
		before := len(urls)
		urls = r.filterExisting(urls)
		r.logger.Info().
			Int("before", before).
			Int("after", len(urls)).
			Msg("Dropped URLs already in the tweet store")
	}
	r.logger.Info().Int("total", len(urls)).Msg("URLs to be downloaded")

	var remaining []string
	clean := false

	if anon != nil {
		r.logger.Info().Msg("Anonymous round")
		succeeded, failed, err := r.orch.Run(ctx, anon, urls)
		if err != nil {
			return err
		}
		// Restricted tweets are only worth requeueing when a logged-in
		// round is still ahead; otherwise they are terminal now
		remaining = append(remaining, r.processAll(succeeded, auth != nil)...)
		remaining = append(remaining, failed...)
		r.tally.LogSummary(r.logger, len(remaining))
		clean = true
	} else {
		remaining = urls
	}

	if auth != nil {
		for round := 0; len(remaining) > 0 && round < r.maxAuthRounds; round++ {
			r.logger.Info().
				Int("round", round+1).
				Int("remaining", len(remaining)).
				Msg("Logged-in round")
			if clean {
				// Payloads a previous round fetched but could not use
				// must be re-fetched with the current session
				r.orch.Evict(remaining)
			}
			succeeded, failed, err := r.orch.Run(ctx, auth, remaining)
			if err != nil {
				return err
			}
			remaining = failed
			remaining = append(remaining, r.processAll(succeeded, false)...)
			r.tally.LogSummary(r.logger, len(remaining))
			clean = true
		}
	}

	for _, url := range r.tally.Snapshot().NoMedia {
		r.logger.Info().Str("url", url).Msg("Tweet stored without media")
	}
	if n := len(remaining); n > 0 {
		r.logger.Warn().Int("remaining", n).Msg("URLs left unresolved after all rounds")
	}
	return nil
}

// processAll parses and persists the fetched URLs across a bounded
// worker set, returning the ones that need another round. Order is
// preserved. Inserts are idempotent and the tally is mutex guarded, so
// the workers need no coordination beyond the per-index requeue slots.
func (r *Runner) processAll(urls []string, retryRestricted bool) []string {
	total := len(urls)
	requeue := make([]bool, total)
	sem := make(chan struct{}, poolSize)
	var wg sync.WaitGroup
	for i, url := range urls {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, url string) {
			defer wg.Done()
			defer func() { <-sem }()
			r.logger.Info().
				Int("n", i+1).
				Int("total", total).
				Str("url", url).
				Msg("Processing")
			requeue[i] = r.proc.Process(url, retryRestricted)
		}(i, url)
	}
	wg.Wait()

	var requeued []string
	for i, url := range urls {
		if requeue[i] {
			requeued = append(requeued, url)
		}
	}
	return requeued
}

// filterExisting drops URLs whose id already has a tweet or fail row.
// The checks fan out over a bounded worker set; order is preserved.
func (r *Runner) filterExisting(urls []string) []string {
	keep := make([]bool, len(urls))
	sem := make(chan struct{}, poolSize)
	var wg sync.WaitGroup
	for i, url := range urls {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, url string) {
			defer wg.Done()
			defer func() { <-sem }()
			keep[i] = !r.tweets.Exists(r.codec.MustParseID(url))
		}(i, url)
	}
	wg.Wait()

	kept := make([]string, 0, len(urls))
	for i, url := range urls {
		if keep[i] {
			kept = append(kept, url)
		}
	}
	return kept
}
