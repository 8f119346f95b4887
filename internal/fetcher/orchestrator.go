package fetcher

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/petrel/internal/store"
	"github.com/ternarybob/petrel/internal/twitter"
)

// TweetFetcher is the capability the orchestrator drives. Browser is the
// production implementation; tests substitute their own.
type TweetFetcher interface {
	FetchTweet(ctx context.Context, url string) (string, error)
}

// Orchestrator walks a URL list through one fetch tier: skip what the raw
// cache already holds, fetch the rest one at a time with pacing, and ride
// out rate limiting with an escalating backoff. It never parses payloads;
// its only output is cache rows plus the succeeded/failed split.
type Orchestrator struct {
	codec  *twitter.URLCodec
	cache  *store.RawCache
	logger arbor.ILogger
	pacer  *rate.Limiter

	// sleepFn is replaced in tests so backoff does not wall-clock
	sleepFn func(context.Context, time.Duration) error
}

// NewOrchestrator creates an orchestrator over the given raw cache
func NewOrchestrator(codec *twitter.URLCodec, cache *store.RawCache, logger arbor.ILogger) *Orchestrator {
	return &Orchestrator{
		codec:   codec,
		cache:   cache,
		logger:  logger,
		pacer:   rate.NewLimiter(rate.Every(time.Second), 1),
		sleepFn: sleepContext,
	}
}

// rateLimitDelay is the backoff ladder for consecutive rate-limit hits on
// the same URL: a short first pause, then ten minutes plus two more per
// extra attempt. The upstream window is long; short retries just burn it.
func rateLimitDelay(attempt int) time.Duration {
	if attempt == 0 {
		return 60 * time.Second
	}
	return time.Duration(600+120*(attempt-1)) * time.Second
}

// Run fetches every URL not already in the raw cache and stores the raw
// payloads. Cached URLs count as succeeded without a fetch. Returns the
// succeeded and failed URL sets; only context cancellation is a hard
// error, everything else lands in failed for a later tier to retry.
func (o *Orchestrator) Run(ctx context.Context, f TweetFetcher, urls []string) (succeeded, failed []string, err error) {
	runID := uuid.NewString()[:8]
	total := len(urls)
	o.logger.Info().
		Str("run_id", runID).
		Int("total", total).
		Msg("Fetch round started")

	for i, url := range urls {
		if err := ctx.Err(); err != nil {
			return succeeded, failed, err
		}
		counter := i + 1
		id := o.codec.MustParseID(url)

		if o.cache.Exists(id) {
			o.logger.Info().
				Str("run_id", runID).
				Int("n", counter).
				Int("total", total).
				Str("url", url).
				Msg("Already cached")
			succeeded = append(succeeded, url)
			continue
		}

		// Longer pause every hundredth fetch on top of the per-item pacing
		if counter%100 == 0 {
			o.logger.Trace().Str("run_id", runID).Msg("Hundredth item, long pause")
			if err := o.sleepFn(ctx, 10*time.Second); err != nil {
				return succeeded, failed, err
			}
		}

		body, ferr := o.fetchWithBackoff(ctx, f, url)
		switch {
		case ferr != nil && ctx.Err() != nil:
			return succeeded, failed, ctx.Err()
		case ferr != nil:
			o.logger.Error().
				Str("run_id", runID).
				Int("n", counter).
				Int("total", total).
				Str("url", url).
				Err(ferr).
				Msg("Fetch failed")
			failed = append(failed, url)
		default:
			if ierr := o.cache.Insert(id, url, body); ierr != nil {
				o.logger.Error().
					Str("run_id", runID).
					Str("url", url).
					Err(ierr).
					Msg("Raw cache insert failed")
				failed = append(failed, url)
			} else {
				o.logger.Info().
					Str("run_id", runID).
					Int("n", counter).
					Int("total", total).
					Str("url", url).
					Msg("Fetched")
				succeeded = append(succeeded, url)
			}
		}

		if err := o.pacer.Wait(ctx); err != nil {
			return succeeded, failed, err
		}
	}

	o.logger.Info().
		Str("run_id", runID).
		Int("succeeded", len(succeeded)).
		Int("failed", len(failed)).
		Msg("Fetch round finished")
	return succeeded, failed, nil
}

// fetchWithBackoff retries a single URL through rate-limit responses.
// Any other error passes straight through.
func (o *Orchestrator) fetchWithBackoff(ctx context.Context, f TweetFetcher, url string) (string, error) {
	attempt := 0
	for {
		body, err := f.FetchTweet(ctx, url)
		if err == nil || !twitter.IsKind(err, twitter.KindRateLimited) {
			return body, err
		}
		delay := rateLimitDelay(attempt)
		o.logger.Warn().
			Int("attempt", attempt+1).
			Str("delay", delay.String()).
			Str("url", url).
			Msg("Rate limited, backing off")
		if serr := o.sleepFn(ctx, delay); serr != nil {
			return "", serr
		}
		attempt++
	}
}

// Evict removes the raw cache rows for the given URLs so a later tier
// fetches them fresh instead of reusing a payload the previous tier
// could not parse.
func (o *Orchestrator) Evict(urls []string) {
	for _, url := range urls {
		id := o.codec.MustParseID(url)
		if err := o.cache.Remove(id); err != nil {
			o.logger.Warn().Str("url", url).Err(err).Msg("Raw cache eviction failed")
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
