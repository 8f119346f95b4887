package pipeline

import (
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/petrel/internal/store"
	"github.com/ternarybob/petrel/internal/twitter"
)

// Processor turns one cached payload into tweet store rows. A thread is
// persisted as a unit: when the requested tweet belongs to one, every
// member's tweet, media, and thread rows go in together.
type Processor struct {
	codec  *twitter.URLCodec
	cache  *store.RawCache
	tweets *store.TweetStore
	parser *twitter.Parser
	tally  *Tally
	logger arbor.ILogger
}

// NewProcessor wires a processor over the raw cache and tweet store
func NewProcessor(codec *twitter.URLCodec, cache *store.RawCache, tweets *store.TweetStore, parser *twitter.Parser, tally *Tally, logger arbor.ILogger) *Processor {
	return &Processor{
		codec:  codec,
		cache:  cache,
		tweets: tweets,
		parser: parser,
		tally:  tally,
		logger: logger,
	}
}

// Process parses the cached payload for a URL and persists the result.
// Returns true when the URL should go back into the remaining set: the
// payload was missing or unparseable for a retryable reason, or the
// tweet is restricted and retryRestricted says a logged-in round may
// still see it. Terminal failures are recorded and never requeued,
// except restricted under retryRestricted which stays pending.
func (p *Processor) Process(url string, retryRestricted bool) (requeue bool) {
	id := p.codec.MustParseID(url)

	raw, err := p.cache.GetJSON(id)
	if err != nil {
		p.logger.Warn().Str("url", url).Err(err).Msg("Cached payload unavailable, requeueing")
		return true
	}

	items, err := p.parser.ExtractAll(id, []byte(raw))
	if err != nil {
		return p.recordFailure(url, err, retryRestricted)
	}
	p.logger.Trace().Str("url", url).Msg("Payload parsed")

	members := []*twitter.Item{items[id]}
	if ids, ok := twitter.Thread(id, items); ok {
		members = members[:0]
		for _, tid := range ids {
			members = append(members, items[tid])
		}
	}

	var medias []twitter.Media
	for _, item := range members {
		t := item.Tweet()
		// Log the member's own URL; for a thread it differs from the
		// requested one
		memberURL := twitter.StatusURL(t.Author, t.ID)
		if err := p.tweets.InsertTweet(&t); err != nil {
			p.logger.Error().Str("url", memberURL).Err(err).Msg("Tweet insert failed")
			return true
		}
		for _, m := range item.MediaList() {
			medias = append(medias, m)
			if err := p.tweets.InsertMedia(&m); err != nil {
				p.logger.Error().Str("url", memberURL).Err(err).Msg("Media insert failed")
				return true
			}
		}
		if edge, ok := item.ThreadEdge(); ok {
			if err := p.tweets.InsertThread(&edge); err != nil {
				p.logger.Error().Str("url", memberURL).Err(err).Msg("Thread insert failed")
				return true
			}
		}
	}

	if len(medias) == 0 {
		p.tally.RecordNoMedia(url)
	}
	p.tally.RecordSuccess()
	return false
}

func (p *Processor) recordFailure(url string, err error, retryRestricted bool) (requeue bool) {
	p.logger.Trace().Str("url", url).Err(err).Msg("Payload rejected")

	reason, terminal := twitter.TerminalReason(err)
	if !terminal {
		return true
	}
	if reason == twitter.FailRestricted && retryRestricted {
		// A logged-in round may still reach it, keep it pending
		return true
	}
	p.tally.RecordFail(reason)
	p.tweets.InsertFail(url, reason)
	return false
}
