package twitter

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/ternarybob/arbor"
)

// Parser turns one raw TweetDetail payload into the set of tweets it
// carries. The payload shape is undocumented and drifts; anything that
// does not match a known shape fails loudly rather than being guessed at.
type Parser struct {
	logger arbor.ILogger
}

// NewParser creates a parser
func NewParser(logger arbor.ILogger) *Parser {
	return &Parser{logger: logger}
}

type payloadError struct {
	Message string `json:"message"`
}

type payloadEnvelope struct {
	Errors []payloadError `json:"errors"`
	Data   struct {
		Conversation struct {
			Instructions []timelineInstruction `json:"instructions"`
		} `json:"threaded_conversation_with_injections_v2"`
	} `json:"data"`
}

type timelineInstruction struct {
	Type    string          `json:"type"`
	Entries []timelineEntry `json:"entries"`
}

type itemContent struct {
	TweetResults struct {
		Result json.RawMessage `json:"result"`
	} `json:"tweet_results"`
}

type timelineEntry struct {
	EntryID string `json:"entryId"`
	Content struct {
		EntryType   string       `json:"entryType"`
		ItemContent *itemContent `json:"itemContent"`
		Items       []struct {
			EntryID string `json:"entryId"`
			Item    struct {
				ItemContent itemContent `json:"itemContent"`
			} `json:"item"`
		} `json:"items"`
	} `json:"content"`
}

// resultPeek reads just enough of a tweet_results.result to decide what
// it is before committing to a full Item decode.
type resultPeek struct {
	TypeName  string          `json:"__typename"`
	Tweet     json.RawMessage `json:"tweet"` // inner tweet of TweetWithVisibilityResults
	Tombstone *struct {
		TypeName string `json:"__typename"`
		Text     struct {
			Text string `json:"text"`
		} `json:"text"`
	} `json:"tombstone"`
}

// ExtractAll parses the payload fetched for the given id and returns every
// tweet it contains keyed by numeric id. The requested id must be present
// in the result; a payload that never mentions the tweet it was fetched
// for is untrustworthy and fails as schema-invalid.
func (p *Parser) ExtractAll(id TweetID, raw []byte) (map[TweetID]*Item, error) {
	var envelope payloadEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, Errorf(KindSchemaInvalid, "payload is not a TweetDetail object: %v", err)
	}

	// The errors array can coexist with usable data: a deleted marker is
	// terminal, anything else is a warning to fall through.
	for _, e := range envelope.Errors {
		if strings.Contains(e.Message, errorMessageDeleted) {
			return nil, E(KindNotExists)
		}
	}

	var addEntries []timelineInstruction
	for _, inst := range envelope.Data.Conversation.Instructions {
		if inst.Type == "TimelineAddEntries" {
			addEntries = append(addEntries, inst)
		}
	}
	if len(addEntries) == 0 {
		return nil, E(KindSchemaInvalid)
	}
	if len(addEntries) > 1 {
		return nil, Errorf(KindUnimplemented, "TimelineAddEntries appears %d times", len(addEntries))
	}

	tweets := make(map[TweetID]*Item)
	for _, entry := range addEntries[0].Entries {
		switch entry.Content.EntryType {
		case "TimelineTimelineItem":
			if entry.Content.ItemContent == nil {
				p.logger.Trace().Str("entry", entry.EntryID).Msg("Entry has no item content")
				continue
			}
			if err := p.collectItem(id, entry.EntryID, entry.Content.ItemContent.TweetResults.Result, tweets); err != nil {
				return nil, err
			}

		case "TimelineTimelineModule":
			if len(entry.Content.Items) == 0 {
				p.logger.Warn().Str("entry", entry.EntryID).Msg("Module entry has no items")
				continue
			}
			for _, moduleItem := range entry.Content.Items {
				if err := p.collectItem(id, moduleItem.EntryID, moduleItem.Item.ItemContent.TweetResults.Result, tweets); err != nil {
					return nil, err
				}
			}

		default:
			return nil, Errorf(KindUnimplemented, "entry type %q", entry.Content.EntryType)
		}
	}

	if _, ok := tweets[id]; !ok {
		return nil, E(KindSchemaInvalid)
	}
	return tweets, nil
}

// collectItem unwraps one tweet_results.result and adds it to the map.
// A non-tweet result that was not visibility-wrapped is decoration and is
// skipped; one that was wrapped but still is not a tweet is a hard error.
func (p *Parser) collectItem(requested TweetID, entryID string, result json.RawMessage, tweets map[TweetID]*Item) error {
	if len(result) == 0 {
		p.logger.Trace().Str("entry", entryID).Msg("Entry has no tweet result")
		return nil
	}

	var peek resultPeek
	if err := json.Unmarshal(result, &peek); err != nil {
		return Errorf(KindSchemaInvalid, "entry %s: %v", entryID, err)
	}

	nested := false
	if peek.TypeName == "TweetWithVisibilityResults" {
		result = peek.Tweet
		nested = true
		if err := json.Unmarshal(result, &peek); err != nil {
			return Errorf(KindSchemaInvalid, "entry %s inner tweet: %v", entryID, err)
		}
	}

	// Missing __typename means a plain tweet on older payload revisions
	typeName := peek.TypeName
	if typeName == "" {
		typeName = "Tweet"
	}

	if typeName != "Tweet" {
		if typeName == "TweetTombstone" {
			if err := p.classifyTombstone(requested, entryID, &peek); err != nil {
				return err
			}
		}
		if !nested {
			p.logger.Trace().Str("entry", entryID).Str("typename", typeName).Msg("Entry is not a tweet, skipping")
			return nil
		}
		return Errorf(KindSchemaInvalid, "entry %s: visibility-wrapped %s", entryID, typeName)
	}

	var item Item
	if err := json.Unmarshal(result, &item); err != nil {
		p.logger.Error().Err(err).Str("entry", entryID).Msg("Tweet item failed to decode")
		return E(KindSchemaInvalid)
	}
	itemID, err := item.ID()
	if err != nil {
		return err
	}
	tweets[itemID] = &item
	return nil
}

// classifyTombstone resolves a tombstone placeholder. Only a tombstone
// standing in for the requested tweet is terminal; tombstones for other
// ids in the same conversation are skipped by the caller.
func (p *Parser) classifyTombstone(requested TweetID, entryID string, peek *resultPeek) error {
	if peek.Tombstone == nil || peek.Tombstone.TypeName != "TextTombstone" {
		return Errorf(KindUnknownTweet, "tombstone type unknown for entry %s", entryID)
	}

	text := peek.Tombstone.Text.Text
	p.logger.Trace().Str("entry", entryID).Str("text", text).Msg("TextTombstone")

	if !strings.EqualFold(entryID, fmt.Sprintf("tweet-%d", requested)) {
		return nil
	}

	switch {
	case strings.Contains(text, tombstoneAccountSuspended):
		return E(KindAccountSuspended)
	case strings.Contains(text, tombstoneAdultContent):
		return E(KindAdultContent)
	case strings.Contains(text, tombstoneUserRestricted):
		return E(KindRestricted)
	case strings.Contains(text, tombstoneAccountNotExisted):
		return E(KindAccountNotExisted)
	case strings.Contains(text, tombstoneIllegalContent):
		return E(KindIllegalBan)
	case strings.Contains(text, tombstoneNotAvailable):
		return E(KindNotExists)
	default:
		return Errorf(KindUnknownTweet, "unmatched tombstone text: %s", text)
	}
}

// Thread collects the ids sharing the requested tweet's self-thread id.
// A thread id shared by exactly one fetched tweet is not a thread for
// storage purposes and reports ok=false.
func Thread(id TweetID, tweets map[TweetID]*Item) ([]TweetID, bool) {
	item, ok := tweets[id]
	if !ok {
		return nil, false
	}
	threadID, ok := item.ThreadID()
	if !ok {
		return nil, false
	}

	var members []TweetID
	for tid, t := range tweets {
		if other, ok := t.ThreadID(); ok && other == threadID {
			members = append(members, tid)
		}
	}
	if len(members) <= 1 {
		return nil, false
	}
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	return members, true
}
