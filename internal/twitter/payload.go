package twitter

import (
	"strconv"
	"time"
)

// Wire structs for the TweetDetail GraphQL payload. Field coverage is
// intentionally partial: only what the pipeline persists plus enough
// structure to navigate. Unknown fields are ignored by encoding/json.

const createdAtLayout = "Mon Jan 02 15:04:05 -0700 2006"

type mediaOriginalInfo struct {
	Height uint64 `json:"height"`
	Width  uint64 `json:"width"`
}

type videoVariant struct {
	Bitrate uint64 `json:"bitrate"` // absent for HLS playlists, defaults to 0
	URL     string `json:"url"`
}

type videoInfo struct {
	Variants []videoVariant `json:"variants"`
}

type entityMedia struct {
	IDStr         string            `json:"id_str"`
	MediaURLHTTPS string            `json:"media_url_https"`
	Type          string            `json:"type"`
	OriginalInfo  mediaOriginalInfo `json:"original_info"`
	VideoInfo     *videoInfo        `json:"video_info"` // only present in extended_entities
}

type entities struct {
	Media []entityMedia `json:"media"`
}

type selfThread struct {
	IDStr string `json:"id_str"`
}

type tweetLegacy struct {
	CreatedAt           string      `json:"created_at"`
	IDStr               string      `json:"id_str"`
	FullText            string      `json:"full_text"`
	SelfThread          *selfThread `json:"self_thread"`
	InReplyToStatusID   string      `json:"in_reply_to_status_id_str"`
	Entities            entities    `json:"entities"`
	ExtendedEntities    *entities   `json:"extended_entities"`
	ConversationIDStr   string      `json:"conversation_id_str"`
	PossiblySensitive   bool        `json:"possibly_sensitive"`
	InReplyToScreenName string      `json:"in_reply_to_screen_name"`
}

type userLegacy struct {
	Name       string `json:"name"`
	ScreenName string `json:"screen_name"`
}

type tweetUser struct {
	TypeName string     `json:"__typename"`
	Legacy   userLegacy `json:"legacy"`
}

type userResults struct {
	Result tweetUser `json:"result"`
}

type tweetCore struct {
	UserResults userResults `json:"user_results"`
}

// Item is one tweet as parsed out of the timeline payload
type Item struct {
	TypeName string      `json:"__typename"`
	RestID   string      `json:"rest_id"`
	Core     tweetCore   `json:"core"`
	Legacy   tweetLegacy `json:"legacy"`
}

// ID returns the numeric status id
func (it *Item) ID() (TweetID, error) {
	id, err := strconv.ParseUint(it.RestID, 10, 64)
	if err != nil {
		return 0, Errorf(KindSchemaInvalid, "rest_id %q is not numeric", it.RestID)
	}
	return id, nil
}

// ThreadID returns the self-thread id when the tweet belongs to one
func (it *Item) ThreadID() (TweetID, bool) {
	if it.Legacy.SelfThread == nil {
		return 0, false
	}
	id, err := strconv.ParseUint(it.Legacy.SelfThread.IDStr, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Tweet derives the persisted row. A timestamp that fails to parse
// degrades to create time 0 rather than failing the item.
func (it *Item) Tweet() Tweet {
	id, _ := it.ID()
	var createTime int64
	if ts, err := time.Parse(createdAtLayout, it.Legacy.CreatedAt); err == nil {
		createTime = ts.Unix()
	}
	return Tweet{
		ID:         id,
		Author:     it.Core.UserResults.Result.Legacy.ScreenName,
		Content:    it.Legacy.FullText,
		CreateTime: createTime,
	}
}

// ThreadEdge derives the thread-membership row. Present only when the
// item carries both a self-thread id and an in-reply-to id.
func (it *Item) ThreadEdge() (ThreadEdge, bool) {
	threadID, ok := it.ThreadID()
	if !ok || it.Legacy.InReplyToStatusID == "" {
		return ThreadEdge{}, false
	}
	replyTo, err := strconv.ParseUint(it.Legacy.InReplyToStatusID, 10, 64)
	if err != nil {
		return ThreadEdge{}, false
	}
	id, _ := it.ID()
	return ThreadEdge{TweetID: id, ThreadID: threadID, ReplyTo: replyTo}, true
}

// MediaList derives the media rows. extended_entities supersedes the base
// entities list when present (it is a superset carrying video variants);
// for video and animated_gif the max-bitrate variant wins.
func (it *Item) MediaList() []Media {
	source := &it.Legacy.Entities
	if it.Legacy.ExtendedEntities != nil {
		source = it.Legacy.ExtendedEntities
	}

	id, _ := it.ID()
	medias := make([]Media, 0, len(source.Media))
	for i, m := range source.Media {
		url := m.MediaURLHTTPS
		if m.Type == "video" || m.Type == "animated_gif" {
			if m.VideoInfo != nil {
				url = bestVariantURL(m.VideoInfo.Variants, url)
			}
		}
		medias = append(medias, Media{
			ID:      m.IDStr,
			TweetID: id,
			URL:     url,
			Width:   m.OriginalInfo.Width,
			Height:  m.OriginalInfo.Height,
			No:      int32(i + 1),
			Type:    m.Type,
		})
	}
	return medias
}

// bestVariantURL picks the variant with the highest bitrate. A missing
// bitrate counts as 0, so a single-variant list always has a winner.
func bestVariantURL(variants []videoVariant, fallback string) string {
	if len(variants) == 0 {
		return fallback
	}
	best := variants[0]
	for _, v := range variants[1:] {
		if v.Bitrate > best.Bitrate {
			best = v
		}
	}
	return best.URL
}
