package twitter

// Tweet is one stored status: the persisted subset of an Item.
type Tweet struct {
	ID         TweetID
	Author     string
	Content    string
	CreateTime int64 // unix seconds, 0 when the upstream timestamp failed to parse
}

// Media is one media attachment of a tweet. For videos and animated gifs
// URL is the highest-bitrate variant rather than the thumbnail.
type Media struct {
	ID      string
	TweetID TweetID
	URL     string
	Width   uint64
	Height  uint64
	No      int32 // 1-based position within the owning tweet's media list
	Type    string
}

// ThreadEdge records membership of a tweet in a multi-tweet self thread
type ThreadEdge struct {
	TweetID  TweetID
	ThreadID TweetID // the self_thread root id shared by all members
	ReplyTo  TweetID
}
