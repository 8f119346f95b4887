package twitter

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
)

// TweetID is the numeric status id embedded in a tweet URL
type TweetID = uint64

// URLCodec holds the compiled tweet-URL patterns. Construct one per
// component that needs id extraction instead of sharing package globals.
type URLCodec struct {
	lineExtractor   *regexp.Regexp // finds the canonical URL inside an arbitrary line
	statusExtractor *regexp.Regexp // splits a canonical URL into author and id
	detailEndpoint  *regexp.Regexp // matches the TweetDetail GraphQL response URL
}

// NewURLCodec compiles the tweet URL patterns
func NewURLCodec() *URLCodec {
	return &URLCodec{
		lineExtractor:   regexp.MustCompile(`(https://twitter\.com/.*?/status/\d+)\b`),
		statusExtractor: regexp.MustCompile(`https://twitter\.com/(.*?)/status/(\d*)`),
		detailEndpoint:  regexp.MustCompile(`https://twitter\.com/i/api/graphql/.*?/TweetDetail`),
	}
}

// ParseStatusURL extracts the author handle and status id from a tweet URL.
// Query strings and trailing text are ignored by the pattern. Returns
// ok=false when the URL is not a tweet reference.
func (c *URLCodec) ParseStatusURL(url string) (author string, id TweetID, ok bool) {
	m := c.statusExtractor.FindStringSubmatch(url)
	if m == nil {
		return "", 0, false
	}
	id, err := strconv.ParseUint(m[2], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return m[1], id, true
}

// MustParseID extracts the status id from a URL already known to be canonical
func (c *URLCodec) MustParseID(url string) TweetID {
	_, id, ok := c.ParseStatusURL(url)
	if !ok {
		panic(fmt.Sprintf("not a tweet url: %s", url))
	}
	return id
}

// StatusURL reconstructs the canonical URL form for an author and id
func StatusURL(author string, id TweetID) string {
	return fmt.Sprintf("https://twitter.com/%s/status/%d", author, id)
}

// IsTweetURL reports whether the URL points at the tweet host at all
func IsTweetURL(url string) bool {
	return len(url) >= len("https://twitter.com/") && url[:len("https://twitter.com/")] == "https://twitter.com/"
}

// IsDetailResponse reports whether an intercepted response URL is the
// TweetDetail GraphQL endpoint
func (c *URLCodec) IsDetailResponse(url string) bool {
	return c.detailEndpoint.MatchString(url)
}

// ReadURLList loads a newline-delimited URL list. Each line may carry
// arbitrary surrounding text; the canonical tweet URL is extracted and
// lines with no match are dropped. The result is sorted and deduplicated
// so repeated runs see the same ordering.
func (c *URLCodec) ReadURLList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open url list %s: %w", path, err)
	}
	defer f.Close()

	seen := make(map[string]struct{})
	var urls []string

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		m := c.lineExtractor.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		if _, dup := seen[m[1]]; dup {
			continue
		}
		seen[m[1]] = struct{}{}
		urls = append(urls, m[1])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read url list %s: %w", path, err)
	}

	sort.Strings(urls)
	return urls, nil
}
