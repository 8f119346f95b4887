package fetcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/petrel/internal/twitter"
)

func TestClassifyPayload(t *testing.T) {
	body, err := classifyPayload(`{"data": {"some": "payload"}}`)
	require.NoError(t, err)
	assert.Equal(t, `{"data": {"some": "payload"}}`, body)

	// Non-JSON mentioning a limit is rate limiting in an HTML skin
	_, err = classifyPayload(`<html>Rate limit exceeded, slow down</html>`)
	assert.Equal(t, twitter.KindRateLimited, twitter.KindOf(err))

	// Non-JSON without the marker is just garbage
	_, err = classifyPayload(`<html>Service Unavailable</html>`)
	require.Error(t, err)
	assert.Equal(t, twitter.KindOther, twitter.KindOf(err))
}

func TestClassifyPayload_ErrorsArray(t *testing.T) {
	_, err := classifyPayload(`{"errors": [{"message": "Rate limit exceeded"}]}`)
	assert.Equal(t, twitter.KindRateLimited, twitter.KindOf(err))

	_, err = classifyPayload(`{"errors": [{"message": "OverCapacity"}]}`)
	assert.Equal(t, twitter.KindRateLimited, twitter.KindOf(err))

	// Other errors ride along with the payload; the parser deals with them
	body, err := classifyPayload(`{"errors": [{"message": "_Missing: No status found with that ID."}], "data": {}}`)
	require.NoError(t, err)
	assert.Contains(t, body, "_Missing")
}

func TestClassifyPayload_MalformedJSON(t *testing.T) {
	_, err := classifyPayload(`{"data": truncated`)
	assert.Equal(t, twitter.KindSchemaInvalid, twitter.KindOf(err))
}
