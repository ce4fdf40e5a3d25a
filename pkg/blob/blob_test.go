package blob

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectKeyShape(t *testing.T) {
	key := ObjectKey("tool-dumps", "sess-1")

	pattern := regexp.MustCompile(`^tool-dumps/sess-1/[0-9a-f-]{36}\.json$`)
	assert.True(t, pattern.MatchString(key), "unexpected key: %s", key)

	// Keys must be unique per call.
	assert.NotEqual(t, key, ObjectKey("tool-dumps", "sess-1"))
}

func TestMemoryUploaderRoundTrip(t *testing.T) {
	u := NewMemoryUploader()

	url, err := u.Upload(context.Background(), []byte(`{"a":1}`), "tool-dumps/s/x.json")
	require.NoError(t, err)
	assert.Equal(t, "memory://tool-dumps/s/x.json", url)

	data, exists := u.Get("tool-dumps/s/x.json")
	require.True(t, exists)
	assert.JSONEq(t, `{"a":1}`, string(data))
	assert.Equal(t, 1, u.Count())
}
