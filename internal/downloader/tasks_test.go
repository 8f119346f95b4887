package downloader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/petrel/internal/store"
)

func TestTaskBuilder_Filename(t *testing.T) {
	b := NewTaskBuilder()

	assert.Equal(t, "FR0utoaa.jpg", b.Filename("https://pbs.twimg.com/media/FR0utoaa.jpg"))
	assert.Equal(t, "FR0utoaa.jpg", b.Filename("https://pbs.twimg.com/media/FR0utoaa.jpg?name=orig"))
	assert.Equal(t, "clip.mp4", b.Filename("https://video.twimg.com/ext_tw_video/123/pu/vid/720x900/clip.mp4?tag=12"))
	assert.Equal(t, "", b.Filename("no-slash-here"))
}

func TestTaskBuilder_NeedsOrigSuffix(t *testing.T) {
	b := NewTaskBuilder()

	// Bare image URL gets upgraded
	assert.True(t, b.needsOrigSuffix("https://pbs.twimg.com/media/abc.jpg"))
	// A lone question mark counts as bare
	assert.True(t, b.needsOrigSuffix("https://pbs.twimg.com/media/abc.jpg?"))
	// A real query is left alone
	assert.False(t, b.needsOrigSuffix("https://pbs.twimg.com/media/abc.jpg?name=small"))
	// Videos have no orig variant
	assert.False(t, b.needsOrigSuffix("https://video.twimg.com/vid/clip.mp4"))
}

func TestTaskBuilder_Build(t *testing.T) {
	destDir := t.TempDir()

	// One file already on disk is skipped
	require.NoError(t, os.MkdirAll(filepath.Join(destDir, "bob"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(destDir, "bob", "have.jpg"), []byte("x"), 0o644))

	rows := []store.MediaTask{
		{Author: "alice", URL: "https://pbs.twimg.com/media/abc.jpg"},
		{Author: "alice", URL: "https://video.twimg.com/vid/clip.mp4?tag=12"},
		{Author: "bob", URL: "https://pbs.twimg.com/media/have.jpg"},
	}

	tasks := NewTaskBuilder().Build(rows, destDir)
	assert.Equal(t, []Task{
		{URL: "https://pbs.twimg.com/media/abc.jpg?name=orig", Dir: "alice", Filename: "abc.jpg"},
		{URL: "https://video.twimg.com/vid/clip.mp4?tag=12", Dir: "alice", Filename: "clip.mp4"},
	}, tasks)
}
