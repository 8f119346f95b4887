package downloader

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ternarybob/petrel/internal/store"
)

// Task is one media file to fetch: the URL, the subdirectory under the
// destination (the author handle), and the target filename.
type Task struct {
	URL      string
	Dir      string
	Filename string
}

// TargetPath returns the task's path under the destination directory
func (t Task) TargetPath(destDir string) string {
	return filepath.Join(destDir, t.Dir, t.Filename)
}

// TaskBuilder derives download tasks from stored media rows. It owns the
// compiled filename pattern; construct one per consumer.
type TaskBuilder struct {
	// captures the last path segment and any trailing query
	extractor *regexp.Regexp
}

func NewTaskBuilder() *TaskBuilder {
	return &TaskBuilder{
		extractor: regexp.MustCompile(`.*/(.*?)(\?.*|$)`),
	}
}

// Filename extracts the target filename from a media URL: the last path
// segment with any query string dropped.
func (b *TaskBuilder) Filename(url string) string {
	m := b.extractor.FindStringSubmatch(url)
	if m == nil {
		return ""
	}
	return m[1]
}

// needsOrigSuffix reports whether the URL should get a ?name=orig query
// to request the full-resolution image. URLs that already carry a real
// query keep it, and video URLs have no orig variant.
func (b *TaskBuilder) needsOrigSuffix(url string) bool {
	m := b.extractor.FindStringSubmatch(url)
	if m == nil {
		return false
	}
	if strings.HasSuffix(m[1], ".mp4") {
		return false
	}
	return len(m[2]) <= 1
}

// Build turns stored media rows into download tasks, upgrading image
// URLs to their original-size variant and dropping anything already on
// disk under destDir.
func (b *TaskBuilder) Build(rows []store.MediaTask, destDir string) []Task {
	tasks := make([]Task, 0, len(rows))
	for _, row := range rows {
		url := row.URL
		if b.needsOrigSuffix(url) {
			url += "?name=orig"
		}
		task := Task{
			URL:      url,
			Dir:      row.Author,
			Filename: b.Filename(url),
		}
		if task.Filename == "" {
			continue
		}
		if _, err := os.Stat(task.TargetPath(destDir)); err == nil {
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks
}
