package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/phuslu/log"
)

// result is one finished download, reported to the display consumer
type result struct {
	task          Task
	err           error
	unrecoverable bool
}

// Downloader fetches media files into a destination directory with a
// bounded worker set. Retryable failures are re-run in full rounds until
// a round produces none; gone-forever resources are quarantined and
// written to a failure manifest at the end.
type Downloader struct {
	client      *http.Client
	destDir     string
	concurrency int
	userAgent   string
	logger      *log.Logger

	// now is replaced in tests to pin the manifest filename
	now func() time.Time
}

// Config holds the downloader settings
type Config struct {
	DestDir     string
	Concurrency int
	Timeout     time.Duration
	UserAgent   string
}

// New creates a Downloader
func New(cfg Config, logger *log.Logger) *Downloader {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Downloader{
		client:      &http.Client{Timeout: cfg.Timeout},
		destDir:     cfg.DestDir,
		concurrency: cfg.Concurrency,
		userAgent:   cfg.UserAgent,
		logger:      logger,
		now:         time.Now,
	}
}

// Run downloads every task, retrying failed rounds until nothing
// retryable remains. Returns the path of the failure manifest when any
// resource was permanently gone, or empty when all succeeded.
func (d *Downloader) Run(ctx context.Context, tasks []Task) (manifestPath string, err error) {
	if err := os.MkdirAll(d.destDir, 0o755); err != nil {
		return "", fmt.Errorf("create destination dir: %w", err)
	}

	var quarantined []Task
	round := 1
	for len(tasks) > 0 {
		d.logger.Info().Int("round", round).Int("tasks", len(tasks)).Msg("download round")
		retryable, unrecoverable := d.downloadRound(ctx, tasks)
		if err := ctx.Err(); err != nil {
			return "", err
		}
		quarantined = append(quarantined, unrecoverable...)
		tasks = retryable
		round++
	}

	if len(quarantined) == 0 {
		return "", nil
	}
	return d.writeManifest(quarantined)
}

// downloadRound runs one full pass over the tasks. Workers fan out under
// a semaphore; a single consumer goroutine owns all progress output so
// lines never interleave.
func (d *Downloader) downloadRound(ctx context.Context, tasks []Task) (retryable, unrecoverable []Task) {
	results := make(chan result)

	var displayWg sync.WaitGroup
	displayWg.Add(1)
	go func() {
		defer displayWg.Done()
		done := 0
		for r := range results {
			done++
			if r.err == nil {
				d.logger.Info().
					Int("n", done).
					Int("total", len(tasks)).
					Str("url", r.task.URL).
					Msg("done")
				continue
			}
			d.logger.Warn().
				Int("n", done).
				Int("total", len(tasks)).
				Str("url", r.task.URL).
				Err(r.err).
				Msg("failed")
			if r.unrecoverable {
				unrecoverable = append(unrecoverable, r.task)
			} else {
				retryable = append(retryable, r.task)
			}
		}
	}()

	sem := make(chan struct{}, d.concurrency)
	var wg sync.WaitGroup
	for _, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(task Task) {
			defer wg.Done()
			defer func() { <-sem }()
			unrec, err := d.downloadOne(ctx, task)
			results <- result{task: task, err: err, unrecoverable: unrec}
		}(task)
	}
	wg.Wait()
	close(results)
	displayWg.Wait()

	return retryable, unrecoverable
}

// downloadOne fetches a single file. 404 and 410 mean the resource is
// gone for good; anything else that fails is worth another round.
func (d *Downloader) downloadOne(ctx context.Context, task Task) (unrecoverable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.URL, nil)
	if err != nil {
		return true, fmt.Errorf("build request: %w", err)
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return true, fmt.Errorf("resource gone: %s", resp.Status)
	case resp.StatusCode != http.StatusOK:
		return false, fmt.Errorf("unexpected status: %s", resp.Status)
	}

	target := task.TargetPath(d.destDir)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return false, fmt.Errorf("create author dir: %w", err)
	}

	f, err := os.Create(target)
	if err != nil {
		return false, fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(target)
		return false, fmt.Errorf("write file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(target)
		return false, fmt.Errorf("close file: %w", err)
	}
	return false, nil
}

// writeManifest records the permanently failed downloads in a
// timestamped file next to the working directory.
func (d *Downloader) writeManifest(tasks []Task) (string, error) {
	name := d.now().Format("2006-01-02 15:04:05") + " TweetDownloadFailures.txt"

	var sb strings.Builder
	for _, t := range tasks {
		fmt.Fprintf(&sb, "%s ==> %s/%s\n", t.URL, t.Dir, t.Filename)
	}
	if err := os.WriteFile(name, []byte(sb.String()), 0o644); err != nil {
		return "", fmt.Errorf("write failure manifest: %w", err)
	}
	d.logger.Warn().
		Int("count", len(tasks)).
		Str("file", name).
		Msg("some items could not be downloaded")
	return name, nil
}
