package pipeline

import (
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/petrel/internal/twitter"
)

// Tally accumulates per-run outcome counts. All counters live behind one
// mutex so a snapshot is always internally consistent.
type Tally struct {
	mu                sync.Mutex
	success           int
	accountSuspended  int
	accountNotExisted int
	deleted           int
	restricted        int
	noMedia           []string
}

// Snapshot is a consistent copy of the tally counters
type Snapshot struct {
	Success           int
	AccountSuspended  int
	AccountNotExisted int
	Deleted           int
	Restricted        int
	NoMedia           []string
}

func (t *Tally) RecordSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.success++
}

// RecordNoMedia notes a successfully stored tweet that carried no media
func (t *Tally) RecordNoMedia(url string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.noMedia = append(t.noMedia, url)
}

func (t *Tally) RecordFail(reason twitter.FailReason) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch reason {
	case twitter.FailRestricted:
		t.restricted++
	case twitter.FailDeleted:
		t.deleted++
	case twitter.FailAccountSuspended:
		t.accountSuspended++
	case twitter.FailAccountNotExisted:
		t.accountNotExisted++
	}
}

func (t *Tally) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		Success:           t.success,
		AccountSuspended:  t.accountSuspended,
		AccountNotExisted: t.accountNotExisted,
		Deleted:           t.deleted,
		Restricted:        t.restricted,
		NoMedia:           append([]string(nil), t.noMedia...),
	}
}

// LogSummary writes the round summary
func (t *Tally) LogSummary(logger arbor.ILogger, remaining int) {
	s := t.Snapshot()
	logger.Info().
		Int("success", s.Success).
		Int("remaining", remaining).
		Int("account_suspended", s.AccountSuspended).
		Int("account_not_existed", s.AccountNotExisted).
		Int("deleted", s.Deleted).
		Int("restricted", s.Restricted).
		Msg("Round summary")
}
