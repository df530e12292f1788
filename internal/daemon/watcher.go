package daemon

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/ppiankov/icsrisk/internal/logging"
)

// quietPeriod is how long a job file must see no create or write events
// before it is handed on. Writers that do not rename into place finish
// within it.
const quietPeriod = 200 * time.Millisecond

// pollDefault is the default polling interval when fsnotify is unavailable.
const pollDefault = 5 * time.Second

// InboxWatcher reports job files in a directory using fsnotify.
type InboxWatcher struct {
	inbox  string
	submit func(path string)
	quiet  time.Duration
	logger *zap.Logger
}

// NewInboxWatcher creates a watcher that passes each settled job file in
// inbox to submit.
func NewInboxWatcher(inbox string, submit func(path string)) *InboxWatcher {
	return &InboxWatcher{
		inbox:  inbox,
		submit: submit,
		quiet:  quietPeriod,
		logger: zap.NewNop(),
	}
}

// SetLogger sets the watcher's logger.
func (w *InboxWatcher) SetLogger(l *zap.Logger) { w.logger = logging.OrNop(l) }

// Run reports files already in the inbox, then new ones as they settle.
// The watch is registered before the scan so nothing that arrives in
// between is missed. Blocks until ctx is cancelled.
func (w *InboxWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(w.inbox); err != nil {
		return err
	}
	if err := ScanExisting(w.inbox, w.submit); err != nil {
		return err
	}

	// pending maps each unsettled path to the time of its last event.
	pending := make(map[string]time.Time)
	timer := time.NewTimer(w.quiet)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case now := <-timer.C:
			next := w.flush(pending, now)
			if next > 0 {
				timer.Reset(next)
			}

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !isJobFile(event.Name) {
				continue
			}
			if len(pending) == 0 {
				timer.Reset(w.quiet)
			}
			pending[event.Name] = time.Now()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("inbox watcher error", zap.Error(err))
		}
	}
}

// flush submits every path quiet since now-w.quiet and returns how long
// until the next pending path settles, or 0 if none remain.
func (w *InboxWatcher) flush(pending map[string]time.Time, now time.Time) time.Duration {
	var next time.Duration
	for path, last := range pending {
		remaining := w.quiet - now.Sub(last)
		if remaining <= 0 {
			delete(pending, path)
			w.submit(path)
			continue
		}
		if next == 0 || remaining < next {
			next = remaining
		}
	}
	return next
}

// PollWatcher reports job files by listing the inbox on an interval. Used
// where fsnotify does not work, such as NFS mounts.
type PollWatcher struct {
	inbox    string
	submit   func(path string)
	interval time.Duration
	seen     map[string]bool
	logger   *zap.Logger
}

// NewPollWatcher creates a polling watcher. A zero interval uses the default.
func NewPollWatcher(inbox string, submit func(path string), interval time.Duration) *PollWatcher {
	if interval == 0 {
		interval = pollDefault
	}
	return &PollWatcher{
		inbox:    inbox,
		submit:   submit,
		interval: interval,
		seen:     make(map[string]bool),
		logger:   zap.NewNop(),
	}
}

// SetLogger sets the watcher's logger.
func (w *PollWatcher) SetLogger(l *zap.Logger) { w.logger = logging.OrNop(l) }

// Run scans immediately and then on every tick. Blocks until ctx is cancelled.
func (w *PollWatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.scan()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.scan()
		}
	}
}

// scan submits job files not reported before. Files that have left the
// inbox are forgotten so a later job reusing the name is picked up.
func (w *PollWatcher) scan() {
	present := make(map[string]bool)
	err := ScanExisting(w.inbox, func(path string) {
		present[path] = true
		if !w.seen[path] {
			w.seen[path] = true
			w.submit(path)
		}
	})
	if err != nil {
		w.logger.Warn("poll inbox", zap.String("inbox", w.inbox), zap.Error(err))
		return
	}
	for path := range w.seen {
		if !present[path] {
			delete(w.seen, path)
		}
	}
}

// ScanExisting passes each job file currently in inbox to fn in name order.
// A missing inbox is not an error.
func ScanExisting(inbox string, fn func(path string)) error {
	entries, err := os.ReadDir(inbox)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(inbox, e.Name())
		if isJobFile(path) {
			fn(path)
		}
	}
	return nil
}

// isJobFile reports whether path names a job: a .json file, not a .tmp
// partial write.
func isJobFile(path string) bool {
	name := filepath.Base(path)
	return strings.HasSuffix(name, ".json") && !strings.HasSuffix(name, ".tmp")
}
