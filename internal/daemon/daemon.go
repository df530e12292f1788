package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/icsrisk/internal/assess"
	"github.com/ppiankov/icsrisk/internal/logging"
	"github.com/ppiankov/icsrisk/internal/metrics"
)

// Config holds full daemon configuration.
type Config struct {
	Dirs         DirConfig
	Workers      int
	PollMode     bool
	PollInterval time.Duration
	Logger       *zap.Logger
	Metrics      *metrics.Registry
}

// Daemon watches the inbox directory and processes jobs.
type Daemon struct {
	cfg       Config
	processor *Processor
	logger    *zap.Logger
}

// New creates a daemon with validated configuration.
func New(cfg Config, runner *assess.Runner) (*Daemon, error) {
	if err := cfg.Dirs.Validate(); err != nil {
		return nil, err
	}
	if runner == nil {
		return nil, fmt.Errorf("assessment runner is required")
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = pollDefault
	}
	if cfg.Workers < 1 {
		cfg.Workers = defaultWorkers
	}

	processor := NewProcessor(ProcessorConfig{
		Dirs:    cfg.Dirs,
		Runner:  runner,
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
	})

	return &Daemon{
		cfg:       cfg,
		processor: processor,
		logger:    logging.OrNop(cfg.Logger),
	}, nil
}

// Run starts the daemon and blocks until ctx is cancelled. Jobs interrupted
// by a previous crash get failed results first, then files already in the
// inbox are processed alongside new arrivals.
func (d *Daemon) Run(ctx context.Context) error {
	if err := EnsureDirs(d.cfg.Dirs); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	pidPath := filepath.Join(d.cfg.Dirs.State, "daemon.pid")
	if err := acquirePIDLock(pidPath); err != nil {
		return fmt.Errorf("acquire PID lock: %w", err)
	}
	defer func() { _ = os.Remove(pidPath) }()

	if err := d.recoverOrphans(); err != nil {
		return fmt.Errorf("recover orphans: %w", err)
	}

	// Jobs already running finish on shutdown; queued ones stay in the inbox.
	jobCtx := context.WithoutCancel(ctx)
	q := newJobQueue(ctx, d.cfg.Workers, func(path string) {
		if err := d.processor.Process(jobCtx, path); err != nil {
			d.logger.Error("process job", zap.String("file", filepath.Base(path)), zap.Error(err))
		}
	}, d.logger)
	defer q.wait()

	d.logger.Info("daemon started",
		zap.String("inbox", d.cfg.Dirs.Inbox),
		zap.String("outbox", d.cfg.Dirs.Outbox),
		zap.Int("workers", d.cfg.Workers),
		zap.Bool("poll", d.cfg.PollMode),
	)

	if d.cfg.PollMode {
		pw := NewPollWatcher(d.cfg.Dirs.Inbox, q.submit, d.cfg.PollInterval)
		pw.SetLogger(d.logger)
		return pw.Run(ctx)
	}
	w := NewInboxWatcher(d.cfg.Dirs.Inbox, q.submit)
	w.SetLogger(d.logger)
	return w.Run(ctx)
}

// recoverOrphans writes failed results for files left in state/processing/.
// These are jobs that were interrupted by a crash or restart.
func (d *Daemon) recoverOrphans() error {
	procDir := d.cfg.Dirs.ProcessingDir()
	entries, err := os.ReadDir(procDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, e := range entries {
		if e.IsDir() || !isJobFile(e.Name()) {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		result := &Result{
			ID:          id,
			Status:      ResultFailed,
			Error:       "interrupted: job was processing when daemon stopped",
			CompletedAt: time.Now().UTC(),
		}
		if err := d.processor.writeResult(result); err != nil {
			d.logger.Warn("recover orphan", zap.String("job", id), zap.Error(err))
		}
		_ = os.Remove(filepath.Join(procDir, e.Name()))
	}
	return nil
}

// acquirePIDLock writes the current PID to the file and checks for stale locks.
func acquirePIDLock(path string) error {
	if data, err := os.ReadFile(path); err == nil {
		pid, err := strconv.Atoi(string(data))
		if err == nil {
			if process, err := os.FindProcess(pid); err == nil {
				if err := process.Signal(syscall.Signal(0)); err == nil {
					return fmt.Errorf("another daemon is running (PID %d)", pid)
				}
			}
		}
		// Stale PID file.
		_ = os.Remove(path)
	}

	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0600)
}
