package daemon

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/icsrisk/internal/logging"
)

// defaultWorkers bounds concurrent jobs when none is configured.
const defaultWorkers = 4

// jobQueue runs a handler over job paths with at most workers in flight.
// A path already queued or running is not scheduled twice, so the startup
// scan, fsnotify and polling may all report the same file.
type jobQueue struct {
	ctx     context.Context
	g       errgroup.Group
	handler func(path string)
	logger  *zap.Logger

	mu     sync.Mutex
	active map[string]bool
}

func newJobQueue(ctx context.Context, workers int, handler func(path string), logger *zap.Logger) *jobQueue {
	if workers < 1 {
		workers = defaultWorkers
	}
	q := &jobQueue{
		ctx:     ctx,
		handler: handler,
		logger:  logging.OrNop(logger),
		active:  make(map[string]bool),
	}
	q.g.SetLimit(workers)
	return q
}

// submit schedules path, blocking while every worker is busy. Once ctx is
// done new paths are left in the inbox for the next start.
func (q *jobQueue) submit(path string) {
	if q.ctx.Err() != nil {
		return
	}
	q.mu.Lock()
	if q.active[path] {
		q.mu.Unlock()
		return
	}
	q.active[path] = true
	q.mu.Unlock()

	q.g.Go(func() error {
		defer q.release(path)
		q.run(path)
		return nil
	})
}

// run calls the handler, keeping the worker slot usable if it panics.
func (q *jobQueue) run(path string) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("job handler panicked", zap.String("path", path), zap.Any("panic", r))
		}
	}()
	q.handler(path)
}

func (q *jobQueue) release(path string) {
	q.mu.Lock()
	delete(q.active, path)
	q.mu.Unlock()
}

// wait blocks until every scheduled job has returned.
func (q *jobQueue) wait() { _ = q.g.Wait() }
