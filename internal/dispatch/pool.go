// Package dispatch runs synchronous and CPU-bound calls on worker pools so
// they never block the caller's goroutine scheduling.
package dispatch

import (
	"context"
	"io"
	"log/slog"
	"runtime"
	"sync"

	"github.com/watchtowerhq/watchtower-go/internal/errors"
	"github.com/watchtowerhq/watchtower-go/internal/logging"
)

// Package-level logger for dispatch operations
var (
	poolLogger   *slog.Logger
	poolLevelVar = new(slog.LevelVar)
)

func init() {
	var err error
	poolLevelVar.Set(slog.LevelInfo)
	poolLogger, _, err = logging.NewFileLogger("logs/dispatch.log", "dispatch", poolLevelVar)
	if err != nil || poolLogger == nil {
		fbHandler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: poolLevelVar})
		poolLogger = slog.New(fbHandler).With("service", "dispatch")
	}
}

// Pool is a fixed-size worker pool. A Pool with one worker serializes every
// call through it, which is how components unsafe for concurrent invocation
// are protected without explicit locks.
type Pool struct {
	name      string
	tasks     chan func()
	quit      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewPool creates a pool with the given number of workers. A non-positive
// worker count falls back to the number of CPUs.
func NewPool(name string, workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	p := &Pool{
		name:  name,
		tasks: make(chan func(), workers*2),
		quit:  make(chan struct{}),
	}

	p.wg.Add(workers)
	for range workers {
		go p.worker()
	}

	poolLogger.Info("Worker pool started", "pool", name, "workers", workers)
	return p
}

// Name returns the pool name used in logs and errors.
func (p *Pool) Name() string { return p.name }

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case fn := <-p.tasks:
			fn()
		case <-p.quit:
			// Drain remaining queued tasks before exiting, outstanding work
			// is allowed to finish rather than being dropped.
			for {
				select {
				case fn := <-p.tasks:
					fn()
				default:
					return
				}
			}
		}
	}
}

// submit enqueues fn for execution. It fails when the pool is closed or the
// context is cancelled before the task could be accepted.
func (p *Pool) submit(ctx context.Context, fn func()) error {
	select {
	case <-p.quit:
		return errors.Newf("pool %q is closed", p.name).
			Component("dispatch").
			Category(errors.CategoryWorker).
			Build()
	default:
	}

	select {
	case p.tasks <- fn:
		return nil
	case <-p.quit:
		return errors.Newf("pool %q is closed", p.name).
			Component("dispatch").
			Category(errors.CategoryWorker).
			Build()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting new tasks and waits for queued and in-flight tasks to
// finish. Safe to call more than once.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.quit)
		p.wg.Wait()
		poolLogger.Info("Worker pool drained", "pool", p.name)
	})
}

// Run executes fn on one of p's workers and returns its result or error
// unchanged. The dispatcher never retries. If ctx is cancelled while waiting,
// Run returns ctx.Err() immediately; the worker still completes the call and
// the pool drains it on shutdown.
func Run[T any](ctx context.Context, p *Pool, fn func() (T, error)) (T, error) {
	type outcome struct {
		value T
		err   error
	}

	var zero T
	ch := make(chan outcome, 1)

	if err := p.submit(ctx, func() {
		v, err := fn()
		ch <- outcome{value: v, err: err}
	}); err != nil {
		return zero, err
	}

	select {
	case out := <-ch:
		return out.value, out.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
