package platform

import (
	"context"
	"sync"
	"time"

	"github.com/S-Corkum/caching-platform/pkg/observability"
)

// errorBackoff is how long a loop sleeps after its body returns an error
// before the next tick is attempted.
const errorBackoff = 10 * time.Second

// TaskFunc is one iteration of a periodic loop. Returning an error does not
// stop the loop; the runner logs it, counts it, and backs off.
type TaskFunc func(ctx context.Context) error

// TaskRunner owns a set of named periodic loops. Loops are started
// explicitly and all share a parent context; Stop cancels them and waits
// for every goroutine to drain.
type TaskRunner struct {
	logger observability.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	errs    map[string]int64
	wg      sync.WaitGroup
}

// NewTaskRunner creates a TaskRunner
func NewTaskRunner(logger observability.Logger) *TaskRunner {
	return &TaskRunner{
		logger:  logger,
		cancels: make(map[string]context.CancelFunc),
		errs:    make(map[string]int64),
	}
}

// Start registers and launches a named loop with the given interval. The
// first iteration runs after one interval, not immediately. Starting a name
// that is already running is a conflict.
func (r *TaskRunner) Start(ctx context.Context, name string, interval time.Duration, fn TaskFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.cancels[name]; exists {
		return Newf(CodeConflict, "task %q already running", name)
	}

	taskCtx, cancel := context.WithCancel(ctx)
	r.cancels[name] = cancel

	r.wg.Add(1)
	go r.run(taskCtx, name, interval, fn)
	return nil
}

// StopTask cancels a single named loop
func (r *TaskRunner) StopTask(name string) {
	r.mu.Lock()
	cancel, exists := r.cancels[name]
	if exists {
		delete(r.cancels, name)
	}
	r.mu.Unlock()
	if exists {
		cancel()
	}
}

// Stop cancels every loop and blocks until all goroutines have returned
func (r *TaskRunner) Stop() {
	r.mu.Lock()
	for name, cancel := range r.cancels {
		cancel()
		delete(r.cancels, name)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// ErrorCount returns the number of failed iterations for a named loop
func (r *TaskRunner) ErrorCount(name string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errs[name]
}

// Running lists the names of currently running loops
func (r *TaskRunner) Running() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.cancels))
	for name := range r.cancels {
		names = append(names, name)
	}
	return names
}

func (r *TaskRunner) run(ctx context.Context, name string, interval time.Duration, fn TaskFunc) {
	defer r.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				r.mu.Lock()
				r.errs[name]++
				r.mu.Unlock()
				r.logger.Error("background task failed", map[string]interface{}{
					"task":  name,
					"error": err.Error(),
				})
				// Back off so a hard-failing dependency is not hammered
				// on every tick.
				select {
				case <-ctx.Done():
					return
				case <-time.After(errorBackoff):
				}
			}
		}
	}
}
