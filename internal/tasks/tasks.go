package tasks

import (
	"context"
	"io"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Runner accepts fire-and-forget work. Go reports false when the work was
// rejected; the caller decides whether to fall back or drop it.
type Runner interface {
	Go(name string, fn func(ctx context.Context) error) bool
}

// TimedRunner is a Runner that can give one task its own deadline.
type TimedRunner interface {
	Runner
	GoTimeout(name string, timeout time.Duration, fn func(ctx context.Context) error) bool
}

// GoTimeout runs fn on r with timeout when r supports per-task deadlines,
// and with r's default otherwise. A non-positive timeout means the default.
func GoTimeout(r Runner, name string, timeout time.Duration, fn func(ctx context.Context) error) bool {
	if tr, ok := r.(TimedRunner); ok && timeout > 0 {
		return tr.GoTimeout(name, timeout, fn)
	}
	return r.Go(name, fn)
}

// Queue runs detached tasks in their own failure domain: each task gets its
// own timeout, errors are logged and discarded, and a saturated queue rejects
// work instead of blocking the caller.
type Queue struct {
	mu      sync.Mutex
	closed  bool
	group   errgroup.Group
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
	logger  *log.Logger
}

// NewQueue builds a Queue running at most limit tasks at once.
func NewQueue(logger *log.Logger, limit int, timeout time.Duration) *Queue {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if limit <= 0 {
		limit = 64
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{ctx: ctx, cancel: cancel, timeout: timeout, logger: logger}
	q.group.SetLimit(limit)
	return q
}

func (q *Queue) Go(name string, fn func(ctx context.Context) error) bool {
	return q.GoTimeout(name, q.timeout, fn)
}

// GoTimeout is Go with a deadline of timeout instead of the queue default.
func (q *Queue) GoTimeout(name string, timeout time.Duration, fn func(ctx context.Context) error) bool {
	if timeout <= 0 {
		timeout = q.timeout
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	ok := q.group.TryGo(func() error {
		ctx, cancel := context.WithTimeout(q.ctx, timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			q.logger.Printf("tasks: %s dropped error=%v", name, err)
		}
		return nil
	})
	if !ok {
		q.logger.Printf("tasks: %s rejected, queue saturated", name)
	}
	return ok
}

// Close stops accepting work and waits for running tasks until ctx is done,
// at which point the remaining tasks are cancelled.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = q.group.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}

// Inline runs tasks synchronously in the caller. Tests use it to observe
// detached work deterministically.
type Inline struct {
	Ctx context.Context
}

func (r Inline) Go(_ string, fn func(ctx context.Context) error) bool {
	ctx := r.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	_ = fn(ctx)
	return true
}

// Reject refuses every task.
type Reject struct{}

func (Reject) Go(string, func(context.Context) error) bool { return false }
