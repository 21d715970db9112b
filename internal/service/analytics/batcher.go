package analytics

import (
	"context"
	"io"
	"log"
	"sync"
	"time"

	"imi-storefront/internal/clock"
	"imi-storefront/internal/domain"
	"imi-storefront/internal/tasks"
)

type batchSender interface {
	TrackBatch(ctx context.Context, events []domain.AnalyticsEvent) error
}

// BatcherOptions tunes flushing. Zero values take the defaults of 5s and 10 events.
type BatcherOptions struct {
	Delay  time.Duration
	Size   int
	Logger *log.Logger
}

// Batcher queues events and sends them in batches: Delay after the last
// enqueue, or at once when Size events are pending. Sends run as detached
// tasks; a failed batch is dropped.
type Batcher struct {
	sender batchSender
	tasks  tasks.Runner
	clock  clock.Clock
	delay  time.Duration
	size   int
	logger *log.Logger

	mu      sync.Mutex
	pending []domain.AnalyticsEvent
	timer   *clock.Timer
	closed  bool
}

func NewBatcher(sender batchSender, runner tasks.Runner, clk clock.Clock, opts BatcherOptions) *Batcher {
	if opts.Delay <= 0 {
		opts.Delay = 5 * time.Second
	}
	if opts.Size <= 0 {
		opts.Size = 10
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Batcher{
		sender: sender,
		tasks:  runner,
		clock:  clk,
		delay:  opts.Delay,
		size:   opts.Size,
		logger: opts.Logger,
	}
}

// Enqueue adds ev and restarts the debounce timer. Events enqueued after
// Close are dropped.
func (b *Batcher) Enqueue(ev domain.AnalyticsEvent) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.logger.Printf("analytics batcher: closed, dropped event=%s", ev.EventType)
		return
	}
	b.pending = append(b.pending, ev)
	var batch []domain.AnalyticsEvent
	if len(b.pending) >= b.size {
		batch = b.takeLocked()
	} else if b.timer == nil {
		b.timer = b.clock.AfterFunc(b.delay, b.Flush)
	} else {
		b.timer.Reset(b.delay)
	}
	b.mu.Unlock()

	b.send(batch)
}

// Flush sends whatever is pending now.
func (b *Batcher) Flush() {
	b.mu.Lock()
	batch := b.takeLocked()
	b.mu.Unlock()
	b.send(batch)
}

func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Close flushes and stops accepting events.
func (b *Batcher) Close() {
	b.mu.Lock()
	b.closed = true
	batch := b.takeLocked()
	b.mu.Unlock()
	b.send(batch)
}

func (b *Batcher) takeLocked() []domain.AnalyticsEvent {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.pending) == 0 {
		return nil
	}
	batch := b.pending
	b.pending = nil
	return batch
}

func (b *Batcher) send(batch []domain.AnalyticsEvent) {
	if len(batch) == 0 {
		return
	}
	if !b.tasks.Go("analytics-batch", func(ctx context.Context) error {
		return b.sender.TrackBatch(ctx, batch)
	}) {
		b.logger.Printf("analytics batcher: batch of %d dropped, task queue unavailable", len(batch))
	}
}
