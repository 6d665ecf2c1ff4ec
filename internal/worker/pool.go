package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"CapIot.telemetry/internal/logging"
	"CapIot.telemetry/internal/metrics"
)

// Task is one unit of best-effort background work.
type Task func(ctx context.Context) error

// Stats holds pool counters.
type Stats struct {
	Submitted atomic.Int64
	Completed atomic.Int64
	Failed    atomic.Int64
	Dropped   atomic.Int64
}

// Pool runs tasks on a fixed set of workers fed by a bounded queue. Submit
// never blocks: when the queue is full the task is dropped. Task errors and
// panics are logged and counted, never returned to the submitter.
type Pool struct {
	mu     sync.RWMutex
	closed bool
	tasks  chan namedTask

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stats   Stats
	metrics *metrics.Metrics
	log     *slog.Logger
}

type namedTask struct {
	name string
	run  Task
}

// NewPool starts workers goroutines reading from a queue of queueSize.
func NewPool(workers, queueSize int, m *metrics.Metrics) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		tasks:   make(chan namedTask, queueSize),
		ctx:     ctx,
		cancel:  cancel,
		metrics: m,
		log:     logging.Component("worker"),
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.loop()
	}
	return p
}

// Submit queues fn under name and reports whether it was accepted.
func (p *Pool) Submit(name string, fn Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.drop(name, "pool closed")
		return false
	}
	select {
	case p.tasks <- namedTask{name: name, run: fn}:
		p.stats.Submitted.Add(1)
		return true
	default:
		p.drop(name, "queue full")
		return false
	}
}

// Close stops accepting tasks and waits for queued ones to finish. If ctx
// ends first, running tasks see their context cancelled and the remaining
// queue is abandoned.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return fmt.Errorf("worker pool drain: %w", ctx.Err())
	}
}

// Stats returns the pool counters.
func (p *Pool) Stats() *Stats {
	return &p.stats
}

func (p *Pool) loop() {
	defer p.wg.Done()
	for t := range p.tasks {
		if p.ctx.Err() != nil {
			p.drop(t.name, "pool cancelled")
			continue
		}
		p.run(t)
	}
}

func (p *Pool) run(t namedTask) {
	defer func() {
		if r := recover(); r != nil {
			p.stats.Failed.Add(1)
			p.metrics.TaskFailed(t.name)
			p.log.Error("background task panicked", "task", t.name, "panic", r)
		}
	}()

	if err := t.run(p.ctx); err != nil {
		p.stats.Failed.Add(1)
		p.metrics.TaskFailed(t.name)
		p.log.Warn("background task failed", "task", t.name, "error", err)
		return
	}
	p.stats.Completed.Add(1)
}

func (p *Pool) drop(name, why string) {
	p.stats.Dropped.Add(1)
	p.metrics.TaskDropped(name)
	p.log.Warn("background task dropped", "task", name, "reason", why)
}
