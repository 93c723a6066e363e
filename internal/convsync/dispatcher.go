package convsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-sync/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

// Job is a unit of background work. Its context carries the per-job timeout
// and is cancelled when the dispatcher gives up draining.
type Job func(ctx context.Context)

type queued struct {
	name string
	fn   Job
}

// Dispatcher runs jobs on a fixed pool of workers fed by a bounded queue.
// Submit never blocks: when the queue is full the job is dropped.
type Dispatcher struct {
	jobs    chan queued
	timeout time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
	group   errgroup.Group

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts workers goroutines reading from a queue of queueSize.
// Each job runs with the given timeout when it is positive.
func NewDispatcher(workers, queueSize int, timeout time.Duration) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		jobs:    make(chan queued, queueSize),
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := 0; i < workers; i++ {
		d.group.Go(d.work)
	}
	return d
}

// Submit enqueues fn. It returns false when the queue is full or the
// dispatcher is closed.
func (d *Dispatcher) Submit(name string, fn Job) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.jobs <- queued{name: name, fn: fn}:
		telemetry.SetQueueDepth(len(d.jobs))
		return true
	default:
		return false
	}
}

// Close stops accepting jobs and waits for queued ones to finish. If ctx ends
// first, running jobs are cancelled, remaining ones are discarded and ctx's
// error is returned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- d.group.Wait() }()

	select {
	case err := <-done:
		d.cancel()
		return err
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) work() error {
	for j := range d.jobs {
		telemetry.SetQueueDepth(len(d.jobs))
		if d.ctx.Err() != nil {
			log.Warn("Discarding background job", "job", j.name)
			continue
		}
		d.run(j)
	}
	return nil
}

func (d *Dispatcher) run(j queued) {
	ctx := d.ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("Background job panicked", "job", j.name, "err", fmt.Sprint(r))
		}
	}()
	j.fn(ctx)
}
