package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrQueueFull is returned by Submit when no slot is free.
	ErrQueueFull = errors.New("ingest: queue is full")
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("ingest: dispatcher is closed")
)

// Dispatcher schedules jobs to run after the upload is acknowledged.
type Dispatcher interface {
	// Submit hands job off without waiting for it to run.
	Submit(ctx context.Context, job Job) error
	// Close stops intake and waits for in-flight jobs or ctx.
	Close(ctx context.Context) error
}

// Local runs jobs on a fixed errgroup of workers fed by a buffered channel.
type Local struct {
	runner *Runner
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	jobs   chan Job
	eg     errgroup.Group
}

// NewLocal starts workers goroutines reading from a queue of queueSize.
func NewLocal(runner *Runner, workers, queueSize int, logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	d := &Local{runner: runner, logger: logger, jobs: make(chan Job, queueSize)}
	d.eg.SetLimit(workers)
	for i := 0; i < workers; i++ {
		d.eg.Go(d.work)
	}
	return d
}

func (d *Local) work() error {
	for job := range d.jobs {
		d.runner.metrics.setQueued(len(d.jobs))
		// Jobs outlive the request that submitted them.
		d.runner.Run(context.Background(), job)
	}
	return nil
}

func (d *Local) Submit(_ context.Context, job Job) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	d.runner.tracker.Queued(job)
	select {
	case d.jobs <- job:
		d.runner.metrics.setQueued(len(d.jobs))
		return nil
	default:
		d.runner.tracker.Forget(job.ID)
		return ErrQueueFull
	}
}

func (d *Local) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- d.eg.Wait() }()
	select {
	case err := <-done:
		d.logger.Info("ingest: local dispatcher drained")
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
