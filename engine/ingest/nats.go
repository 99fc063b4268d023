package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/WessleyAI/docustream/pkg/natsutil"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"
)

// NATSOpts names the subjects used by NATS and bounds its concurrency.
type NATSOpts struct {
	Subject    string
	DLQSubject string
	// StatusSubject carries job status changes to every process, so the one
	// that accepted an upload can report on a job another process ran.
	StatusSubject string
	QueueGroup    string
	// Workers bounds the jobs this process runs at once.
	Workers int
}

// DefaultNATSOpts returns the docustream.ingest subjects and 4 workers.
func DefaultNATSOpts() NATSOpts {
	return NATSOpts{
		Subject:       "docustream.ingest",
		DLQSubject:    "docustream.ingest.dlq",
		StatusSubject: "docustream.ingest.status",
		QueueGroup:    "docustream-workers",
		Workers:       4,
	}
}

// DeadLetter is published for every job that fails.
type DeadLetter struct {
	Job      Job       `json:"job"`
	Error    string    `json:"error"`
	Kind     string    `json:"kind"`
	FailedAt time.Time `json:"failed_at"`
}

// NATS publishes jobs to a subject and consumes them through a queue group,
// so any number of processes sharing the upload directory split the work.
// The running process broadcasts status changes on StatusSubject and every
// process applies them to the jobs its tracker knows. Failed jobs go to the
// dead-letter subject; nothing is retried.
type NATS struct {
	nc     *nats.Conn
	runner *Runner
	opts   NATSOpts
	logger *slog.Logger

	sub       *nats.Subscription
	statusSub *nats.Subscription
	inflight  errgroup.Group
	mu        sync.RWMutex
	closed    bool
}

// NewNATS subscribes the consumer and the status listener and returns the
// dispatcher.
func NewNATS(nc *nats.Conn, runner *Runner, opts NATSOpts, logger *slog.Logger) (*NATS, error) {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultNATSOpts()
	if opts.Subject == "" {
		opts.Subject = def.Subject
	}
	if opts.DLQSubject == "" {
		opts.DLQSubject = def.DLQSubject
	}
	if opts.StatusSubject == "" {
		opts.StatusSubject = def.StatusSubject
	}
	if opts.QueueGroup == "" {
		opts.QueueGroup = def.QueueGroup
	}
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}

	d := &NATS{nc: nc, runner: runner, opts: opts, logger: logger}
	d.inflight.SetLimit(opts.Workers)

	statusSub, err := natsutil.Subscribe[JobStatus](nc, opts.StatusSubject, logger, func(_ context.Context, st JobStatus) {
		runner.tracker.Apply(st)
	})
	if err != nil {
		return nil, fmt.Errorf("ingest: subscribe %s: %w", opts.StatusSubject, err)
	}
	sub, err := natsutil.QueueSubscribe[Job](nc, opts.Subject, opts.QueueGroup, logger, d.handle)
	if err != nil {
		statusSub.Unsubscribe()
		return nil, fmt.Errorf("ingest: subscribe %s: %w", opts.Subject, err)
	}
	d.sub, d.statusSub = sub, statusSub
	return d, nil
}

// handle blocks the subscription while all workers are busy.
func (d *NATS) handle(ctx context.Context, job Job) {
	d.inflight.Go(func() error {
		d.process(ctx, job)
		return nil
	})
}

func (d *NATS) process(ctx context.Context, job Job) {
	started := time.Now().UTC()
	d.publishStatus(ctx, JobStatus{
		ID:          job.ID,
		Filename:    job.Filename,
		State:       StateRunning,
		SubmittedAt: job.SubmittedAt,
		StartedAt:   &started,
	})

	res := d.runner.Run(ctx, job)

	finished := time.Now().UTC()
	st := JobStatus{
		ID:              job.ID,
		Filename:        job.Filename,
		State:           StateSucceeded,
		ChunksProcessed: res.ChunksProcessed,
		Error:           res.Error,
		ErrorKind:       res.ErrorKind,
		SubmittedAt:     job.SubmittedAt,
		StartedAt:       &started,
		FinishedAt:      &finished,
	}
	if res.Status != StatusSuccess {
		st.State = StateFailed
	}
	d.publishStatus(ctx, st)
	if res.Status == StatusSuccess {
		return
	}

	dl := DeadLetter{Job: job, Error: res.Error, Kind: res.ErrorKind.String(), FailedAt: finished}
	if err := natsutil.Publish(ctx, d.nc, d.opts.DLQSubject, dl); err != nil {
		d.logger.Error("ingest: DLQ publish failed", "ingestion_id", job.ID, "err", err)
	}
}

func (d *NATS) publishStatus(ctx context.Context, st JobStatus) {
	if err := natsutil.Publish(ctx, d.nc, d.opts.StatusSubject, st); err != nil {
		d.logger.Warn("ingest: status publish failed", "ingestion_id", st.ID, "state", st.State, "err", err)
	}
}

// Submit publishes job with ctx's trace context in the headers.
func (d *NATS) Submit(ctx context.Context, job Job) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	d.runner.tracker.Queued(job)
	if err := natsutil.Publish(ctx, d.nc, d.opts.Subject, job); err != nil {
		d.runner.tracker.Forget(job.ID)
		return fmt.Errorf("ingest: publish job: %w", err)
	}
	return nil
}

// Close drains the job subscription, waits for running jobs, then stops
// listening for status changes.
func (d *NATS) Close(ctx context.Context) error {
	d.mu.Lock()
	already := d.closed
	d.closed = true
	d.mu.Unlock()
	if already {
		return nil
	}

	if err := d.sub.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		d.logger.Warn("ingest: drain subscription", "err", err)
	}
	done := make(chan error, 1)
	go func() {
		for d.sub.IsValid() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
		}
		done <- d.inflight.Wait()
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if uerr := d.statusSub.Unsubscribe(); uerr != nil && !errors.Is(uerr, nats.ErrConnectionClosed) && !errors.Is(uerr, nats.ErrBadSubscription) {
		d.logger.Warn("ingest: unsubscribe status", "err", uerr)
	}
	return err
}
