// Package worker runs jobs on a fixed number of goroutines.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	jobTracer          = otel.Tracer("finsync/worker")
	jobMeter           = otel.Meter("finsync/worker")
	jobDuration, _     = jobMeter.Float64Histogram("worker.job.duration", metric.WithDescription("Job execution duration in seconds"), metric.WithUnit("s"))
	jobTotal, _        = jobMeter.Int64Counter("worker.job.total", metric.WithDescription("Total jobs executed by status"))
	jobQueueDropped, _ = jobMeter.Int64Counter("worker.job.queue_dropped", metric.WithDescription("Jobs dropped due to full queue"))
)

// ErrQueueFull is returned by Submit when the job buffer is full.
var ErrQueueFull = errors.New("job queue full")

// ErrStopped is returned by Submit after Shutdown or cancellation.
var ErrStopped = errors.New("worker pool stopped")

// Options configures a Pool.
type Options struct {
	Workers   int
	QueueSize int
	// JobTimeout bounds each Execute call. Zero means no timeout.
	JobTimeout time.Duration
	// JobDelay is a pause between jobs on the same worker.
	JobDelay time.Duration
	Logger   logrus.FieldLogger
}

// Pool manages a pool of concurrent workers that process jobs.
// Jobs already queued when Shutdown is called still run.
type Pool struct {
	opts   Options
	log    logrus.FieldLogger
	jobs   chan Job
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// NewPool creates a pool whose workers stop when parent is cancelled.
func NewPool(parent context.Context, opts Options) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize < 0 {
		opts.QueueSize = 0
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	ctx, cancel := context.WithCancel(parent)

	return &Pool{
		opts:   opts,
		log:    logger,
		jobs:   make(chan Job, opts.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	p.log.WithField("workers", p.opts.Workers).Debug("starting worker pool")

	for i := 1; i <= p.opts.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return

		case job, ok := <-p.jobs:
			if !ok {
				return
			}

			p.processJob(id, job)

			if p.opts.JobDelay > 0 {
				select {
				case <-time.After(p.opts.JobDelay):
				case <-p.ctx.Done():
					return
				}
			}
		}
	}
}

// processJob executes a single job with error handling, logging, and telemetry.
func (p *Pool) processJob(workerID int, job Job) {
	entry := p.log.WithFields(logrus.Fields{
		"worker_id": workerID,
		"job":       job.Description(),
		"job_key":   job.Key(),
	})

	ctx := p.ctx
	if p.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.JobTimeout)
		defer cancel()
	}

	ctx, span := jobTracer.Start(ctx, "job.execute",
		trace.WithAttributes(
			attribute.Int("worker.id", workerID),
			attribute.String("job.description", job.Description()),
			attribute.String("job.key", job.Key()),
		),
	)
	defer span.End()

	start := time.Now()

	if err := job.Execute(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		jobTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "error")))
		jobDuration.Record(ctx, time.Since(start).Seconds())
		entry.WithError(err).Warn("job failed")
		return
	}

	jobTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "success")))
	jobDuration.Record(ctx, time.Since(start).Seconds())
	entry.WithField("duration", time.Since(start)).Debug("job completed")
}

// Submit adds a job to the queue without blocking.
func (p *Pool) Submit(job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrStopped
	}

	select {
	case <-p.ctx.Done():
		return ErrStopped
	case p.jobs <- job:
		return nil
	default:
		jobQueueDropped.Add(context.Background(), 1)
		p.log.WithField("job_key", job.Key()).Warn("job queue full, dropping job")
		return ErrQueueFull
	}
}

// SubmitBatch adds multiple jobs and returns the ones that were not accepted.
func (p *Pool) SubmitBatch(jobs []Job) []Job {
	var rejected []Job
	for _, job := range jobs {
		if err := p.Submit(job); err != nil {
			rejected = append(rejected, job)
		}
	}
	p.log.WithFields(logrus.Fields{
		"submitted": len(jobs) - len(rejected),
		"total":     len(jobs),
	}).Debug("submitted jobs to worker pool")
	return rejected
}

// Shutdown stops accepting jobs and waits for the queued ones to finish.
func (p *Pool) Shutdown() {
	p.closeQueue()
	p.wg.Wait()
	p.cancel()
}

// ShutdownWithTimeout shuts down the pool, cancelling running jobs if they
// have not finished within timeout.
func (p *Pool) ShutdownWithTimeout(timeout time.Duration) bool {
	p.closeQueue()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return true
	case <-time.After(timeout):
		p.log.WithField("timeout", timeout).Warn("worker pool shutdown timed out, cancelling jobs")
		p.cancel()
		<-done
		return false
	}
}

func (p *Pool) closeQueue() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
}
