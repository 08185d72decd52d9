// Package dispatcher routes reserved jobs to domain handlers and translates
// their outcome back into queue acknowledgements, per spec.md §4.2.
package dispatcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	scheduleerrors "github.com/jakekausler/campaign-scheduler/internal/errors"
	"github.com/jakekausler/campaign-scheduler/internal/job"
	"github.com/jakekausler/campaign-scheduler/internal/logger"
	"github.com/jakekausler/campaign-scheduler/internal/metrics"
)

// Queue is the slice of the queue package the dispatcher depends on.
type Queue interface {
	Reserve(ctx context.Context, workerID string, leaseDuration time.Duration) (*job.Job, error)
	Ack(ctx context.Context, id string, leaseEpoch int64) error
	Fail(ctx context.Context, id string, leaseEpoch int64, cause error, requeue bool) error
}

// Pool runs a configurable number of worker goroutines that reserve jobs
// from Queue and dispatch them through Registry.
type Pool struct {
	registry    *Registry
	queue       Queue
	concurrency int
	leaseFor    time.Duration
	jobTimeout  time.Duration

	wg            sync.WaitGroup
	stopChan      chan struct{}
	activeWorkers atomic.Int64

	emptyBackoff time.Duration
	log          logger.Logger
}

// NewPool creates a worker pool. concurrency defaults to 5 (spec.md §4.2)
// when zero or negative; leaseFor and jobTimeout follow the same default.
func NewPool(registry *Registry, queue Queue, concurrency int, leaseFor, jobTimeout time.Duration) *Pool {
	if concurrency <= 0 {
		concurrency = 5
	}
	if leaseFor <= 0 {
		leaseFor = 5 * time.Minute
	}
	if jobTimeout <= 0 {
		jobTimeout = 5 * time.Minute
	}
	return &Pool{
		registry:     registry,
		queue:        queue,
		concurrency:  concurrency,
		leaseFor:     leaseFor,
		jobTimeout:   jobTimeout,
		stopChan:     make(chan struct{}),
		emptyBackoff: 250 * time.Millisecond,
		log:          logger.Default().WithComponent(logger.ComponentDispatcher),
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start(ctx context.Context) {
	p.log.Info("Starting dispatcher pool", "workers", p.concurrency)
	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i+1)
	}
}

// Stop signals workers to drain and waits up to 30s for them to finish
// in-flight jobs. Unacked jobs return to the queue when their lease expires.
func (p *Pool) Stop() {
	p.log.Info("Stopping dispatcher pool")
	close(p.stopChan)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Info("Dispatcher pool stopped gracefully")
	case <-time.After(30 * time.Second):
		p.log.Warn("Dispatcher pool shutdown timed out", "timeout", "30s")
	}
}

func (p *Pool) workerID(n int) string {
	return "worker-" + time.Now().Format("150405") + "-" + itoa(n)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func (p *Pool) worker(ctx context.Context, n int) {
	defer p.wg.Done()

	id := p.workerID(n)
	p.log.Info("Worker started", "worker_id", id)

	for {
		select {
		case <-p.stopChan:
			p.log.Info("Worker stopping", "worker_id", id)
			return
		case <-ctx.Done():
			p.log.Info("Worker stopping due to context cancellation", "worker_id", id)
			return
		default:
		}

		j, err := p.queue.Reserve(ctx, id, p.leaseFor)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Warn("Reserve failed", "worker_id", id, "error", err)
			time.Sleep(p.emptyBackoff)
			continue
		}
		if j == nil {
			select {
			case <-p.stopChan:
				return
			case <-time.After(p.emptyBackoff):
			}
			continue
		}

		p.runJob(ctx, id, j)
	}
}

// runJob dispatches a single reserved job and resolves it against the
// queue. A handler panic is treated as Retry; the worker goroutine survives.
func (p *Pool) runJob(ctx context.Context, workerID string, j *job.Job) {
	active := p.activeWorkers.Add(1)
	defer func() {
		active = p.activeWorkers.Add(-1)
		metrics.Default().RecordWorkerActivity(active, int64(p.concurrency))
	}()
	metrics.Default().RecordWorkerActivity(active, int64(p.concurrency))

	jobCtx, cancel := context.WithTimeout(ctx, p.jobTimeout)
	defer cancel()

	jobLog := p.log.WithSource(logger.LogSourceJob)
	jobLog.InfoContext(jobCtx, "Processing job", "worker_id", workerID, "job_id", j.ID, "kind", j.Kind, "priority", j.Priority)

	metrics.Default().RecordJobStarted(j)
	start := time.Now()

	outcome := p.dispatch(jobCtx, j)
	duration := time.Since(start)

	switch {
	case outcome.isSuccess():
		metrics.Default().RecordJobCompleted(j, duration)
		if err := p.queue.Ack(ctx, j.ID, j.LeaseEpoch); err != nil {
			jobLog.ErrorContext(jobCtx, "Ack failed", "worker_id", workerID, "job_id", j.ID, "error", err)
		} else {
			jobLog.InfoContext(jobCtx, "Job completed", "worker_id", workerID, "job_id", j.ID, "duration", duration)
		}
	case outcome.isTerminal():
		metrics.Default().RecordJobFailed(j, duration, true)
		if err := p.queue.Fail(ctx, j.ID, j.LeaseEpoch, outcome.err, false); err != nil {
			jobLog.ErrorContext(jobCtx, "Terminal fail failed", "worker_id", workerID, "job_id", j.ID, "error", err)
		} else {
			jobLog.WarnContext(jobCtx, "Job terminally failed", "worker_id", workerID, "job_id", j.ID, "cause", outcome.err)
		}
	default: // Retry
		metrics.Default().RecordJobFailed(j, duration, false)
		if err := p.queue.Fail(ctx, j.ID, j.LeaseEpoch, outcome.err, true); err != nil {
			jobLog.ErrorContext(jobCtx, "Retry fail failed", "worker_id", workerID, "job_id", j.ID, "error", err)
		} else {
			jobLog.WarnContext(jobCtx, "Job will retry", "worker_id", workerID, "job_id", j.ID, "cause", outcome.err)
		}
	}
}

// dispatch runs the handler, converting a panic into a Retry outcome so one
// misbehaving handler can never take down a worker goroutine.
func (p *Pool) dispatch(ctx context.Context, j *job.Job) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			err := scheduleerrors.NewPanicError(r)
			p.log.ErrorContext(ctx, "Handler panicked, treating as retry",
				"job_id", j.ID, "kind", j.Kind, "error", err)
			outcome = Retry(err)
		}
	}()
	return p.registry.Execute(ctx, j)
}
