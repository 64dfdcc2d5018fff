package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/refstack/ocrbridge/internal/config"
)

// Orchestrator owns the job queue and the worker pool that drains it.
type Orchestrator struct {
	jobs   *JobStore
	queue  chan *Job
	worker *Worker
	log    *slog.Logger
	cfg    config.Config

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewOrchestrator(cfg config.Config, worker *Worker, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		jobs:   NewJobStore(cfg.JobTTL),
		queue:  make(chan *Job, cfg.MaxQueueSize),
		worker: worker,
		log:    log,
		cfg:    cfg,
	}
}

// Start launches worker goroutines and the job store cleanup loop.
func (o *Orchestrator) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	for range o.cfg.WorkerCount {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			for {
				select {
				case <-workerCtx.Done():
					return
				case job, ok := <-o.queue:
					if !ok {
						return
					}
					o.worker.ProcessJob(workerCtx, job)
				}
			}
		}()
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				o.jobs.Cleanup()
			}
		}
	}()
}

// Stop gracefully shuts down the pipeline. Later Submit calls are refused
// rather than racing the queue close.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	close(o.queue)
	o.mu.Unlock()

	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
}

// NewJob creates a registered pending job with a fresh ID.
func (o *Orchestrator) NewJob() *Job {
	return NewJob(uuid.NewString())
}

// Submit queues a job for processing.
func (o *Orchestrator) Submit(job *Job) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		job.AddError("general", "server shutting down")
		job.SetStatus(StatusFailed)
		return fmt.Errorf("orchestrator stopped")
	}

	o.jobs.Put(job)
	select {
	case o.queue <- job:
		return nil
	default:
		job.AddError("general", "job queue is full")
		job.SetStatus(StatusFailed)
		return fmt.Errorf("job queue is full (%d)", o.cfg.MaxQueueSize)
	}
}

// GetJob returns a job by ID, or nil.
func (o *Orchestrator) GetJob(id string) *Job {
	return o.jobs.Get(id)
}

// ListJobs returns snapshots of all known jobs.
func (o *Orchestrator) ListJobs() []JobSnapshot {
	return o.jobs.List()
}

// CancelJob aborts a running job. Committed chunk progress is kept on disk
// so a resubmitted job resumes where this one stopped.
func (o *Orchestrator) CancelJob(id string) error {
	job := o.jobs.Get(id)
	if job == nil {
		return fmt.Errorf("job %s not found", id)
	}
	job.Cancel()
	job.AddError("general", "cancelled by request")
	job.SetStatus(StatusFailed)
	o.log.Info("job cancelled", "job_id", id)
	return nil
}

// ContentWorker exposes the worker for read-only content lookups by API
// handlers.
func (o *Orchestrator) ContentWorker() *Worker {
	return o.worker
}

// QueueDepth returns current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}
