// Package jobs runs background work from the SQLite job queue.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kalambet/curio/internal/storage"
)

// Job types.
const (
	TypeIngestEnrich = "ingest_enrich"
	TypeFlowRun      = "flow_run"
)

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// Handler processes one job payload. A returned error fails the attempt.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Worker claims jobs of the registered types and runs their handlers, at
// most maxConcurrent at a time.
type Worker struct {
	store    JobStore
	handlers map[string]Handler
	types    []string
	poll     time.Duration
	sem      *semaphore.Weighted
	wg       sync.WaitGroup
	logger   *slog.Logger
}

// NewWorker creates a Worker. If pollInterval is <= 0, it defaults to 500ms;
// maxConcurrent below 1 means 1.
func NewWorker(store JobStore, pollInterval time.Duration, maxConcurrent int) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Worker{
		store:    store,
		handlers: make(map[string]Handler),
		poll:     pollInterval,
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		logger:   slog.Default(),
	}
}

// Handle registers h for jobType. It must be called before Run.
func (w *Worker) Handle(jobType string, h Handler) {
	if _, ok := w.handlers[jobType]; !ok {
		w.types = append(w.types, jobType)
	}
	w.handlers[jobType] = h
}

// Run polls for jobs until ctx is cancelled, then waits for in-flight jobs.
func (w *Worker) Run(ctx context.Context) {
	defer w.wg.Wait()
	for {
		if err := w.sem.Acquire(ctx, 1); err != nil {
			return
		}

		job, err := w.store.ClaimNextJob(w.types)
		if err != nil || job == nil {
			w.sem.Release(1)
			if err != nil {
				w.logger.Error("worker iteration failed", "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.poll):
			}
			continue
		}

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer w.sem.Release(1)
			w.process(ctx, job)
		}()
	}
}

// RunOnce claims and processes a single job synchronously.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(w.types)
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}
	w.process(ctx, job)
	return true, nil
}

func (w *Worker) process(ctx context.Context, job *storage.Job) {
	if err := w.handle(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "type", job.Type, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return
	}
	if err := w.store.CompleteJob(job.ID); err != nil {
		w.logger.Error("failed to complete job", "job_id", job.ID, "error", err)
	}
}

// handle runs the job's handler, turning a panic into an error so one bad
// job cannot stop the worker.
func (w *Worker) handle(ctx context.Context, job *storage.Job) (err error) {
	h, ok := w.handlers[job.Type]
	if !ok {
		return fmt.Errorf("no handler for job type %q", job.Type)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, json.RawMessage(job.PayloadJSON))
}
