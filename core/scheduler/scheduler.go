// Package scheduler runs acquisition jobs from a durable queue on a pool of
// workers, with exponential-backoff retries for transient failures and
// cooperative revocation.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"echofm/errs"
	"echofm/logger"

	"github.com/google/uuid"
)

// Job is the queue envelope for one acquisition attempt.
type Job struct {
	ID          string `json:"id"`
	ExternalID  string `json:"externalId"`
	RequestedBy int64  `json:"requestedBy"`
	Attempt     int    `json:"attempt"`
}

// Handler executes one job. Returning an error classified transient by
// errs.Transient re-enqueues the job with backoff until retries run out.
type Handler func(ctx context.Context, job Job) error

// Queue is the durable job transport.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	// EnqueueDelayed makes the job visible again after delay.
	EnqueueDelayed(ctx context.Context, job Job, delay time.Duration) error
	// Dequeue blocks briefly and returns the next job, or nil when none is
	// ready before the internal poll timeout.
	Dequeue(ctx context.Context) (*Job, error)
}

// JobState is the lifecycle of a job as seen by status queries.
type JobState string

const (
	StateQueued    JobState = "queued"
	StateRunning   JobState = "running"
	StateRetrying  JobState = "retrying"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateRevoked   JobState = "revoked"
)

// StatusStore records job lifecycle state and revoke flags.
type StatusStore interface {
	SetState(ctx context.Context, jobID string, state JobState, message string) error
	GetState(ctx context.Context, jobID string) (JobState, string, error)
	Revoke(ctx context.Context, jobID string) error
	Revoked(ctx context.Context, jobID string) bool
}

// Scheduler couples the queue, the status store and the worker pool. It is
// constructed explicitly and injected where needed; there is no ambient
// singleton.
type Scheduler struct {
	queue      Queue
	status     StatusStore
	handler    Handler
	workers    int
	maxRetries int
	baseWait   time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler. baseWait seeds the backoff schedule: attempt n
// waits baseWait * 2^(n-1).
func New(queue Queue, status StatusStore, workers, maxRetries int, baseWait time.Duration) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{
		queue:      queue,
		status:     status,
		workers:    workers,
		maxRetries: maxRetries,
		baseWait:   baseWait,
	}
}

// SetHandler wires the job handler. Must be called before Start.
func (s *Scheduler) SetHandler(h Handler) {
	s.handler = h
}

// Submit enqueues a fresh job and returns its id.
func (s *Scheduler) Submit(ctx context.Context, externalID string, requestedBy int64) (string, error) {
	job := Job{
		ID:          uuid.NewString(),
		ExternalID:  externalID,
		RequestedBy: requestedBy,
		Attempt:     1,
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return "", err
	}
	if err := s.status.SetState(ctx, job.ID, StateQueued, ""); err != nil {
		logger.Warn("Failed to record job state", logger.String("jobId", job.ID), logger.ErrorField(err))
	}
	logger.Info("Acquisition job queued",
		logger.String("jobId", job.ID),
		logger.String("externalId", externalID),
		logger.Int64("requestedBy", requestedBy))
	return job.ID, nil
}

// Revoke flags a job for cooperative cancellation. The orchestrator checks
// the flag between steps; in-flight blocking I/O is not interrupted.
func (s *Scheduler) Revoke(ctx context.Context, jobID string) error {
	return s.status.Revoke(ctx, jobID)
}

// Revoked reports whether a revoke flag is set for jobID.
func (s *Scheduler) Revoked(ctx context.Context, jobID string) bool {
	return s.status.Revoked(ctx, jobID)
}

// JobStatus returns the recorded lifecycle state for a job.
func (s *Scheduler) JobStatus(ctx context.Context, jobID string) (JobState, string, error) {
	return s.status.GetState(ctx, jobID)
}

// Start launches the worker pool.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.workerLoop(ctx)
		}()
	}
	logger.Info("Scheduler started", logger.Int("workers", s.workers))
}

// Stop signals the workers and waits for in-flight jobs to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	logger.Info("Scheduler stopped")
}

func (s *Scheduler) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := s.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("Failed to dequeue job", logger.ErrorField(err))
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}
		s.runJob(ctx, *job)
	}
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	if s.status.Revoked(ctx, job.ID) {
		s.setState(ctx, job.ID, StateRevoked, "revoked before start")
		return
	}
	s.setState(ctx, job.ID, StateRunning, "")

	err := s.handler(ctx, job)
	switch {
	case err == nil:
		s.setState(ctx, job.ID, StateCompleted, "")
	case errors.Is(err, errs.ErrAcquisitionConflict):
		// Normal dedup signal, not a failure: another worker owned the id.
		s.setState(ctx, job.ID, StateCompleted, "acquisition handled by another worker")
	case errors.Is(err, errs.ErrRevoked):
		s.setState(ctx, job.ID, StateRevoked, err.Error())
	case errs.Transient(err) && job.Attempt <= s.maxRetries:
		delay := s.backoff(job.Attempt)
		job.Attempt++
		if qerr := s.queue.EnqueueDelayed(ctx, job, delay); qerr != nil {
			logger.Error("Failed to re-enqueue job for retry",
				logger.String("jobId", job.ID), logger.ErrorField(qerr))
			s.setState(ctx, job.ID, StateFailed, err.Error())
			return
		}
		s.setState(ctx, job.ID, StateRetrying, err.Error())
		logger.Warn("Transient job failure, retry scheduled",
			logger.String("jobId", job.ID),
			logger.String("externalId", job.ExternalID),
			logger.Int("attempt", job.Attempt),
			logger.Duration("delay", delay),
			logger.ErrorField(err))
	default:
		s.setState(ctx, job.ID, StateFailed, err.Error())
		logger.Error("Acquisition job failed",
			logger.String("jobId", job.ID),
			logger.String("externalId", job.ExternalID),
			logger.Int("attempt", job.Attempt),
			logger.ErrorField(err))
	}
}

// backoff returns the wait before re-running a job that has made `attempt`
// tries: baseWait, 2*baseWait, 4*baseWait, ...
func (s *Scheduler) backoff(attempt int) time.Duration {
	d := s.baseWait
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

func (s *Scheduler) setState(ctx context.Context, jobID string, state JobState, msg string) {
	if err := s.status.SetState(ctx, jobID, state, msg); err != nil {
		logger.Warn("Failed to record job state",
			logger.String("jobId", jobID), logger.ErrorField(err))
	}
}
