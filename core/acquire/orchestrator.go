package acquire

import (
	"context"
	"time"

	"echofm/core/lock"
	"echofm/core/scheduler"
	"echofm/errs"
	"echofm/logger"
	"echofm/model"
	"echofm/provider"
	"echofm/repository"
	"echofm/storage"
)

// Orchestrator drives a single acquisition job through the download state
// machine. Jobs for different ids run freely in parallel; jobs for the same
// id are serialized by the acquisition lock, and the loser degrades to the
// bounded wait-poll.
type Orchestrator struct {
	catalog  repository.CatalogRepository
	library  repository.LibraryRepository
	locks    *lock.Manager
	metadata provider.MetadataProvider
	media    provider.MediaSource
	store    storage.TrackStore

	// revoked reports the cooperative cancel flag for a job. Checked between
	// steps; never interrupts in-flight blocking I/O.
	revoked func(ctx context.Context, jobID string) bool

	callTimeout  time.Duration
	pollAttempts int
	pollInterval time.Duration
}

// NewOrchestrator wires the orchestrator's collaborators.
func NewOrchestrator(
	catalog repository.CatalogRepository,
	library repository.LibraryRepository,
	locks *lock.Manager,
	metadata provider.MetadataProvider,
	media provider.MediaSource,
	store storage.TrackStore,
) *Orchestrator {
	return &Orchestrator{
		catalog:      catalog,
		library:      library,
		locks:        locks,
		metadata:     metadata,
		media:        media,
		store:        store,
		callTimeout:  30 * time.Second,
		pollAttempts: 30,
		pollInterval: time.Second,
	}
}

// SetRevokedCheck wires the scheduler's revoke flag lookup.
func (o *Orchestrator) SetRevokedCheck(f func(ctx context.Context, jobID string) bool) {
	o.revoked = f
}

// Process runs one acquisition job end to end. The returned error's
// classification (errs.Transient) drives the scheduler's retry policy.
func (o *Orchestrator) Process(ctx context.Context, job scheduler.Job) error {
	id := job.ExternalID

	// Re-check the catalog first: two jobs can enqueue for the same id
	// before the first writes `downloading`, and the second must degrade to
	// a membership registration, not a second download.
	entry, err := o.catalog.Get(ctx, id)
	if err != nil {
		return err
	}
	if entry != nil && entry.Status == model.StatusCompleted {
		return o.register(ctx, job, true)
	}

	held, err := o.locks.Acquire(ctx, id)
	if err != nil {
		return err
	}
	if !held {
		return o.waitForCompletion(ctx, job)
	}
	// Release must run on every exit path below, including panics and
	// context cancellation, so the next attempt is never wedged.
	defer o.locks.Release(context.WithoutCancel(ctx), id)

	// Re-read under the lock: the winner may have completed and released
	// between the check above and our acquire.
	entry, err = o.catalog.Get(ctx, id)
	if err != nil {
		return err
	}
	if entry != nil && entry.Status == model.StatusCompleted {
		return o.register(ctx, job, true)
	}

	if entry == nil {
		if err := o.catalog.Create(ctx, &model.CatalogEntry{
			ExternalID:  id,
			Status:      model.StatusPending,
			RequestedBy: job.RequestedBy,
		}); err != nil {
			return err
		}
	} else if entry.Status == model.StatusFailed {
		// Scheduler retry of a transiently failed attempt; the reset back to
		// pending keeps every observed transition legal.
		if _, err := o.catalog.SetStatus(ctx, id, model.StatusPending, ""); err != nil {
			return err
		}
	}

	if _, err := o.catalog.SetStatus(ctx, id, model.StatusDownloading, ""); err != nil {
		return err
	}

	if o.checkRevoked(ctx, job) {
		return errs.Wrap(errs.ErrRevoked, "job %s", job.ID)
	}

	mctx, cancel := context.WithTimeout(ctx, o.callTimeout)
	ref, err := o.metadata.GetTrack(mctx, id)
	cancel()
	if err != nil {
		return o.fail(ctx, id, err)
	}
	if err := o.catalog.SetMetadata(ctx, id, ref); err != nil {
		return err
	}

	if o.checkRevoked(ctx, job) {
		return errs.Wrap(errs.ErrRevoked, "job %s", job.ID)
	}

	rctx, cancel := context.WithTimeout(ctx, o.callTimeout)
	origin, err := o.media.Resolve(rctx, ref.Title, ref.Artist)
	cancel()
	if err != nil {
		return o.fail(ctx, id, err)
	}

	if o.checkRevoked(ctx, job) {
		return errs.Wrap(errs.ErrRevoked, "job %s", job.ID)
	}

	body, err := o.media.Fetch(ctx, origin)
	if err != nil {
		return o.fail(ctx, id, err)
	}
	location, size, err := o.store.Save(ctx, id, body)
	body.Close()
	if err != nil {
		return o.fail(ctx, id, err)
	}

	if _, err := o.catalog.MarkCompleted(ctx, id, location, size, origin); err != nil {
		return err
	}
	logger.Info("Acquisition completed",
		logger.String("externalId", id),
		logger.String("jobId", job.ID),
		logger.String("location", location),
		logger.Int64("bytes", size))

	// MarkCompleted already counted the first download, so the requester's
	// membership row is registered without another counter bump.
	return o.register(ctx, job, false)
}

// register ensures the requesting user's membership row. bumpOnAdd bumps the
// shared counter when this registration shares an existing completed copy.
func (o *Orchestrator) register(ctx context.Context, job scheduler.Job, bumpOnAdd bool) error {
	added, err := o.library.Ensure(ctx, job.RequestedBy, job.ExternalID)
	if err != nil {
		return err
	}
	if added && bumpOnAdd {
		if _, err := o.catalog.IncrementDownloadCount(ctx, job.ExternalID); err != nil {
			return err
		}
	}
	return nil
}

// waitForCompletion is the losing side of a lock race: poll the catalog for
// terminal completion for a bounded window, register membership if the winner
// finishes in time, else report the conflict.
func (o *Orchestrator) waitForCompletion(ctx context.Context, job scheduler.Job) error {
	logger.Info("Acquisition already in flight, polling for completion",
		logger.String("externalId", job.ExternalID),
		logger.String("jobId", job.ID))

	for i := 0; i < o.pollAttempts; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(o.pollInterval):
		}

		entry, err := o.catalog.Get(ctx, job.ExternalID)
		if err != nil {
			return err
		}
		if entry != nil && entry.Status == model.StatusCompleted {
			return o.register(ctx, job, true)
		}
	}
	return errs.Wrap(errs.ErrAcquisitionConflict, "track %s", job.ExternalID)
}

// fail parks the entry in failed with the original error preserved for the
// next status query, then propagates the error for retry classification.
func (o *Orchestrator) fail(ctx context.Context, externalID string, cause error) error {
	if _, err := o.catalog.SetStatus(ctx, externalID, model.StatusFailed, cause.Error()); err != nil {
		logger.Error("Failed to record acquisition failure",
			logger.String("externalId", externalID),
			logger.ErrorField(err))
	}
	return cause
}

// checkRevoked applies a cooperative revoke signal between steps.
func (o *Orchestrator) checkRevoked(ctx context.Context, job scheduler.Job) bool {
	if o.revoked == nil || !o.revoked(ctx, job.ID) {
		return false
	}
	logger.Warn("Acquisition job revoked",
		logger.String("externalId", job.ExternalID),
		logger.String("jobId", job.ID))
	o.fail(ctx, job.ExternalID, errs.Wrap(errs.ErrRevoked, "job %s", job.ID))
	return true
}
