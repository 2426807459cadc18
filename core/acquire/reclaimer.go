package acquire

import (
	"context"
	"time"

	"echofm/core/lock"
	"echofm/logger"
	"echofm/model"
	"echofm/repository"
)

// Reclaimer is the recovery mechanism for worker crashes: entries wedged in
// `downloading` past the staleness threshold are walked back to `pending`
// (via failed, so every observed transition stays legal) and become eligible
// for a fresh acquisition. Lock backends without self-expiry are swept here
// as well.
type Reclaimer struct {
	catalog   repository.CatalogRepository
	locks     *lock.Manager
	interval  time.Duration
	threshold time.Duration
	now       func() time.Time
}

// NewReclaimer creates a reclaimer sweeping every interval for entries stale
// past threshold.
func NewReclaimer(catalog repository.CatalogRepository, locks *lock.Manager, interval, threshold time.Duration) *Reclaimer {
	return &Reclaimer{
		catalog:   catalog,
		locks:     locks,
		interval:  interval,
		threshold: threshold,
		now:       time.Now,
	}
}

// Run sweeps periodically until ctx is done.
func (r *Reclaimer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	logger.Info("Reclaimer started",
		logger.Duration("interval", r.interval),
		logger.Duration("threshold", r.threshold))

	for {
		select {
		case <-ctx.Done():
			logger.Info("Reclaimer stopped")
			return
		case <-ticker.C:
			if _, err := r.SweepOnce(ctx); err != nil {
				logger.Error("Reclaim sweep failed", logger.ErrorField(err))
			}
		}
	}
}

// SweepOnce resets every stale downloading entry and returns how many were
// reclaimed.
func (r *Reclaimer) SweepOnce(ctx context.Context) (int, error) {
	cutoff := r.now().UTC().Add(-r.threshold)
	stale, err := r.catalog.StaleDownloading(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, entry := range stale {
		if _, err := r.catalog.SetStatus(ctx, entry.ExternalID, model.StatusFailed, "reclaimed: worker lost"); err != nil {
			logger.Error("Failed to reclaim stale entry",
				logger.String("externalId", entry.ExternalID),
				logger.ErrorField(err))
			continue
		}
		if _, err := r.catalog.SetStatus(ctx, entry.ExternalID, model.StatusPending, ""); err != nil {
			logger.Error("Failed to reset reclaimed entry",
				logger.String("externalId", entry.ExternalID),
				logger.ErrorField(err))
			continue
		}
		reclaimed++
		logger.Warn("Reclaimed stuck download",
			logger.String("externalId", entry.ExternalID),
			logger.Time("lastUpdated", entry.UpdatedAt))
	}

	if r.locks != nil {
		r.locks.SweepExpired(ctx)
	}
	return reclaimed, nil
}
