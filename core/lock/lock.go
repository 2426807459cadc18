// Package lock provides the per-track acquisition lock: an atomic
// create-if-absent primitive that guarantees at most one in-flight
// acquisition per external id. Any backend whose create is atomic and whose
// release is safe-if-absent satisfies the contract; Redis SETNX, a MySQL
// unique-key insert and an exclusive-create lock file are provided.
package lock

import (
	"context"
	"time"

	"echofm/logger"
)

// Store is the atomic create-if-absent capability backing a Manager.
type Store interface {
	// TryCreate atomically creates the lock entry for key if absent and
	// reports whether this caller now holds it.
	TryCreate(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Delete removes the lock entry. Must be safe to call when absent.
	Delete(ctx context.Context, key string) error
}

// Sweeper is implemented by stores whose lock entries do not self-expire and
// must be cleaned by the periodic reclaim sweep.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Manager hands out acquisition locks keyed by external track id.
type Manager struct {
	store Store
	ttl   time.Duration
}

// NewManager creates a lock manager. ttl bounds how long a crashed worker can
// wedge an id before the lock becomes reclaimable.
func NewManager(store Store, ttl time.Duration) *Manager {
	return &Manager{store: store, ttl: ttl}
}

// Acquire returns true if the caller now holds the lock for externalID.
// False means another holder exists and the caller must not proceed.
func (m *Manager) Acquire(ctx context.Context, externalID string) (bool, error) {
	return m.store.TryCreate(ctx, externalID, m.ttl)
}

// Release drops the lock. Idempotent; safe to call even if never acquired.
// Errors are logged, not returned: release runs on every orchestrator exit
// path and must never mask the original outcome.
func (m *Manager) Release(ctx context.Context, externalID string) {
	if err := m.store.Delete(ctx, externalID); err != nil {
		logger.Error("Failed to release acquisition lock",
			logger.String("externalId", externalID),
			logger.ErrorField(err))
	}
}

// SweepExpired cleans expired lock entries on backends that need it.
func (m *Manager) SweepExpired(ctx context.Context) int {
	sweeper, ok := m.store.(Sweeper)
	if !ok {
		return 0
	}
	n, err := sweeper.Sweep(ctx)
	if err != nil {
		logger.Error("Lock sweep failed", logger.ErrorField(err))
		return 0
	}
	if n > 0 {
		logger.Info("Swept expired acquisition locks", logger.Int("count", n))
	}
	return n
}
