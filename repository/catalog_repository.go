package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"echofm/logger"
	"echofm/model"

	"github.com/redis/go-redis/v9"
)

// CatalogRepository is the global track catalog: one document per external id,
// the single source of truth for acquisition state. Status writes enforce the
// download state machine; an illegal transition is a logged no-op so a late
// writer can never clobber a terminal state.
type CatalogRepository interface {
	Get(ctx context.Context, externalID string) (*model.CatalogEntry, error)
	Create(ctx context.Context, entry *model.CatalogEntry) error
	SetStatus(ctx context.Context, externalID string, to model.DownloadStatus, reason string) (*model.CatalogEntry, error)
	SetMetadata(ctx context.Context, externalID string, ref *model.TrackReference) error
	MarkCompleted(ctx context.Context, externalID, location string, size int64, originURL string) (*model.CatalogEntry, error)
	IncrementDownloadCount(ctx context.Context, externalID string) (int64, error)
	TouchLastServed(ctx context.Context, externalID string) error
	StaleDownloading(ctx context.Context, olderThan time.Time) ([]*model.CatalogEntry, error)
	Popular(ctx context.Context, limit int) ([]*model.CatalogEntry, error)
}

// redisCatalogRepository stores one JSON document per track plus one index
// set per status so the reclaimer can scan in-flight entries cheaply.
type redisCatalogRepository struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisCatalogRepository creates a catalog repository on the given client.
func NewRedisCatalogRepository(client *redis.Client) CatalogRepository {
	return &redisCatalogRepository{client: client, now: time.Now}
}

func trackKey(externalID string) string {
	return "catalog:track:" + externalID
}

func statusKey(s model.DownloadStatus) string {
	return "catalog:status:" + string(s)
}

// watchRetries bounds optimistic retry on WATCH conflicts.
const watchRetries = 5

func (r *redisCatalogRepository) Get(ctx context.Context, externalID string) (*model.CatalogEntry, error) {
	data, err := r.client.Get(ctx, trackKey(externalID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get catalog entry %s: %w", externalID, err)
	}

	entry := &model.CatalogEntry{}
	if err := json.Unmarshal(data, entry); err != nil {
		return nil, fmt.Errorf("failed to decode catalog entry %s: %w", externalID, err)
	}
	return entry, nil
}

// Create writes a new catalog document. If a document already exists it is
// left untouched; two intake checks racing on a cold id both calling Create
// is the expected benign case.
func (r *redisCatalogRepository) Create(ctx context.Context, entry *model.CatalogEntry) error {
	now := r.now().UTC()
	entry.CreatedAt = now
	entry.UpdatedAt = now
	if entry.Status == "" {
		entry.Status = model.StatusPending
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode catalog entry %s: %w", entry.ExternalID, err)
	}

	created, err := r.client.SetNX(ctx, trackKey(entry.ExternalID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to create catalog entry %s: %w", entry.ExternalID, err)
	}
	if !created {
		return nil
	}

	if err := r.client.SAdd(ctx, statusKey(entry.Status), entry.ExternalID).Err(); err != nil {
		return fmt.Errorf("failed to index catalog entry %s: %w", entry.ExternalID, err)
	}
	logger.Info("Catalog entry created",
		logger.String("externalId", entry.ExternalID),
		logger.String("status", string(entry.Status)))
	return nil
}

// mutate runs a read-modify-write cycle on one track document under WATCH,
// retrying a bounded number of times on concurrent modification.
func (r *redisCatalogRepository) mutate(ctx context.Context, externalID string, fn func(entry *model.CatalogEntry) (bool, error)) (*model.CatalogEntry, error) {
	key := trackKey(externalID)
	var result *model.CatalogEntry

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return fmt.Errorf("catalog entry %s does not exist", externalID)
		}
		if err != nil {
			return err
		}

		entry := &model.CatalogEntry{}
		if err := json.Unmarshal(data, entry); err != nil {
			return err
		}

		prevStatus := entry.Status
		write, err := fn(entry)
		if err != nil {
			return err
		}
		result = entry
		if !write {
			return nil
		}
		entry.UpdatedAt = r.now().UTC()

		updated, err := json.Marshal(entry)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			if prevStatus != entry.Status {
				pipe.SRem(ctx, statusKey(prevStatus), externalID)
				pipe.SAdd(ctx, statusKey(entry.Status), externalID)
			}
			return nil
		})
		return err
	}

	for i := 0; i < watchRetries; i++ {
		err := r.client.Watch(ctx, txn, key)
		if err == nil {
			return result, nil
		}
		if err == redis.TxFailedErr {
			continue
		}
		return nil, fmt.Errorf("failed to update catalog entry %s: %w", externalID, err)
	}
	return nil, fmt.Errorf("failed to update catalog entry %s: too many concurrent writers", externalID)
}

// SetStatus moves the entry through the download state machine. An illegal
// transition is logged and ignored, returning the unchanged entry.
func (r *redisCatalogRepository) SetStatus(ctx context.Context, externalID string, to model.DownloadStatus, reason string) (*model.CatalogEntry, error) {
	return r.mutate(ctx, externalID, func(entry *model.CatalogEntry) (bool, error) {
		if !entry.Status.CanTransitionTo(to) {
			logger.Warn("Ignoring illegal catalog status transition",
				logger.String("externalId", externalID),
				logger.String("from", string(entry.Status)),
				logger.String("to", string(to)))
			return false, nil
		}
		entry.Status = to
		if to == model.StatusFailed {
			entry.FailureReason = reason
		} else {
			entry.FailureReason = ""
		}
		return true, nil
	})
}

// SetMetadata fills in the provider-reported track facts.
func (r *redisCatalogRepository) SetMetadata(ctx context.Context, externalID string, ref *model.TrackReference) error {
	_, err := r.mutate(ctx, externalID, func(entry *model.CatalogEntry) (bool, error) {
		entry.Title = ref.Title
		entry.Artist = ref.Artist
		entry.Album = ref.Album
		entry.Duration = ref.Duration
		return true, nil
	})
	return err
}

// MarkCompleted records the final storage placement and bumps the shared
// download counter. Only legal from downloading; a late completion against a
// terminal entry is dropped.
func (r *redisCatalogRepository) MarkCompleted(ctx context.Context, externalID, location string, size int64, originURL string) (*model.CatalogEntry, error) {
	return r.mutate(ctx, externalID, func(entry *model.CatalogEntry) (bool, error) {
		if entry.Status != model.StatusDownloading {
			logger.Warn("Ignoring completion for entry not in downloading state",
				logger.String("externalId", externalID),
				logger.String("status", string(entry.Status)))
			return false, nil
		}
		now := r.now().UTC()
		entry.Status = model.StatusCompleted
		entry.StorageLocation = location
		entry.FileSize = size
		entry.OriginURL = originURL
		entry.FailureReason = ""
		entry.CompletedAt = &now
		entry.DownloadCount++
		return true, nil
	})
}

// IncrementDownloadCount bumps the shared counter for an instant library add.
func (r *redisCatalogRepository) IncrementDownloadCount(ctx context.Context, externalID string) (int64, error) {
	entry, err := r.mutate(ctx, externalID, func(entry *model.CatalogEntry) (bool, error) {
		entry.DownloadCount++
		return true, nil
	})
	if err != nil {
		return 0, err
	}
	return entry.DownloadCount, nil
}

// TouchLastServed records a playback. Independent of acquisition status.
func (r *redisCatalogRepository) TouchLastServed(ctx context.Context, externalID string) error {
	_, err := r.mutate(ctx, externalID, func(entry *model.CatalogEntry) (bool, error) {
		now := r.now().UTC()
		entry.LastServedAt = &now
		return true, nil
	})
	return err
}

// StaleDownloading returns entries stuck in downloading since before olderThan.
func (r *redisCatalogRepository) StaleDownloading(ctx context.Context, olderThan time.Time) ([]*model.CatalogEntry, error) {
	ids, err := r.client.SMembers(ctx, statusKey(model.StatusDownloading)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list downloading entries: %w", err)
	}

	stale := make([]*model.CatalogEntry, 0)
	for _, id := range ids {
		entry, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if entry == nil || entry.Status != model.StatusDownloading {
			// Index set can lag the document briefly; skip.
			continue
		}
		if entry.UpdatedAt.Before(olderThan) {
			stale = append(stale, entry)
		}
	}
	return stale, nil
}

// Popular returns completed entries ordered by download count. The completed
// index set is loaded in full; catalogs here are tens of thousands of docs at
// most, which keeps this well inside one round trip per track.
func (r *redisCatalogRepository) Popular(ctx context.Context, limit int) ([]*model.CatalogEntry, error) {
	ids, err := r.client.SMembers(ctx, statusKey(model.StatusCompleted)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list completed entries: %w", err)
	}

	entries := make([]*model.CatalogEntry, 0, len(ids))
	for _, id := range ids {
		entry, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if entry != nil && entry.Status == model.StatusCompleted {
			entries = append(entries, entry)
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].DownloadCount > entries[j].DownloadCount
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
