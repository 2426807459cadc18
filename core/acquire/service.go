// Package acquire implements the song acquisition engine: request intake with
// the catalog/membership consistency branch, the download orchestrator state
// machine, and the stuck-task reclaimer.
package acquire

import (
	"context"
	"fmt"

	"echofm/errs"
	"echofm/model"
	"echofm/repository"
)

// externalIDLength is the fixed length of a catalog id.
const externalIDLength = 22

// ValidateExternalID rejects malformed catalog ids before any store access.
func ValidateExternalID(externalID string) error {
	if len(externalID) != externalIDLength {
		return errs.Wrap(errs.ErrInvalidExternalID, "%q: want %d alphanumeric characters", externalID, externalIDLength)
	}
	for _, c := range externalID {
		if (c < '0' || c > '9') && (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') {
			return errs.Wrap(errs.ErrInvalidExternalID, "%q: want %d alphanumeric characters", externalID, externalIDLength)
		}
	}
	return nil
}

// ResultKind is the synchronous outcome of an acquisition request.
type ResultKind string

const (
	ResultAlreadyOwned ResultKind = "already_owned"
	ResultInstantAdd   ResultKind = "instant_add"
	ResultQueued       ResultKind = "queued"
	ResultDownloading  ResultKind = "downloading"
)

// Result is returned to the requesting caller.
type Result struct {
	Kind          ResultKind           `json:"status"`
	ExternalID    string               `json:"externalId"`
	JobID         string               `json:"jobId,omitempty"`
	CatalogStatus model.DownloadStatus `json:"catalogStatus,omitempty"`
	Message       string               `json:"message"`
}

// JobSubmitter enqueues acquisition jobs. Satisfied by *scheduler.Scheduler.
type JobSubmitter interface {
	Submit(ctx context.Context, externalID string, requestedBy int64) (string, error)
}

// Service is the intake coordinator: it decides, per request, between
// returning the user's existing copy, sharing an already-acquired track, and
// starting a fresh acquisition.
type Service struct {
	catalog repository.CatalogRepository
	library repository.LibraryRepository
	jobs    JobSubmitter
}

// NewService creates the intake service.
func NewService(catalog repository.CatalogRepository, library repository.LibraryRepository, jobs JobSubmitter) *Service {
	return &Service{catalog: catalog, library: library, jobs: jobs}
}

// RequestTrack handles one user request for a track. The membership store is
// checked first (authoritative for ownership), then the catalog (authoritative
// for whether anyone has it). Skipping straight to download when a completed
// entry exists would duplicate work and corrupt the shared counter, so the
// three-way branch below is followed exactly.
func (s *Service) RequestTrack(ctx context.Context, userID int64, externalID string) (*Result, error) {
	if err := ValidateExternalID(externalID); err != nil {
		return nil, err
	}

	owned, err := s.library.Get(ctx, userID, externalID)
	if err != nil {
		return nil, err
	}
	if owned != nil {
		entry, err := s.catalog.Get(ctx, externalID)
		if err != nil {
			return nil, err
		}
		res := &Result{
			Kind:       ResultAlreadyOwned,
			ExternalID: externalID,
			Message:    "Track is already in your library",
		}
		if entry != nil {
			res.CatalogStatus = entry.Status
		}
		return res, nil
	}

	entry, err := s.catalog.Get(ctx, externalID)
	if err != nil {
		return nil, err
	}

	switch {
	case entry != nil && entry.Status == model.StatusCompleted:
		// Shared copy exists: membership row plus counter bump, no download.
		added, err := s.library.Ensure(ctx, userID, externalID)
		if err != nil {
			return nil, err
		}
		if added {
			if _, err := s.catalog.IncrementDownloadCount(ctx, externalID); err != nil {
				return nil, err
			}
		}
		return &Result{
			Kind:          ResultInstantAdd,
			ExternalID:    externalID,
			CatalogStatus: model.StatusCompleted,
			Message:       "Track added to your library (already downloaded)",
		}, nil

	case entry != nil && !entry.Status.Terminal():
		// Someone else's acquisition is in flight. The job we enqueue will
		// lose the lock and sit in the bounded wait-poll, registering this
		// user's membership once the winner completes.
		jobID, err := s.jobs.Submit(ctx, externalID, userID)
		if err != nil {
			return nil, err
		}
		return &Result{
			Kind:          ResultDownloading,
			ExternalID:    externalID,
			JobID:         jobID,
			CatalogStatus: entry.Status,
			Message:       "Track is being downloaded, it will appear in your library shortly",
		}, nil

	default:
		// Absent or failed: start (or restart) an acquisition.
		if entry == nil {
			if err := s.catalog.Create(ctx, &model.CatalogEntry{
				ExternalID:  externalID,
				Status:      model.StatusPending,
				RequestedBy: userID,
			}); err != nil {
				return nil, err
			}
		} else if entry.Status == model.StatusFailed {
			// The user-initiated retry is the only path (besides the
			// reclaimer) allowed to take failed back to pending.
			if _, err := s.catalog.SetStatus(ctx, externalID, model.StatusPending, ""); err != nil {
				return nil, err
			}
		}
		jobID, err := s.jobs.Submit(ctx, externalID, userID)
		if err != nil {
			return nil, err
		}
		return &Result{
			Kind:          ResultQueued,
			ExternalID:    externalID,
			JobID:         jobID,
			CatalogStatus: model.StatusPending,
			Message:       "Track download queued",
		}, nil
	}
}

// TrackStatus reports the catalog view of a track, surfacing the stored
// failure reason when the last acquisition failed.
func (s *Service) TrackStatus(ctx context.Context, externalID string) (*model.CatalogEntry, error) {
	if err := ValidateExternalID(externalID); err != nil {
		return nil, err
	}
	entry, err := s.catalog.Get(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, errs.Wrap(errs.ErrTrackNotFound, "track %s is not in the catalog", externalID)
	}
	return entry, nil
}

// RecordPlayback bumps the user's play bookkeeping and stamps the catalog's
// last-served time. Playback is independent of acquisition status.
func (s *Service) RecordPlayback(ctx context.Context, userID int64, externalID string) error {
	if err := ValidateExternalID(externalID); err != nil {
		return err
	}
	if err := s.library.RecordPlay(ctx, userID, externalID); err != nil {
		return err
	}
	if err := s.catalog.TouchLastServed(ctx, externalID); err != nil {
		return fmt.Errorf("playback recorded but catalog stamp failed: %w", err)
	}
	return nil
}

// SetFavorite toggles the favorite flag on the user's membership row.
func (s *Service) SetFavorite(ctx context.Context, userID int64, externalID string, favorite bool) error {
	if err := ValidateExternalID(externalID); err != nil {
		return err
	}
	return s.library.SetFavorite(ctx, userID, externalID, favorite)
}

// Library returns the user's membership rows joined with their catalog docs.
func (s *Service) Library(ctx context.Context, userID int64) ([]*LibraryItem, error) {
	rows, err := s.library.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	items := make([]*LibraryItem, 0, len(rows))
	for _, row := range rows {
		entry, err := s.catalog.Get(ctx, row.ExternalID)
		if err != nil {
			return nil, err
		}
		items = append(items, &LibraryItem{Membership: row, Catalog: entry})
	}
	return items, nil
}

// Popular returns the most-shared completed tracks.
func (s *Service) Popular(ctx context.Context, limit int) ([]*model.CatalogEntry, error) {
	return s.catalog.Popular(ctx, limit)
}

// LibraryItem pairs a membership row with its catalog document.
type LibraryItem struct {
	Membership *model.UserLibraryEntry `json:"membership"`
	Catalog    *model.CatalogEntry     `json:"catalog,omitempty"`
}
