package acquire

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"echofm/core/scheduler"
	"echofm/errs"
	"echofm/model"
)

// fakeSubmitter records submissions without running anything.
type fakeSubmitter struct {
	calls  int
	lastID string
	lastBy int64
}

func (f *fakeSubmitter) Submit(_ context.Context, externalID string, requestedBy int64) (string, error) {
	f.calls++
	f.lastID = externalID
	f.lastBy = requestedBy
	return fmt.Sprintf("job-%d", f.calls), nil
}

// syncSubmitter runs the job inline, standing in for a worker that picks the
// job up immediately.
type syncSubmitter struct {
	orch *Orchestrator
	n    int
}

func (s *syncSubmitter) Submit(ctx context.Context, externalID string, requestedBy int64) (string, error) {
	s.n++
	job := scheduler.Job{
		ID:          fmt.Sprintf("job-%d", s.n),
		ExternalID:  externalID,
		RequestedBy: requestedBy,
		Attempt:     1,
	}
	if err := s.orch.Process(ctx, job); err != nil {
		return "", err
	}
	return job.ID, nil
}

func TestValidateExternalID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"3n3Ppam7vgaVa1iaRUc9Lp", true},
		{"0000000000000000000000", true},
		{"ABCDEFGHIJKLMNOPQRSTUV", true},
		{"", false},
		{"short", false},
		{"3n3Ppam7vgaVa1iaRUc9LpX", false}, // 23 chars
		{"3n3Ppam7vgaVa1iaRUc9L!", false},  // punctuation
		{"3n3Ppam7vgaVa1iaRUc9L ", false},  // whitespace
	}
	for _, tt := range tests {
		err := ValidateExternalID(tt.id)
		if tt.valid && err != nil {
			t.Errorf("ValidateExternalID(%q) = %v, want nil", tt.id, err)
		}
		if !tt.valid && !errors.Is(err, errs.ErrInvalidExternalID) {
			t.Errorf("ValidateExternalID(%q) = %v, want ErrInvalidExternalID", tt.id, err)
		}
	}
}

func TestRequestTrackRejectsMalformedID(t *testing.T) {
	jobs := &fakeSubmitter{}
	svc := NewService(newFakeCatalog(), newFakeLibrary(), jobs)

	_, err := svc.RequestTrack(context.Background(), 7, "not-a-valid-id")
	if !errors.Is(err, errs.ErrInvalidExternalID) {
		t.Fatalf("err = %v, want ErrInvalidExternalID", err)
	}
	if jobs.calls != 0 {
		t.Fatal("no job may be submitted for a malformed id")
	}
}

func TestRequestTrackQueuedWhenAbsent(t *testing.T) {
	catalog := newFakeCatalog()
	jobs := &fakeSubmitter{}
	svc := NewService(catalog, newFakeLibrary(), jobs)
	ctx := context.Background()

	res, err := svc.RequestTrack(ctx, 7, testID)
	if err != nil {
		t.Fatalf("RequestTrack: %v", err)
	}
	if res.Kind != ResultQueued {
		t.Fatalf("Kind = %s, want %s", res.Kind, ResultQueued)
	}
	if res.JobID == "" {
		t.Fatal("a queued result must carry the job id")
	}
	if jobs.calls != 1 || jobs.lastID != testID || jobs.lastBy != 7 {
		t.Fatalf("unexpected submission: %+v", jobs)
	}

	entry, _ := catalog.Get(ctx, testID)
	if entry == nil || entry.Status != model.StatusPending {
		t.Fatalf("catalog entry should be created pending, got %+v", entry)
	}
}

func TestRequestTrackAlreadyOwned(t *testing.T) {
	catalog := newFakeCatalog()
	library := newFakeLibrary()
	jobs := &fakeSubmitter{}
	svc := NewService(catalog, library, jobs)
	ctx := context.Background()

	catalog.Create(ctx, &model.CatalogEntry{ExternalID: testID, Status: model.StatusCompleted})
	library.Ensure(ctx, 7, testID)

	res, err := svc.RequestTrack(ctx, 7, testID)
	if err != nil {
		t.Fatalf("RequestTrack: %v", err)
	}
	if res.Kind != ResultAlreadyOwned {
		t.Fatalf("Kind = %s, want %s", res.Kind, ResultAlreadyOwned)
	}
	if jobs.calls != 0 {
		t.Fatal("an owned track must not trigger a job")
	}
	entry, _ := catalog.Get(ctx, testID)
	if entry.DownloadCount != 0 {
		t.Fatal("an owned track must not bump the shared counter")
	}
}

func TestRequestTrackInstantAddIsIdempotent(t *testing.T) {
	catalog := newFakeCatalog()
	library := newFakeLibrary()
	jobs := &fakeSubmitter{}
	svc := NewService(catalog, library, jobs)
	ctx := context.Background()

	catalog.Create(ctx, &model.CatalogEntry{ExternalID: testID, Status: model.StatusCompleted})

	res, err := svc.RequestTrack(ctx, 7, testID)
	if err != nil {
		t.Fatalf("RequestTrack: %v", err)
	}
	if res.Kind != ResultInstantAdd {
		t.Fatalf("Kind = %s, want %s", res.Kind, ResultInstantAdd)
	}
	entry, _ := catalog.Get(ctx, testID)
	if entry.DownloadCount != 1 {
		t.Fatalf("DownloadCount = %d, want 1", entry.DownloadCount)
	}
	if jobs.calls != 0 {
		t.Fatal("a completed track must not trigger a job")
	}

	// The same user asking again is already_owned; the counter must not move.
	res, err = svc.RequestTrack(ctx, 7, testID)
	if err != nil {
		t.Fatalf("second RequestTrack: %v", err)
	}
	if res.Kind != ResultAlreadyOwned {
		t.Fatalf("Kind = %s, want %s", res.Kind, ResultAlreadyOwned)
	}
	entry, _ = catalog.Get(ctx, testID)
	if entry.DownloadCount != 1 {
		t.Fatalf("DownloadCount after repeat = %d, want 1", entry.DownloadCount)
	}
	if library.count() != 1 {
		t.Fatalf("membership rows = %d, want 1", library.count())
	}
}

func TestRequestTrackInFlightReportsDownloading(t *testing.T) {
	catalog := newFakeCatalog()
	jobs := &fakeSubmitter{}
	svc := NewService(catalog, newFakeLibrary(), jobs)
	ctx := context.Background()

	catalog.Create(ctx, &model.CatalogEntry{ExternalID: testID, Status: model.StatusPending})
	catalog.SetStatus(ctx, testID, model.StatusDownloading, "")

	res, err := svc.RequestTrack(ctx, 8, testID)
	if err != nil {
		t.Fatalf("RequestTrack: %v", err)
	}
	if res.Kind != ResultDownloading {
		t.Fatalf("Kind = %s, want %s", res.Kind, ResultDownloading)
	}
	// The job still goes in so the wait-poll can register this user's
	// membership when the in-flight acquisition completes.
	if jobs.calls != 1 {
		t.Fatalf("submissions = %d, want 1", jobs.calls)
	}
	if res.JobID == "" {
		t.Fatal("downloading result must carry the job id")
	}
}

func TestRequestTrackRestartsFailedEntry(t *testing.T) {
	catalog := newFakeCatalog()
	jobs := &fakeSubmitter{}
	svc := NewService(catalog, newFakeLibrary(), jobs)
	ctx := context.Background()

	catalog.Create(ctx, &model.CatalogEntry{ExternalID: testID, Status: model.StatusPending})
	catalog.SetStatus(ctx, testID, model.StatusDownloading, "")
	catalog.SetStatus(ctx, testID, model.StatusFailed, "origin fetch timed out")

	res, err := svc.RequestTrack(ctx, 7, testID)
	if err != nil {
		t.Fatalf("RequestTrack: %v", err)
	}
	if res.Kind != ResultQueued {
		t.Fatalf("Kind = %s, want %s", res.Kind, ResultQueued)
	}

	entry, _ := catalog.Get(ctx, testID)
	if entry.Status != model.StatusPending {
		t.Fatalf("status = %s, want %s", entry.Status, model.StatusPending)
	}
	if entry.FailureReason != "" {
		t.Fatal("the reset must clear the stored failure reason")
	}
	transitions := catalog.recordedTransitions()
	if transitions[len(transitions)-1] != "failed->pending" {
		t.Fatalf("last transition = %s, want failed->pending", transitions[len(transitions)-1])
	}
}

func TestRequestTrackSharedCopyFlow(t *testing.T) {
	f := newOrchestratorFixture()
	jobs := &syncSubmitter{orch: f.orch}
	svc := NewService(f.catalog, f.library, jobs)
	ctx := context.Background()

	// User A triggers the download.
	res, err := svc.RequestTrack(ctx, 1, testID)
	if err != nil {
		t.Fatalf("user A RequestTrack: %v", err)
	}
	if res.Kind != ResultQueued {
		t.Fatalf("user A Kind = %s, want %s", res.Kind, ResultQueued)
	}

	entry, _ := f.catalog.Get(ctx, testID)
	if entry.Status != model.StatusCompleted {
		t.Fatalf("status = %s, want %s", entry.Status, model.StatusCompleted)
	}
	if entry.DownloadCount != 1 {
		t.Fatalf("DownloadCount after A = %d, want 1", entry.DownloadCount)
	}

	// User B shares the existing copy without a second fetch.
	res, err = svc.RequestTrack(ctx, 2, testID)
	if err != nil {
		t.Fatalf("user B RequestTrack: %v", err)
	}
	if res.Kind != ResultInstantAdd {
		t.Fatalf("user B Kind = %s, want %s", res.Kind, ResultInstantAdd)
	}
	entry, _ = f.catalog.Get(ctx, testID)
	if entry.DownloadCount != 2 {
		t.Fatalf("DownloadCount after B = %d, want 2", entry.DownloadCount)
	}
	if got := f.media.fetchCount(); got != 1 {
		t.Fatalf("media fetches = %d, want 1", got)
	}

	// B asking again changes nothing.
	res, _ = svc.RequestTrack(ctx, 2, testID)
	if res.Kind != ResultAlreadyOwned {
		t.Fatalf("repeat Kind = %s, want %s", res.Kind, ResultAlreadyOwned)
	}
	entry, _ = f.catalog.Get(ctx, testID)
	if entry.DownloadCount != 2 {
		t.Fatalf("DownloadCount after repeat = %d, want 2", entry.DownloadCount)
	}
}

func TestTrackStatus(t *testing.T) {
	catalog := newFakeCatalog()
	svc := NewService(catalog, newFakeLibrary(), &fakeSubmitter{})
	ctx := context.Background()

	if _, err := svc.TrackStatus(ctx, testID); !errors.Is(err, errs.ErrTrackNotFound) {
		t.Fatalf("err = %v, want ErrTrackNotFound", err)
	}

	catalog.Create(ctx, &model.CatalogEntry{ExternalID: testID, Status: model.StatusPending})
	catalog.SetStatus(ctx, testID, model.StatusDownloading, "")
	catalog.SetStatus(ctx, testID, model.StatusFailed, "origin fetch timed out")

	entry, err := svc.TrackStatus(ctx, testID)
	if err != nil {
		t.Fatalf("TrackStatus: %v", err)
	}
	if entry.FailureReason != "origin fetch timed out" {
		t.Fatalf("FailureReason = %q, want the stored cause", entry.FailureReason)
	}
}

func TestRecordPlayback(t *testing.T) {
	catalog := newFakeCatalog()
	library := newFakeLibrary()
	svc := NewService(catalog, library, &fakeSubmitter{})
	ctx := context.Background()

	catalog.Create(ctx, &model.CatalogEntry{ExternalID: testID, Status: model.StatusCompleted})
	library.Ensure(ctx, 7, testID)

	if err := svc.RecordPlayback(ctx, 7, testID); err != nil {
		t.Fatalf("RecordPlayback: %v", err)
	}
	row, _ := library.Get(ctx, 7, testID)
	if row.PlayCount != 1 || row.LastPlayedAt == nil {
		t.Fatalf("play bookkeeping not updated: %+v", row)
	}
	entry, _ := catalog.Get(ctx, testID)
	if entry.LastServedAt == nil {
		t.Fatal("LastServedAt should be stamped")
	}

	if err := svc.RecordPlayback(ctx, 99, testID); !errors.Is(err, errs.ErrTrackNotFound) {
		t.Fatalf("playback without membership: err = %v, want ErrTrackNotFound", err)
	}
}

func TestSetFavorite(t *testing.T) {
	catalog := newFakeCatalog()
	library := newFakeLibrary()
	svc := NewService(catalog, library, &fakeSubmitter{})
	ctx := context.Background()

	library.Ensure(ctx, 7, testID)
	if err := svc.SetFavorite(ctx, 7, testID, true); err != nil {
		t.Fatalf("SetFavorite: %v", err)
	}
	row, _ := library.Get(ctx, 7, testID)
	if !row.IsFavorite {
		t.Fatal("favorite flag should be set")
	}

	if err := svc.SetFavorite(ctx, 8, testID, true); !errors.Is(err, errs.ErrTrackNotFound) {
		t.Fatalf("favorite without membership: err = %v, want ErrTrackNotFound", err)
	}
}

func TestLibraryJoinsCatalog(t *testing.T) {
	catalog := newFakeCatalog()
	library := newFakeLibrary()
	svc := NewService(catalog, library, &fakeSubmitter{})
	ctx := context.Background()

	catalog.Create(ctx, &model.CatalogEntry{ExternalID: testID, Status: model.StatusCompleted, Title: "Nightswim"})
	library.Ensure(ctx, 7, testID)

	items, err := svc.Library(ctx, 7)
	if err != nil {
		t.Fatalf("Library: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	if items[0].Catalog == nil || items[0].Catalog.Title != "Nightswim" {
		t.Fatalf("catalog doc not joined: %+v", items[0])
	}
}
