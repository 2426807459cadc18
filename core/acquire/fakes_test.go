package acquire

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"echofm/errs"
	"echofm/model"
)

// fakeCatalog is an in-memory CatalogRepository that mirrors the transition
// rules of the real store and records every status change for legality
// assertions.
type fakeCatalog struct {
	mu          sync.Mutex
	entries     map[string]*model.CatalogEntry
	transitions []string
	now         func() time.Time
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		entries: make(map[string]*model.CatalogEntry),
		now:     time.Now,
	}
}

func (f *fakeCatalog) copyOf(entry *model.CatalogEntry) *model.CatalogEntry {
	c := *entry
	return &c
}

func (f *fakeCatalog) Get(_ context.Context, externalID string) (*model.CatalogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[externalID]
	if !ok {
		return nil, nil
	}
	return f.copyOf(entry), nil
}

func (f *fakeCatalog) Create(_ context.Context, entry *model.CatalogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.entries[entry.ExternalID]; ok {
		return nil
	}
	e := *entry
	if e.Status == "" {
		e.Status = model.StatusPending
	}
	e.CreatedAt = f.now().UTC()
	e.UpdatedAt = e.CreatedAt
	f.entries[entry.ExternalID] = &e
	return nil
}

func (f *fakeCatalog) SetStatus(_ context.Context, externalID string, to model.DownloadStatus, reason string) (*model.CatalogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[externalID]
	if !ok {
		return nil, fmt.Errorf("catalog entry %s does not exist", externalID)
	}
	if !entry.Status.CanTransitionTo(to) {
		return f.copyOf(entry), nil
	}
	if entry.Status != to {
		f.transitions = append(f.transitions, string(entry.Status)+"->"+string(to))
	}
	entry.Status = to
	if to == model.StatusFailed {
		entry.FailureReason = reason
	} else {
		entry.FailureReason = ""
	}
	entry.UpdatedAt = f.now().UTC()
	return f.copyOf(entry), nil
}

func (f *fakeCatalog) SetMetadata(_ context.Context, externalID string, ref *model.TrackReference) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[externalID]
	if !ok {
		return fmt.Errorf("catalog entry %s does not exist", externalID)
	}
	entry.Title = ref.Title
	entry.Artist = ref.Artist
	entry.Album = ref.Album
	entry.Duration = ref.Duration
	entry.UpdatedAt = f.now().UTC()
	return nil
}

func (f *fakeCatalog) MarkCompleted(_ context.Context, externalID, location string, size int64, originURL string) (*model.CatalogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[externalID]
	if !ok {
		return nil, fmt.Errorf("catalog entry %s does not exist", externalID)
	}
	if entry.Status != model.StatusDownloading {
		return f.copyOf(entry), nil
	}
	f.transitions = append(f.transitions, string(entry.Status)+"->"+string(model.StatusCompleted))
	now := f.now().UTC()
	entry.Status = model.StatusCompleted
	entry.StorageLocation = location
	entry.FileSize = size
	entry.OriginURL = originURL
	entry.FailureReason = ""
	entry.CompletedAt = &now
	entry.DownloadCount++
	entry.UpdatedAt = now
	return f.copyOf(entry), nil
}

func (f *fakeCatalog) IncrementDownloadCount(_ context.Context, externalID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[externalID]
	if !ok {
		return 0, fmt.Errorf("catalog entry %s does not exist", externalID)
	}
	entry.DownloadCount++
	entry.UpdatedAt = f.now().UTC()
	return entry.DownloadCount, nil
}

func (f *fakeCatalog) TouchLastServed(_ context.Context, externalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[externalID]
	if !ok {
		return fmt.Errorf("catalog entry %s does not exist", externalID)
	}
	now := f.now().UTC()
	entry.LastServedAt = &now
	return nil
}

func (f *fakeCatalog) StaleDownloading(_ context.Context, olderThan time.Time) ([]*model.CatalogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stale := make([]*model.CatalogEntry, 0)
	for _, entry := range f.entries {
		if entry.Status == model.StatusDownloading && entry.UpdatedAt.Before(olderThan) {
			stale = append(stale, f.copyOf(entry))
		}
	}
	return stale, nil
}

func (f *fakeCatalog) Popular(_ context.Context, limit int) ([]*model.CatalogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries := make([]*model.CatalogEntry, 0)
	for _, entry := range f.entries {
		if entry.Status == model.StatusCompleted {
			entries = append(entries, f.copyOf(entry))
		}
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (f *fakeCatalog) recordedTransitions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.transitions))
	copy(out, f.transitions)
	return out
}

// fakeLibrary is an in-memory LibraryRepository.
type fakeLibrary struct {
	mu      sync.Mutex
	entries map[string]*model.UserLibraryEntry
}

func newFakeLibrary() *fakeLibrary {
	return &fakeLibrary{entries: make(map[string]*model.UserLibraryEntry)}
}

func libKey(userID int64, externalID string) string {
	return fmt.Sprintf("%d:%s", userID, externalID)
}

func (f *fakeLibrary) Get(_ context.Context, userID int64, externalID string) (*model.UserLibraryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[libKey(userID, externalID)]
	if !ok {
		return nil, nil
	}
	c := *entry
	return &c, nil
}

func (f *fakeLibrary) Ensure(_ context.Context, userID int64, externalID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := libKey(userID, externalID)
	if _, ok := f.entries[key]; ok {
		return false, nil
	}
	f.entries[key] = &model.UserLibraryEntry{
		UserID:     userID,
		ExternalID: externalID,
		AddedAt:    time.Now().UTC(),
	}
	return true, nil
}

func (f *fakeLibrary) ListByUser(_ context.Context, userID int64) ([]*model.UserLibraryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.UserLibraryEntry, 0)
	for _, entry := range f.entries {
		if entry.UserID == userID {
			c := *entry
			out = append(out, &c)
		}
	}
	return out, nil
}

func (f *fakeLibrary) RecordPlay(_ context.Context, userID int64, externalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[libKey(userID, externalID)]
	if !ok {
		return errs.Wrap(errs.ErrTrackNotFound, "track %s is not in user %d's library", externalID, userID)
	}
	now := time.Now().UTC()
	entry.PlayCount++
	entry.LastPlayedAt = &now
	return nil
}

func (f *fakeLibrary) SetFavorite(_ context.Context, userID int64, externalID string, favorite bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[libKey(userID, externalID)]
	if !ok {
		return errs.Wrap(errs.ErrTrackNotFound, "track %s is not in user %d's library", externalID, userID)
	}
	entry.IsFavorite = favorite
	return nil
}

func (f *fakeLibrary) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// memLockStore is an in-memory atomic create-if-absent store.
type memLockStore struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemLockStore() *memLockStore {
	return &memLockStore{held: make(map[string]bool)}
}

func (s *memLockStore) TryCreate(_ context.Context, key string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held[key] {
		return false, nil
	}
	s.held[key] = true
	return true, nil
}

func (s *memLockStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.held, key)
	return nil
}

// fakeMetadata answers canned track references.
type fakeMetadata struct {
	mu     sync.Mutex
	tracks map[string]*model.TrackReference
	err    error
	calls  int
}

func newFakeMetadata() *fakeMetadata {
	return &fakeMetadata{tracks: make(map[string]*model.TrackReference)}
}

func (f *fakeMetadata) GetTrack(_ context.Context, externalID string) (*model.TrackReference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	ref, ok := f.tracks[externalID]
	if !ok {
		return nil, errs.Wrap(errs.ErrTrackNotFound, "metadata provider has no track %s", externalID)
	}
	return ref, nil
}

// fakeMedia resolves canned origins and counts fetches so dedup tests can
// assert exactly one download happened.
type fakeMedia struct {
	mu         sync.Mutex
	origin     string
	resolveErr error
	fetchErr   error
	fetches    int
}

func (f *fakeMedia) Resolve(_ context.Context, title, artist string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolveErr != nil {
		return "", f.resolveErr
	}
	if f.origin == "" {
		return "", errs.Wrap(errs.ErrTrackNotFound, "no playable origin for %q by %q", title, artist)
	}
	return f.origin, nil
}

func (f *fakeMedia) Fetch(_ context.Context, _ string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	f.fetches++
	return io.NopCloser(strings.NewReader("media-bytes")), nil
}

func (f *fakeMedia) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

// fakeTrackStore pretends to place media and can fail transiently.
type fakeTrackStore struct {
	mu      sync.Mutex
	saveErr error
	failN   int // fail the first N saves, then succeed
	saves   int
}

func (f *fakeTrackStore) Save(_ context.Context, externalID string, media io.Reader) (string, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return "", 0, f.saveErr
	}
	if f.failN > 0 {
		f.failN--
		return "", 0, errs.Wrap(errs.ErrStorage, "failed to promote %s into storage", externalID)
	}
	size, err := io.Copy(io.Discard, media)
	if err != nil {
		return "", 0, errs.Wrap(errs.ErrStorage, "stage failed: %v", err)
	}
	f.saves++
	return "/music/" + externalID[:2] + "/" + externalID + ".mp3", size, nil
}
