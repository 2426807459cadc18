package acquire

import (
	"context"
	"testing"
	"time"

	"echofm/core/lock"
	"echofm/model"
)

func TestSweepOnceResetsStaleDownloads(t *testing.T) {
	catalog := newFakeCatalog()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	// Wedged 90 minutes ago: the worker died mid-download.
	catalog.now = func() time.Time { return base.Add(-90 * time.Minute) }
	catalog.Create(ctx, &model.CatalogEntry{ExternalID: "stuckstuckstuckstuck00", Status: model.StatusPending})
	catalog.SetStatus(ctx, "stuckstuckstuckstuck00", model.StatusDownloading, "")

	// Started 10 minutes ago: still healthy.
	catalog.now = func() time.Time { return base.Add(-10 * time.Minute) }
	catalog.Create(ctx, &model.CatalogEntry{ExternalID: "activeactiveactiveac00", Status: model.StatusPending})
	catalog.SetStatus(ctx, "activeactiveactiveac00", model.StatusDownloading, "")

	catalog.now = func() time.Time { return base }
	r := NewReclaimer(catalog, lock.NewManager(newMemLockStore(), time.Minute), 30*time.Minute, time.Hour)
	r.now = func() time.Time { return base }

	reclaimed, err := r.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("reclaimed = %d, want 1", reclaimed)
	}

	stuck, _ := catalog.Get(ctx, "stuckstuckstuckstuck00")
	if stuck.Status != model.StatusPending {
		t.Fatalf("stale entry status = %s, want %s", stuck.Status, model.StatusPending)
	}
	active, _ := catalog.Get(ctx, "activeactiveactiveac00")
	if active.Status != model.StatusDownloading {
		t.Fatalf("healthy entry status = %s, want %s", active.Status, model.StatusDownloading)
	}
}

func TestSweepOnceKeepsTransitionsLegal(t *testing.T) {
	catalog := newFakeCatalog()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	catalog.now = func() time.Time { return base.Add(-2 * time.Hour) }
	catalog.Create(ctx, &model.CatalogEntry{ExternalID: "stuckstuckstuckstuck00", Status: model.StatusPending})
	catalog.SetStatus(ctx, "stuckstuckstuckstuck00", model.StatusDownloading, "")
	catalog.now = func() time.Time { return base }

	r := NewReclaimer(catalog, nil, 30*time.Minute, time.Hour)
	r.now = func() time.Time { return base }
	if _, err := r.SweepOnce(ctx); err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}

	want := []string{"pending->downloading", "downloading->failed", "failed->pending"}
	got := catalog.recordedTransitions()
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", got, want)
		}
	}
}

func TestSweepOnceNoStaleEntries(t *testing.T) {
	catalog := newFakeCatalog()
	ctx := context.Background()
	catalog.Create(ctx, &model.CatalogEntry{ExternalID: "activeactiveactiveac00", Status: model.StatusCompleted})

	r := NewReclaimer(catalog, nil, 30*time.Minute, time.Hour)
	reclaimed, err := r.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if reclaimed != 0 {
		t.Fatalf("reclaimed = %d, want 0", reclaimed)
	}
}
