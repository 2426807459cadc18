package model

import "time"

// DownloadStatus is the closed set of acquisition states for a catalog entry.
type DownloadStatus string

const (
	StatusPending     DownloadStatus = "pending"
	StatusDownloading DownloadStatus = "downloading"
	StatusCompleted   DownloadStatus = "completed"
	StatusFailed      DownloadStatus = "failed"
)

// Valid reports whether s is a known status value.
func (s DownloadStatus) Valid() bool {
	switch s {
	case StatusPending, StatusDownloading, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s is an end state of the download state machine.
func (s DownloadStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether s -> to is a legal state machine move.
// Legal moves: pending->downloading, downloading->completed,
// downloading->failed, failed->pending (retry or reclaim only).
// A same-state write is allowed as a timestamp refresh, not a transition.
func (s DownloadStatus) CanTransitionTo(to DownloadStatus) bool {
	if s == to {
		return true
	}
	switch s {
	case StatusPending:
		return to == StatusDownloading
	case StatusDownloading:
		return to == StatusCompleted || to == StatusFailed
	case StatusFailed:
		return to == StatusPending
	}
	return false
}

// CatalogEntry is the single source of truth for a track's acquisition state.
// Exactly one entry exists per external id.
type CatalogEntry struct {
	ExternalID      string         `json:"externalId"`
	Title           string         `json:"title"`
	Artist          string         `json:"artist"`
	Album           string         `json:"album"`
	Duration        int            `json:"duration"` // seconds
	Status          DownloadStatus `json:"status"`
	StorageLocation string         `json:"storageLocation,omitempty"`
	FileSize        int64          `json:"fileSize,omitempty"`
	OriginURL       string         `json:"originUrl,omitempty"`
	DownloadCount   int64          `json:"downloadCount"`
	RequestedBy     int64          `json:"requestedBy"`
	FailureReason   string         `json:"failureReason,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
	CompletedAt     *time.Time     `json:"completedAt,omitempty"`
	LastServedAt    *time.Time     `json:"lastServedAt,omitempty"`
}
