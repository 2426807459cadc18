// Package provider holds the HTTP clients for the two external collaborators:
// the metadata provider (canonical track facts by external id) and the media
// source (locating and fetching a playable origin).
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"echofm/errs"
	"echofm/model"
)

// MetadataProvider answers canonical track facts for an external id.
type MetadataProvider interface {
	GetTrack(ctx context.Context, externalID string) (*model.TrackReference, error)
}

// MetadataClient talks to the metadata provider's HTTP API.
type MetadataClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewMetadataClient creates a metadata client for the given base URL.
func NewMetadataClient(baseURL string, timeout time.Duration) *MetadataClient {
	return &MetadataClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// trackResponse is the provider's wire format.
type trackResponse struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	Album      string `json:"album"`
	DurationMS int    `json:"durationMs"`
}

// GetTrack looks up a track by external id. A definitive 404 is terminal
// (ErrTrackNotFound); transport errors and 5xx answers are transient
// (ErrProviderUnavailable).
func (c *MetadataClient) GetTrack(ctx context.Context, externalID string) (*model.TrackReference, error) {
	url := fmt.Sprintf("%s/api/tracks/%s", c.baseURL, externalID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build metadata request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.ErrProviderUnavailable, "metadata lookup for %s: %v", externalID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errs.Wrap(errs.ErrTrackNotFound, "metadata provider has no track %s", externalID)
	case resp.StatusCode != http.StatusOK:
		return nil, errs.Wrap(errs.ErrProviderUnavailable, "metadata lookup for %s: status %d", externalID, resp.StatusCode)
	}

	var tr trackResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, errs.Wrap(errs.ErrProviderUnavailable, "metadata decode for %s: %v", externalID, err)
	}

	return &model.TrackReference{
		ExternalID: externalID,
		Title:      tr.Title,
		Artist:     tr.Artist,
		Album:      tr.Album,
		Duration:   tr.DurationMS / 1000,
	}, nil
}
