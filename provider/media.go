package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"echofm/errs"

	"golang.org/x/time/rate"
)

// MediaSource locates a playable origin for a track and fetches its media.
type MediaSource interface {
	Resolve(ctx context.Context, title, artist string) (string, error)
	Fetch(ctx context.Context, originURL string) (io.ReadCloser, error)
}

// MediaClient talks to the media source's HTTP API. Fetches are paced by a
// shared limiter so a burst of acquisitions cannot hammer the origin.
type MediaClient struct {
	baseURL     string
	httpClient  *http.Client
	fetchClient *http.Client
	limiter     *rate.Limiter
}

// NewMediaClient creates a media client. fetchRate throttles media fetches
// per second; zero disables pacing.
func NewMediaClient(baseURL string, timeout time.Duration, fetchRate float64) *MediaClient {
	var limiter *rate.Limiter
	if fetchRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(fetchRate), 1)
	}
	return &MediaClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		// Media bodies are large and streamed; the per-call context bounds
		// the fetch instead of a client-wide timeout.
		fetchClient: &http.Client{},
		limiter:     limiter,
	}
}

// resolveResponse is the media source's wire format for a located origin.
type resolveResponse struct {
	URL string `json:"url"`
}

// Resolve finds a playable origin for title+artist. No match is terminal
// (ErrTrackNotFound), everything else transient.
func (c *MediaClient) Resolve(ctx context.Context, title, artist string) (string, error) {
	query := url.Values{}
	query.Set("q", fmt.Sprintf("%s - %s", artist, title))
	reqURL := fmt.Sprintf("%s/api/resolve?%s", c.baseURL, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build resolve request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errs.Wrap(errs.ErrProviderUnavailable, "media resolve for %q: %v", title, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", errs.Wrap(errs.ErrTrackNotFound, "no playable origin for %q by %q", title, artist)
	case resp.StatusCode != http.StatusOK:
		return "", errs.Wrap(errs.ErrProviderUnavailable, "media resolve for %q: status %d", title, resp.StatusCode)
	}

	var rr resolveResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return "", errs.Wrap(errs.ErrProviderUnavailable, "media resolve decode: %v", err)
	}
	if rr.URL == "" {
		return "", errs.Wrap(errs.ErrTrackNotFound, "no playable origin for %q by %q", title, artist)
	}
	return rr.URL, nil
}

// Fetch streams the media at originURL. The caller owns the returned body.
func (c *MediaClient) Fetch(ctx context.Context, originURL string) (io.ReadCloser, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, originURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build fetch request: %w", err)
	}

	resp, err := c.fetchClient.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.ErrProviderUnavailable, "media fetch: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errs.Wrap(errs.ErrProviderUnavailable, "media fetch: status %d", resp.StatusCode)
	}
	return resp.Body, nil
}
