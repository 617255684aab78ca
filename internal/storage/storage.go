// Package storage persists generated media. It implements the store port
// used by the generation drivers with a local-disk backend and an S3
// backend for deployments that serve media from a bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/imnoob59/grokpi/internal/transport"
)

// Static errors for media persistence.
var (
	// ErrEmptyPayload is returned when an image arrives with no bytes.
	ErrEmptyPayload = errors.New("storage: empty media payload")
	// ErrFetchFailed is returned when a remote video could not be
	// downloaded.
	ErrFetchFailed = errors.New("storage: remote fetch failed")
)

// downloadTimeout bounds a single remote video download.
const downloadTimeout = 120 * time.Second

// fetchRemote downloads a generated video from the upstream CDN using the
// credential cookie pair. When the plain transport is rejected it retries
// once over the browser-fingerprint transport, since the CDN applies the
// same anti-bot layer as the API. The caller must close the returned body.
func fetchRemote(ctx context.Context, session *transport.SessionBuilder, remoteURL, token string) (io.ReadCloser, error) {
	body, err := fetchWith(ctx, session.HTTPClient(downloadTimeout), session, remoteURL, token)
	if err == nil {
		return body, nil
	}

	profile := transport.DefaultProfiles[0]
	body, ierr := fetchWith(ctx, session.ImpersonatingClient(profile, downloadTimeout), session, remoteURL, token)
	if ierr != nil {
		return nil, ierr
	}
	return body, nil
}

func fetchWith(ctx context.Context, client *http.Client, session *transport.SessionBuilder, remoteURL, token string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteURL, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: create fetch request: %w", err)
	}
	req.Header.Set("Cookie", session.CookieHeader(token))
	req.Header.Set("Accept", "*/*")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", ErrFetchFailed, resp.StatusCode)
	}
	return resp.Body, nil
}

// imageExt returns the stored extension for an image payload.
func imageExt(final bool) string {
	if final {
		return "jpg"
	}
	return "png"
}
