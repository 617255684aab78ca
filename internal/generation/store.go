package generation

import "context"

// MediaStore persists finished media and turns it into servable URLs.
// It is an external collaborator; implementations own their directory and
// storage lifecycle.
type MediaStore interface {
	// SaveImage persists decoded image bytes under the unit id and returns
	// a servable URL. final selects the stored format.
	SaveImage(ctx context.Context, unitID string, data []byte, final bool) (string, error)

	// SaveVideo fetches the remote video and persists it, returning a
	// servable URL. token authenticates the fetch.
	SaveVideo(ctx context.Context, remoteURL, token string) (string, error)
}
