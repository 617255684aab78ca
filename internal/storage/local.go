package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/imnoob59/grokpi/internal/transport"
)

// LocalStore writes media to local disk under a base directory with
// images/ and videos/ subdirectories, and returns URLs beneath a public
// base URL. With an empty base URL the returned URLs are server-relative.
type LocalStore struct {
	dir     string
	baseURL string
	session *transport.SessionBuilder
	logger  *slog.Logger
}

// NewLocalStore creates a LocalStore rooted at dir, creating the media
// subdirectories. If dir is empty a directory under os.TempDir() is used.
func NewLocalStore(dir, baseURL string, session *transport.SessionBuilder, logger *slog.Logger) (*LocalStore, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "grokpi")
	}
	if logger == nil {
		logger = slog.Default()
	}

	for _, sub := range []string{"images", "videos"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0750); err != nil {
			return nil, fmt.Errorf("storage: create media directory: %w", err)
		}
	}

	return &LocalStore{
		dir:     dir,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		session: session,
		logger:  logger,
	}, nil
}

// Dir returns the base directory media is written under.
func (s *LocalStore) Dir() string {
	return s.dir
}

// SaveImage writes one image payload and returns its servable URL.
func (s *LocalStore) SaveImage(ctx context.Context, unitID string, data []byte, final bool) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("storage: save image: %w", err)
	}
	if len(data) == 0 {
		return "", ErrEmptyPayload
	}

	name := fmt.Sprintf("%s-%s.%s", unitID, uuid.NewString()[:8], imageExt(final))
	path := filepath.Join(s.dir, "images", name)
	if err := os.WriteFile(path, data, 0640); err != nil {
		return "", fmt.Errorf("storage: write image: %w", err)
	}

	return s.mediaURL("images", name), nil
}

// SaveVideo downloads a generated video from the upstream CDN and returns
// its servable URL.
func (s *LocalStore) SaveVideo(ctx context.Context, remoteURL, token string) (string, error) {
	body, err := fetchRemote(ctx, s.session, remoteURL, token)
	if err != nil {
		return "", err
	}
	defer body.Close()

	name := uuid.NewString() + ".mp4"
	path := filepath.Join(s.dir, "videos", name)

	f, err := os.Create(path) // #nosec G304 - path is built from a fresh uuid
	if err != nil {
		return "", fmt.Errorf("storage: create video file: %w", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("storage: write video: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("storage: close video file: %w", err)
	}

	s.logger.Info("video stored",
		slog.String("file", name),
	)
	return s.mediaURL("videos", name), nil
}

func (s *LocalStore) mediaURL(kind, name string) string {
	return fmt.Sprintf("%s/files/%s/%s", s.baseURL, kind, name)
}
