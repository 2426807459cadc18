package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"echofm/errs"
	"echofm/logger"
)

// localStore keeps tracks on the local filesystem under
// <root>/<shard>/<external_id>.mp3. The staging directory must live on the
// same filesystem as the root so the promote is a single rename.
type localStore struct {
	root    string
	staging string
}

// NewLocalStore creates a filesystem track store.
func NewLocalStore(root, staging string) (TrackStore, error) {
	for _, dir := range []string{root, staging} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory %s: %w", dir, err)
		}
	}
	return &localStore{root: root, staging: staging}, nil
}

func (s *localStore) finalPath(externalID string) string {
	return filepath.Join(s.root, Shard(externalID), externalID+".mp3")
}

func (s *localStore) Save(ctx context.Context, externalID string, media io.Reader) (string, int64, error) {
	tmp, err := os.CreateTemp(s.staging, externalID+"-*.part")
	if err != nil {
		return "", 0, errs.Wrap(errs.ErrStorage, "failed to create staging file: %v", err)
	}
	stagingPath := tmp.Name()
	defer os.Remove(stagingPath)

	size, err := io.Copy(tmp, media)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", 0, errs.Wrap(errs.ErrStorage, "failed to stage media for %s: %v", externalID, err)
	}
	if ctx.Err() != nil {
		return "", 0, ctx.Err()
	}

	final := s.finalPath(externalID)
	if err := os.MkdirAll(filepath.Dir(final), 0755); err != nil {
		return "", 0, errs.Wrap(errs.ErrStorage, "failed to create shard directory: %v", err)
	}
	if err := os.Rename(stagingPath, final); err != nil {
		return "", 0, errs.Wrap(errs.ErrStorage, "failed to promote %s into storage: %v", externalID, err)
	}

	logger.Info("Track stored",
		logger.String("externalId", externalID),
		logger.String("location", final),
		logger.Int64("bytes", size))
	return final, size, nil
}
