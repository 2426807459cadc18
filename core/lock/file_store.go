package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// fileStore implements Store with exclusive-create lock files. O_EXCL makes
// the create atomic on a local filesystem; stale files are cleaned by Sweep
// using the file mtime against the ttl.
type fileStore struct {
	dir string
	ttl time.Duration
}

// NewFileStore creates a lock-file store rooted at dir.
func NewFileStore(dir string, ttl time.Duration) (Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory %s: %w", dir, err)
	}
	return &fileStore{dir: dir, ttl: ttl}, nil
}

func (s *fileStore) path(key string) string {
	return filepath.Join(s.dir, key+".lock")
}

func (s *fileStore) TryCreate(_ context.Context, key string, ttl time.Duration) (bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(s.path(key), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			f.Close()
			return true, nil
		}
		if !os.IsExist(err) {
			return false, fmt.Errorf("failed to create lock file for %s: %w", key, err)
		}
		info, serr := os.Stat(s.path(key))
		if serr != nil {
			// Holder released between our create and stat; retry.
			continue
		}
		if time.Since(info.ModTime()) < ttl {
			return false, nil
		}
		// Stale lock from a crashed worker; remove and retry the create.
		os.Remove(s.path(key))
	}
	return false, nil
}

func (s *fileStore) Delete(_ context.Context, key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file for %s: %w", key, err)
	}
	return nil
}

// Sweep removes lock files older than the store ttl.
func (s *fileStore) Sweep(_ context.Context) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read lock directory: %w", err)
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".lock" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if time.Since(info.ModTime()) >= s.ttl {
			if os.Remove(filepath.Join(s.dir, e.Name())) == nil {
				removed++
			}
		}
	}
	return removed, nil
}
