// Package local archives raw pages on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config captures the parameters for the local filesystem blob store.
type Config struct {
	// Dir is the root directory archived pages are written under.
	Dir string
}

// BlobStore writes artifacts to the local filesystem.
type BlobStore struct {
	dir string
}

// New creates the archive directory if needed and checks it is writable.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, errors.New("archive directory is required")
	}
	info, err := os.Stat(cfg.Dir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.Dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create archive directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat archive directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("archive path %q is not a directory", cfg.Dir)
	}

	marker := filepath.Join(cfg.Dir, ".writable")
	if err := os.WriteFile(marker, nil, 0o600); err != nil {
		return nil, fmt.Errorf("archive directory is not writable: %w", err)
	}
	if err := os.Remove(marker); err != nil {
		return nil, fmt.Errorf("remove write marker: %w", err)
	}
	return &BlobStore{dir: filepath.Clean(cfg.Dir)}, nil
}

// PutObject writes data under the archive directory and returns a file:// URI.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, data []byte) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("path is required")
	}
	fullPath := filepath.Clean(filepath.Join(s.dir, path))
	if !strings.HasPrefix(fullPath, s.dir+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes archive directory", path)
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("create parent directories: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o600); err != nil {
		return "", fmt.Errorf("write archive file: %w", err)
	}
	return "file://" + fullPath, nil
}
