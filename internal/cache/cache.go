// Package cache keeps the latest volume snapshot between refreshes.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/amirphl/depth-analytics/internal/volume"
)

// Cache stores one volume snapshot. Load returns nil, nil on a miss.
type Cache interface {
	Load(ctx context.Context) (*volume.Snapshot, error)
	Save(ctx context.Context, s volume.Snapshot) error
	Close() error
}

// DefaultFile is the cache file used when none is configured.
const DefaultFile = "volume_data_cache.json"

// File is a JSON file cache. Writes go through a temp file and a rename so
// readers never see a partial snapshot.
type File struct {
	mu   sync.Mutex
	path string
}

func NewFile(path string) *File {
	if path == "" {
		path = DefaultFile
	}
	return &File{path: path}
}

func (f *File) Path() string {
	return f.path
}

func (f *File) Load(ctx context.Context) (*volume.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}

	var s volume.Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode cache file: %w", err)
	}
	return &s, nil
}

func (f *File) Save(ctx context.Context, s volume.Snapshot) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create cache file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace cache file: %w", err)
	}
	return nil
}

func (f *File) Close() error {
	return nil
}
