package cache

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by backends when no entry exists for a key.
var ErrNotFound = errors.New("cache entry not found")

// Backend is durable keyed blob storage for cache entries.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Create stores data only when key is absent; created is false when it already existed.
	Create(ctx context.Context, key string, data []byte) (created bool, err error)
	Delete(ctx context.Context, key string) error
}

// FileBackend keeps one JSON file per key inside a directory.
type FileBackend struct {
	dir string
}

// NewFileBackend creates the directory if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create cache directory %s", dir)
	}
	return &FileBackend{dir: dir}, nil
}

// Dir returns the backing directory.
func (b *FileBackend) Dir() string {
	return b.dir
}

func (b *FileBackend) path(key string) (string, error) {
	if !validKey(key) {
		return "", errors.Errorf("invalid cache key %q", key)
	}
	return filepath.Join(b.dir, key+".json"), nil
}

// Get reads the entry for key.
func (b *FileBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := b.path(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "read cache entry %s", key)
	}
	return data, nil
}

// Create writes to a temp file and hard-links it into place so that
// concurrent writers never observe or produce a partial entry.
func (b *FileBackend) Create(ctx context.Context, key string, data []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	path, err := b.path(key)
	if err != nil {
		return false, err
	}

	tmp, err := os.CreateTemp(b.dir, ".entry-*.tmp")
	if err != nil {
		return false, errors.Wrap(err, "create temporary cache entry")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return false, errors.Wrap(err, "write temporary cache entry")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return false, errors.Wrap(err, "sync temporary cache entry")
	}
	if err := tmp.Close(); err != nil {
		return false, errors.Wrap(err, "close temporary cache entry")
	}

	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := os.Link(tmpPath, path); err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, errors.Wrapf(err, "publish cache entry %s", key)
	}
	return true, nil
}

// Delete removes the entry; a missing entry is not an error.
func (b *FileBackend) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := b.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrapf(err, "delete cache entry %s", key)
	}
	return nil
}

// validKey accepts lowercase hex only, which keeps keys path-safe.
func validKey(key string) bool {
	if key == "" || len(key) > 128 {
		return false
	}
	for _, r := range key {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
