// Package imagecache provides the flat on-disk byte cache for downloaded
// photos. Writes go to a temp file in the cache directory and are published
// with an atomic rename, so a partially-written image is never visible.
package imagecache

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Cache is a flat directory of image files keyed by sanitized cache keys.
type Cache struct {
	dir string
}

// New creates the cache directory if needed and returns a Cache.
func New(dir string) (*Cache, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache dir is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache dir %s: %w", dir, err)
	}
	return &Cache{dir: dir}, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string {
	return c.dir
}

// Path returns the on-disk path for a key.
func (c *Cache) Path(key string) string {
	return filepath.Join(c.dir, sanitizeKey(key))
}

// Put writes content for key atomically and returns the published path and
// the number of bytes written.
func (c *Cache) Put(key string, body io.Reader) (string, int64, error) {
	path := c.Path(key)

	tmp, err := os.CreateTemp(c.dir, ".kioskframe-*.tmp")
	if err != nil {
		return "", 0, fmt.Errorf("create temp for %s: %w", key, err)
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, body)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", 0, fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", 0, fmt.Errorf("close temp for %s: %w", key, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", 0, fmt.Errorf("rename temp to %s: %w", key, err)
	}

	return path, n, nil
}

// Open opens the cached file for key.
func (c *Cache) Open(key string) (io.ReadCloser, int64, error) {
	path := c.Path(key)
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open %s: %w", key, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat %s: %w", key, err)
	}
	return f, info.Size(), nil
}

// Exists checks whether bytes for key are present on disk.
func (c *Cache) Exists(key string) bool {
	_, err := os.Stat(c.Path(key))
	return err == nil
}

// Remove deletes the cached file for key, if present.
func (c *Cache) Remove(key string) error {
	err := os.Remove(c.Path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// sanitizeKey flattens a key into a safe single filename. External ids from
// the S3 source may contain slashes.
func sanitizeKey(key string) string {
	key = strings.ReplaceAll(key, "/", "_")
	key = strings.ReplaceAll(key, string(filepath.Separator), "_")
	if key == "" || key == "." || key == ".." {
		return "_"
	}
	return key
}
