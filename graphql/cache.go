package graphql

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/kili-technology/kili-python-sdk-sub002/errors"
)

// Cache maps (endpoint host, backend build version) to a schema document on
// disk. Entries are created lazily on first successful introspection and
// invalidated wholesale when a stale-schema condition is detected.
type Cache struct {
	root   string
	logger *slog.Logger
}

// NewCache creates a cache rooted at dir. An empty dir selects the per-user
// default under the OS cache directory.
func NewCache(dir string, logger *slog.Logger) (*Cache, error) {
	if dir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return nil, errors.Wrap(err, "Cache", "NewCache", "resolve user cache dir")
		}
		dir = filepath.Join(base, "kili", "graphql_schema")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{root: dir, logger: logger.With("component", "schema-cache")}, nil
}

// Root returns the cache root directory.
func (c *Cache) Root() string {
	return c.root
}

// Path returns the deterministic cache file path for a (host, version) pair.
func (c *Cache) Path(host, version string) string {
	name := fmt.Sprintf("%s_%s.graphql", sanitize(host), sanitize(version))
	return filepath.Join(c.root, name)
}

// Load returns the cached schema document for (host, version). A missing or
// empty file is reported as not cached, never as an error.
func (c *Cache) Load(host, version string) (sdl string, ok bool) {
	path := c.Path(host, version)
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return "", false
	}
	return string(data), true
}

// Store writes the schema document for (host, version), replacing any
// previous content atomically so concurrent readers never see a torn file.
func (c *Cache) Store(host, version, sdl string) error {
	if err := os.MkdirAll(c.root, 0o755); err != nil {
		return errors.Wrap(err, "Cache", "Store", "create cache root")
	}

	path := c.Path(host, version)
	tmp, err := os.CreateTemp(c.root, ".schema-*")
	if err != nil {
		return errors.Wrap(err, "Cache", "Store", "create temp file")
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(sdl); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "Cache", "Store", "write schema document")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "Cache", "Store", "close temp file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "Cache", "Store", "replace cache entry")
	}

	c.logger.Debug("schema cached", "path", path)
	return nil
}

// PurgeHost removes every cache entry belonging to a host, regardless of
// version. Used when a new backend version is discovered so older entries
// for the same endpoint do not accumulate.
func (c *Cache) PurgeHost(host string) {
	prefix := sanitize(host) + "_"
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			_ = os.Remove(filepath.Join(c.root, e.Name()))
		}
	}
}

// Invalidate deletes every file in the cache directory. A stale-schema
// condition invalidates the whole directory, not just the offending entry.
func (c *Cache) Invalidate() {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			_ = os.Remove(filepath.Join(c.root, e.Name()))
		}
	}
	c.logger.Debug("schema cache invalidated", "root", c.root)
}

// sanitize turns a host or version into a safe file name fragment.
func sanitize(s string) string {
	replacer := strings.NewReplacer(
		":", "_",
		"/", "_",
		"\\", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
	)
	return replacer.Replace(s)
}
