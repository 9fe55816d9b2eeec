package graphql

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := NewCache(t.TempDir(), testLogger())
	require.NoError(t, err)
	return c
}

func TestCacheStoreLoadRoundtrip(t *testing.T) {
	c := newTestCache(t)

	_, ok := c.Load("host.example", "1.0.0")
	assert.False(t, ok)

	require.NoError(t, c.Store("host.example", "1.0.0", "type Query { ok: Boolean }"))

	sdl, ok := c.Load("host.example", "1.0.0")
	require.True(t, ok)
	assert.Equal(t, "type Query { ok: Boolean }", sdl)
}

func TestCacheEmptyFileIsAMiss(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, os.MkdirAll(c.Root(), 0o755))
	require.NoError(t, os.WriteFile(c.Path("host.example", "1.0.0"), nil, 0o644))

	_, ok := c.Load("host.example", "1.0.0")
	assert.False(t, ok)
}

func TestCacheStoreReplacesExistingEntry(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Store("host.example", "1.0.0", "old"))
	require.NoError(t, c.Store("host.example", "1.0.0", "new"))

	sdl, ok := c.Load("host.example", "1.0.0")
	require.True(t, ok)
	assert.Equal(t, "new", sdl)

	// No temp file debris left behind.
	entries, err := os.ReadDir(c.Root())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCachePurgeHostRemovesOnlyThatHost(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Store("host-a.example", "1.0.0", "a1"))
	require.NoError(t, c.Store("host-a.example", "2.0.0", "a2"))
	require.NoError(t, c.Store("host-b.example", "1.0.0", "b1"))

	c.PurgeHost("host-a.example")

	_, ok := c.Load("host-a.example", "1.0.0")
	assert.False(t, ok)
	_, ok = c.Load("host-a.example", "2.0.0")
	assert.False(t, ok)
	sdl, ok := c.Load("host-b.example", "1.0.0")
	require.True(t, ok)
	assert.Equal(t, "b1", sdl)
}

func TestCacheInvalidateRemovesEverything(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Store("host-a.example", "1.0.0", "a"))
	require.NoError(t, c.Store("host-b.example", "1.0.0", "b"))

	c.Invalidate()

	entries, err := os.ReadDir(c.Root())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCachePathSanitizesHostAndVersion(t *testing.T) {
	c := newTestCache(t)
	path := c.Path("host.example:8443", "1.0/beta")

	name := filepath.Base(path)
	assert.Equal(t, "host.example_8443_1.0_beta.graphql", name)
	assert.NotContains(t, name, ":")
	assert.NotContains(t, name, "/")
}

func TestNewCacheDefaultsToUserCacheDir(t *testing.T) {
	c, err := NewCache("", testLogger())
	require.NoError(t, err)

	base, err := os.UserCacheDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "kili", "graphql_schema"), c.Root())
}
