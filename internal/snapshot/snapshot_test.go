package snapshot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShardedSnapshotSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewShardedSnapshot(dir, "coll1", 4)

	fileMap := FileMap{
		"a.go":        {ModTime: time.Now(), Size: 10, Hash: "hash-a"},
		"b/c.go":      {ModTime: time.Now(), Size: 20, Hash: "hash-c"},
		"日本語/d.go":    {ModTime: time.Now(), Size: 30, Hash: "hash-d"},
	}

	require.NoError(t, s.Save(fileMap))
	assert.True(t, s.Exists())

	loaded, err := s.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	assert.Equal(t, "hash-a", loaded["a.go"].Hash)
	assert.Equal(t, int64(20), loaded["b/c.go"].Size)
	assert.Equal(t, "hash-d", loaded["日本語/d.go"].Hash)
}

func TestShardedSnapshotExistsFalseInitially(t *testing.T) {
	dir := t.TempDir()
	s := NewShardedSnapshot(dir, "coll1", 4)
	assert.False(t, s.Exists())
}

func TestShardedSnapshotDelete(t *testing.T) {
	dir := t.TempDir()
	s := NewShardedSnapshot(dir, "coll1", 4)
	require.NoError(t, s.Save(FileMap{"a.go": {Size: 1, Hash: "h"}}))
	require.True(t, s.Exists())

	require.NoError(t, s.Delete())
	assert.False(t, s.Exists())
}

func TestShardedSnapshotLoadEmptyWhenMissing(t *testing.T) {
	dir := t.TempDir()
	s := NewShardedSnapshot(dir, "coll1", 4)
	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, loaded)
}
