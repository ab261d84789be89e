package checkpoint

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, "coll1", discardLogger())

	require.NoError(t, s.Save([]string{"a.go", "b.go"}, 5, PhaseIndexing))

	cp, err := s.Load()
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, []string{"a.go", "b.go"}, cp.ProcessedFiles)
	assert.Equal(t, 5, cp.TotalFiles)
	assert.Equal(t, PhaseIndexing, cp.Phase)
}

func TestLoadMissingReturnsNil(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, "coll1", discardLogger())

	cp, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestLoadCorruptReturnsNil(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, "coll1", discardLogger())
	require.NoError(t, writeFile(filepath.Join(dir, "coll1.checkpoint.json"), []byte("{not json")))

	cp, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestLoadStaleReturnsNilAndDeletes(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, "coll1", discardLogger())
	require.NoError(t, s.Save([]string{"a.go"}, 1, PhaseIndexing))

	// backdate the timestamp past MaxAge
	old := &Checkpoint{ProcessedFiles: []string{"a.go"}, TotalFiles: 1, Timestamp: time.Now().Add(-25 * time.Hour), Phase: PhaseIndexing}
	require.NoError(t, writeJSON(filepath.Join(dir, "coll1.checkpoint.json"), old))

	cp, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, cp)

	// file should now be gone
	_, err = s.Load()
	require.NoError(t, err)
}

func TestFilterProcessedPreservesOrder(t *testing.T) {
	cp := &Checkpoint{ProcessedFiles: []string{"b.go"}}
	result := FilterProcessed([]string{"a.go", "b.go", "c.go"}, cp)
	assert.Equal(t, []string{"a.go", "c.go"}, result)
}

func TestFilterProcessedNilCheckpoint(t *testing.T) {
	result := FilterProcessed([]string{"a.go", "b.go"}, nil)
	assert.Equal(t, []string{"a.go", "b.go"}, result)
}

func TestFilterProcessedToleratesDeletedFiles(t *testing.T) {
	cp := &Checkpoint{ProcessedFiles: []string{"deleted.go", "b.go"}}
	result := FilterProcessed([]string{"a.go", "b.go"}, cp)
	assert.Equal(t, []string{"a.go"}, result)
}

func writeFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}

func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
