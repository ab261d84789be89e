package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindProjectRoot_NonExistentDir_ReturnsAbsPath(t *testing.T) {
	nonExistent := "/nonexistent/path/that/does/not/exist"
	root, err := FindProjectRoot(nonExistent)
	require.NoError(t, err)
	assert.Equal(t, nonExistent, root)
}

func TestLoad_MalformedYAML_ReturnsError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".tearagsd.yaml"), []byte("embeddings: [unterminated"), 0644))
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	_, err := Load(dir)
	require.Error(t, err)
}

func TestLoad_NoProjectConfig_UsesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, NewConfig().Embeddings.Provider, cfg.Embeddings.Provider)
}

func TestLoad_InvalidEnvValuesAreIgnored(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("FILE_PROCESSING_CONCURRENCY", "not-a-number")
	t.Setenv("GIT_CHUNK_CONCURRENCY", "-3")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, NewConfig().Performance.FileProcessingConcurrency, cfg.Performance.FileProcessingConcurrency)
	assert.Equal(t, NewConfig().Enrichment.GitChunkConcurrency, cfg.Enrichment.GitChunkConcurrency)
}

func TestMergeWith_ExcludePatternsAppendRatherThanReplace(t *testing.T) {
	cfg := NewConfig()
	baseLen := len(cfg.Paths.Exclude)

	other := &Config{Paths: PathsConfig{Exclude: []string{"my_custom_dir"}}}
	cfg.mergeWith(other)

	assert.Len(t, cfg.Paths.Exclude, baseLen+1)
	assert.Contains(t, cfg.Paths.Exclude, "my_custom_dir")
	assert.Contains(t, cfg.Paths.Exclude, "node_modules")
}

func TestMergeWith_ZeroValuesDoNotOverwriteDefaults(t *testing.T) {
	cfg := NewConfig()
	originalBatchSize := cfg.Embeddings.BatchSize

	other := &Config{} // all zero values
	cfg.mergeWith(other)

	assert.Equal(t, originalBatchSize, cfg.Embeddings.BatchSize)
}

func TestGetUserConfigDir_HonorsXDGConfigHome(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	dir, err := GetUserConfigDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(xdg, "tearagsd"), dir)
}
