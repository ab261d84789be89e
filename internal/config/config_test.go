package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	cfg := NewConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, 1, cfg.Version)

	assert.Equal(t, "ollama", cfg.Embeddings.Provider)
	assert.Equal(t, "nomic-embed-text", cfg.Embeddings.Model)
	assert.Equal(t, 768, cfg.Embeddings.Dimensions)
	assert.Equal(t, 32, cfg.Embeddings.BatchSize)

	assert.Equal(t, "qdrant", cfg.VectorStore.Backend)
	assert.True(t, cfg.VectorStore.HybridSearch)

	assert.True(t, cfg.Enrichment.GitChunkEnabled)
	assert.Equal(t, 12, cfg.Enrichment.GitChunkMaxAgeMonths)

	assert.Greater(t, cfg.Performance.FileProcessingConcurrency, 0)
	assert.Greater(t, cfg.Performance.ChunkerPoolSize, 0)
	assert.Less(t, cfg.Performance.LowWaterMark, cfg.Performance.HighWaterMark)

	assert.Contains(t, cfg.Paths.Exclude, "node_modules")
	assert.Contains(t, cfg.Paths.Exclude, ".git")
}

func TestConfig_Validate_RejectsUnknownEmbeddingsProvider(t *testing.T) {
	cfg := NewConfig()
	cfg.Embeddings.Provider = "bogus"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embeddings.provider")
}

func TestConfig_Validate_RejectsUnknownVectorStoreBackend(t *testing.T) {
	cfg := NewConfig()
	cfg.VectorStore.Backend = "pinecone"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vector_store.backend")
}

func TestConfig_Validate_RejectsWaterMarkInversion(t *testing.T) {
	cfg := NewConfig()
	cfg.Performance.LowWaterMark = cfg.Performance.HighWaterMark
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "low_water_mark")
}

func TestConfig_Validate_RejectsNonPositiveConcurrency(t *testing.T) {
	cfg := NewConfig()
	cfg.Performance.FileProcessingConcurrency = 0
	err := cfg.Validate()
	require.Error(t, err)
}

func TestLoad_AppliesProjectConfigOverDefaults(t *testing.T) {
	dir := t.TempDir()
	yamlContent := "embeddings:\n  provider: static\n  batch_size: 16\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".tearagsd.yaml"), []byte(yamlContent), 0644))

	t.Setenv("XDG_CONFIG_HOME", t.TempDir()) // no user config present

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "static", cfg.Embeddings.Provider)
	assert.Equal(t, 16, cfg.Embeddings.BatchSize)
	// Unrelated fields keep their defaults.
	assert.Equal(t, "qdrant", cfg.VectorStore.Backend)
}

func TestLoad_EnvOverridesBeatProjectConfig(t *testing.T) {
	dir := t.TempDir()
	yamlContent := "embeddings:\n  provider: static\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".tearagsd.yaml"), []byte(yamlContent), 0644))

	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("TEARAGSD_EMBEDDINGS_PROVIDER", "ollama")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "ollama", cfg.Embeddings.Provider)
}

func TestLoad_DebugEnvVarRaisesLogLevel(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("DEBUG", "1")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.True(t, cfg.Server.Debug)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
}

func TestFindProjectRoot_FindsGitDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0755))
	nested := filepath.Join(dir, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))

	root, err := FindProjectRoot(nested)
	require.NoError(t, err)
	assert.Equal(t, dir, root)
}

func TestFindProjectRoot_FindsMarkerFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".tearagsd.yaml"), []byte("version: 1\n"), 0644))

	root, err := FindProjectRoot(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, root)
}

func TestClampPercent(t *testing.T) {
	assert.Equal(t, 0.0, ClampPercent(-5))
	assert.Equal(t, 100.0, ClampPercent(150))
	assert.Equal(t, 42.5, ClampPercent(42.5))
}
