// Package config provides layered configuration for tearagsd: built-in
// defaults, a user config file, a project config file, and environment
// variable overrides, in that precedence order.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for an indexing run.
type Config struct {
	Version     int               `yaml:"version"`
	Paths       PathsConfig       `yaml:"paths"`
	Embeddings  EmbeddingsConfig  `yaml:"embeddings"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Enrichment  EnrichmentConfig  `yaml:"enrichment"`
	Performance PerformanceConfig `yaml:"performance"`
	Server      ServerConfig      `yaml:"server"`
}

// PathsConfig controls which files the scanner visits.
type PathsConfig struct {
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
}

// EmbeddingsConfig configures the embedding provider collaborator.
type EmbeddingsConfig struct {
	Provider   string `yaml:"provider"` // "ollama" or "static"
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	BatchSize  int    `yaml:"batch_size"`
	OllamaHost string `yaml:"ollama_host"`
	CacheSize  int    `yaml:"cache_size"`
}

// VectorStoreConfig configures the vector store collaborator.
type VectorStoreConfig struct {
	Backend        string `yaml:"backend"` // "qdrant" or "memory"
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	CollectionName string `yaml:"collection_name"` // empty: derive from codebase path
	HybridSearch   bool   `yaml:"hybrid_search"`
}

// EnrichmentConfig controls the git-log enrichment pass.
type EnrichmentConfig struct {
	GitChunkEnabled      bool   `yaml:"git_chunk_enabled"`
	GitChunkConcurrency  int    `yaml:"git_chunk_concurrency"`
	GitChunkMaxAgeMonths int    `yaml:"git_chunk_max_age_months"`
	GitBackfillTimeout   string `yaml:"git_backfill_timeout"` // duration string, e.g. "30s"
}

// PerformanceConfig tunes the scan/chunk/embed pipeline's concurrency
// and batching knobs.
type PerformanceConfig struct {
	FileProcessingConcurrency int    `yaml:"file_processing_concurrency"`
	ChunkerPoolSize           int    `yaml:"chunker_pool_size"`
	MaxFiles                  int    `yaml:"max_files"`
	MaxChunksPerFile          int    `yaml:"max_chunks_per_file"`
	MaxTotalChunks            int    `yaml:"max_total_chunks"`
	BatchSize                 int    `yaml:"batch_size"`
	FlushTimeout              string `yaml:"flush_timeout"`
	HighWaterMark             int    `yaml:"high_water_mark"`
	LowWaterMark              int    `yaml:"low_water_mark"`
}

// ServerConfig controls ambient logging/debug behavior.
type ServerConfig struct {
	LogLevel string `yaml:"log_level"`
	Debug    bool   `yaml:"debug"`
}

var defaultExcludePatterns = []string{
	".git", "node_modules", "vendor", "dist", "build", ".next",
	"__pycache__", ".venv", "venv", "target", ".idea", ".vscode",
}

// NewConfig returns a Config populated with built-in defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			Include: []string{"**/*"},
			Exclude: append([]string{}, defaultExcludePatterns...),
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "ollama",
			Model:      "nomic-embed-text",
			Dimensions: 768,
			BatchSize:  32,
			OllamaHost: "http://localhost:11434",
			CacheSize:  4096,
		},
		VectorStore: VectorStoreConfig{
			Backend:      "qdrant",
			Host:         "localhost",
			Port:         6334,
			HybridSearch: true,
		},
		Enrichment: EnrichmentConfig{
			GitChunkEnabled:      true,
			GitChunkConcurrency:  4,
			GitChunkMaxAgeMonths: 12,
			GitBackfillTimeout:   "30s",
		},
		Performance: PerformanceConfig{
			FileProcessingConcurrency: 8,
			ChunkerPoolSize:           4,
			MaxFiles:                  0, // 0 = unbounded
			MaxChunksPerFile:          500,
			MaxTotalChunks:            0,
			BatchSize:                 64,
			FlushTimeout:              "2s",
			HighWaterMark:             2000,
			LowWaterMark:              500,
		},
		Server: ServerConfig{
			LogLevel: "info",
			Debug:    false,
		},
	}
}

// GetUserConfigDir returns the directory holding tearagsd's user-level
// configuration, honoring XDG_CONFIG_HOME when set.
func GetUserConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "tearagsd"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", "tearagsd"), nil
}

// GetUserConfigPath returns the path to the user-level config.yaml file.
func GetUserConfigPath() (string, error) {
	dir, err := GetUserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// UserConfigExists reports whether the user-level config file exists.
func UserConfigExists() bool {
	path, err := GetUserConfigPath()
	if err != nil {
		return false
	}
	return fileExists(path)
}

// loadUserConfig loads the user-level config file, if present.
// Returns nil, nil if the file does not exist.
func loadUserConfig() (*Config, error) {
	path, err := GetUserConfigPath()
	if err != nil {
		return nil, err
	}
	if !fileExists(path) {
		return nil, nil
	}
	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	}
	return cfg, nil
}

// Load builds the effective configuration for a codebase directory:
// defaults, then the user config, then a project-level .tearagsd.yaml,
// then environment variable overrides. It validates the result before
// returning.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if user, err := loadUserConfig(); err != nil {
		return nil, err
	} else if user != nil {
		cfg.mergeWith(user)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFromFile looks for a project-level .tearagsd.yaml or .tearagsd.yml
// in dir and merges it in, if present.
func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{".tearagsd.yaml", ".tearagsd.yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return c.loadYAML(path)
		}
	}
	return nil
}

// loadYAML parses the YAML file at path and merges non-zero values
// into c.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if len(other.Paths.Include) > 0 {
		c.Paths.Include = other.Paths.Include
	}
	if len(other.Paths.Exclude) > 0 {
		c.Paths.Exclude = append(c.Paths.Exclude, other.Paths.Exclude...)
	}

	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.OllamaHost != "" {
		c.Embeddings.OllamaHost = other.Embeddings.OllamaHost
	}
	if other.Embeddings.CacheSize != 0 {
		c.Embeddings.CacheSize = other.Embeddings.CacheSize
	}

	if other.VectorStore.Backend != "" {
		c.VectorStore.Backend = other.VectorStore.Backend
	}
	if other.VectorStore.Host != "" {
		c.VectorStore.Host = other.VectorStore.Host
	}
	if other.VectorStore.Port != 0 {
		c.VectorStore.Port = other.VectorStore.Port
	}
	if other.VectorStore.CollectionName != "" {
		c.VectorStore.CollectionName = other.VectorStore.CollectionName
	}

	if other.Enrichment.GitChunkConcurrency != 0 {
		c.Enrichment.GitChunkConcurrency = other.Enrichment.GitChunkConcurrency
	}
	if other.Enrichment.GitChunkMaxAgeMonths != 0 {
		c.Enrichment.GitChunkMaxAgeMonths = other.Enrichment.GitChunkMaxAgeMonths
	}
	if other.Enrichment.GitBackfillTimeout != "" {
		c.Enrichment.GitBackfillTimeout = other.Enrichment.GitBackfillTimeout
	}

	if other.Performance.FileProcessingConcurrency != 0 {
		c.Performance.FileProcessingConcurrency = other.Performance.FileProcessingConcurrency
	}
	if other.Performance.ChunkerPoolSize != 0 {
		c.Performance.ChunkerPoolSize = other.Performance.ChunkerPoolSize
	}
	if other.Performance.MaxFiles != 0 {
		c.Performance.MaxFiles = other.Performance.MaxFiles
	}
	if other.Performance.MaxChunksPerFile != 0 {
		c.Performance.MaxChunksPerFile = other.Performance.MaxChunksPerFile
	}
	if other.Performance.MaxTotalChunks != 0 {
		c.Performance.MaxTotalChunks = other.Performance.MaxTotalChunks
	}
	if other.Performance.BatchSize != 0 {
		c.Performance.BatchSize = other.Performance.BatchSize
	}
	if other.Performance.FlushTimeout != "" {
		c.Performance.FlushTimeout = other.Performance.FlushTimeout
	}
	if other.Performance.HighWaterMark != 0 {
		c.Performance.HighWaterMark = other.Performance.HighWaterMark
	}
	if other.Performance.LowWaterMark != 0 {
		c.Performance.LowWaterMark = other.Performance.LowWaterMark
	}

	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
	if other.Server.Debug {
		c.Server.Debug = other.Server.Debug
	}
}

// applyEnvOverrides applies the environment variable overrides named in
// SPEC_FULL.md's ambient-configuration section.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("FILE_PROCESSING_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Performance.FileProcessingConcurrency = n
		}
	}
	if v := os.Getenv("CHUNKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Performance.ChunkerPoolSize = n
		}
	}
	if v := os.Getenv("GIT_CHUNK_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Enrichment.GitChunkConcurrency = n
		}
	}
	if v := os.Getenv("GIT_CHUNK_MAX_AGE_MONTHS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Enrichment.GitChunkMaxAgeMonths = n
		}
	}
	if v := os.Getenv("GIT_CHUNK_ENABLED"); v != "" {
		c.Enrichment.GitChunkEnabled = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("GIT_BACKFILL_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			c.Enrichment.GitBackfillTimeout = fmt.Sprintf("%dms", ms)
		}
	}
	if v := os.Getenv("TEARAGSD_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("TEARAGSD_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("TEARAGSD_VECTOR_STORE_HOST"); v != "" {
		c.VectorStore.Host = v
	}
	if v := os.Getenv("DEBUG"); v != "" {
		c.Server.Debug = strings.ToLower(v) == "true" || v == "1"
		if c.Server.Debug {
			c.Server.LogLevel = "debug"
		}
	}
}

// Validate checks the configuration for internally inconsistent values.
func (c *Config) Validate() error {
	validProviders := map[string]bool{"ollama": true, "static": true}
	if !validProviders[strings.ToLower(c.Embeddings.Provider)] {
		return fmt.Errorf("embeddings.provider must be 'ollama' or 'static', got %q", c.Embeddings.Provider)
	}

	validBackends := map[string]bool{"qdrant": true, "memory": true}
	if !validBackends[strings.ToLower(c.VectorStore.Backend)] {
		return fmt.Errorf("vector_store.backend must be 'qdrant' or 'memory', got %q", c.VectorStore.Backend)
	}

	if c.Performance.FileProcessingConcurrency <= 0 {
		return fmt.Errorf("performance.file_processing_concurrency must be positive, got %d", c.Performance.FileProcessingConcurrency)
	}
	if c.Performance.ChunkerPoolSize <= 0 {
		return fmt.Errorf("performance.chunker_pool_size must be positive, got %d", c.Performance.ChunkerPoolSize)
	}
	if c.Performance.HighWaterMark > 0 && c.Performance.LowWaterMark >= c.Performance.HighWaterMark {
		return fmt.Errorf("performance.low_water_mark (%d) must be less than high_water_mark (%d)",
			c.Performance.LowWaterMark, c.Performance.HighWaterMark)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %q", c.Server.LogLevel)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// LoadUserConfig loads the user-level config file directly.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

// FindProjectRoot walks up from startDir looking for a .git directory
// or a .tearagsd.yaml/.yml marker file.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	currentDir := absDir
	for {
		if dirExists(filepath.Join(currentDir, ".git")) {
			return currentDir, nil
		}
		if fileExists(filepath.Join(currentDir, ".tearagsd.yaml")) ||
			fileExists(filepath.Join(currentDir, ".tearagsd.yml")) {
			return currentDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return absDir, nil
		}
		currentDir = parentDir
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// ClampPercent clamps a completion percentage into [0, 100], resolving
// Open Question 3 (percentage clamping) at the one call site that
// computes progress as processedFiles/totalFiles*100.
func ClampPercent(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
