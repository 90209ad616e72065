// Package config provides layered configuration for Quarry.
//
// Configuration is applied in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/quarry/config.yaml)
//  3. Project config (.quarry.yaml in project root)
//  4. Environment variables (QUARRY_*)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete Quarry configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Paths      PathsConfig      `yaml:"paths" json:"paths"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Pipeline   PipelineConfig   `yaml:"pipeline" json:"pipeline"`
	Watch      WatchConfig      `yaml:"watch" json:"watch"`
	Storage    StorageConfig    `yaml:"storage" json:"storage"`
	LogLevel   string           `yaml:"log_level" json:"log_level"`
}

// PathsConfig configures which paths to include and exclude.
type PathsConfig struct {
	Include []string `yaml:"include" json:"include"`
	Exclude []string `yaml:"exclude" json:"exclude"`
}

// SearchConfig configures hybrid retrieval parameters.
type SearchConfig struct {
	// RRFConstant is the reciprocal rank fusion smoothing parameter (k).
	// Default: 60. Higher values reduce the impact of rank differences.
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`

	// RerankDepth is the candidate pool size fed to the cross-encoder.
	// Default: 100.
	RerankDepth int `yaml:"rerank_depth" json:"rerank_depth"`

	// MaxResults caps topK for a single query. Default: 20.
	MaxResults int `yaml:"max_results" json:"max_results"`

	// SparseBackend selects the sparse retrieval backend.
	// Options: "vector" (service-provided sparse vectors, default),
	// "fts5" (SQLite FTS5 BM25), "bleve" (Bleve BM25).
	SparseBackend string `yaml:"sparse_backend" json:"sparse_backend"`

	// RerankEnabled toggles the cross-encoder reranking stage.
	RerankEnabled bool `yaml:"rerank_enabled" json:"rerank_enabled"`
}

// EmbeddingsConfig configures the embedding and reranking providers.
type EmbeddingsConfig struct {
	// Provider selects the dense embedder: "ollama", "static", or empty for
	// auto-detection (ollama if reachable, static otherwise).
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	BatchSize  int    `yaml:"batch_size" json:"batch_size"`

	// OllamaHost is the Ollama API endpoint (default: http://localhost:11434).
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`

	// SparseEndpoint is the HTTP endpoint of the sparse embedding service.
	// Empty disables service-provided sparse vectors.
	SparseEndpoint string `yaml:"sparse_endpoint" json:"sparse_endpoint"`

	// RerankEndpoint is the HTTP endpoint of the cross-encoder service.
	RerankEndpoint string `yaml:"rerank_endpoint" json:"rerank_endpoint"`

	// RequestTimeout bounds a single embedding request (default: 60s).
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`

	// CacheSize is the LRU cache capacity for embedding results (default: 1000).
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// PipelineConfig configures the staged indexing pipeline.
type PipelineConfig struct {
	// FetchWorkers, ChunkWorkers, EmbedWorkers, StoreWorkers set per-stage
	// concurrency. Zero means the stage default.
	FetchWorkers int `yaml:"fetch_workers" json:"fetch_workers"`
	ChunkWorkers int `yaml:"chunk_workers" json:"chunk_workers"`
	EmbedWorkers int `yaml:"embed_workers" json:"embed_workers"`
	StoreWorkers int `yaml:"store_workers" json:"store_workers"`

	// QueueCapacity is the bounded capacity of inter-stage queues (default: 64).
	QueueCapacity int `yaml:"queue_capacity" json:"queue_capacity"`

	// MaxFileSizeMB skips source files larger than this (default: 5).
	MaxFileSizeMB int `yaml:"max_file_size_mb" json:"max_file_size_mb"`
}

// WatchConfig configures filesystem watching.
type WatchConfig struct {
	// Debounce is the quiet period before a burst of events triggers a sync.
	Debounce string `yaml:"debounce" json:"debounce"`
}

// StorageConfig configures on-disk stores.
type StorageConfig struct {
	// DataDir is where indexes and metadata live. Default: .quarry/ under the
	// project root.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// SQLiteCacheMB is the SQLite page cache size in MB (default: 64).
	SQLiteCacheMB int `yaml:"sqlite_cache_mb" json:"sqlite_cache_mb"`
}

// defaultExcludePatterns are always excluded.
var defaultExcludePatterns = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/dist/**",
	"**/build/**",
	"**/*.min.js",
	"**/*.min.css",
	"**/package-lock.json",
	"**/yarn.lock",
	"**/pnpm-lock.yaml",
	"**/go.sum",
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			Include: []string{},
			Exclude: defaultExcludePatterns,
		},
		Search: SearchConfig{
			RRFConstant:   60,
			RerankDepth:   100,
			MaxResults:    20,
			SparseBackend: "vector",
			RerankEnabled: true,
		},
		Embeddings: EmbeddingsConfig{
			Provider:       "", // auto-detect: ollama if reachable, static otherwise
			Model:          "qwen3-embedding:8b",
			Dimensions:     0, // auto-detect from embedder
			BatchSize:      32,
			OllamaHost:     "", // empty uses http://localhost:11434
			SparseEndpoint: "",
			RerankEndpoint: "",
			RequestTimeout: 60 * time.Second,
			CacheSize:      1000,
		},
		Pipeline: PipelineConfig{
			FetchWorkers:  4,
			ChunkWorkers:  runtime.NumCPU(),
			EmbedWorkers:  2,
			StoreWorkers:  1,
			QueueCapacity: 64,
			MaxFileSizeMB: 5,
		},
		Watch: WatchConfig{
			Debounce: "1s",
		},
		Storage: StorageConfig{
			DataDir:       "", // empty resolves to <root>/.quarry
			SQLiteCacheMB: 64,
		},
		LogLevel: "info",
	}
}

// ProjectConfigName is the per-project configuration file name.
const ProjectConfigName = ".quarry.yaml"

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/quarry/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/quarry/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "quarry", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "quarry", "config.yaml")
	}
	return filepath.Join(home, ".config", "quarry", "config.yaml")
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist.
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()

	if !fileExists(configPath) {
		return nil, nil
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}

	return cfg, nil
}

// Load loads configuration for the given project directory.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from .quarry.yaml or .quarry.yml.
func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, ProjectConfigName)
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	ymlPath := filepath.Join(dir, ".quarry.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	// No config file is fine - use defaults
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
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
		// Merge with defaults rather than replace
		c.Paths.Exclude = append(c.Paths.Exclude, other.Paths.Exclude...)
	}

	if other.Search.RRFConstant != 0 {
		c.Search.RRFConstant = other.Search.RRFConstant
	}
	if other.Search.RerankDepth != 0 {
		c.Search.RerankDepth = other.Search.RerankDepth
	}
	if other.Search.MaxResults != 0 {
		c.Search.MaxResults = other.Search.MaxResults
	}
	if other.Search.SparseBackend != "" {
		c.Search.SparseBackend = other.Search.SparseBackend
	}
	// RerankEnabled is boolean; only carry an explicit disable when the file
	// configured any rerank setting.
	if other.Search.RerankDepth != 0 || other.Embeddings.RerankEndpoint != "" {
		c.Search.RerankEnabled = other.Search.RerankEnabled
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
	if other.Embeddings.SparseEndpoint != "" {
		c.Embeddings.SparseEndpoint = other.Embeddings.SparseEndpoint
	}
	if other.Embeddings.RerankEndpoint != "" {
		c.Embeddings.RerankEndpoint = other.Embeddings.RerankEndpoint
	}
	if other.Embeddings.RequestTimeout != 0 {
		c.Embeddings.RequestTimeout = other.Embeddings.RequestTimeout
	}
	if other.Embeddings.CacheSize != 0 {
		c.Embeddings.CacheSize = other.Embeddings.CacheSize
	}

	if other.Pipeline.FetchWorkers != 0 {
		c.Pipeline.FetchWorkers = other.Pipeline.FetchWorkers
	}
	if other.Pipeline.ChunkWorkers != 0 {
		c.Pipeline.ChunkWorkers = other.Pipeline.ChunkWorkers
	}
	if other.Pipeline.EmbedWorkers != 0 {
		c.Pipeline.EmbedWorkers = other.Pipeline.EmbedWorkers
	}
	if other.Pipeline.StoreWorkers != 0 {
		c.Pipeline.StoreWorkers = other.Pipeline.StoreWorkers
	}
	if other.Pipeline.QueueCapacity != 0 {
		c.Pipeline.QueueCapacity = other.Pipeline.QueueCapacity
	}
	if other.Pipeline.MaxFileSizeMB != 0 {
		c.Pipeline.MaxFileSizeMB = other.Pipeline.MaxFileSizeMB
	}

	if other.Watch.Debounce != "" {
		c.Watch.Debounce = other.Watch.Debounce
	}

	if other.Storage.DataDir != "" {
		c.Storage.DataDir = other.Storage.DataDir
	}
	if other.Storage.SQLiteCacheMB != 0 {
		c.Storage.SQLiteCacheMB = other.Storage.SQLiteCacheMB
	}

	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
}

// applyEnvOverrides applies QUARRY_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("QUARRY_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.RRFConstant = k
		}
	}
	if v := os.Getenv("QUARRY_RERANK_DEPTH"); v != "" {
		if d, err := strconv.Atoi(v); err == nil && d > 0 {
			c.Search.RerankDepth = d
		}
	}
	if v := os.Getenv("QUARRY_SPARSE_BACKEND"); v != "" {
		c.Search.SparseBackend = v
	}
	if v := os.Getenv("QUARRY_RERANK_ENABLED"); v != "" {
		c.Search.RerankEnabled = strings.ToLower(v) == "true" || v == "1"
	}

	if v := os.Getenv("QUARRY_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("QUARRY_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("QUARRY_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("QUARRY_SPARSE_ENDPOINT"); v != "" {
		c.Embeddings.SparseEndpoint = v
	}
	if v := os.Getenv("QUARRY_RERANK_ENDPOINT"); v != "" {
		c.Embeddings.RerankEndpoint = v
	}

	if v := os.Getenv("QUARRY_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("QUARRY_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// FindProjectRoot finds the project root directory.
// It looks for a .git directory or a .quarry.yaml/.yml file by walking up the
// directory tree. Falls back to the starting directory.
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

		if fileExists(filepath.Join(currentDir, ".quarry.yaml")) ||
			fileExists(filepath.Join(currentDir, ".quarry.yml")) {
			return currentDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return absDir, nil
		}
		currentDir = parentDir
	}
}

// ResolveDataDir returns the effective data directory for a project root.
func (c *Config) ResolveDataDir(root string) string {
	if c.Storage.DataDir != "" {
		return c.Storage.DataDir
	}
	return filepath.Join(root, ".quarry")
}

// DebounceDuration parses the watch debounce setting.
func (c *Config) DebounceDuration() time.Duration {
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil || d <= 0 {
		return time.Second
	}
	return d
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// dirExists checks if a directory exists.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Search.RRFConstant <= 0 {
		return fmt.Errorf("search.rrf_constant must be positive, got %d", c.Search.RRFConstant)
	}
	if c.Search.RerankDepth <= 0 {
		return fmt.Errorf("search.rerank_depth must be positive, got %d", c.Search.RerankDepth)
	}
	if c.Search.MaxResults < 0 {
		return fmt.Errorf("search.max_results must be non-negative, got %d", c.Search.MaxResults)
	}

	validBackends := map[string]bool{"vector": true, "fts5": true, "bleve": true}
	if !validBackends[strings.ToLower(c.Search.SparseBackend)] {
		return fmt.Errorf("search.sparse_backend must be 'vector', 'fts5', or 'bleve', got %s", c.Search.SparseBackend)
	}

	if c.Embeddings.Provider != "" { // empty string triggers auto-detection
		validProviders := map[string]bool{"ollama": true, "static": true}
		if !validProviders[strings.ToLower(c.Embeddings.Provider)] {
			return fmt.Errorf("embeddings.provider must be 'ollama', 'static', or empty (auto-detect), got %s", c.Embeddings.Provider)
		}
	}

	if c.Pipeline.QueueCapacity < 0 {
		return fmt.Errorf("pipeline.queue_capacity must be non-negative, got %d", c.Pipeline.QueueCapacity)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.LogLevel)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
