// Package config loads symdex configuration: defaults, then an optional
// YAML file, then SYMDEX_* environment overrides, then validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	symerrors "github.com/symdex/symdex/internal/errors"
)

// ConfigFileName is the per-project configuration file.
const ConfigFileName = ".symdex.yaml"

// DataDirName is the per-project index data directory.
const DataDirName = ".symdex"

// Config is the root configuration.
type Config struct {
	// ProjectRoot is the directory being indexed.
	ProjectRoot string `yaml:"project_root"`

	// DataDir holds all persisted index state. Relative paths resolve
	// against ProjectRoot.
	DataDir string `yaml:"data_dir"`

	Index   IndexConfig   `yaml:"index"`
	Batch   BatchConfig   `yaml:"batch"`
	Watcher WatcherConfig `yaml:"watcher"`
	Logging LoggingConfig `yaml:"logging"`
}

// IndexConfig tunes the three indexes and their shared cache layer.
type IndexConfig struct {
	// LexicalBackend selects "inverted" (default) or "bleve".
	LexicalBackend string `yaml:"lexical_backend"`

	// CacheCapacity bounds each index's in-memory LRU.
	CacheCapacity int `yaml:"cache_capacity"`

	// FlushThreshold is the dirty-entry count triggering an async flush.
	FlushThreshold int `yaml:"flush_threshold"`

	// EmbeddingDimensions sizes the semantic vectors.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`

	// EmbeddingCacheSize bounds the embedder's LRU cache.
	EmbeddingCacheSize int `yaml:"embedding_cache_size"`
}

// BatchConfig tunes bulk indexing.
type BatchConfig struct {
	BatchSize int `yaml:"batch_size"`
	Workers   int `yaml:"workers"`
}

// WatcherConfig tunes the file watcher.
type WatcherConfig struct {
	Enabled          bool     `yaml:"enabled"`
	DebounceMillis   int      `yaml:"debounce_millis"`
	Extensions       []string `yaml:"extensions"`
	IgnoreDirs       []string `yaml:"ignore_dirs"`
}

// LoggingConfig tunes structured logging.
type LoggingConfig struct {
	Level    string `yaml:"level"`
	FilePath string `yaml:"file_path"`
}

// Default returns the built-in configuration for a project root.
func Default(projectRoot string) Config {
	return Config{
		ProjectRoot: projectRoot,
		DataDir:     DataDirName,
		Index: IndexConfig{
			LexicalBackend:      "inverted",
			CacheCapacity:       1000,
			FlushThreshold:      100,
			EmbeddingDimensions: 384,
			EmbeddingCacheSize:  1000,
		},
		Batch: BatchConfig{
			BatchSize: 50,
			Workers:   4,
		},
		Watcher: WatcherConfig{
			Enabled:        false,
			DebounceMillis: 200,
			Extensions:     []string{".java", ".kt", ".go", ".py", ".ts", ".js"},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds the effective configuration for projectRoot: defaults, the
// project's .symdex.yaml if present, then environment overrides.
func Load(projectRoot string) (Config, error) {
	cfg := Default(projectRoot)

	path := filepath.Join(projectRoot, ConfigFileName)
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, symerrors.New(symerrors.CodeConfigInvalid,
				fmt.Sprintf("parse %s: %v", path, err), err)
		}
		// The file must not redirect the root it was loaded from.
		cfg.ProjectRoot = projectRoot
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SYMDEX_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("SYMDEX_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SYMDEX_LOG_FILE"); v != "" {
		cfg.Logging.FilePath = v
	}
	if v := os.Getenv("SYMDEX_LEXICAL_BACKEND"); v != "" {
		cfg.Index.LexicalBackend = v
	}
	if v, ok := envInt("SYMDEX_CACHE_CAPACITY"); ok {
		cfg.Index.CacheCapacity = v
	}
	if v, ok := envInt("SYMDEX_BATCH_SIZE"); ok {
		cfg.Batch.BatchSize = v
	}
	if v, ok := envInt("SYMDEX_WORKERS"); ok {
		cfg.Batch.Workers = v
	}
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Validate checks the configuration for usable values.
func (c Config) Validate() error {
	fail := func(msg string) error {
		return symerrors.New(symerrors.CodeConfigInvalid, msg, nil)
	}

	if c.ProjectRoot == "" {
		return fail("project_root must not be empty")
	}
	if c.Index.LexicalBackend != "inverted" && c.Index.LexicalBackend != "bleve" {
		return fail(fmt.Sprintf("lexical_backend must be \"inverted\" or \"bleve\", got %q", c.Index.LexicalBackend))
	}
	if c.Index.CacheCapacity <= 0 {
		return fail("index.cache_capacity must be positive")
	}
	if c.Index.FlushThreshold <= 0 {
		return fail("index.flush_threshold must be positive")
	}
	if c.Index.EmbeddingDimensions <= 0 {
		return fail("index.embedding_dimensions must be positive")
	}
	if c.Batch.BatchSize <= 0 {
		return fail("batch.batch_size must be positive")
	}
	if c.Batch.Workers <= 0 {
		return fail("batch.workers must be positive")
	}
	return nil
}

// ResolvedDataDir returns the absolute data directory.
func (c Config) ResolvedDataDir() string {
	if filepath.IsAbs(c.DataDir) {
		return c.DataDir
	}
	return filepath.Join(c.ProjectRoot, c.DataDir)
}
