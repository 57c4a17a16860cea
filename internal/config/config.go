// Package config provides configuration loading and structs for shashin.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug   bool          `yaml:"debug"`
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Model   ModelConfig   `yaml:"model"`
	Index   IndexConfig   `yaml:"index"`
	Search  SearchConfig  `yaml:"search"`
	Indexer IndexerConfig `yaml:"indexer"`
	Watch   WatchConfig   `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the image metadata database and the search index artifact.
// When IndexPath is empty it is placed next to the database.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	IndexPath    string `yaml:"index_path"`
}

// ModelConfig holds CLIP encoder and tokenizer settings.
type ModelConfig struct {
	// Provider is "onnx" (default) or "mock" (deterministic embeddings, development only).
	Provider string `yaml:"provider"`

	ImageModelPath  string `yaml:"image_model_path"`
	TextModelPath   string `yaml:"text_model_path"`
	TokenizerDir    string `yaml:"tokenizer_dir"`
	TokenizerRemote string `yaml:"tokenizer_remote"`

	// RuntimeLibrary is the path to the onnxruntime shared library; empty uses the platform default.
	RuntimeLibrary string `yaml:"runtime_library"`

	Dimensions    int `yaml:"dimensions"`
	ContextLength int `yaml:"context_length"`
	ImageSize     int `yaml:"image_size"`

	// Preprocess is "resize" (direct square resize) or "center_crop". Must match how the
	// image encoder was exported.
	Preprocess string `yaml:"preprocess"`

	CacheSize int `yaml:"cache_size"`

	ImageInput  string   `yaml:"image_input"`
	ImageOutput string   `yaml:"image_output"`
	TextInputs  []string `yaml:"text_inputs"`
	TextOutput  string   `yaml:"text_output"`
}

// IndexConfig selects the vector index implementation.
type IndexConfig struct {
	Type string `yaml:"type"`
}

// SearchConfig holds query defaults.
type SearchConfig struct {
	DefaultLimit int `yaml:"default_limit"`
	MaxLimit     int `yaml:"max_limit"`
}

// IndexerConfig holds batch indexing settings.
type IndexerConfig struct {
	ProgressEvery int `yaml:"progress_every"`
}

// WatchConfig controls the index artifact watcher used by the server.
type WatchConfig struct {
	Enabled *bool `yaml:"enabled"`
}

// EnabledOrDefault returns whether to watch the artifact; defaults to true when unset.
func (w *WatchConfig) EnabledOrDefault() bool {
	if w.Enabled != nil {
		return *w.Enabled
	}
	return true
}

// Load reads and parses the config file at path, applies defaults, and expands paths.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.IndexPath = expandPath(cfg.Storage.IndexPath, configDir)
	cfg.Model.ImageModelPath = expandPath(cfg.Model.ImageModelPath, configDir)
	cfg.Model.TextModelPath = expandPath(cfg.Model.TextModelPath, configDir)
	cfg.Model.TokenizerDir = expandPath(cfg.Model.TokenizerDir, configDir)
	if cfg.Model.RuntimeLibrary != "" {
		cfg.Model.RuntimeLibrary = expandPath(cfg.Model.RuntimeLibrary, configDir)
	}
	ResolveIndexPath(&cfg)

	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ResolveIndexPath colocates the index artifact with the metadata database when no
// explicit index path is configured.
func ResolveIndexPath(cfg *Config) {
	if cfg.Storage.IndexPath == "" {
		cfg.Storage.IndexPath = filepath.Join(filepath.Dir(cfg.Storage.DatabasePath), DefaultIndexFile)
	}
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
