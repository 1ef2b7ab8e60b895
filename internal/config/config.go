// Package config loads the remedy configuration from a YAML file with
// sensible defaults for every section. Secrets (API keys) are never stored
// in the file; they come from the environment.
package config

import (
	"errors"
	"os"

	"gopkg.in/yaml.v3"
)

// EmbeddingConfig configures the OpenAI embedding client.
type EmbeddingConfig struct {
	Model       string `yaml:"model"`
	Dimension   int    `yaml:"dimension"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// MilvusConfig contains connection details for the Milvus index backend.
type MilvusConfig struct {
	Address    string `yaml:"address"`
	Collection string `yaml:"collection"`
}

// IndexConfig selects and configures the vector index backend.
type IndexConfig struct {
	// Backend is "flat" (file-backed, default) or "milvus".
	Backend string        `yaml:"backend"`
	Dir     string        `yaml:"dir"`
	Milvus  *MilvusConfig `yaml:"milvus,omitempty"`
}

// MetadataConfig points at the SQLite metadata table.
type MetadataConfig struct {
	Path string `yaml:"path"`
}

// IngestConfig tunes the bulk ingestion pipeline.
type IngestConfig struct {
	BatchSize   int `yaml:"batch_size"`
	MaxInFlight int `yaml:"max_in_flight"`
}

// SearchConfig tunes the fusion search engine.
type SearchConfig struct {
	TopK int `yaml:"top_k"`
}

// RedisConfig contains connection details for the Redis session backend.
type RedisConfig struct {
	Address string `yaml:"address"`
	DB      int    `yaml:"db"`
}

// SessionConfig selects and configures the session store.
type SessionConfig struct {
	// Backend is "memory" (default) or "redis".
	Backend string       `yaml:"backend"`
	TTLMins int          `yaml:"ttl_mins"`
	Redis   *RedisConfig `yaml:"redis,omitempty"`
}

// ComposerConfig configures the answer-generation model.
type ComposerConfig struct {
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	TimeoutSecs int     `yaml:"timeout_secs"`
}

// Config is the root configuration structure.
type Config struct {
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Metadata  MetadataConfig  `yaml:"metadata"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Search    SearchConfig    `yaml:"search"`
	Session   SessionConfig   `yaml:"session"`
	Composer  ComposerConfig  `yaml:"composer"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			Model:       "text-embedding-ada-002",
			Dimension:   1536,
			TimeoutSecs: 30,
		},
		Index: IndexConfig{
			Backend: "flat",
			Dir:     "./data/index",
		},
		Metadata: MetadataConfig{
			Path: "./data/metadata.db",
		},
		Ingest: IngestConfig{
			BatchSize:   1000,
			MaxInFlight: 1,
		},
		Search: SearchConfig{
			TopK: 5,
		},
		Session: SessionConfig{
			Backend: "memory",
			TTLMins: 60,
		},
		Composer: ComposerConfig{
			Model:       "gpt-4o",
			Temperature: 0.7,
			MaxTokens:   2000,
			TimeoutSecs: 60,
		},
	}
}

// Load reads a config from path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = def.Embedding.Model
	}
	if cfg.Embedding.Dimension == 0 {
		cfg.Embedding.Dimension = def.Embedding.Dimension
	}
	if cfg.Embedding.TimeoutSecs == 0 {
		cfg.Embedding.TimeoutSecs = def.Embedding.TimeoutSecs
	}
	if cfg.Index.Backend == "" {
		cfg.Index.Backend = def.Index.Backend
	}
	if cfg.Index.Dir == "" {
		cfg.Index.Dir = def.Index.Dir
	}
	if cfg.Metadata.Path == "" {
		cfg.Metadata.Path = def.Metadata.Path
	}
	if cfg.Ingest.BatchSize == 0 {
		cfg.Ingest.BatchSize = def.Ingest.BatchSize
	}
	if cfg.Ingest.MaxInFlight == 0 {
		cfg.Ingest.MaxInFlight = def.Ingest.MaxInFlight
	}
	if cfg.Search.TopK == 0 {
		cfg.Search.TopK = def.Search.TopK
	}
	if cfg.Session.Backend == "" {
		cfg.Session.Backend = def.Session.Backend
	}
	if cfg.Session.TTLMins == 0 {
		cfg.Session.TTLMins = def.Session.TTLMins
	}
	if cfg.Composer.Model == "" {
		cfg.Composer.Model = def.Composer.Model
	}
	if cfg.Composer.MaxTokens == 0 {
		cfg.Composer.MaxTokens = def.Composer.MaxTokens
	}
	if cfg.Composer.TimeoutSecs == 0 {
		cfg.Composer.TimeoutSecs = def.Composer.TimeoutSecs
	}
}
