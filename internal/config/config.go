// Package config provides configuration loading for semidx.
package config

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/semidx/internal/embeddings"
	"github.com/fyrsmithlabs/semidx/internal/ingest"
	"github.com/fyrsmithlabs/semidx/internal/logging"
	"github.com/fyrsmithlabs/semidx/internal/memory"
	"github.com/fyrsmithlabs/semidx/internal/reindex"
	"github.com/fyrsmithlabs/semidx/internal/reliability"
	"github.com/fyrsmithlabs/semidx/internal/search"
	"github.com/fyrsmithlabs/semidx/internal/vectorstore"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// VersionConfig names the embedding schema this deployment writes. The
// model component of the full version comes from the embeddings config.
type VersionConfig struct {
	Schema  string `koanf:"schema"`
	Content string `koanf:"content"`
}

// StalenessSection is the file-facing staleness config. The runtime
// StalenessConfig additionally carries the resolved embedding version.
// The check flags are pointers so an explicit false in the file is
// distinguishable from an omitted key.
type StalenessSection struct {
	MaxAgeDays       int   `koanf:"max_age_days"`
	CheckFingerprint *bool `koanf:"check_fingerprint"`
	CheckVersion     *bool `koanf:"check_version"`
}

// Config is the root semidx configuration.
type Config struct {
	Server      ServerConfig            `koanf:"server"`
	Logging     logging.Config          `koanf:"logging"`
	Embeddings  embeddings.Config       `koanf:"embeddings"`
	VectorStore vectorstore.Config      `koanf:"vectorstore"`
	Ingest      ingest.Config           `koanf:"ingest"`
	Search      search.Config           `koanf:"search"`
	Version     VersionConfig           `koanf:"version"`
	Staleness   StalenessSection        `koanf:"staleness"`
	Drift       reliability.DriftConfig `koanf:"drift"`
	Reindex     reindex.Config          `koanf:"reindex"`
	Worker      reindex.WorkerConfig    `koanf:"worker"`
}

// EmbeddingVersion builds the full version string this deployment
// stamps onto records.
func (c *Config) EmbeddingVersion() memory.EmbeddingVersion {
	return memory.EmbeddingVersion{
		Schema:  c.Version.Schema,
		Content: c.Version.Content,
		Model:   c.Embeddings.Model,
	}
}

// StalenessConfig builds the runtime staleness config, binding the
// deployment's embedding version.
func (c *Config) StalenessConfig() reliability.StalenessConfig {
	return reliability.StalenessConfig{
		MaxAgeDays:       c.Staleness.MaxAgeDays,
		CheckFingerprint: boolOr(c.Staleness.CheckFingerprint, true),
		CheckVersion:     boolOr(c.Staleness.CheckVersion, true),
		Current:          c.EmbeddingVersion(),
	}
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9180
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	cfg.Logging.ApplyDefaults()
	cfg.Embeddings.ApplyDefaults()
	cfg.VectorStore.ApplyDefaults()
	cfg.Ingest.ApplyDefaults()
	cfg.Search.ApplyDefaults()
	cfg.Drift.ApplyDefaults()
	cfg.Reindex.ApplyDefaults()
	cfg.Worker.ApplyDefaults()

	if cfg.Version.Schema == "" {
		cfg.Version.Schema = "v1"
	}
	if cfg.Version.Content == "" {
		cfg.Version.Content = "v1"
	}

	if cfg.Staleness.MaxAgeDays == 0 {
		cfg.Staleness.MaxAgeDays = 90
	}
	if cfg.Staleness.CheckFingerprint == nil {
		v := true
		cfg.Staleness.CheckFingerprint = &v
	}
	if cfg.Staleness.CheckVersion == nil {
		v := true
		cfg.Staleness.CheckVersion = &v
	}
}

// boolOr dereferences b, falling back to def when unset.
func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in [1, 65535], got %d", c.Server.Port)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Embeddings.Validate(); err != nil {
		return fmt.Errorf("embeddings: %w", err)
	}
	if err := c.VectorStore.Validate(); err != nil {
		return fmt.Errorf("vectorstore: %w", err)
	}
	if err := c.Drift.Validate(); err != nil {
		return fmt.Errorf("drift: %w", err)
	}
	if c.Staleness.MaxAgeDays < 0 {
		return fmt.Errorf("staleness.max_age_days must be non-negative, got %d", c.Staleness.MaxAgeDays)
	}
	return nil
}
