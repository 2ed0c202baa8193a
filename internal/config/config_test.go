package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	applyDefaults(&cfg)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9180, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

	assert.Equal(t, "fastembed", cfg.Embeddings.Provider)
	assert.Equal(t, "BAAI/bge-small-en-v1.5", cfg.Embeddings.Model)
	assert.Equal(t, "local", cfg.VectorStore.Provider)
	assert.Equal(t, 384, cfg.VectorStore.Local.VectorSize)
	assert.Equal(t, 100, cfg.Ingest.BatchSize)
	assert.Equal(t, 10, cfg.Search.DefaultTopK)
	assert.Equal(t, 0.85, cfg.Drift.Threshold)
	assert.Equal(t, 10000, cfg.Reindex.QueueSize)
	assert.Equal(t, 30*time.Second, cfg.Worker.Interval)

	assert.Equal(t, "v1", cfg.Version.Schema)
	assert.Equal(t, 90, cfg.Staleness.MaxAgeDays)
	require.NotNil(t, cfg.Staleness.CheckVersion)
	require.NotNil(t, cfg.Staleness.CheckFingerprint)
	assert.True(t, *cfg.Staleness.CheckVersion)
	assert.True(t, *cfg.Staleness.CheckFingerprint)

	require.NoError(t, cfg.Validate())
}

func TestApplyDefaults_StalenessFlagsIndependent(t *testing.T) {
	t.Run("custom max age keeps checks enabled", func(t *testing.T) {
		var cfg Config
		cfg.Staleness.MaxAgeDays = 120
		applyDefaults(&cfg)

		assert.Equal(t, 120, cfg.Staleness.MaxAgeDays)
		sc := cfg.StalenessConfig()
		assert.True(t, sc.CheckVersion)
		assert.True(t, sc.CheckFingerprint)
	})

	t.Run("explicit false survives defaulting", func(t *testing.T) {
		var cfg Config
		off := false
		cfg.Staleness.CheckVersion = &off
		applyDefaults(&cfg)

		assert.Equal(t, 90, cfg.Staleness.MaxAgeDays)
		sc := cfg.StalenessConfig()
		assert.False(t, sc.CheckVersion)
		assert.True(t, sc.CheckFingerprint)
	})
}

func TestConfig_EmbeddingVersion(t *testing.T) {
	var cfg Config
	applyDefaults(&cfg)
	cfg.Version.Schema = "v2"
	cfg.Embeddings.Model = "bge-small-en-v1.5"

	v := cfg.EmbeddingVersion()
	assert.Equal(t, "v2::v1::bge-small-en-v1.5", v.String())

	sc := cfg.StalenessConfig()
	assert.Equal(t, v, sc.Current)
	assert.Equal(t, 90, sc.MaxAgeDays)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 70000 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "shout" }},
		{"bad embeddings provider", func(c *Config) { c.Embeddings.Provider = "word2vec" }},
		{"bad store provider", func(c *Config) { c.VectorStore.Provider = "pinecone" }},
		{"bad drift threshold", func(c *Config) { c.Drift.Threshold = 2 }},
		{"negative max age", func(c *Config) { c.Staleness.MaxAgeDays = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			applyDefaults(&cfg)
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateConfigPath(t *testing.T) {
	assert.Error(t, validateConfigPath("/tmp/evil.yaml"))
	assert.Error(t, validateConfigPath("../config.yaml"))
	assert.NoError(t, validateConfigPath("/etc/semidx/config.yaml"))
}
