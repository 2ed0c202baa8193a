package vectorstore

import (
	"fmt"

	"go.uber.org/zap"
)

// Config selects and configures a store backend. The variant set is closed
// and known at compile time; there is no runtime plugin loading.
type Config struct {
	// Provider is the backend: "local" (default) or "qdrant".
	Provider string `koanf:"provider"`

	Local  LocalConfig  `koanf:"local"`
	Qdrant QdrantConfig `koanf:"qdrant"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = "local"
	}
	c.Local.ApplyDefaults()
	c.Qdrant.ApplyDefaults()
}

// Validate validates the selected backend's configuration.
func (c *Config) Validate() error {
	switch c.Provider {
	case "local", "":
		return c.Local.Validate()
	case "qdrant":
		return c.Qdrant.Validate()
	default:
		return fmt.Errorf("%w: unsupported provider %q (supported: local, qdrant)", ErrInvalidConfig, c.Provider)
	}
}

// NewStore creates a Store based on the configuration.
//
// The local provider is embedded and needs no external service; qdrant
// requires a reachable server and suits large corpora and multi-process
// deployments.
func NewStore(cfg Config, logger *zap.Logger) (Store, error) {
	switch cfg.Provider {
	case "local", "":
		return NewLocalStore(cfg.Local, logger)
	case "qdrant":
		return NewQdrantStore(cfg.Qdrant, logger)
	default:
		return nil, fmt.Errorf("%w: unsupported provider %q (supported: local, qdrant)", ErrInvalidConfig, cfg.Provider)
	}
}
