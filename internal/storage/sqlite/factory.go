package sqlite

import (
	"fmt"

	"conversation-router/internal/storage"
)

// Factory creates SQLite adapters from storage configs.
type Factory struct{}

// Create builds an adapter from a typed or generic config.
func (Factory) Create(config storage.StorageConfig) (storage.Storage, error) {
	switch cfg := config.(type) {
	case *Config:
		return NewAdapter(cfg)
	case storage.GenericConfig:
		return NewAdapter(&Config{DatabasePath: cfg["path"]})
	default:
		return nil, fmt.Errorf("invalid config type for SQLite storage")
	}
}

// GetType returns the backend name.
func (Factory) GetType() string { return "sqlite" }

func init() {
	storage.Register("sqlite", Factory{})
}
