package postgres

import (
	"fmt"

	"conversation-router/internal/storage"
)

// Factory creates PostgreSQL adapters from storage configs.
type Factory struct{}

// Create builds an adapter from a typed or generic config.
func (Factory) Create(config storage.StorageConfig) (storage.Storage, error) {
	switch cfg := config.(type) {
	case *Config:
		return NewAdapter(cfg)
	case storage.GenericConfig:
		return NewAdapter(&Config{
			Host:     cfg["host"],
			Port:     cfg["port"],
			Database: cfg["database"],
			Username: cfg["username"],
			Password: cfg["password"],
			SSLMode:  cfg["sslmode"],
		})
	default:
		return nil, fmt.Errorf("invalid config type for PostgreSQL storage")
	}
}

// GetType returns the backend name.
func (Factory) GetType() string { return "postgres" }

func init() {
	storage.Register("postgres", Factory{})
}
