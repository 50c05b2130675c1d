package storage

import (
	"fmt"

	"conversation-router/internal/common/errors"
	"conversation-router/internal/config"
)

// GenericConfig is a backend-agnostic key/value config handed to factories.
// Each backend converts it to its own typed config.
type GenericConfig map[string]string

// Validate is deferred to the backend's typed config.
func (GenericConfig) Validate() error { return nil }

// GetType returns the generic marker type.
func (GenericConfig) GetType() string { return "generic" }

// NewStorage creates a storage adapter for the configured database backend.
// Backends must be imported somewhere (main) so their init registration ran.
func NewStorage(cfg *config.Config) (Storage, error) {
	switch cfg.DatabaseType {
	case "sqlite":
		return Create("sqlite", GenericConfig{
			"path": cfg.DatabasePath,
		})

	case "postgres", "postgresql":
		return Create("postgres", GenericConfig{
			"host":     cfg.PostgresHost,
			"port":     cfg.PostgresPort,
			"database": cfg.PostgresDB,
			"username": cfg.PostgresUser,
			"password": cfg.PostgresPassword,
			"sslmode":  cfg.PostgresSSLMode,
		})

	default:
		return nil, errors.ConfigError(fmt.Sprintf("unsupported database type: %s", cfg.DatabaseType))
	}
}
