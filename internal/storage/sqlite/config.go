package sqlite

import "fmt"

// Config holds SQLite adapter settings.
type Config struct {
	DatabasePath string `json:"database_path"`
}

// Validate checks the config.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database path is required")
	}
	return nil
}

// GetType returns the backend name.
func (c *Config) GetType() string { return "sqlite" }
