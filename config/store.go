package config

import "fmt"

const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Driver is "memory" or "sqlite".
	Driver string `json:"driver"`
	// Path is the SQLite database file.
	Path string `json:"path"`
}

// SetDefaults applies sane defaults.
func (c *StoreConfig) SetDefaults() {
	if c.Driver == "" {
		c.Driver = DriverSQLite
	}
	if c.Driver == DriverSQLite && c.Path == "" {
		c.Path = "yardfleet.db"
	}
}

// Validate checks mandatory fields.
func (c StoreConfig) Validate() error {
	switch c.Driver {
	case DriverMemory:
		return nil
	case DriverSQLite:
		if c.Path == "" {
			return fmt.Errorf("path is required")
		}
		return nil
	}
	return fmt.Errorf("unknown driver %s", c.Driver)
}

// HTTPConfig configures the read-only API listener.
type HTTPConfig struct {
	// Addr is the listen address. Empty disables the API.
	Addr string `json:"addr"`
	// ShutdownSeconds bounds the graceful shutdown.
	ShutdownSeconds int `json:"shutdown_seconds"`
}

// SetDefaults applies sane defaults.
func (c *HTTPConfig) SetDefaults() {
	if c.ShutdownSeconds <= 0 {
		c.ShutdownSeconds = 5
	}
}
