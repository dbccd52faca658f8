package mongostore

import "time"

// Config holds configuration for a Store.
type Config struct {
	// Database holds one collection per entity.
	// Default: "lattice"
	Database string

	// TransactionTimeout bounds the commit of a session's transaction.
	// Default: 30s
	TransactionTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Database:           "lattice",
		TransactionTimeout: 30 * time.Second,
	}
}

// validate fills zero values with their defaults.
func (c *Config) validate() {
	if c.Database == "" {
		c.Database = "lattice"
	}
	if c.TransactionTimeout <= 0 {
		c.TransactionTimeout = 30 * time.Second
	}
}
