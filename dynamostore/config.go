package dynamostore

// MaxTransactItems is the DynamoDB limit on items per TransactWriteItems call.
const MaxTransactItems = 100

// Config holds configuration for the DynamoDB adapter.
type Config struct {
	// TablePrefix is prepended to a collection name to form its table name.
	// Default: "" (table name == collection name)
	TablePrefix string

	// MaxTransactItems caps the writes one session may commit. Commits above
	// it fail with store.ErrTransactionTooLarge instead of being split.
	// Default: 100
	// Max: 100
	MaxTransactItems int

	// ScanSegments is the number of parallel Scan segments used for filters
	// that aren't a plain id lookup.
	// Higher values finish large scans sooner but consume read capacity faster.
	// Default: 1 (sequential scan)
	// Max: 256
	ScanSegments int

	// ConsistentReads makes GetItem and Scan strongly consistent, so a
	// session observes writes committed just before it.
	// Default: true
	ConsistentReads bool
}

// DefaultConfig returns sensible defaults for small tables.
func DefaultConfig() Config {
	return Config{
		MaxTransactItems: MaxTransactItems,
		ScanSegments:     1,
		ConsistentReads:  true,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.MaxTransactItems < 1 || c.MaxTransactItems > MaxTransactItems {
		c.MaxTransactItems = MaxTransactItems
	}
	if c.ScanSegments < 1 {
		c.ScanSegments = 1
	}
	if c.ScanSegments > 256 {
		c.ScanSegments = 256
	}
}
