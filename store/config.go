package store

// Config holds configuration for a Service.
type Config struct {
	// Timestamps enables the managed creation and update time fields.
	// Default: true
	Timestamps bool

	// CreatedAtField is the document field set on insert.
	// Default: "created_at"
	CreatedAtField string

	// UpdatedAtField is the document field set on insert and update.
	// Default: "updated_at"
	UpdatedAtField string

	// TransactionalWrites runs inserts and updates issued without a caller
	// session inside an owned session, so validator reads and the write
	// commit together. Deletes always run in a session.
	// Default: false
	TransactionalWrites bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timestamps:     true,
		CreatedAtField: "created_at",
		UpdatedAtField: "updated_at",
	}
}

// validate fills empty field names with their defaults.
func (c *Config) validate() {
	if c.CreatedAtField == "" {
		c.CreatedAtField = "created_at"
	}
	if c.UpdatedAtField == "" {
		c.UpdatedAtField = "updated_at"
	}
}
