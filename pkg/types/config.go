package types

// Config represents the author-side sharesync configuration.
// Compatible with the opencode configuration file format; unrelated
// keys in those files are ignored.
type Config struct {
	// Schema reference (for editor support)
	Schema string `json:"$schema,omitempty"`

	// User identification
	Username string `json:"username,omitempty"`

	// Sharing behavior
	Share string `json:"share,omitempty"` // "manual"|"auto"|"disabled"

	// Share server base URL (overrides the built-in default)
	API string `json:"api,omitempty"`

	// Web domain used when printing share URLs locally
	WebDomain string `json:"webDomain,omitempty"`

	// Logging
	Log *LogConfig `json:"log,omitempty"`
}

// LogConfig controls client-side logging.
type LogConfig struct {
	Level  string `json:"level,omitempty"` // "debug"|"info"|"warn"|"error"
	Pretty bool   `json:"pretty,omitempty"`
}

// ShareDisabled reports whether sharing is turned off entirely.
func (c *Config) ShareDisabled() bool {
	return c.Share == "disabled"
}

// ShareAuto reports whether new sessions should be shared on creation.
func (c *Config) ShareAuto() bool {
	return c.Share == "auto"
}
