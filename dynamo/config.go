package dynamo

import (
	"log/slog"
	"time"
)

// Config holds configuration for the Backend.
type Config struct {
	// TablePrefix is prepended to the kind name for kinds without a
	// registered table.
	// Default: "docload_"
	TablePrefix string

	// MaxRetries bounds how often unprocessed keys of a BatchGetItem are
	// retried before they are reported as failed.
	// Default: 5
	MaxRetries int

	// RetryBaseDelay is the first backoff delay for unprocessed keys. It
	// doubles with every retry.
	// Default: 25ms
	RetryBaseDelay time.Duration

	// ConsistentRead makes reads outside transactions strongly consistent.
	// Reads inside transactions always are.
	ConsistentRead bool

	// Logger receives retry and commit diagnostics. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TablePrefix:    "docload_",
		MaxRetries:     5,
		RetryBaseDelay: 25 * time.Millisecond,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.TablePrefix == "" {
		c.TablePrefix = "docload_"
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.MaxRetries > 20 {
		c.MaxRetries = 20
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 25 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
