package loader

import (
	"log/slog"
	"time"
)

// Config holds configuration for a Loader.
type Config struct {
	// BatchWait is how long a read batch stays open for more keys after
	// its first miss. Zero or negative dispatches each Get's misses at the
	// end of that call.
	// Default: 1ms
	BatchWait time.Duration

	// MaxBatch caps the number of keys in one backend read. A batch that
	// fills up is dispatched immediately.
	// Default: 100
	MaxBatch int

	// ChunkSize is the number of payloads per backend write outside a
	// transaction. Transactions are never chunked.
	// Default: 100
	ChunkSize int

	// Logger receives transaction lifecycle events.
	// Default: slog.Default()
	Logger *slog.Logger
}

// DefaultConfig returns the configuration used by New when fields are unset.
func DefaultConfig() Config {
	return Config{
		BatchWait: time.Millisecond,
		MaxBatch:  100,
		ChunkSize: 100,
	}
}

// validate fills unset values with defaults.
func (c *Config) validate() {
	if c.MaxBatch < 1 {
		c.MaxBatch = 100
	}
	if c.ChunkSize < 1 {
		c.ChunkSize = 100
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
