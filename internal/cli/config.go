package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/tailscale/hujson"
)

// ConfigFileName is the config file read from the working directory when
// --config is not given.
const ConfigFileName = ".docload.jsonc"

// Backend names.
const (
	BackendMemory   = "memory"
	BackendDynamoDB = "dynamodb"
)

var (
	errConfigRead    = errors.New("cannot read config file")
	errConfigInvalid = errors.New("invalid config")
)

// Config is the CLI configuration. Flags override values from the file.
type Config struct {
	// Backend is "memory" or "dynamodb".
	Backend string `json:"backend"`

	// Region, Profile and Endpoint configure the DynamoDB client. Endpoint
	// points at DynamoDB Local or another compatible service.
	Region   string `json:"region"`
	Profile  string `json:"profile"`
	Endpoint string `json:"endpoint"`

	// TablePrefix and Tables resolve kinds to table names.
	TablePrefix string            `json:"table_prefix"`
	Tables      map[string]string `json:"tables"`

	ConsistentRead bool `json:"consistent_read"`

	// Seed is a JSONC file of documents loaded into the memory backend.
	Seed string `json:"seed"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{Backend: BackendMemory}
}

// LoadConfig reads a JSONC config file over the defaults. A missing file
// is an error only if mustExist is set.
func LoadConfig(path string, mustExist bool) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path) //nolint:gosec // path is user-controlled on purpose
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("%w: %s", errConfigRead, path)
	}
	if err := parseJSONC(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w %s: %w", errConfigInvalid, path, err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("%w %s: %w", errConfigInvalid, path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Backend == "" {
		c.Backend = BackendMemory
	}
	if !slices.Contains([]string{BackendMemory, BackendDynamoDB}, c.Backend) {
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	return nil
}

// parseJSONC standardizes JSONC to JSON and decodes it into v.
func parseJSONC(data []byte, v any) error {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fmt.Errorf("invalid JSONC: %w", err)
	}
	if err := json.Unmarshal(standardized, v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}
