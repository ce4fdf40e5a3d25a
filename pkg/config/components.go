package config

import (
	"fmt"
)

// CheckpointConfig configures agent state persistence.
type CheckpointConfig struct {
	// Driver selects the backing store: memory, postgres, sqlite, mysql.
	Driver string `yaml:"driver,omitempty"`

	// DSN is the driver-specific connection string. Unused for memory.
	DSN string `yaml:"dsn,omitempty"`
}

func (c *CheckpointConfig) SetDefaults() {
	if c.Driver == "" {
		c.Driver = "memory"
	}
}

func (c *CheckpointConfig) Validate() error {
	switch c.Driver {
	case "memory":
		return nil
	case "postgres", "sqlite", "mysql":
		if c.DSN == "" {
			return fmt.Errorf("dsn is required for driver '%s'", c.Driver)
		}
		return nil
	default:
		return fmt.Errorf("unsupported driver: %s", c.Driver)
	}
}

// BlobConfig configures the object store used for raw payload dumps.
type BlobConfig struct {
	// Provider selects the implementation: s3 or memory.
	Provider string `yaml:"provider,omitempty"`

	Bucket string `yaml:"bucket,omitempty"`
	Region string `yaml:"region,omitempty"`

	// Prefix is prepended to every object key.
	Prefix string `yaml:"prefix,omitempty"`

	// Endpoint overrides the S3 endpoint, for MinIO and friends.
	Endpoint string `yaml:"endpoint,omitempty"`
}

func (c *BlobConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "memory"
	}
	if c.Prefix == "" {
		c.Prefix = "tool-dumps"
	}
	if c.Region == "" {
		c.Region = "us-east-1"
	}
}

func (c *BlobConfig) Validate() error {
	switch c.Provider {
	case "memory":
		return nil
	case "s3":
		if c.Bucket == "" {
			return fmt.Errorf("bucket is required for the s3 provider")
		}
		return nil
	default:
		return fmt.Errorf("unsupported provider: %s", c.Provider)
	}
}

// SandboxConfig configures the remote code-execution service.
type SandboxConfig struct {
	// URL is the sandbox base URL. Empty disables the execute_code tool.
	URL string `yaml:"url,omitempty"`

	// TimeoutSeconds bounds a single execution round-trip.
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`
}

func (c *SandboxConfig) SetDefaults() {
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 120
	}
}

// DatasourceConfig configures one external data adapter.
type DatasourceConfig struct {
	// Type selects the adapter: weather, crypto, jupiter, helius.
	Type string `yaml:"type,omitempty"`

	// BaseURL overrides the adapter's default endpoint.
	BaseURL string `yaml:"base_url,omitempty"`

	// APIKey authenticates adapters that require one (helius).
	APIKey string `yaml:"api_key,omitempty"`

	// TimeoutSeconds bounds a single adapter request.
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`
}

func (c *DatasourceConfig) SetDefaults() {
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 30
	}
}

func (c *DatasourceConfig) Validate() error {
	switch c.Type {
	case "weather", "crypto", "jupiter", "helius":
	default:
		return fmt.Errorf("unsupported datasource type: %s", c.Type)
	}
	if c.Type == "helius" && c.APIKey == "" {
		return fmt.Errorf("api_key is required for helius")
	}
	return nil
}

// ToolConfig configures one tool source.
type ToolConfig struct {
	// Type selects the source: local or mcp.
	Type string `yaml:"type,omitempty"`

	// ServerURL is the MCP server endpoint (mcp sources only).
	ServerURL string `yaml:"server_url,omitempty"`

	// Description annotates the source for diagnostics.
	Description string `yaml:"description,omitempty"`
}
