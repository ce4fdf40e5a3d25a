// Package config defines the runtime configuration and its loading pipeline.
//
// Configuration flows through three stages: load (YAML + env expansion),
// SetDefaults, and Validate. Missing required credentials are a validation
// error, so misconfiguration fails at startup rather than mid-turn.
package config

import (
	"fmt"
)

// Config is the root configuration for the runtime.
type Config struct {
	// LLMs maps provider names to provider configurations.
	LLMs map[string]*LLMProviderConfig `yaml:"llms,omitempty"`

	// Planner selects the LLM provider that drives the agent loop.
	Planner string `yaml:"planner,omitempty"`

	// Compaction configures the oversized-tool-output compaction engine.
	Compaction CompactionConfig `yaml:"compaction,omitempty"`

	// Checkpoint configures agent state persistence.
	Checkpoint CheckpointConfig `yaml:"checkpoint,omitempty"`

	// Blob configures raw payload uploads for the schema-discovery branch.
	Blob BlobConfig `yaml:"blob,omitempty"`

	// Sandbox configures the remote code-execution sandbox.
	Sandbox SandboxConfig `yaml:"sandbox,omitempty"`

	// Datasources maps datasource names to adapter configurations.
	Datasources map[string]*DatasourceConfig `yaml:"datasources,omitempty"`

	// Tools maps tool source names to configurations (local, mcp).
	Tools map[string]*ToolConfig `yaml:"tools,omitempty"`

	// Server configures the HTTP surface.
	Server ServerConfig `yaml:"server,omitempty"`

	// Observability configures tracing and metrics.
	Observability ObservabilityConfig `yaml:"observability,omitempty"`

	// SystemPrompt overrides the built-in system prompt when set.
	SystemPrompt string `yaml:"system_prompt,omitempty"`
}

// ProcessConfigPipeline runs the config through defaulting and validation.
func ProcessConfigPipeline(cfg *Config) (*Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("ProcessConfigPipeline: config cannot be nil")
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("ProcessConfigPipeline: validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) SetDefaults() {
	if c.LLMs == nil {
		c.LLMs = make(map[string]*LLMProviderConfig)
	}
	if len(c.LLMs) == 0 {
		// Zero-config mode: a single provider resolved from the environment.
		c.LLMs["default"] = &LLMProviderConfig{}
	}
	for _, llm := range c.LLMs {
		llm.SetDefaults()
	}
	if c.Planner == "" {
		c.Planner = firstKey(c.LLMs)
	}

	c.Compaction.SetDefaults()
	c.Checkpoint.SetDefaults()
	c.Blob.SetDefaults()
	c.Sandbox.SetDefaults()
	c.Server.SetDefaults()
	c.Observability.SetDefaults()

	for _, ds := range c.Datasources {
		ds.SetDefaults()
	}
}

func (c *Config) Validate() error {
	if len(c.LLMs) == 0 {
		return fmt.Errorf("at least one LLM provider is required")
	}
	if _, ok := c.LLMs[c.Planner]; !ok {
		return fmt.Errorf("planner LLM '%s' is not configured", c.Planner)
	}
	for name, llm := range c.LLMs {
		if err := llm.Validate(); err != nil {
			return fmt.Errorf("llm '%s': %w", name, err)
		}
	}
	if err := c.Compaction.Validate(c.LLMs); err != nil {
		return fmt.Errorf("compaction: %w", err)
	}
	if err := c.Checkpoint.Validate(); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	if err := c.Blob.Validate(); err != nil {
		return fmt.Errorf("blob: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	for name, ds := range c.Datasources {
		if err := ds.Validate(); err != nil {
			return fmt.Errorf("datasource '%s': %w", name, err)
		}
	}
	return nil
}

// CompactionConfig tunes the compaction engine thresholds.
type CompactionConfig struct {
	// Threshold is the token count above which a tool output is compacted.
	Threshold int `yaml:"threshold,omitempty"`

	// ChunkTokens is the per-chunk token budget.
	ChunkTokens int `yaml:"chunk_tokens,omitempty"`

	// BatchSize bounds the chunks per summarization batch.
	BatchSize int `yaml:"batch_size,omitempty"`

	// MaxSchemaIterations bounds schema refinement passes.
	MaxSchemaIterations int `yaml:"max_schema_iterations,omitempty"`

	// DecisionLLM names the provider used for the mode decision.
	// Defaults to the planner.
	DecisionLLM string `yaml:"decision_llm,omitempty"`

	// ReducerLLM names the provider used for schema extraction,
	// summarization, and merging. Defaults to the planner.
	ReducerLLM string `yaml:"reducer_llm,omitempty"`
}

func (c *CompactionConfig) SetDefaults() {
	if c.Threshold == 0 {
		c.Threshold = 15000
	}
	if c.ChunkTokens == 0 {
		c.ChunkTokens = 5000
	}
	if c.BatchSize == 0 {
		c.BatchSize = 8
	}
	if c.MaxSchemaIterations == 0 {
		c.MaxSchemaIterations = 3
	}
}

func (c *CompactionConfig) Validate(llms map[string]*LLMProviderConfig) error {
	if c.Threshold < 0 || c.ChunkTokens <= 0 || c.BatchSize <= 0 {
		return fmt.Errorf("threshold, chunk_tokens and batch_size must be positive")
	}
	if c.DecisionLLM != "" {
		if _, ok := llms[c.DecisionLLM]; !ok {
			return fmt.Errorf("decision_llm '%s' is not configured", c.DecisionLLM)
		}
	}
	if c.ReducerLLM != "" {
		if _, ok := llms[c.ReducerLLM]; !ok {
			return fmt.Errorf("reducer_llm '%s' is not configured", c.ReducerLLM)
		}
	}
	return nil
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`

	// MaxTransitions bounds agent loop transitions per turn.
	MaxTransitions int `yaml:"max_transitions,omitempty"`

	// RequestTimeoutSeconds bounds a single /query turn.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds,omitempty"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.MaxTransitions == 0 {
		c.MaxTransitions = 50
	}
	if c.RequestTimeoutSeconds == 0 {
		c.RequestTimeoutSeconds = 600
	}
}

func (c *ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	return nil
}

// ObservabilityConfig configures tracing and metrics.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
	Tracing TracingConfig `yaml:"tracing,omitempty"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled,omitempty"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled,omitempty"`
	EndpointURL  string  `yaml:"endpoint_url,omitempty"`
	SamplingRate float64 `yaml:"sampling_rate,omitempty"`
	ServiceName  string  `yaml:"service_name,omitempty"`
}

func (c *ObservabilityConfig) SetDefaults() {
	if c.Tracing.EndpointURL == "" {
		c.Tracing.EndpointURL = "localhost:4317"
	}
	if c.Tracing.SamplingRate == 0 {
		c.Tracing.SamplingRate = 1.0
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "deepsense"
	}
}

func firstKey(m map[string]*LLMProviderConfig) string {
	for k := range m {
		return k
	}
	return ""
}

func BoolPtr(b bool) *bool { return &b }
