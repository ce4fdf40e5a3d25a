package config

import (
	"fmt"
	"os"
)

// LLMProviderConfig configures a single LLM provider.
type LLMProviderConfig struct {
	// Type selects the provider implementation: openai, anthropic, gemini.
	Type string `yaml:"type,omitempty"`

	// Model is the provider model identifier.
	Model string `yaml:"model,omitempty"`

	// APIKey authenticates against the provider. Usually left empty and
	// resolved from the conventional env var for the provider type.
	APIKey string `yaml:"api_key,omitempty"`

	// Host overrides the provider base URL.
	Host string `yaml:"host,omitempty"`

	Temperature float64 `yaml:"temperature,omitempty"`
	MaxTokens   int     `yaml:"max_tokens,omitempty"`

	// Timeout bounds a single generation request, in seconds.
	Timeout int `yaml:"timeout,omitempty"`

	MaxRetries int `yaml:"max_retries,omitempty"`
}

// detectProviderFromEnv picks a provider type based on which API key is set.
func detectProviderFromEnv() string {
	if os.Getenv("OPENAI_API_KEY") != "" {
		return "openai"
	}
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		return "anthropic"
	}
	if os.Getenv("GEMINI_API_KEY") != "" {
		return "gemini"
	}
	return "openai"
}

func defaultModelForProvider(providerType string) string {
	switch providerType {
	case "anthropic":
		return "claude-sonnet-4-20250514"
	case "gemini":
		return "gemini-2.0-flash"
	default:
		return "gpt-4o"
	}
}

func defaultHostForProvider(providerType string) string {
	switch providerType {
	case "anthropic":
		return "https://api.anthropic.com"
	case "gemini":
		return ""
	default:
		return "https://api.openai.com/v1"
	}
}

func (c *LLMProviderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = detectProviderFromEnv()
	}
	if c.Model == "" {
		c.Model = defaultModelForProvider(c.Type)
	}
	if c.APIKey == "" {
		c.APIKey = GetProviderAPIKey(c.Type)
	}
	if c.Host == "" {
		c.Host = defaultHostForProvider(c.Type)
	}
	if c.Temperature == 0 {
		c.Temperature = 0.1
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 8192
	}
	if c.Timeout == 0 {
		c.Timeout = 120
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

func (c *LLMProviderConfig) Validate() error {
	switch c.Type {
	case "openai", "anthropic", "gemini":
	default:
		return fmt.Errorf("unsupported provider type: %s", c.Type)
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("api key is required for provider '%s' (set %s)", c.Type, apiKeyEnvVar(c.Type))
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	return nil
}

func apiKeyEnvVar(providerType string) string {
	switch providerType {
	case "openai":
		return "OPENAI_API_KEY"
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "gemini":
		return "GEMINI_API_KEY"
	default:
		return ""
	}
}
