// Package llms provides the LLM provider abstraction and its implementations.
package llms

import (
	"context"

	"github.com/deepsense-ai/deepsense/pkg/protocol"
)

// ToolDefinition describes a callable tool in the provider-neutral form.
// Parameters is a JSON Schema object.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Provider is the LLM abstraction the agent loop and compaction engine
// program against.
type Provider interface {
	// Generate performs a completion request with optional tool definitions.
	// Returns the text, any tool calls, and the total tokens used.
	Generate(ctx context.Context, messages []*protocol.Message, tools []ToolDefinition) (string, []*protocol.ToolCall, int, error)

	// GenerateStructured requests a completion constrained to the given JSON
	// schema. Providers without native schema support fall back to prompt
	// instruction plus lenient extraction.
	GenerateStructured(ctx context.Context, messages []*protocol.Message, schema map[string]interface{}) (string, int, error)

	ModelName() string

	Close() error
}
