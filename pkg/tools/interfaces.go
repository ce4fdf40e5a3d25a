// Package tools provides the tool registry the agent loop dispatches through.
//
// Tools come from three kinds of sources: native tools registered in process,
// datasource-derived tools reflected over adapter methods, and remote MCP
// tools. Sources that register methods under the same tool name are unified
// into a single action-dispatched tool.
package tools

import (
	"context"
	"time"
)

// ToolInfo describes a tool to the model.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`

	// Action is the discriminator value used when this tool is folded into a
	// unified action-dispatched tool. Defaults to Name.
	Action string `json:"action,omitempty"`

	// Parameters is a JSON Schema object describing the argument object.
	Parameters map[string]interface{} `json:"parameters,omitempty"`

	// UserAction marks tools that represent side-effectful intents rather
	// than retrievals. Their results are stamped and harvested by the loop.
	UserAction bool `json:"user_action,omitempty"`
}

// ToolResult is the outcome of a single tool invocation.
type ToolResult struct {
	Success bool `json:"success"`

	// Content is the serialized text that becomes the Tool message body.
	Content string `json:"content,omitempty"`

	// Output is the raw return value before serialization, post stamping.
	Output interface{} `json:"output,omitempty"`

	Error         string        `json:"error,omitempty"`
	ToolName      string        `json:"tool_name"`
	ExecutionTime time.Duration `json:"execution_time,omitempty"`
}

type Tool interface {
	GetInfo() ToolInfo

	GetName() string

	// Execute runs the tool. The returned value is JSON-serializable or a
	// raw string; the registry handles encoding and error wrapping.
	Execute(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

type ToolSource interface {
	GetName() string

	GetType() string

	DiscoverTools(ctx context.Context) error

	// Tools returns the discovered tools. Several tools may share a name;
	// the registry unifies them on registration.
	Tools() []Tool
}
