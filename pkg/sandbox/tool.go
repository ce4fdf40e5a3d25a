package sandbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"

	"github.com/deepsense-ai/deepsense/pkg/tools"
)

// toolArgs is the argument surface exposed to the model. Nothing beyond
// these fields is required to run code.
type toolArgs struct {
	Code         string   `json:"code" jsonschema:"description=Source code to execute."`
	Requirements []string `json:"requirements,omitempty" jsonschema:"description=Package names to install before execution."`
	Language     string   `json:"language,omitempty" jsonschema:"enum=python,enum=node,description=Execution runtime. Defaults to python."`
}

// Tool exposes sandbox execution as the execute_code tool.
type Tool struct {
	client *Client
	schema map[string]interface{}
}

func NewTool(client *Client) (*Tool, error) {
	schema, err := reflectSchema()
	if err != nil {
		return nil, err
	}
	return &Tool{client: client, schema: schema}, nil
}

func reflectSchema() (map[string]interface{}, error) {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	reflected := reflector.Reflect(&toolArgs{})

	data, err := json.Marshal(reflected)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool schema: %w", err)
	}

	var schema map[string]interface{}
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("failed to decode tool schema: %w", err)
	}
	delete(schema, "$schema")
	return schema, nil
}

func (t *Tool) GetName() string {
	return "execute_code"
}

func (t *Tool) GetInfo() tools.ToolInfo {
	return tools.ToolInfo{
		Name:        "execute_code",
		Description: "Execute code in an isolated sandbox with no network access and return its stdout and stderr.",
		Parameters:  t.schema,
	}
}

func (t *Tool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	var decoded toolArgs
	if err := mapstructure.Decode(args, &decoded); err != nil {
		return nil, fmt.Errorf("invalid execute_code arguments: %w", err)
	}
	if decoded.Code == "" {
		return nil, fmt.Errorf("code is required")
	}

	response, err := t.client.Execute(ctx, ExecuteRequest{
		Code:         decoded.Code,
		Requirements: decoded.Requirements,
		Language:     decoded.Language,
	})
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"stdout": response.Stdout,
		"stderr": response.Stderr,
	}, nil
}
