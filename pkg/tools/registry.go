package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/deepsense-ai/deepsense/pkg/llms"
	"github.com/deepsense-ai/deepsense/pkg/observability"
	"github.com/deepsense-ai/deepsense/pkg/registry"
)

type ToolEntry struct {
	Tool       Tool
	Source     ToolSource
	SourceType string
	Name       string
}

type ToolRegistry struct {
	*registry.BaseRegistry[ToolEntry]
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		BaseRegistry: registry.NewBaseRegistry[ToolEntry](),
	}
}

// RegisterSource discovers the source's tools and registers them. When a tool
// name is already taken, both tools fold into one unified action-dispatched
// tool under that name.
func (r *ToolRegistry) RegisterSource(ctx context.Context, source ToolSource) error {
	name := source.GetName()
	if name == "" {
		return fmt.Errorf("source name cannot be empty")
	}

	if err := source.DiscoverTools(ctx); err != nil {
		return fmt.Errorf("failed to discover tools from source %s: %w", name, err)
	}

	for _, tool := range source.Tools() {
		if err := r.registerTool(tool.GetName(), tool, source); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.GetName(), err)
		}
	}

	return nil
}

func (r *ToolRegistry) registerTool(name string, tool Tool, source ToolSource) error {
	existing, taken := r.Get(name)
	if !taken {
		return r.Register(name, ToolEntry{
			Tool:       tool,
			Source:     source,
			SourceType: source.GetType(),
			Name:       name,
		})
	}

	if unified, ok := existing.Tool.(*UnifiedTool); ok {
		if err := unified.AddVariant(tool); err != nil {
			return err
		}
		return nil
	}

	unified, err := NewUnifiedTool(name, existing.Tool, tool)
	if err != nil {
		return err
	}
	return r.Put(name, ToolEntry{
		Tool:       unified,
		Source:     source,
		SourceType: "unified",
		Name:       name,
	})
}

func (r *ToolRegistry) GetTool(name string) (Tool, error) {
	entry, exists := r.Get(name)
	if !exists {
		return nil, fmt.Errorf("tool %s not found", name)
	}
	return entry.Tool, nil
}

func (r *ToolRegistry) ListTools() []ToolInfo {
	var infos []ToolInfo
	for _, entry := range r.List() {
		infos = append(infos, entry.Tool.GetInfo())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// Definitions renders the catalog in the form LLM providers consume.
func (r *ToolRegistry) Definitions() []llms.ToolDefinition {
	var defs []llms.ToolDefinition
	for _, info := range r.ListTools() {
		params := info.Parameters
		if params == nil {
			params = map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			}
		}
		defs = append(defs, llms.ToolDefinition{
			Name:        info.Name,
			Description: info.Description,
			Parameters:  params,
		})
	}
	return defs
}

// ExecuteTool dispatches one call. Tool failures never propagate as bare
// errors: they are encoded as {"error": ...} content so the loop can feed
// them back to the model.
func (r *ToolRegistry) ExecuteTool(ctx context.Context, toolName string, args map[string]interface{}) ToolResult {
	startTime := time.Now()

	tracer := observability.GetTracer("deepsense.tools")
	ctx, span := tracer.Start(ctx, observability.SpanToolExecution,
		trace.WithAttributes(
			attribute.String(observability.AttrToolName, toolName),
		),
	)
	defer span.End()

	entry, exists := r.Get(toolName)
	if !exists {
		err := fmt.Errorf("tool %s not found", toolName)
		span.RecordError(err)
		span.SetStatus(codes.Error, "tool not found")
		recordToolExecution(ctx, toolName, time.Since(startTime), err)

		return unknownToolResult(toolName, err, time.Since(startTime), r.toolNames())
	}

	output, execErr := entry.Tool.Execute(ctx, args)
	duration := time.Since(startTime)

	if execErr != nil {
		span.RecordError(execErr)
		span.SetStatus(codes.Error, execErr.Error())
		recordToolExecution(ctx, toolName, duration, execErr)

		return errorResult(toolName, execErr, duration)
	}

	if entry.Tool.GetInfo().UserAction {
		output = StampUserAction(output, toolName)
	}

	content, err := EncodeOutput(output)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		recordToolExecution(ctx, toolName, duration, err)

		return errorResult(toolName, err, duration)
	}

	span.SetAttributes(
		attribute.Bool("tool.success", true),
		attribute.Int64("tool.duration_ms", duration.Milliseconds()),
	)
	span.SetStatus(codes.Ok, "success")
	recordToolExecution(ctx, toolName, duration, nil)

	return ToolResult{
		Success:       true,
		Content:       content,
		Output:        output,
		ToolName:      toolName,
		ExecutionTime: duration,
	}
}

// StampUserAction marks a user-action tool's return value. Objects get the
// flag injected in place; anything else is wrapped.
func StampUserAction(output interface{}, source string) interface{} {
	if obj, ok := output.(map[string]interface{}); ok {
		if _, present := obj["user_action"]; !present {
			obj["user_action"] = true
		}
		return obj
	}
	return map[string]interface{}{
		"user_action": true,
		"data":        output,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"source":      source,
	}
}

// EncodeOutput converts a tool return value to Tool message content. Strings
// pass through; everything else is compact JSON.
func EncodeOutput(output interface{}) (string, error) {
	if s, ok := output.(string); ok {
		return s, nil
	}
	data, err := json.Marshal(output)
	if err != nil {
		return "", fmt.Errorf("failed to serialize tool output: %w", err)
	}
	return string(data), nil
}

func (r *ToolRegistry) toolNames() []string {
	infos := r.ListTools()
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}
	return names
}

// unknownToolResult lists the catalog so the model can correct itself on the
// next call instead of retrying a name that does not exist.
func unknownToolResult(toolName string, err error, duration time.Duration, available []string) ToolResult {
	encoded, _ := json.Marshal(map[string]interface{}{
		"error":           err.Error(),
		"available_tools": available,
	})
	return ToolResult{
		Success:       false,
		Content:       string(encoded),
		Error:         err.Error(),
		ToolName:      toolName,
		ExecutionTime: duration,
	}
}

func errorResult(toolName string, err error, duration time.Duration) ToolResult {
	encoded, _ := json.Marshal(map[string]string{"error": err.Error()})
	return ToolResult{
		Success:       false,
		Content:       string(encoded),
		Error:         err.Error(),
		ToolName:      toolName,
		ExecutionTime: duration,
	}
}

func recordToolExecution(ctx context.Context, tool string, duration time.Duration, err error) {
	if metrics := observability.GetGlobalMetrics(); metrics != nil {
		metrics.RecordToolExecution(ctx, tool, duration, err)
	}
}
