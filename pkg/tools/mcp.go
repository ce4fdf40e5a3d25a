package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// MCPToolSource exposes tools discovered from a remote MCP server.
type MCPToolSource struct {
	name   string
	url    string
	client *mcpclient.Client
	tools  map[string]Tool
	mu     sync.RWMutex
}

func NewMCPToolSource(name, url string) (*MCPToolSource, error) {
	if url == "" {
		return nil, fmt.Errorf("URL is required for MCP source")
	}
	if name == "" {
		name = "mcp"
	}

	client, err := mcpclient.NewStreamableHttpClient(url)
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client: %w", err)
	}

	return &MCPToolSource{
		name:   name,
		url:    url,
		client: client,
		tools:  make(map[string]Tool),
	}, nil
}

func (s *MCPToolSource) GetName() string {
	return s.name
}

func (s *MCPToolSource) GetType() string {
	return "mcp"
}

func (s *MCPToolSource) DiscoverTools(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.client.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MCP client for %s: %w", s.name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "deepsense",
		Version: "1.0.0",
	}
	if _, err := s.client.Initialize(ctx, initReq); err != nil {
		return fmt.Errorf("failed to initialize MCP session with %s: %w", s.name, err)
	}

	listed, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return fmt.Errorf("failed to list tools from %s: %w", s.name, err)
	}

	s.tools = make(map[string]Tool)
	for _, remote := range listed.Tools {
		info := ToolInfo{
			Name:        remote.Name,
			Description: remote.Description,
			Parameters: map[string]interface{}{
				"type":       remote.InputSchema.Type,
				"properties": remote.InputSchema.Properties,
				"required":   remote.InputSchema.Required,
			},
		}
		s.tools[remote.Name] = &mcpTool{info: info, source: s}
	}

	return nil
}

func (s *MCPToolSource) Tools() []Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Tool, 0, len(s.tools))
	for _, tool := range s.tools {
		out = append(out, tool)
	}
	return out
}

func (s *MCPToolSource) Close() error {
	return s.client.Close()
}

type mcpTool struct {
	info   ToolInfo
	source *MCPToolSource
}

func (t *mcpTool) GetInfo() ToolInfo {
	return t.info
}

func (t *mcpTool) GetName() string {
	return t.info.Name
}

func (t *mcpTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = t.info.Name
	req.Params.Arguments = args

	result, err := t.source.client.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("MCP call failed: %w", err)
	}

	var text strings.Builder
	for _, content := range result.Content {
		if tc, ok := mcp.AsTextContent(content); ok {
			text.WriteString(tc.Text)
		}
	}

	if result.IsError {
		return nil, fmt.Errorf("MCP tool error: %s", text.String())
	}

	return strings.TrimSpace(text.String()), nil
}
