package datasource

import (
	"context"
	"fmt"

	"github.com/deepsense-ai/deepsense/pkg/tools"
)

// methodTool adapts one datasource method to the Tool interface.
type methodTool struct {
	method Method
	source string
}

func (t *methodTool) GetName() string {
	return t.method.ToolName
}

func (t *methodTool) GetInfo() tools.ToolInfo {
	return tools.ToolInfo{
		Name:        t.method.ToolName,
		Action:      t.method.Name,
		Description: t.method.Description,
		Parameters:  t.method.Parameters,
		UserAction:  t.method.UserAction,
	}
}

func (t *methodTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return t.method.Invoke(ctx, args)
}

// Source wraps a DataSource as a ToolSource so the registry can discover and
// unify its method tools.
type Source struct {
	ds    DataSource
	tools []tools.Tool
}

func NewSource(ds DataSource) *Source {
	return &Source{ds: ds}
}

func (s *Source) GetName() string {
	return s.ds.Name()
}

func (s *Source) GetType() string {
	return "datasource"
}

func (s *Source) DiscoverTools(ctx context.Context) error {
	s.tools = nil
	for _, method := range s.ds.Methods() {
		if method.Invoke == nil {
			return fmt.Errorf("method %s of datasource %s has no implementation", method.Name, s.ds.Name())
		}
		if method.ToolName == "" {
			method.ToolName = fmt.Sprintf("%s_%s", s.ds.Name(), method.Name)
		}
		// One tool per method; name collisions unify at the registry.
		s.tools = append(s.tools, &methodTool{method: method, source: s.ds.Name()})
	}
	return nil
}

func (s *Source) Tools() []tools.Tool {
	return s.tools
}
