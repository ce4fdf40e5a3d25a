package tools

import (
	"context"
	"sync"
)

// LocalToolSource holds tools implemented in process. Tools are kept in
// registration order; several may share a name, and the registry unifies
// same-named tools on registration.
type LocalToolSource struct {
	name  string
	tools []Tool
	mu    sync.RWMutex
}

func NewLocalToolSource(name string) *LocalToolSource {
	if name == "" {
		name = "local"
	}
	return &LocalToolSource{name: name}
}

func (s *LocalToolSource) Add(tool Tool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools = append(s.tools, tool)
}

func (s *LocalToolSource) GetName() string {
	return s.name
}

func (s *LocalToolSource) GetType() string {
	return "local"
}

func (s *LocalToolSource) DiscoverTools(ctx context.Context) error {
	return nil
}

func (s *LocalToolSource) Tools() []Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Tool, len(s.tools))
	copy(out, s.tools)
	return out
}

// FuncTool adapts a function into a Tool.
type FuncTool struct {
	info ToolInfo
	fn   func(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

func NewFuncTool(info ToolInfo, fn func(ctx context.Context, args map[string]interface{}) (interface{}, error)) *FuncTool {
	return &FuncTool{info: info, fn: fn}
}

func (t *FuncTool) GetInfo() ToolInfo {
	return t.info
}

func (t *FuncTool) GetName() string {
	return t.info.Name
}

func (t *FuncTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return t.fn(ctx, args)
}
