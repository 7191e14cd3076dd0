package mcp

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

var errEmptyToolName = errors.New("tool name is required")

type registeredTool struct {
	tool    mcp.Tool
	handler server.ToolHandlerFunc
}

// Registry is the explicit list of tools the server exposes. Tools are
// registered once at startup, in order.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]registeredTool
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]registeredTool)}
}

// Register adds a tool under tool.Name. Names must be unique.
func (r *Registry) Register(tool mcp.Tool, handler server.ToolHandlerFunc) error {
	if tool.Name == "" {
		return errEmptyToolName
	}
	if handler == nil {
		return fmt.Errorf("tool %s has no handler", tool.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("tool %s already registered", tool.Name)
	}
	r.tools[tool.Name] = registeredTool{tool: tool, handler: handler}
	r.order = append(r.order, tool.Name)
	return nil
}

// Lookup returns the handler of a tool
func (r *Registry) Lookup(name string) (server.ToolHandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t.handler, ok
}

// Tools returns tool definitions in registration order
func (r *Registry) Tools() []mcp.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mcp.Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].tool)
	}
	return out
}

// Apply adds every registered tool to an MCP server
func (r *Registry) Apply(s *server.MCPServer) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		t := r.tools[name]
		s.AddTool(t.tool, t.handler)
	}
}
