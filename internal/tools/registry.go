// Package tools exposes the coordination use cases as named tools. Every call
// passes the authorization gate before its handler runs.
package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"agentline/internal/engine"
	"agentline/internal/engine/auth"
	"agentline/internal/metrics"
	"agentline/internal/observability"
)

// Handler runs one tool for an already authorized caller.
type Handler func(ctx context.Context, caller auth.Caller, args Args) (any, error)

type ParamKind int

const (
	StringParam ParamKind = iota
	NumberParam
	ArrayParam
)

type Param struct {
	Name        string
	Kind        ParamKind
	Description string
	Required    bool
	Enum        []string
}

type Tool struct {
	Name        string
	Description string
	Params      []Param
	Handle      Handler
}

type Registry struct {
	Engine     engine.Engine
	Authorizer auth.Authorizer
	Metrics    *metrics.Metrics

	tools map[string]Tool
}

// NewRegistry registers every coordination tool.
func NewRegistry(e engine.Engine, authz auth.Authorizer, m *metrics.Metrics) *Registry {
	r := &Registry{Engine: e, Authorizer: authz, Metrics: m, tools: map[string]Tool{}}
	for _, t := range r.catalog() {
		r.tools[t.Name] = t
	}
	return r
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Call authorizes the caller on ctx for name and runs the tool.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	caller := auth.CallerFromContext(ctx)
	kind := auth.KindOf(caller)
	err := r.Authorizer.Authorize(name, caller)
	r.Metrics.ObserveAuthorization(name, kind, err)
	if err != nil {
		observability.LoggerFromContext(ctx).Info("tool call denied", "tool", name, "caller", kind, "error", err)
		return nil, err
	}
	t, ok := r.tools[name]
	if !ok {
		return nil, auth.AuthorizationError{Kind: auth.ToolNotRegistered, Tool: name}
	}
	started := time.Now()
	res, err := t.Handle(ctx, caller, Args(args))
	r.Metrics.ObserveToolCall(name, started, err)
	if err != nil {
		f := Classify(err)
		if f.Status >= http.StatusInternalServerError {
			observability.LoggerFromContext(ctx).Error("tool call failed", "tool", name, "caller", kind, "error", err)
		} else {
			observability.LoggerFromContext(ctx).Debug("tool call rejected", "tool", name, "caller", kind, "code", f.Code, "error", err)
		}
	}
	return res, err
}

func (t Tool) definition() mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(t.Description)}
	for _, p := range t.Params {
		props := []mcp.PropertyOption{mcp.Description(p.Description)}
		if p.Required {
			props = append(props, mcp.Required())
		}
		switch p.Kind {
		case NumberParam:
			opts = append(opts, mcp.WithNumber(p.Name, props...))
		case ArrayParam:
			props = append(props, mcp.WithStringItems())
			opts = append(opts, mcp.WithArray(p.Name, props...))
		default:
			if len(p.Enum) > 0 {
				props = append(props, mcp.Enum(p.Enum...))
			}
			opts = append(opts, mcp.WithString(p.Name, props...))
		}
	}
	return mcp.NewTool(t.Name, opts...)
}

// MCPCall runs a tool and renders the outcome as an MCP result. Failures are
// tool errors carrying the classified error as JSON.
func (r *Registry) MCPCall(ctx context.Context, name string, args map[string]any) *mcp.CallToolResult {
	res, err := r.Call(ctx, name, args)
	if err == nil {
		var data []byte
		if data, err = json.Marshal(res); err == nil {
			return mcp.NewToolResultText(string(data))
		}
	}
	data, _ := json.Marshal(map[string]any{"error": Classify(err)})
	return mcp.NewToolResultError(string(data))
}

func (r *Registry) mcpHandler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return r.MCPCall(ctx, name, req.GetArguments()), nil
	}
}

// MCPServer builds an MCP server carrying every registered tool.
func (r *Registry) MCPServer(version string) *server.MCPServer {
	s := server.NewMCPServer("agentline", version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	for _, name := range r.Names() {
		t := r.tools[name]
		s.AddTool(t.definition(), r.mcpHandler(name))
	}
	return s
}

// HTTPHandler serves the tools over MCP streamable HTTP. The caller resolved
// by the authentication middleware is carried into each tool call.
func (r *Registry) HTTPHandler(version string) http.Handler {
	return server.NewStreamableHTTPServer(r.MCPServer(version),
		server.WithStateLess(true),
		server.WithHTTPContextFunc(func(ctx context.Context, req *http.Request) context.Context {
			return auth.WithCaller(ctx, auth.CallerFromContext(req.Context()))
		}),
	)
}
