// Package mcp adapts MCP-protocol servers into the Tool/Toolset contract,
// translating Execute calls into the MCP wire protocol. Protocol details
// are delegated entirely to mark3labs/mcp-go; only the stdio transport is
// supported.
package mcp

import (
	"context"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/distrihub/distri-sub004/pkg/distrierr"
	"github.com/distrihub/distri-sub004/pkg/message"
	"github.com/distrihub/distri-sub004/pkg/tool"
)

// Config configures a connection to one MCP server. Filter, when set, is
// an allow-list of tool names to expose.
type Config struct {
	Name    string
	Command string
	Args    []string
	Env     map[string]string
	Filter  []string
}

// Toolset is a lazily-connected MCP server exposed as a tool.Toolset.
type Toolset struct {
	cfg Config

	mu        sync.Mutex
	client    *client.Client
	tools     []tool.Tool
	connected bool
	filterSet map[string]bool
}

// New creates an MCP toolset; the connection is established lazily on first
// Tools() call and reused for the toolset's lifetime.
func New(cfg Config) (*Toolset, error) {
	if cfg.Command == "" {
		return nil, distrierr.New(distrierr.Validation, "mcp toolset requires a command")
	}
	var filterSet map[string]bool
	if len(cfg.Filter) > 0 {
		filterSet = make(map[string]bool, len(cfg.Filter))
		for _, n := range cfg.Filter {
			filterSet[n] = true
		}
	}
	return &Toolset{cfg: cfg, filterSet: filterSet}, nil
}

func (t *Toolset) Name() string { return t.cfg.Name }

// Tools returns the MCP server's advertised tools, connecting on first call.
func (t *Toolset) Tools(ctx context.Context) ([]tool.Tool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		if err := t.connect(ctx); err != nil {
			return nil, distrierr.Wrap(distrierr.ToolExecution, err, "connect to mcp server")
		}
	}
	return t.tools, nil
}

func (t *Toolset) connect(ctx context.Context) error {
	env := make([]string, 0, len(t.cfg.Env))
	for k, v := range t.cfg.Env {
		env = append(env, k+"="+v)
	}

	c, err := client.NewStdioMCPClient(t.cfg.Command, env, t.cfg.Args...)
	if err != nil {
		return fmt.Errorf("create mcp client: %w", err)
	}
	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("start mcp client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "distri", Version: "0.1.0"}
	initReq.Params.ProtocolVersion = "2024-11-05"
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return fmt.Errorf("initialize mcp session: %w", err)
	}

	listResp, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		c.Close()
		return fmt.Errorf("list mcp tools: %w", err)
	}

	tools := make([]tool.Tool, 0, len(listResp.Tools))
	for _, mt := range listResp.Tools {
		if t.filterSet != nil && !t.filterSet[mt.Name] {
			continue
		}
		tools = append(tools, &mcpTool{
			toolset: t,
			name:    mt.Name,
			desc:    mt.Description,
			schema:  convertSchema(mt.InputSchema),
		})
	}

	t.client = c
	t.tools = tools
	t.connected = true
	return nil
}

func convertSchema(s mcp.ToolInputSchema) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": s.Properties,
		"required":   s.Required,
	}
}

// mcpTool wraps one tool advertised by the MCP server.
type mcpTool struct {
	toolset *Toolset
	name    string
	desc    string
	schema  map[string]any
}

func (w *mcpTool) Name() string                      { return w.name }
func (w *mcpTool) Description() string                { return w.desc }
func (w *mcpTool) ParametersSchema() map[string]any    { return w.schema }
func (w *mcpTool) OutputSchema() map[string]any        { return nil }
func (w *mcpTool) IsFinal() bool                       { return false }
func (w *mcpTool) IsExternal() bool                    { return false }
func (w *mcpTool) NeedsExecutorContext() bool          { return false }

func (w *mcpTool) Execute(ctx tool.Context, call *message.ToolCall) ([]message.Part, error) {
	args, _ := call.Input.(map[string]any)

	req := mcp.CallToolRequest{}
	req.Params.Name = w.name
	req.Params.Arguments = args

	resp, err := w.toolset.client.CallTool(ctx, req)
	if err != nil {
		return nil, distrierr.Wrap(distrierr.ToolExecution, err, "mcp call_tool "+w.name)
	}

	parts := make([]message.Part, 0, len(resp.Content))
	for _, c := range resp.Content {
		if tc, ok := mcp.AsTextContent(c); ok {
			parts = append(parts, message.TextPart(tc.Text))
		}
	}
	if resp.IsError {
		return parts, distrierr.Newf(distrierr.ToolExecution, "mcp tool %q returned an error result", w.name)
	}
	return parts, nil
}

var _ tool.Toolset = (*Toolset)(nil)
var _ tool.Tool = (*mcpTool)(nil)
