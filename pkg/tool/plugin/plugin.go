// Package plugin adapts sandboxed plugin-packaged tools, launched as
// separate processes and spoken to over hashicorp/go-plugin, into the
// Tool/Toolset contract. This package defines the host-side RPC contract a
// plugin binary must satisfy.
//
// The transport is go-plugin's net/rpc mode rather than gRPC: a tool's
// arguments and results are open JSON-like values with no fixed schema to
// generate protobuf stubs from, and net/rpc needs no codegen for a
// freeform Call(args) ([]Part, error) shape.
package plugin

import (
	"context"
	"fmt"
	"net/rpc"
	"os/exec"
	"sync"

	"github.com/hashicorp/go-hclog"
	hcplugin "github.com/hashicorp/go-plugin"

	"github.com/distrihub/distri-sub004/pkg/distrierr"
	"github.com/distrihub/distri-sub004/pkg/message"
	"github.com/distrihub/distri-sub004/pkg/tool"
)

var handshakeConfig = hcplugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "DISTRI_PLUGIN",
	MagicCookieValue: "distri_plugin_v1",
}

// ToolDescriptor mirrors one tool the plugin advertises via ListTools.
type ToolDescriptor struct {
	Name             string
	Description      string
	ParametersSchema map[string]any
	OutputSchema     map[string]any
}

// CallArgs is the RPC payload for invoking one plugin-hosted tool.
type CallArgs struct {
	ToolName string
	Input    any
}

// CallReply is the RPC result of invoking one plugin-hosted tool.
type CallReply struct {
	Parts   []message.Part
	IsError bool
	Error   string
}

// ToolProvider is the interface a plugin binary implements and exposes over
// net/rpc: the Tool capability set minus IsFinal/IsExternal, which only
// make sense for reserved/built-in tools.
type ToolProvider interface {
	ListTools() ([]ToolDescriptor, error)
	Call(args CallArgs) (CallReply, error)
}

// toolProviderRPC is the client-side stub go-plugin dispenses.
type toolProviderRPC struct{ client *rpc.Client }

func (c *toolProviderRPC) ListTools() ([]ToolDescriptor, error) {
	var out []ToolDescriptor
	err := c.client.Call("Plugin.ListTools", struct{}{}, &out)
	return out, err
}

func (c *toolProviderRPC) Call(args CallArgs) (CallReply, error) {
	var out CallReply
	err := c.client.Call("Plugin.Call", args, &out)
	return out, err
}

// ToolProviderPlugin implements hcplugin.Plugin for the net/rpc transport.
// Host processes use it unmodified; a plugin binary provides its own Server
// side wrapping a ToolProvider implementation.
type ToolProviderPlugin struct {
	Impl ToolProvider // set by the plugin binary; unused by the host
}

func (p *ToolProviderPlugin) Server(*hcplugin.MuxBroker) (interface{}, error) {
	return &toolProviderRPCServer{impl: p.Impl}, nil
}

func (p *ToolProviderPlugin) Client(b *hcplugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &toolProviderRPC{client: c}, nil
}

type toolProviderRPCServer struct{ impl ToolProvider }

func (s *toolProviderRPCServer) ListTools(_ struct{}, out *[]ToolDescriptor) error {
	tools, err := s.impl.ListTools()
	*out = tools
	return err
}

func (s *toolProviderRPCServer) Call(args CallArgs, out *CallReply) error {
	reply, err := s.impl.Call(args)
	*out = reply
	return err
}

// Config configures one installed plugin package.
type Config struct {
	Name string
	Path string // path to the plugin executable
}

// Toolset launches a plugin binary on first use and exposes its advertised
// tools; the process stays alive until Close.
type Toolset struct {
	cfg Config

	mu        sync.Mutex
	client    *hcplugin.Client
	provider  ToolProvider
	tools     []tool.Tool
	connected bool
}

// New creates a plugin toolset.
func New(cfg Config) (*Toolset, error) {
	if cfg.Path == "" {
		return nil, distrierr.New(distrierr.Validation, "plugin toolset requires a path")
	}
	return &Toolset{cfg: cfg}, nil
}

func (t *Toolset) Name() string { return t.cfg.Name }

func (t *Toolset) Tools(ctx context.Context) ([]tool.Tool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		if err := t.load(); err != nil {
			return nil, distrierr.Wrap(distrierr.ToolExecution, err, "load plugin "+t.cfg.Name)
		}
	}
	return t.tools, nil
}

func (t *Toolset) load() error {
	clientConfig := &hcplugin.ClientConfig{
		HandshakeConfig: handshakeConfig,
		Plugins:         map[string]hcplugin.Plugin{"tool": &ToolProviderPlugin{}},
		Cmd:             exec.Command(t.cfg.Path),
		Logger:          hclog.New(&hclog.LoggerOptions{Name: "distri-plugin", Level: hclog.Info}),
		AllowedProtocols: []hcplugin.Protocol{hcplugin.ProtocolNetRPC},
	}

	client := hcplugin.NewClient(clientConfig)
	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return fmt.Errorf("get rpc client: %w", err)
	}

	raw, err := rpcClient.Dispense("tool")
	if err != nil {
		client.Kill()
		return fmt.Errorf("dispense tool plugin: %w", err)
	}

	provider, ok := raw.(ToolProvider)
	if !ok {
		client.Kill()
		return fmt.Errorf("plugin %q does not implement ToolProvider", t.cfg.Name)
	}

	descriptors, err := provider.ListTools()
	if err != nil {
		client.Kill()
		return fmt.Errorf("list plugin tools: %w", err)
	}

	tools := make([]tool.Tool, 0, len(descriptors))
	for _, d := range descriptors {
		tools = append(tools, &pluginTool{provider: provider, desc: d})
	}

	t.client = client
	t.provider = provider
	t.tools = tools
	t.connected = true
	return nil
}

// Close terminates the plugin process, if started.
func (t *Toolset) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		t.client.Kill()
		t.connected = false
	}
}

type pluginTool struct {
	provider ToolProvider
	desc     ToolDescriptor
}

func (w *pluginTool) Name() string                     { return w.desc.Name }
func (w *pluginTool) Description() string               { return w.desc.Description }
func (w *pluginTool) ParametersSchema() map[string]any  { return w.desc.ParametersSchema }
func (w *pluginTool) OutputSchema() map[string]any      { return w.desc.OutputSchema }
func (w *pluginTool) IsFinal() bool                     { return false }
func (w *pluginTool) IsExternal() bool                  { return false }
func (w *pluginTool) NeedsExecutorContext() bool        { return false }

func (w *pluginTool) Execute(ctx tool.Context, call *message.ToolCall) ([]message.Part, error) {
	reply, err := w.provider.Call(CallArgs{ToolName: w.desc.Name, Input: call.Input})
	if err != nil {
		return nil, distrierr.Wrap(distrierr.ToolExecution, err, "plugin call "+w.desc.Name)
	}
	if reply.IsError {
		return reply.Parts, distrierr.New(distrierr.ToolExecution, reply.Error)
	}
	return reply.Parts, nil
}

var _ tool.Toolset = (*Toolset)(nil)
var _ tool.Tool = (*pluginTool)(nil)
var _ hcplugin.Plugin = (*ToolProviderPlugin)(nil)
