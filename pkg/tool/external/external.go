// Package external implements the external (client-resolved) tool source.
// An external tool's execute does not run in-process: it emits an
// ExternalToolCall event and the engine awaits a matching
// ExternalToolResult delivered by the host, under a mandatory timeout.
// Hosts may instead register a Resolver that answers externals locally.
package external

import (
	"context"
	"sync"
	"time"

	"github.com/distrihub/distri-sub004/pkg/distrierr"
	"github.com/distrihub/distri-sub004/pkg/event"
	"github.com/distrihub/distri-sub004/pkg/message"
	"github.com/distrihub/distri-sub004/pkg/tool"
)

// Resolver answers an external tool call locally instead of waiting for a
// correlated event from the host.
type Resolver interface {
	Resolve(ctx context.Context, call *message.ToolCall) ([]message.Part, error)
}

// Broker correlates ExternalToolCall emissions with ExternalToolResult
// deliveries for one run. One Broker instance is shared by every external
// tool dispatched within a run.
type Broker struct {
	bus     *event.Bus
	env     event.Envelope
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]chan *message.ToolResponse
}

// NewBroker creates a Broker that emits via bus using env, waiting up to
// timeout for each call's result.
func NewBroker(bus *event.Bus, env event.Envelope, timeout time.Duration) *Broker {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Broker{bus: bus, env: env, timeout: timeout, pending: make(map[string]chan *message.ToolResponse)}
}

// Deliver resolves a pending call awaited by Await, called by the host when
// it observes an ExternalToolResult for toolCallID. Returns false if no call
// with that ID is currently pending (already timed out, or unknown).
func (b *Broker) Deliver(toolCallID string, resp *message.ToolResponse) bool {
	b.mu.Lock()
	ch, ok := b.pending[toolCallID]
	b.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- resp:
		return true
	default:
		return false
	}
}

// Await emits an ExternalToolCall event and blocks for the result, the
// context's cancellation, or the broker's configured timeout.
func (b *Broker) Await(ctx context.Context, call *message.ToolCall) ([]message.Part, error) {
	ch := make(chan *message.ToolResponse, 1)
	b.mu.Lock()
	b.pending[call.ToolCallID] = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, call.ToolCallID)
		b.mu.Unlock()
	}()

	ev := event.New(event.KindExternalToolCall, b.env)
	ev.ToolCallID = call.ToolCallID
	ev.ToolCallName = call.ToolName
	ev.Input = call.Input
	if err := b.bus.Emit(ctx, ev); err != nil {
		return nil, distrierr.Wrap(distrierr.Cancelled, err, "emit external tool call")
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		result := event.New(event.KindExternalToolResult, b.env)
		result.ToolCallID = call.ToolCallID
		result.ToolCallName = call.ToolName
		_ = b.bus.Emit(ctx, result)
		if resp.IsError {
			return resp.Parts, distrierr.New(distrierr.ToolExecution, resp.Text())
		}
		return resp.Parts, nil
	case <-timer.C:
		return nil, distrierr.Newf(distrierr.External, "external tool %q did not resolve within %s", call.ToolName, b.timeout)
	case <-ctx.Done():
		return nil, distrierr.Wrap(distrierr.Cancelled, ctx.Err(), "external tool "+call.ToolName)
	}
}

// Spec declares one host-resolved tool: its advertised name, description,
// and schema, plus an optional local Resolver. Without a Resolver the
// engine dispatches the call through the run's Broker and awaits a
// correlated result.
type Spec struct {
	Name             string
	Description      string
	ParametersSchema map[string]any
	Resolver         Resolver
}

// Bind materializes the spec as a Tool wired to broker.
func (s Spec) Bind(broker *Broker) *Tool {
	return New(s.Name, s.Description, s.ParametersSchema, s.Resolver, broker)
}

// Tool wraps a declared external tool name, dispatching through either a
// local Resolver (checked first, for hosts that resolve externals
// in-process) or the Broker's await-on-event path.
type Tool struct {
	name             string
	description      string
	parametersSchema map[string]any
	resolver         Resolver
	broker           *Broker
}

// New declares an external tool. Exactly one of resolver/broker is
// typically used per call, but both may be wired — resolver takes
// precedence when non-nil.
func New(name, description string, schema map[string]any, resolver Resolver, broker *Broker) *Tool {
	return &Tool{name: name, description: description, parametersSchema: schema, resolver: resolver, broker: broker}
}

func (t *Tool) Name() string                    { return t.name }
func (t *Tool) Description() string              { return t.description }
func (t *Tool) ParametersSchema() map[string]any { return t.parametersSchema }
func (t *Tool) OutputSchema() map[string]any     { return nil }
func (t *Tool) IsFinal() bool                    { return false }
func (t *Tool) IsExternal() bool                 { return true }
func (t *Tool) NeedsExecutorContext() bool       { return false }

func (t *Tool) Execute(ctx tool.Context, call *message.ToolCall) ([]message.Part, error) {
	if t.resolver != nil {
		return t.resolver.Resolve(ctx, call)
	}
	if t.broker != nil {
		return t.broker.Await(ctx, call)
	}
	return nil, distrierr.Newf(distrierr.External, "external tool %q has no resolver or broker configured", t.name)
}

var _ tool.Tool = (*Tool)(nil)
