// Package orchestrator implements the engine's sole entry point: it owns
// the agent/tool/MCP-server registries and stores, and routes agent
// registration, execute/stream, inter-agent calls, and ad-hoc tool calls
// into the planner+executor engine. A Config struct wires dependencies in,
// New validates required fields, and the orchestrator owns no business
// logic of its own beyond dispatch — it resolves an agent, builds a
// context, and drives the concrete agent implementation produced by the
// factory keyed by agent type.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/distrihub/distri-sub004/pkg/agentdef"
	"github.com/distrihub/distri-sub004/pkg/distrierr"
	"github.com/distrihub/distri-sub004/pkg/event"
	"github.com/distrihub/distri-sub004/pkg/exectx"
	"github.com/distrihub/distri-sub004/pkg/llm"
	"github.com/distrihub/distri-sub004/pkg/message"
	"github.com/distrihub/distri-sub004/pkg/scratchpad"
	"github.com/distrihub/distri-sub004/pkg/store"
	"github.com/distrihub/distri-sub004/pkg/tool"
	"github.com/distrihub/distri-sub004/pkg/tool/external"
)

// InvokeResult is Execute's return value.
type InvokeResult struct {
	Content     string
	ToolCalls   []*message.ToolCall
	TotalSteps  int
	FailedSteps int

	// Transfer is set when the run's last step invoked transfer_to_agent;
	// the orchestrator resumes the loop under the target agent with a forked
	// context rather than surfacing this to the caller.
	Transfer *TransferRequest
}

// TransferRequest is a pending handover extracted from a transfer_to_agent
// tool call.
type TransferRequest struct {
	Target  string
	Message string
	Reason  string
}

// DefaultMaxCallDepth bounds nested CallAgent recursion.
const DefaultMaxCallDepth = 5

// MaxHandovers bounds transfer_to_agent chains within one execute call so a
// pair of agents bouncing control back and forth cannot loop forever.
const MaxHandovers = 10

type callDepthKey struct{}

// AgentFactory builds one runnable AgentRunner for a given AgentDefinition.
// Keyed by agent type in the Config's Factories map; "standard" is the
// default type.
type AgentFactory func(def *agentdef.AgentDefinition, deps FactoryDeps) (AgentRunner, error)

// FactoryDeps bundles what a factory needs to build an AgentRunner without
// reaching back into the Orchestrator (avoiding an import cycle and keeping
// factories unit-testable).
type FactoryDeps struct {
	LLMClient  llm.Client
	CallAgent  func(ctx context.Context, sessionID, agentName, task string) (string, error)
	BuildTools func(ctx context.Context, def *agentdef.AgentDefinition) ([]tool.CatalogEntry, error)

	// Pad is the run's shared scratchpad, carried across handovers so the
	// target agent sees the sub-tasks that preceded it.
	Pad *scratchpad.Pad
}

// AgentRunner is the concrete, type-erased agent implementation bound to
// one ExecutorContext for the duration of one invoke[_stream] call.
type AgentRunner interface {
	InvokeStream(ctx context.Context, ectx *exectx.Context, bus *event.Bus, input *message.Message) (*InvokeResult, error)
}

// Config wires the Orchestrator's dependencies.
type Config struct {
	AgentStore       store.AgentStore
	TaskStore        store.TaskStore
	SessionStore     store.SessionStore
	ToolSessionStore store.ToolSessionStore

	LLMClient llm.Client

	// Factories maps agent_type -> AgentFactory; "standard" must be present
	// unless the host never registers standard agents.
	Factories map[string]AgentFactory

	// AgentTools scopes extra in-process tools to specific agent names.
	AgentTools map[string][]tool.Tool

	// McpServers maps server name -> toolset, populated via RegisterMcpServer.
	McpServers map[string]tool.Toolset

	// Plugins maps plugin package name -> toolset, populated via
	// RegisterPlugin; agents opt in through their Plugins declaration.
	Plugins map[string]tool.Toolset

	// ExternalTools scopes host-resolved tool declarations to agent names,
	// populated via RegisterExternalTool. A declaration without a Resolver
	// is dispatched through the run's broker and resolved by
	// DeliverExternalResult.
	ExternalTools map[string][]external.Spec

	EventSink event.Sink // optional; attached to every run's Bus

	DefaultToolTimeout time.Duration

	// ExternalToolTimeout bounds how long a broker-dispatched external tool
	// waits for its correlated result; 0 means the broker default.
	ExternalToolTimeout time.Duration

	// MaxCallDepth bounds nested CallAgent recursion; 0 means
	// DefaultMaxCallDepth.
	MaxCallDepth int
}

// Orchestrator is the engine's sole entry point.
type Orchestrator struct {
	cfg Config

	// mu guards the registration maps and the broker table: catalog builds
	// read them on every run, registration writes are rare and brief.
	mu sync.RWMutex

	// brokers holds each live run's external-tool broker, keyed by run_id,
	// so hosts can deliver correlated results while the run is in flight.
	brokers map[string]*external.Broker
}

// New creates an Orchestrator. AgentStore, TaskStore, and SessionStore are
// required; a missing factory is only reported when an agent of that type
// is executed.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.AgentStore == nil || cfg.TaskStore == nil || cfg.SessionStore == nil {
		return nil, distrierr.New(distrierr.Validation, "orchestrator requires AgentStore, TaskStore, and SessionStore")
	}
	if cfg.Factories == nil {
		cfg.Factories = make(map[string]AgentFactory)
	}
	if cfg.AgentTools == nil {
		cfg.AgentTools = make(map[string][]tool.Tool)
	}
	if cfg.McpServers == nil {
		cfg.McpServers = make(map[string]tool.Toolset)
	}
	if cfg.Plugins == nil {
		cfg.Plugins = make(map[string]tool.Toolset)
	}
	if cfg.ExternalTools == nil {
		cfg.ExternalTools = make(map[string][]external.Spec)
	}
	return &Orchestrator{cfg: cfg, brokers: make(map[string]*external.Broker)}, nil
}

// RegisterAgent persists def, validating it first.
func (o *Orchestrator) RegisterAgent(ctx context.Context, def *agentdef.AgentDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	return o.cfg.AgentStore.Register(ctx, def)
}

// UpdateAgent replaces an existing agent definition.
func (o *Orchestrator) UpdateAgent(ctx context.Context, def *agentdef.AgentDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	return o.cfg.AgentStore.Update(ctx, def)
}

// ListAgents returns one page of agent definitions.
func (o *Orchestrator) ListAgents(ctx context.Context, cursor string, limit int) ([]*agentdef.AgentDefinition, string, error) {
	return o.cfg.AgentStore.List(ctx, cursor, limit)
}

// RegisterTool scopes an in-process tool to one agent's catalog.
func (o *Orchestrator) RegisterTool(agentName string, t tool.Tool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cfg.AgentTools[agentName] = append(o.cfg.AgentTools[agentName], t)
}

// RegisterMcpServer makes an MCP server's tools discoverable to agents that
// declare it.
func (o *Orchestrator) RegisterMcpServer(name string, toolset tool.Toolset) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cfg.McpServers[name] = toolset
}

// RegisterPlugin makes an installed plugin package's tools discoverable to
// agents that declare it in their Plugins list.
func (o *Orchestrator) RegisterPlugin(name string, toolset tool.Toolset) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cfg.Plugins[name] = toolset
}

// RegisterExternalTool declares a host-resolved tool for one agent. Specs
// with a Resolver are answered in-process; the rest go through the run's
// broker and DeliverExternalResult.
func (o *Orchestrator) RegisterExternalTool(agentName string, spec external.Spec) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cfg.ExternalTools[agentName] = append(o.cfg.ExternalTools[agentName], spec)
}

// DeliverExternalResult resolves a pending external tool call awaited by
// runID's broker. Returns false when the run is no longer live or no call
// with that ID is pending (already timed out, or unknown).
func (o *Orchestrator) DeliverExternalResult(runID, toolCallID string, resp *message.ToolResponse) bool {
	o.mu.RLock()
	broker, ok := o.brokers[runID]
	o.mu.RUnlock()
	if !ok {
		return false
	}
	return broker.Deliver(toolCallID, resp)
}

func (o *Orchestrator) trackBroker(runID string, b *external.Broker) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.brokers[runID] = b
}

func (o *Orchestrator) releaseBrokers(runIDs []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, id := range runIDs {
		delete(o.brokers, id)
	}
}

// Execute resolves agentName, runs it to completion, and returns the
// buffered result, blocking until the run is terminal.
func (o *Orchestrator) Execute(ctx context.Context, agentName string, input *message.Message, sink event.Sink) (*InvokeResult, error) {
	var result *InvokeResult
	err := o.executeInternal(ctx, agentName, input, sink, func(r *InvokeResult) { result = r })
	return result, err
}

// ExecuteStream is Execute's streaming form: events flow through sink as
// they're produced, ending with one RunFinished (success and step counts)
// or RunError event. The final content is not returned and is not carried
// on any event.
func (o *Orchestrator) ExecuteStream(ctx context.Context, agentName string, input *message.Message, sink event.Sink) error {
	return o.executeInternal(ctx, agentName, input, sink, nil)
}

func (o *Orchestrator) executeInternal(ctx context.Context, agentName string, input *message.Message, sink event.Sink, onResult func(*InvokeResult)) error {
	if sink == nil {
		sink = o.cfg.EventSink
	}

	pad := scratchpad.New(0)
	def, runner, err := o.buildRunner(ctx, agentName, pad)
	if err != nil {
		return err
	}

	threadID := uuid.NewString()
	runID := uuid.NewString()
	task, err := o.cfg.TaskStore.CreateTask(ctx, threadID)
	if err != nil {
		return distrierr.Wrap(distrierr.Session, err, "create task")
	}
	if err := o.cfg.TaskStore.UpdateTaskStatus(ctx, task.ID, store.TaskWorking); err != nil {
		return distrierr.Wrap(distrierr.Session, err, "mark task working")
	}

	bus := event.NewBus(sink, taskStoreWriter{o.cfg.TaskStore, task.ID}, nil)
	broker := external.NewBroker(bus, event.Envelope{
		ThreadID: threadID, RunID: runID, TaskID: task.ID, AgentID: agentName,
	}, o.cfg.ExternalToolTimeout)
	o.trackBroker(runID, broker)
	runIDs := []string{runID}
	defer func() { o.releaseBrokers(runIDs) }()

	entries, err := o.buildCatalogEntries(ctx, def, broker)
	if err != nil {
		return err
	}
	catalog := tool.BuildCatalog(entries)

	ectx := exectx.New(ctx, agentName, threadID, runID, task.ID, "", o.cfg.SessionStore, o.cfg.TaskStore, catalog, bus)

	started := event.New(event.KindRunStarted, ectx.Envelope())
	_ = bus.Emit(ctx, started)

	if err := o.cfg.TaskStore.AddMessageToTask(ctx, task.ID, input); err != nil {
		return distrierr.Wrap(distrierr.Session, err, "persist input message")
	}

	total := &InvokeResult{}
	for hop := 0; ; hop++ {
		result, runErr := runner.InvokeStream(ctx, ectx, bus, input)
		if runErr != nil {
			return o.finishWithError(ctx, bus, ectx, runErr)
		}

		total.Content = result.Content
		total.ToolCalls = append(total.ToolCalls, result.ToolCalls...)
		total.TotalSteps += result.TotalSteps
		total.FailedSteps += result.FailedSteps

		if result.Transfer == nil {
			break
		}
		if hop >= MaxHandovers {
			return o.finishWithError(ctx, bus, ectx,
				distrierr.Newf(distrierr.MaxIterations, "handover chain exceeded %d transfers", MaxHandovers))
		}

		nextDef, nextRunner, nextEctx, nextBus, nextInput, herr := o.handover(ctx, def, ectx, sink, pad, result.Transfer)
		if herr != nil {
			return o.finishWithError(ctx, bus, ectx, herr)
		}
		def, runner, ectx, bus, input = nextDef, nextRunner, nextEctx, nextBus, nextInput
		runIDs = append(runIDs, ectx.RunID())
	}

	finished := event.New(event.KindRunFinished, ectx.Envelope())
	finished.Success = total.FailedSteps == 0
	finished.TotalSteps = total.TotalSteps
	finished.FailedSteps = total.FailedSteps
	_ = bus.Emit(ctx, finished)
	_ = o.cfg.TaskStore.UpdateTaskStatus(ctx, ectx.TaskID(), store.TaskCompleted)

	if onResult != nil {
		onResult(total)
	}
	return nil
}

// buildRunner resolves an agent definition and constructs its AgentRunner
// via the factory keyed by agent type. pad is the run's shared scratchpad.
func (o *Orchestrator) buildRunner(ctx context.Context, agentName string, pad *scratchpad.Pad) (*agentdef.AgentDefinition, AgentRunner, error) {
	def, ok, err := o.cfg.AgentStore.Get(ctx, agentName)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, distrierr.Newf(distrierr.NotFound, "agent %q not found", agentName)
	}

	agentType := "standard"
	if def.Kind != "" {
		agentType = string(def.Kind)
	}
	factory, ok := o.cfg.Factories[agentType]
	if !ok {
		return nil, nil, distrierr.Newf(distrierr.NotImplemented, "no factory registered for agent type %q", agentType)
	}

	deps := FactoryDeps{
		LLMClient:  o.cfg.LLMClient,
		CallAgent:  o.CallAgent,
		BuildTools: o.buildCatalogEntriesAsTools,
		Pad:        pad,
	}
	runner, err := factory(def, deps)
	if err != nil {
		return nil, nil, distrierr.Wrap(distrierr.Planning, err, "build agent runner")
	}
	return def, runner, nil
}

// handover resumes the run under transfer.Target: emits AgentHandover from
// the current context, completes the current task, forks the context with a
// fresh task, and rebuilds the runner, broker, and catalog for the target
// agent. The shared pad carries the prior sub-tasks' scratchpad across.
func (o *Orchestrator) handover(ctx context.Context, fromDef *agentdef.AgentDefinition, ectx *exectx.Context, sink event.Sink, pad *scratchpad.Pad, transfer *TransferRequest) (*agentdef.AgentDefinition, AgentRunner, *exectx.Context, *event.Bus, *message.Message, error) {
	reason := transfer.Reason
	if reason == "" {
		reason = "transfer_to_agent tool invoked"
	}
	handoverEv := event.New(event.KindAgentHandover, ectx.Envelope())
	handoverEv.FromAgent = fromDef.Name
	handoverEv.ToAgent = transfer.Target
	handoverEv.Reason = reason
	_ = ectx.Emit(ctx, handoverEv)

	def, runner, err := o.buildRunner(ctx, transfer.Target, pad)
	if err != nil {
		return nil, nil, ectx, nil, nil, err
	}

	_ = o.cfg.TaskStore.UpdateTaskStatus(ctx, ectx.TaskID(), store.TaskCompleted)

	childTask, err := o.cfg.TaskStore.CreateTask(ctx, ectx.ThreadID())
	if err != nil {
		return nil, nil, ectx, nil, nil, distrierr.Wrap(distrierr.Session, err, "create handover task")
	}
	if err := o.cfg.TaskStore.UpdateTaskStatus(ctx, childTask.ID, store.TaskWorking); err != nil {
		return nil, nil, ectx, nil, nil, distrierr.Wrap(distrierr.Session, err, "mark handover task working")
	}

	child := ectx.Fork(exectx.ForkOptions{Kind: exectx.ForkHandover, AgentID: transfer.Target, FromAgent: fromDef.Name})
	child.SetTaskID(childTask.ID)

	bus := event.NewBus(sink, taskStoreWriter{o.cfg.TaskStore, childTask.ID}, nil)
	broker := external.NewBroker(bus, child.Envelope(), o.cfg.ExternalToolTimeout)

	entries, err := o.buildCatalogEntries(ctx, def, broker)
	if err != nil {
		return nil, nil, ectx, nil, nil, err
	}

	child = child.WithBus(bus)
	child = child.WithCatalog(tool.BuildCatalog(entries))

	input := message.New(message.RoleUser, time.Now(), message.TextPart(transfer.Message))
	if err := o.cfg.TaskStore.AddMessageToTask(ctx, childTask.ID, input); err != nil {
		return nil, nil, ectx, nil, nil, distrierr.Wrap(distrierr.Session, err, "persist handover message")
	}

	// Tracked last so a failed handover never leaves a dangling broker; the
	// caller appends the child run id to its release list on success.
	o.trackBroker(child.RunID(), broker)

	return def, runner, child, bus, input, nil
}

// finishWithError emits the terminal RunError and moves the task to its
// terminal status: Canceled for Cancelled-kind errors, Failed otherwise.
// Cancellation always wins over any other pending failure.
func (o *Orchestrator) finishWithError(ctx context.Context, bus *event.Bus, ectx *exectx.Context, runErr error) error {
	errEv := event.New(event.KindRunError, ectx.Envelope())
	errEv.ErrorMessage = runErr.Error()
	errEv.ErrorCode = string(distrierr.KindOf(runErr))

	status := store.TaskFailed
	if distrierr.Is(runErr, distrierr.Cancelled) {
		status = store.TaskCanceled
	}

	// The run context may already be cancelled; the terminal event must
	// still reach the sink and the store.
	emitCtx := ctx
	if ctx.Err() != nil {
		emitCtx = context.WithoutCancel(ctx)
	}
	if bus != nil {
		_ = bus.Emit(emitCtx, errEv)
	}
	_ = o.cfg.TaskStore.UpdateTaskStatus(emitCtx, ectx.TaskID(), status)
	return runErr
}

// CallAgent invokes agentName with task as its input message and returns
// its final text reply; the sequential and DAG workflow agents use it.
// Nested calls are depth-bounded.
func (o *Orchestrator) CallAgent(ctx context.Context, sessionID, agentName, task string) (string, error) {
	maxDepth := o.cfg.MaxCallDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxCallDepth
	}
	depth, _ := ctx.Value(callDepthKey{}).(int)
	if depth >= maxDepth {
		return "", distrierr.Newf(distrierr.MaxIterations, "agent call depth exceeded %d", maxDepth)
	}
	ctx = context.WithValue(ctx, callDepthKey{}, depth+1)

	input := message.New(message.RoleUser, time.Now(), message.TextPart(task))
	result, err := o.Execute(ctx, agentName, input, nil)
	if err != nil {
		return "", err
	}
	return result.Content, nil
}

// CallTool invokes a registered tool ad hoc from the host, outside of any
// agent run.
func (o *Orchestrator) CallTool(ctx context.Context, sessionID, userID string, call *message.ToolCall) ([]message.Part, error) {
	o.mu.RLock()
	var found tool.Tool
	for _, tools := range o.cfg.AgentTools {
		for _, t := range tools {
			if t.Name() == call.ToolName {
				found = t
				break
			}
		}
		if found != nil {
			break
		}
	}
	o.mu.RUnlock()

	if found == nil {
		return nil, distrierr.Newf(distrierr.NotFound, "tool %q not registered", call.ToolName)
	}
	adhoc := exectx.New(ctx, "", sessionID, uuid.NewString(), "", userID, o.cfg.SessionStore, o.cfg.TaskStore, nil, nil)
	return found.Execute(adhoc, call)
}

// buildCatalogEntries unions the four tool sources for one agent: the
// reserved built-ins and agent-registered tools (in-process), the declared
// plugin packages, the declared MCP servers, and the host's external tool
// declarations bound to broker. BuildCatalog applies name precedence over
// the result.
func (o *Orchestrator) buildCatalogEntries(ctx context.Context, def *agentdef.AgentDefinition, broker *external.Broker) ([]tool.CatalogEntry, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var entries []tool.CatalogEntry

	entries = append(entries,
		tool.CatalogEntry{Tool: tool.Final(), Source: tool.SourceInProcess},
		tool.CatalogEntry{Tool: tool.TransferToAgent(), Source: tool.SourceInProcess},
	)

	for _, t := range o.cfg.AgentTools[def.Name] {
		entries = append(entries, tool.CatalogEntry{Tool: t, Source: tool.SourceInProcess})
	}

	if def.Standard != nil {
		for _, name := range def.Standard.Plugins {
			toolset, ok := o.cfg.Plugins[name]
			if !ok {
				continue
			}
			tools, err := toolset.Tools(ctx)
			if err != nil {
				return nil, distrierr.Wrap(distrierr.ToolExecution, err, "list plugin tools for "+name)
			}
			for _, t := range tools {
				entries = append(entries, tool.CatalogEntry{Tool: t, Namespace: name, Source: tool.SourcePlugin})
			}
		}

		for _, ref := range def.Standard.McpServers {
			toolset, ok := o.cfg.McpServers[ref.Name]
			if !ok {
				continue
			}
			tools, err := toolset.Tools(ctx)
			if err != nil {
				return nil, distrierr.Wrap(distrierr.ToolExecution, err, "list mcp tools for "+ref.Name)
			}
			var allowed map[string]bool
			if len(ref.Filter) > 0 {
				allowed = make(map[string]bool, len(ref.Filter))
				for _, n := range ref.Filter {
					allowed[n] = true
				}
			}
			for _, t := range tools {
				if allowed != nil && !allowed[t.Name()] {
					continue
				}
				entries = append(entries, tool.CatalogEntry{Tool: t, Namespace: ref.Name, Source: tool.SourceMCP})
			}
		}
	}

	for _, spec := range o.cfg.ExternalTools[def.Name] {
		entries = append(entries, tool.CatalogEntry{Tool: spec.Bind(broker), Source: tool.SourceExternal})
	}

	return entries, nil
}

func (o *Orchestrator) buildCatalogEntriesAsTools(ctx context.Context, def *agentdef.AgentDefinition) ([]tool.CatalogEntry, error) {
	return o.buildCatalogEntries(ctx, def, nil)
}

// taskStoreWriter adapts TaskStore.AddEventToTask to event.Writer.
type taskStoreWriter struct {
	store  store.TaskStore
	taskID string
}

func (w taskStoreWriter) WriteEvent(ctx context.Context, ev *event.AgentEvent) error {
	return w.store.AddEventToTask(ctx, w.taskID, string(ev.Kind), ev)
}

var _ event.Writer = taskStoreWriter{}
