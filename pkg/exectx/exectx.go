// Package exectx implements the executor context: the identity-and-access
// bundle threaded through the planner, step executor, and every tool
// invocation for the lifetime of one execute call. The full Context
// satisfies the narrow tool.Context view, so tools that need the full
// bundle and tools that don't are handed the same value.
package exectx

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/distrihub/distri-sub004/pkg/event"
	"github.com/distrihub/distri-sub004/pkg/store"
	"github.com/distrihub/distri-sub004/pkg/tool"
)

// ForkKind tags which fork variant produced a child Context: a nested
// sub-agent call or a handover.
type ForkKind string

const (
	ForkSubAgentCall ForkKind = "sub_agent_call"
	ForkHandover     ForkKind = "handover"
)

// ForkOptions parameterizes Context.Fork.
type ForkOptions struct {
	Kind      ForkKind
	AgentID   string // callee agent id
	FromAgent string // set on the next event when Kind == ForkHandover
}

// Context is the full executor context bound to one run. It satisfies
// tool.Context (the narrow view) so tools that declare NeedsExecutorContext
// can be handed the same value as tools that don't.
type Context struct {
	ctx context.Context

	agentID  string
	threadID string
	runID    string
	taskID   string
	userID   string

	parentTaskID string
	fromAgent    string

	verbose bool
	envVars map[string]string
	meta    map[string]any

	sessionStore store.SessionStore
	taskStore    store.TaskStore
	catalog      *tool.Catalog
	bus          *event.Bus
}

// New creates the root ExecutorContext for one execute[_stream] call.
func New(ctx context.Context, agentID, threadID, runID, taskID, userID string, sessionStore store.SessionStore, taskStore store.TaskStore, catalog *tool.Catalog, bus *event.Bus) *Context {
	return &Context{
		ctx:          ctx,
		agentID:      agentID,
		threadID:     threadID,
		runID:        runID,
		taskID:       taskID,
		userID:       userID,
		envVars:      make(map[string]string),
		meta:         make(map[string]any),
		sessionStore: sessionStore,
		taskStore:    taskStore,
		catalog:      catalog,
		bus:          bus,
	}
}

// context.Context passthrough — ExecutorContext embeds the cancellation
// signal of the run, never its own.
func (c *Context) Deadline() (deadline time.Time, ok bool) { return c.ctx.Deadline() }
func (c *Context) Done() <-chan struct{}                   { return c.ctx.Done() }
func (c *Context) Err() error                              { return c.ctx.Err() }
func (c *Context) Value(key any) any                       { return c.ctx.Value(key) }

// AgentID, SessionID, TaskID, RunID, ThreadID, UserID satisfy tool.Context.
func (c *Context) AgentID() string          { return c.agentID }
func (c *Context) SessionID() string        { return c.threadID }
func (c *Context) TaskID() string           { return c.taskID }
func (c *Context) RunID() string            { return c.runID }
func (c *Context) ThreadID() string         { return c.threadID }
func (c *Context) UserID() string           { return c.userID }
func (c *Context) Metadata() map[string]any { return c.meta }

// SetTaskID overwrites a fork's placeholder task id once the orchestrator
// has persisted the real Task via TaskStore.CreateTask.
func (c *Context) SetTaskID(id string) { c.taskID = id }

// ParentTaskID is set on forked contexts and empty on roots.
func (c *Context) ParentTaskID() string { return c.parentTaskID }

// FromAgent is set on Handover forks: the agent that handed control over.
func (c *Context) FromAgent() string { return c.fromAgent }

// Verbose reports the verbosity flag threaded from the originating request.
func (c *Context) Verbose() bool { return c.verbose }

// SetVerbose configures the verbosity flag (host-set before Fork/dispatch).
func (c *Context) SetVerbose(v bool) { c.verbose = v }

// EnvVar looks up an environment override in the map installed by
// SetEnvVars (and copied by Fork). The engine never fills that map itself,
// so it is empty unless the host sets it.
func (c *Context) EnvVar(key string) (string, bool) {
	v, ok := c.envVars[key]
	return v, ok
}

// SetEnvVars replaces the context's resolved environment overrides.
func (c *Context) SetEnvVars(vars map[string]string) { c.envVars = vars }

// Fork returns a child Context for a sub-agent call or handover: thread_id
// is carried unchanged; run_id and task_id are fresh; agent_id becomes the
// callee.
func (c *Context) Fork(opts ForkOptions) *Context {
	child := &Context{
		ctx:          c.ctx,
		agentID:      opts.AgentID,
		threadID:     c.threadID,
		runID:        uuid.NewString(),
		taskID:       newTaskID(),
		userID:       c.userID,
		parentTaskID: c.taskID,
		verbose:      c.verbose,
		envVars:      c.envVars,
		meta:         make(map[string]any),
		sessionStore: c.sessionStore,
		taskStore:    c.taskStore,
		catalog:      c.catalog,
		bus:          c.bus,
	}
	if opts.Kind == ForkHandover {
		child.fromAgent = opts.FromAgent
	}
	return child
}

// Emit sends ev through the attached event bus if present, otherwise drops
// it silently but still writes through to the TaskStore.
func (c *Context) Emit(ctx context.Context, ev *event.AgentEvent) error {
	if c.bus == nil {
		if c.taskStore != nil {
			_ = c.taskStore.AddEventToTask(ctx, c.taskID, string(ev.Kind), ev)
		}
		return nil
	}
	return c.bus.Emit(ctx, ev)
}

// Tools returns the resolved, cached tool catalog for this context's agent.
func (c *Context) Tools() *tool.Catalog { return c.catalog }

// SessionStore exposes the key/value store scoped by (namespace, key).
func (c *Context) SessionStore() store.SessionStore { return c.sessionStore }

// TaskStore exposes the durable task record for this run.
func (c *Context) TaskStore() store.TaskStore { return c.taskStore }

// WithContext returns a shallow copy of c whose embedded context.Context is
// replaced by ctx — used by the step executor to attach a per-call timeout
// without disturbing the rest of the identity bundle.
func (c *Context) WithContext(ctx context.Context) *Context {
	cp := *c
	cp.ctx = ctx
	return &cp
}

// WithBus returns a shallow copy of c bound to a different event bus — used
// when a handover rebinds the write-through sink to the child task.
func (c *Context) WithBus(bus *event.Bus) *Context {
	cp := *c
	cp.bus = bus
	return &cp
}

// WithCatalog returns a shallow copy of c bound to a different tool catalog —
// used when a handover resolves the target agent's own tool set.
func (c *Context) WithCatalog(catalog *tool.Catalog) *Context {
	cp := *c
	cp.catalog = catalog
	return &cp
}

// Envelope builds the event.Envelope identifying this context for New().
func (c *Context) Envelope() event.Envelope {
	return event.Envelope{ThreadID: c.threadID, RunID: c.runID, TaskID: c.taskID, AgentID: c.agentID}
}

// newTaskID is a placeholder id used until the orchestrator round-trips the
// fork through TaskStore.CreateTask and overwrites it with the persisted id.
func newTaskID() string { return uuid.NewString() }

var _ tool.Context = (*Context)(nil)
