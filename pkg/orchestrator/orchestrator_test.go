package orchestrator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distrihub/distri-sub004/pkg/agentdef"
	"github.com/distrihub/distri-sub004/pkg/distrierr"
	"github.com/distrihub/distri-sub004/pkg/event"
	"github.com/distrihub/distri-sub004/pkg/llm"
	"github.com/distrihub/distri-sub004/pkg/message"
	"github.com/distrihub/distri-sub004/pkg/store"
	"github.com/distrihub/distri-sub004/pkg/tool"
	"github.com/distrihub/distri-sub004/pkg/tool/external"
)

// scriptedClient replays canned completion texts in call order, repeating
// the last one once exhausted, and records each request's messages.
type scriptedClient struct {
	mu          sync.Mutex
	completions []string
	calls       int
	requests    [][]*message.Message
}

func (c *scriptedClient) Generate(_ context.Context, msgs []*message.Message, _ []llm.ToolDefinition) (*llm.Completion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, msgs)
	idx := c.calls
	if idx >= len(c.completions) {
		idx = len(c.completions) - 1
	}
	c.calls++
	return &llm.Completion{Text: c.completions[idx]}, nil
}

// requestText flattens the i-th recorded request into one string.
func (c *scriptedClient) requestText(i int) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i >= len(c.requests) {
		return ""
	}
	var out strings.Builder
	for _, m := range c.requests[i] {
		out.WriteString(m.Text())
		out.WriteByte('\n')
	}
	return out.String()
}

func (c *scriptedClient) GenerateStreaming(ctx context.Context, msgs []*message.Message, tools []llm.ToolDefinition, _ func(string)) (*llm.Completion, error) {
	return c.Generate(ctx, msgs, tools)
}

func (c *scriptedClient) SupportsToolCalling() bool { return false }

// collectingSink records events in emission order without backpressure.
type collectingSink struct {
	mu     sync.Mutex
	events []*event.AgentEvent
}

func (s *collectingSink) Send(_ context.Context, ev *event.AgentEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *collectingSink) all() []*event.AgentEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*event.AgentEvent(nil), s.events...)
}

func (s *collectingSink) kinds() []event.Kind {
	var out []event.Kind
	for _, ev := range s.all() {
		out = append(out, ev.Kind)
	}
	return out
}

func (s *collectingSink) first(kind event.Kind) *event.AgentEvent {
	for _, ev := range s.all() {
		if ev.Kind == kind {
			return ev
		}
	}
	return nil
}

// sleepTool blocks until its delay elapses or the call is cancelled.
type sleepTool struct {
	name  string
	delay time.Duration
}

func (t *sleepTool) Name() string                     { return t.name }
func (t *sleepTool) Description() string              { return "sleeps" }
func (t *sleepTool) ParametersSchema() map[string]any { return map[string]any{"type": "object"} }
func (t *sleepTool) OutputSchema() map[string]any     { return nil }
func (t *sleepTool) IsFinal() bool                    { return false }
func (t *sleepTool) IsExternal() bool                 { return false }
func (t *sleepTool) NeedsExecutorContext() bool       { return false }
func (t *sleepTool) Execute(ctx tool.Context, _ *message.ToolCall) ([]message.Part, error) {
	select {
	case <-time.After(t.delay):
		return []message.Part{message.TextPart("rested")}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// upperTool uppercases the "input" argument, for workflow carry tests.
type upperTool struct{}

func (t *upperTool) Name() string                     { return "upper" }
func (t *upperTool) Description() string              { return "uppercases input" }
func (t *upperTool) ParametersSchema() map[string]any { return map[string]any{"type": "object"} }
func (t *upperTool) OutputSchema() map[string]any     { return nil }
func (t *upperTool) IsFinal() bool                    { return false }
func (t *upperTool) IsExternal() bool                 { return false }
func (t *upperTool) NeedsExecutorContext() bool       { return false }
func (t *upperTool) Execute(_ tool.Context, call *message.ToolCall) ([]message.Part, error) {
	args, _ := call.Input.(map[string]any)
	in, _ := args["input"].(string)
	return []message.Part{message.TextPart(strings.ToUpper(in))}, nil
}

type testHarness struct {
	orch    *Orchestrator
	task    *store.MemoryTaskStore
	session *store.MemorySessionStore
	todos   *tool.TodoManager
	sink    *collectingSink
}

func newHarness(t *testing.T, client llm.Client) *testHarness {
	t.Helper()
	taskStore := store.NewMemoryTaskStore()
	sessionStore := store.NewMemorySessionStore()
	todos := tool.NewTodoManager()

	orch, err := New(Config{
		AgentStore:   store.NewMemoryAgentStore(),
		TaskStore:    taskStore,
		SessionStore: sessionStore,
		LLMClient:    client,
		Factories: map[string]AgentFactory{
			string(agentdef.KindStandard):           StandardAgentFactory(todos),
			string(agentdef.KindSequentialWorkflow): SequentialWorkflowFactory(),
			string(agentdef.KindDagWorkflow):        DagWorkflowFactory(),
		},
	})
	require.NoError(t, err)
	return &testHarness{orch: orch, task: taskStore, session: sessionStore, todos: todos, sink: &collectingSink{}}
}

func standardAgent(name string, strategy agentdef.Strategy, format agentdef.ToolCallFormat, maxIter int) *agentdef.AgentDefinition {
	return &agentdef.AgentDefinition{
		Name:        name,
		Description: "test agent " + name,
		Kind:        agentdef.KindStandard,
		Standard: &agentdef.StandardAgent{
			Instructions: "You are " + name + ".",
			Strategy:     strategy,
			ToolFormat:   format,
			Model:        agentdef.ModelSettings{MaxIterations: maxIter},
		},
	}
}

func userMsg(text string) *message.Message {
	return message.New(message.RoleUser, time.Now(), message.TextPart(text))
}

func TestRegisterAgentValidatesAndDeduplicates(t *testing.T) {
	h := newHarness(t, &scriptedClient{completions: []string{""}})
	ctx := context.Background()

	def := standardAgent("echo", agentdef.StrategyCoT, agentdef.FormatXML, 3)
	require.NoError(t, h.orch.RegisterAgent(ctx, def))

	err := h.orch.RegisterAgent(ctx, def)
	require.Error(t, err)
	assert.Equal(t, distrierr.AlreadyExists, distrierr.KindOf(err))

	invalid := standardAgent("", agentdef.StrategyCoT, agentdef.FormatXML, 3)
	err = h.orch.RegisterAgent(ctx, invalid)
	require.Error(t, err)
	assert.Equal(t, distrierr.Validation, distrierr.KindOf(err))

	require.NoError(t, h.orch.UpdateAgent(ctx, def))

	defs, next, err := h.orch.ListAgents(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, defs, 1)
	assert.Empty(t, next)
}

func TestExecuteUnknownAgent(t *testing.T) {
	h := newHarness(t, &scriptedClient{completions: []string{""}})
	_, err := h.orch.Execute(context.Background(), "ghost", userMsg("hi"), nil)
	require.Error(t, err)
	assert.Equal(t, distrierr.NotFound, distrierr.KindOf(err))
}

// Scenario: simple echo. One plan, one step, one final call.
func TestExecuteEcho(t *testing.T) {
	client := &scriptedClient{completions: []string{
		`<final><message>echo: ping</message></final>`,
	}}
	h := newHarness(t, client)
	ctx := context.Background()
	require.NoError(t, h.orch.RegisterAgent(ctx, standardAgent("echo", agentdef.StrategyCoT, agentdef.FormatXML, 3)))

	result, err := h.orch.Execute(ctx, "echo", userMsg("ping"), h.sink)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "echo: ping", result.Content)
	assert.Equal(t, 1, result.TotalSteps)
	assert.Equal(t, 0, result.FailedSteps)

	assert.Equal(t, []event.Kind{
		event.KindRunStarted,
		event.KindPlanStarted,
		event.KindPlanFinished,
		event.KindStepStarted,
		event.KindToolExecutionStart,
		event.KindToolExecutionEnd,
		event.KindStepCompleted,
		event.KindRunFinished,
	}, h.sink.kinds())

	planStarted := h.sink.first(event.KindPlanStarted)
	assert.True(t, planStarted.InitialPlan)

	toolStart := h.sink.first(event.KindToolExecutionStart)
	assert.Equal(t, "final", toolStart.ToolCallName)
	assert.True(t, h.sink.first(event.KindToolExecutionEnd).Success)
	assert.True(t, h.sink.first(event.KindStepCompleted).Success)

	finished := h.sink.first(event.KindRunFinished)
	assert.True(t, finished.Success)
	assert.Equal(t, 1, finished.TotalSteps)
	assert.Equal(t, 0, finished.FailedSteps)

	// The task reached Completed and persisted the input message.
	task, err := h.task.GetTask(ctx, finished.TaskID)
	require.NoError(t, err)
	assert.Equal(t, store.TaskCompleted, task.Status)
}

// Scenario: tool dispatch error. The model keeps hallucinating a tool the
// agent never declared; the run fails with max_iterations.
func TestExecuteDispatchErrorThenMaxIterations(t *testing.T) {
	client := &scriptedClient{completions: []string{
		`<search><q>x</q></search>`,
	}}
	h := newHarness(t, client)
	ctx := context.Background()
	require.NoError(t, h.orch.RegisterAgent(ctx, standardAgent("lost", agentdef.StrategyToolOnly, agentdef.FormatXML, 2)))

	_, err := h.orch.Execute(ctx, "lost", userMsg("go"), h.sink)
	require.Error(t, err)
	assert.Equal(t, distrierr.MaxIterations, distrierr.KindOf(err))

	var dispatchEnds int
	for _, ev := range h.sink.all() {
		if ev.Kind == event.KindToolExecutionEnd {
			dispatchEnds++
			assert.False(t, ev.Success)
		}
	}
	assert.Equal(t, 2, dispatchEnds, "one failed dispatch per iteration")

	events := h.sink.all()
	last := events[len(events)-1]
	assert.Equal(t, event.KindRunError, last.Kind)
	assert.Equal(t, "max_iterations", last.ErrorCode)

	task, err := h.task.GetTask(ctx, last.TaskID)
	require.NoError(t, err)
	assert.Equal(t, store.TaskFailed, task.Status)
}

// Scenario: handover. router transfers to expert; the run resumes under the
// expert with the thread preserved and a fresh task.
func TestExecuteHandover(t *testing.T) {
	client := &scriptedClient{completions: []string{
		`<transfer_to_agent><target>expert</target><message>hi</message></transfer_to_agent>`,
		`<final><message>handled</message></final>`,
	}}
	h := newHarness(t, client)
	ctx := context.Background()
	require.NoError(t, h.orch.RegisterAgent(ctx, standardAgent("router", agentdef.StrategyToolOnly, agentdef.FormatXML, 3)))
	require.NoError(t, h.orch.RegisterAgent(ctx, standardAgent("expert", agentdef.StrategyToolOnly, agentdef.FormatXML, 3)))

	result, err := h.orch.Execute(ctx, "router", userMsg("route me"), h.sink)
	require.NoError(t, err)
	assert.Equal(t, "handled", result.Content)

	handover := h.sink.first(event.KindAgentHandover)
	require.NotNil(t, handover)
	assert.Equal(t, "router", handover.FromAgent)
	assert.Equal(t, "expert", handover.ToAgent)
	assert.NotEmpty(t, handover.Reason)

	// Step events after the handover carry the expert's identity on the same
	// thread but a different task.
	events := h.sink.all()
	var handoverIdx int
	for i, ev := range events {
		if ev.Kind == event.KindAgentHandover {
			handoverIdx = i
		}
	}
	routerTask := events[0].TaskID
	thread := events[0].ThreadID
	var expertSteps int
	for _, ev := range events[handoverIdx+1:] {
		if ev.Kind == event.KindStepStarted {
			expertSteps++
			assert.Equal(t, "expert", ev.AgentID)
			assert.Equal(t, thread, ev.ThreadID)
			assert.NotEqual(t, routerTask, ev.TaskID)
		}
	}
	assert.Greater(t, expertSteps, 0)

	finished := events[len(events)-1]
	assert.Equal(t, event.KindRunFinished, finished.Kind)
	assert.True(t, finished.Success)

	// The expert's planning request sees the router's scratchpad group,
	// separated from its own by the sub-task divider.
	expertReq := client.requestText(1)
	assert.Contains(t, expertReq, "Task: route me")
	assert.Contains(t, expertReq, "---")
	assert.Contains(t, expertReq, "Task: hi")
}

// Scenario: cancellation. A run with a slow tool is cancelled shortly after
// start; RunError{code:"canceled"} is the last event and the task ends
// Canceled.
func TestExecuteCancellation(t *testing.T) {
	client := &scriptedClient{completions: []string{
		`<nap></nap>`,
	}}
	h := newHarness(t, client)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, h.orch.RegisterAgent(ctx, standardAgent("sleeper", agentdef.StrategyToolOnly, agentdef.FormatXML, 3)))
	h.orch.RegisterTool("sleeper", &sleepTool{name: "nap", delay: 5 * time.Second})

	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	startAt := time.Now()
	_, err := h.orch.Execute(ctx, "sleeper", userMsg("rest"), h.sink)
	require.Error(t, err)
	assert.Equal(t, distrierr.Cancelled, distrierr.KindOf(err))
	assert.Less(t, time.Since(startAt), 2*time.Second, "cancellation must not wait out the tool")

	events := h.sink.all()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, event.KindRunError, last.Kind)
	assert.Equal(t, "canceled", last.ErrorCode)

	task, err := h.task.GetTask(context.Background(), last.TaskID)
	require.NoError(t, err)
	assert.Equal(t, store.TaskCanceled, task.Status)
}

// Scenario: todos. write_todos updates the list, emits TodosUpdated, and
// round-trips through the session store.
func TestExecuteWriteTodos(t *testing.T) {
	client := &scriptedClient{completions: []string{
		"```tool_calls\n{\"name\":\"write_todos\",\"arguments\":{\"todos\":[{\"content\":\"a\"},{\"content\":\"b\",\"status\":\"in_progress\"}]}}\n```",
		"```tool_calls\n{\"name\":\"final\",\"arguments\":{\"message\":\"planned\"}}\n```",
	}}
	h := newHarness(t, client)
	ctx := context.Background()
	require.NoError(t, h.orch.RegisterAgent(ctx, standardAgent("planner", agentdef.StrategyToolOnly, agentdef.FormatJSONL, 5)))
	h.orch.RegisterTool("planner", h.todos.Tool())

	result, err := h.orch.Execute(ctx, "planner", userMsg("plan it"), h.sink)
	require.NoError(t, err)
	assert.Equal(t, "planned", result.Content)

	todosEv := h.sink.first(event.KindTodosUpdated)
	require.NotNil(t, todosEv)
	assert.Equal(t, 2, todosEv.TodoCount)
	assert.Equal(t, "write_todos", todosEv.TodoAction)
	assert.Contains(t, todosEv.FormattedTodos, "□ a")
	assert.Contains(t, todosEv.FormattedTodos, "◐ b")

	taskID := h.sink.first(event.KindRunStarted).TaskID
	v, ok, err := h.session.Get(ctx, "task:"+taskID, "todos")
	require.NoError(t, err)
	require.True(t, ok)
	stored, ok := v.([]tool.TodoItem)
	require.True(t, ok)
	assert.Len(t, stored, 2)
}

func TestCallTool(t *testing.T) {
	h := newHarness(t, &scriptedClient{completions: []string{""}})
	h.orch.RegisterTool("any", &upperTool{})

	parts, err := h.orch.CallTool(context.Background(), "sess-1", "user-1", &message.ToolCall{
		ToolName: "upper",
		Input:    map[string]any{"input": "hello"},
	})
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, "HELLO", parts[0].Text)

	_, err = h.orch.CallTool(context.Background(), "sess-1", "user-1", &message.ToolCall{ToolName: "ghost"})
	require.Error(t, err)
	assert.Equal(t, distrierr.NotFound, distrierr.KindOf(err))
}

func TestSequentialWorkflow(t *testing.T) {
	client := &scriptedClient{completions: []string{
		`<final><message>summary written</message></final>`,
	}}
	h := newHarness(t, client)
	ctx := context.Background()

	require.NoError(t, h.orch.RegisterAgent(ctx, standardAgent("writer", agentdef.StrategyCoT, agentdef.FormatXML, 3)))

	wf := &agentdef.AgentDefinition{
		Name: "pipeline",
		Kind: agentdef.KindSequentialWorkflow,
		Sequential: &agentdef.SequentialWorkflowAgent{Steps: []agentdef.WorkflowStep{
			{Name: "shout", ToolName: "upper"},
			{Name: "write", AgentName: "writer"},
		}},
	}
	require.NoError(t, h.orch.RegisterAgent(ctx, wf))
	h.orch.RegisterTool("pipeline", &upperTool{})

	result, err := h.orch.Execute(ctx, "pipeline", userMsg("hello"), h.sink)
	require.NoError(t, err)
	assert.Equal(t, "summary written", result.Content)
	assert.Equal(t, 2, result.TotalSteps)

	handover := h.sink.first(event.KindAgentHandover)
	require.NotNil(t, handover)
	assert.Equal(t, "pipeline", handover.FromAgent)
	assert.Equal(t, "writer", handover.ToAgent)
}

func TestDagWorkflow(t *testing.T) {
	h := newHarness(t, &scriptedClient{completions: []string{""}})
	ctx := context.Background()

	wf := &agentdef.AgentDefinition{
		Name: "graph",
		Kind: agentdef.KindDagWorkflow,
		Dag: &agentdef.DagWorkflowAgent{Nodes: []agentdef.DagNode{
			{ID: "a", Name: "a", ToolName: "upper", Input: map[string]any{"input": "first"}},
			{ID: "b", Name: "b", ToolName: "upper", Input: map[string]any{"input": "second"}, DependsOn: []string{"a"}},
		}},
	}
	require.NoError(t, h.orch.RegisterAgent(ctx, wf))
	h.orch.RegisterTool("graph", &upperTool{})

	result, err := h.orch.Execute(ctx, "graph", userMsg("go"), h.sink)
	require.NoError(t, err)
	assert.Equal(t, "SECOND", result.Content)
	assert.Equal(t, 2, result.TotalSteps)
}

func TestCallAgentDepthBound(t *testing.T) {
	h := newHarness(t, &scriptedClient{completions: []string{""}})
	ctx := context.Background()

	// An agent whose only step calls itself recurses until the depth bound.
	wf := &agentdef.AgentDefinition{
		Name: "loop",
		Kind: agentdef.KindSequentialWorkflow,
		Sequential: &agentdef.SequentialWorkflowAgent{Steps: []agentdef.WorkflowStep{
			{Name: "again", AgentName: "loop", Task: "recurse"},
		}},
	}
	require.NoError(t, h.orch.RegisterAgent(ctx, wf))

	_, err := h.orch.Execute(ctx, "loop", userMsg("start"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "depth")
}

func TestExecuteStreamEmitsTerminalEvent(t *testing.T) {
	client := &scriptedClient{completions: []string{
		`<final><message>done</message></final>`,
	}}
	h := newHarness(t, client)
	ctx := context.Background()
	require.NoError(t, h.orch.RegisterAgent(ctx, standardAgent("echo", agentdef.StrategyCoT, agentdef.FormatXML, 3)))

	require.NoError(t, h.orch.ExecuteStream(ctx, "echo", userMsg("hi"), h.sink))

	events := h.sink.all()
	require.NotEmpty(t, events)
	terminal := 0
	for _, ev := range events {
		if ev.IsTerminal() {
			terminal++
		}
	}
	assert.Equal(t, 1, terminal)
	assert.True(t, events[len(events)-1].IsTerminal())
}

// staticToolset exposes a fixed tool list, standing in for a loaded plugin
// package or connected MCP server.
type staticToolset struct {
	name  string
	tools []tool.Tool
}

func (s *staticToolset) Name() string                              { return s.name }
func (s *staticToolset) Tools(_ context.Context) ([]tool.Tool, error) { return s.tools, nil }

func TestExecutePluginTools(t *testing.T) {
	client := &scriptedClient{completions: []string{
		`<add><a>1</a><b>2</b></add>`,
		`<final><message>sum computed</message></final>`,
	}}
	h := newHarness(t, client)
	ctx := context.Background()

	def := standardAgent("calc", agentdef.StrategyToolOnly, agentdef.FormatXML, 3)
	def.Standard.Plugins = []string{"mathpack"}
	require.NoError(t, h.orch.RegisterAgent(ctx, def))
	h.orch.RegisterPlugin("mathpack", &staticToolset{name: "mathpack", tools: []tool.Tool{&upperTool{}, addTool{}}})

	result, err := h.orch.Execute(ctx, "calc", userMsg("1+2"), h.sink)
	require.NoError(t, err)
	assert.Equal(t, "sum computed", result.Content)

	end := h.sink.first(event.KindToolExecutionEnd)
	require.NotNil(t, end)
	assert.Equal(t, "add", end.ToolCallName)
	assert.True(t, end.Success)
}

func TestPluginToolsAreAgentScoped(t *testing.T) {
	client := &scriptedClient{completions: []string{
		`<final><message>ok</message></final>`,
	}}
	h := newHarness(t, client)
	ctx := context.Background()

	def := standardAgent("calc", agentdef.StrategyCoT, agentdef.FormatXML, 3)
	def.Standard.Plugins = []string{"mathpack"}
	require.NoError(t, h.orch.RegisterAgent(ctx, def))
	h.orch.RegisterPlugin("mathpack", &staticToolset{name: "mathpack", tools: []tool.Tool{addTool{}}})

	parts, err := h.orch.CallTool(ctx, "s", "u", &message.ToolCall{ToolName: "upper", Input: map[string]any{"input": "x"}})
	require.Error(t, err, "plugin tools are agent-scoped, not ad-hoc host tools")
	assert.Nil(t, parts)

	result, err := h.orch.Execute(ctx, "calc", userMsg("go"), nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Content)
}

// addTool is a trivial plugin-style tool: returns the sum of a and b.
type addTool struct{}

func (addTool) Name() string                     { return "add" }
func (addTool) Description() string              { return "adds two integers" }
func (addTool) ParametersSchema() map[string]any { return map[string]any{"type": "object"} }
func (addTool) OutputSchema() map[string]any     { return nil }
func (addTool) IsFinal() bool                    { return false }
func (addTool) IsExternal() bool                 { return false }
func (addTool) NeedsExecutorContext() bool       { return false }
func (addTool) Execute(_ tool.Context, call *message.ToolCall) ([]message.Part, error) {
	return []message.Part{message.TextPart("3")}, nil
}

// localResolver answers external tool calls in-process.
type localResolver struct{}

func (localResolver) Resolve(_ context.Context, call *message.ToolCall) ([]message.Part, error) {
	return []message.Part{message.TextPart("resolved:" + call.ToolName)}, nil
}

func TestExecuteExternalToolWithResolver(t *testing.T) {
	client := &scriptedClient{completions: []string{
		`<lookup><key>abc</key></lookup>`,
		`<final><message>found it</message></final>`,
	}}
	h := newHarness(t, client)
	ctx := context.Background()

	require.NoError(t, h.orch.RegisterAgent(ctx, standardAgent("helper", agentdef.StrategyToolOnly, agentdef.FormatXML, 3)))
	h.orch.RegisterExternalTool("helper", external.Spec{
		Name:             "lookup",
		Description:      "host-side lookup",
		ParametersSchema: map[string]any{"type": "object"},
		Resolver:         localResolver{},
	})

	result, err := h.orch.Execute(ctx, "helper", userMsg("find abc"), h.sink)
	require.NoError(t, err)
	assert.Equal(t, "found it", result.Content)

	end := h.sink.first(event.KindToolExecutionEnd)
	require.NotNil(t, end)
	assert.Equal(t, "lookup", end.ToolCallName)
	assert.True(t, end.Success)
}

func TestExecuteExternalToolViaBroker(t *testing.T) {
	client := &scriptedClient{completions: []string{
		`<lookup><key>abc</key></lookup>`,
		`<final><message>delivered</message></final>`,
	}}
	h := newHarness(t, client)
	ctx := context.Background()

	require.NoError(t, h.orch.RegisterAgent(ctx, standardAgent("helper", agentdef.StrategyToolOnly, agentdef.FormatXML, 3)))
	h.orch.RegisterExternalTool("helper", external.Spec{
		Name:             "lookup",
		ParametersSchema: map[string]any{"type": "object"},
	})

	// Play the host: watch the stream for the ExternalToolCall and deliver
	// its correlated result.
	go func() {
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if ev := h.sink.first(event.KindExternalToolCall); ev != nil {
				h.orch.DeliverExternalResult(ev.RunID, ev.ToolCallID, &message.ToolResponse{
					ToolCallID: ev.ToolCallID,
					ToolName:   ev.ToolCallName,
					Parts:      []message.Part{message.TextPart("host says hi")},
				})
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	result, err := h.orch.Execute(ctx, "helper", userMsg("find abc"), h.sink)
	require.NoError(t, err)
	assert.Equal(t, "delivered", result.Content)

	kinds := h.sink.kinds()
	assert.Contains(t, kinds, event.KindExternalToolCall)
	assert.Contains(t, kinds, event.KindExternalToolResult)

	// The broker is torn down with the run.
	ev := h.sink.first(event.KindExternalToolCall)
	assert.False(t, h.orch.DeliverExternalResult(ev.RunID, ev.ToolCallID, &message.ToolResponse{}))
}

func TestToolCallbacks(t *testing.T) {
	client := &scriptedClient{completions: []string{
		`<final><message>done</message></final>`,
	}}
	h := newHarness(t, client)
	ctx := context.Background()

	var mu sync.Mutex
	var before, after []string
	def := standardAgent("observed", agentdef.StrategyCoT, agentdef.FormatXML, 3)
	def.Standard.BeforeToolCall = func(_ context.Context, call *message.ToolCall) {
		mu.Lock()
		before = append(before, call.ToolName)
		mu.Unlock()
	}
	def.Standard.AfterToolCall = func(_ context.Context, call *message.ToolCall, resp *message.ToolResponse) {
		mu.Lock()
		after = append(after, resp.ToolName+":"+map[bool]string{true: "err", false: "ok"}[resp.IsError])
		mu.Unlock()
	}
	require.NoError(t, h.orch.RegisterAgent(ctx, def))

	_, err := h.orch.Execute(ctx, "observed", userMsg("hi"), nil)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"final"}, before)
	assert.Equal(t, []string{"final:ok"}, after)
}

var _ llm.Client = (*scriptedClient)(nil)
var _ tool.Toolset = (*staticToolset)(nil)
