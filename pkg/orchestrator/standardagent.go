package orchestrator

import (
	"context"
	"time"

	"github.com/distrihub/distri-sub004/pkg/agentdef"
	"github.com/distrihub/distri-sub004/pkg/distrierr"
	"github.com/distrihub/distri-sub004/pkg/event"
	"github.com/distrihub/distri-sub004/pkg/exectx"
	"github.com/distrihub/distri-sub004/pkg/executor"
	"github.com/distrihub/distri-sub004/pkg/message"
	"github.com/distrihub/distri-sub004/pkg/planner"
	"github.com/distrihub/distri-sub004/pkg/scratchpad"
	"github.com/distrihub/distri-sub004/pkg/store"
	"github.com/distrihub/distri-sub004/pkg/tool"
)

// DefaultMaxIterations bounds a StandardAgent's planner/executor loop when
// the agent definition doesn't override it.
const DefaultMaxIterations = 25

// standardAgentRunner drives the planner+executor loop for a StandardAgent
// definition: alternating LLM calls and tool dispatch until a terminal
// condition, yielding events as it goes.
type standardAgentRunner struct {
	def      *agentdef.AgentDefinition
	strategy planner.Strategy
	deps     FactoryDeps
	exec     *executor.Executor
	pad      *scratchpad.Pad
	todos    *tool.TodoManager
}

// StandardAgentFactory builds an AgentRunner for KindStandard definitions.
// todos may be shared across agents in one Orchestrator so todo state
// survives handovers within a thread.
func StandardAgentFactory(todos *tool.TodoManager) AgentFactory {
	return func(def *agentdef.AgentDefinition, deps FactoryDeps) (AgentRunner, error) {
		if def.Standard == nil {
			return nil, distrierr.New(distrierr.Validation, "standard agent factory requires a Standard payload")
		}
		strategy := planner.New(def.Standard.Strategy, def.Standard.ToolFormat)
		exec := executor.New(executor.Config{ToolTimeout: time.Duration(def.Standard.Model.ToolTimeout) * time.Millisecond})
		pad := deps.Pad
		if pad == nil {
			pad = scratchpad.New(def.Standard.HistorySize)
		}
		return &standardAgentRunner{
			def:      def,
			strategy: strategy,
			deps:     deps,
			exec:     exec,
			pad:      pad,
			todos:    todos,
		}, nil
	}
}

func (r *standardAgentRunner) InvokeStream(ctx context.Context, ectx *exectx.Context, bus *event.Bus, input *message.Message) (*InvokeResult, error) {
	env := ectx.Envelope()

	maxIterations := r.def.Standard.Model.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}

	r.pad.Append(scratchpad.Entry{Kind: scratchpad.EntryTask, TaskID: ectx.TaskID(), TaskParts: input.Parts})
	history := r.loadHistory(ctx, ectx, input.ID)

	result := &InvokeResult{}

	for iter := 0; iter < maxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, distrierr.Wrap(distrierr.Cancelled, err, "run canceled")
		}

		planStarted := event.New(event.KindPlanStarted, env)
		planStarted.InitialPlan = iter == 0
		_ = bus.Emit(ctx, planStarted)

		// The pad is shared across the run's handover chain, so the rendered
		// view spans prior sub-tasks; Render separates the task groups.
		req := planner.Request{
			Instructions: r.def.Standard.Instructions,
			Scratchpad:   scratchpad.Render(r.pad.Tail(r.def.Standard.HistorySize)),
			Tools:        ectx.Tools().All(),
			History:      history,
			Message:      input,
		}

		plan, err := r.strategy.Plan(ctx, r.deps.LLMClient, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, distrierr.Wrap(distrierr.Cancelled, ctx.Err(), "run canceled")
			}
			return nil, err
		}

		planFinished := event.New(event.KindPlanFinished, env)
		planFinished.TotalSteps = len(plan.Steps)
		_ = bus.Emit(ctx, planFinished)

		for _, step := range plan.Steps {
			if err := ctx.Err(); err != nil {
				return nil, distrierr.Wrap(distrierr.Cancelled, err, "run canceled")
			}

			r.pad.Append(scratchpad.Entry{
				Kind:     scratchpad.EntryPlanStep,
				TaskID:   ectx.TaskID(),
				Thought:  step.Thought,
				ToolName: firstToolName(step),
				ToolArgs: firstToolArgs(step),
			})

			if cb := r.def.Standard.BeforeToolCall; cb != nil {
				for _, tc := range step.Action.ToolCalls {
					cb(ctx, tc)
				}
			}

			stepResult, err := r.exec.Execute(ctx, ectx, bus, step, result.TotalSteps)
			result.TotalSteps++
			result.ToolCalls = append(result.ToolCalls, step.Action.ToolCalls...)
			if err != nil {
				result.FailedSteps++
				if ctx.Err() != nil {
					return nil, distrierr.Wrap(distrierr.Cancelled, ctx.Err(), "run canceled")
				}
				return nil, distrierr.Wrap(distrierr.ToolExecution, err, "execute step")
			}
			if !stepResult.Success {
				result.FailedSteps++
			}

			callsByID := make(map[string]*message.ToolCall, len(step.Action.ToolCalls))
			for _, tc := range step.Action.ToolCalls {
				callsByID[tc.ToolCallID] = tc
			}
			for _, resp := range stepResult.Responses {
				r.pad.Append(scratchpad.Entry{
					Kind:            scratchpad.EntryExecution,
					TaskID:          ectx.TaskID(),
					ToolCallID:      resp.ToolCallID,
					ExecutionResult: resp.Text(),
				})
				if cb := r.def.Standard.AfterToolCall; cb != nil {
					cb(ctx, callsByID[resp.ToolCallID], resp)
				}
				if resp.ToolName == tool.NameWriteTodos && !resp.IsError {
					r.emitTodosUpdated(ctx, bus, env, ectx.TaskID())
				}
			}

			if stepResult.Final != nil {
				result.Content = stepResult.Final.Text
				return result, nil
			}

			if transfer := transferRequest(step, stepResult); transfer != nil {
				result.Transfer = transfer
				return result, nil
			}
		}
	}

	return nil, distrierr.Newf(distrierr.MaxIterations, "agent %q exceeded max_iterations (%d)", r.def.Name, maxIterations)
}

// loadHistory returns the thread's prior user/assistant messages, excluding
// the in-flight input, bounded by the agent's history_size.
func (r *standardAgentRunner) loadHistory(ctx context.Context, ectx *exectx.Context, inputID string) []*message.Message {
	ts := ectx.TaskStore()
	if ts == nil {
		return nil
	}
	tasks, err := ts.GetHistory(ctx, ectx.ThreadID(), store.HistoryFilter{})
	if err != nil {
		return nil
	}

	var msgs []*message.Message
	for _, t := range tasks {
		for _, tm := range t.History {
			if tm.Kind != store.TaskMessageEntry || tm.Message == nil || tm.Message.ID == inputID {
				continue
			}
			if tm.Message.Role != message.RoleUser && tm.Message.Role != message.RoleAssistant {
				continue
			}
			msgs = append(msgs, tm.Message)
		}
	}

	if n := r.def.Standard.HistorySize; n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return msgs
}

// transferRequest extracts the handover request from a step whose tool calls
// include transfer_to_agent, provided the call itself did not error.
func transferRequest(step planner.PlanStep, stepResult *executor.ExecutionResult) *TransferRequest {
	failed := make(map[string]bool)
	for _, resp := range stepResult.Responses {
		if resp.IsError {
			failed[resp.ToolCallID] = true
		}
	}
	for _, tc := range step.Action.ToolCalls {
		if tc.ToolName != tool.NameTransferToAgent || failed[tc.ToolCallID] {
			continue
		}
		args, _ := tc.Input.(map[string]any)
		target, _ := args["target"].(string)
		msg, _ := args["message"].(string)
		reason, _ := args["reason"].(string)
		return &TransferRequest{Target: target, Message: msg, Reason: reason}
	}
	return nil
}

func (r *standardAgentRunner) emitTodosUpdated(ctx context.Context, bus *event.Bus, env event.Envelope, taskID string) {
	if r.todos == nil {
		return
	}
	items := r.todos.GetTodos(taskID)
	ev := event.New(event.KindTodosUpdated, env)
	ev.TodoCount = len(items)
	ev.TodoAction = "write_todos"
	ev.FormattedTodos = tool.FormatTodos(items)
	_ = bus.Emit(ctx, ev)
}

func firstToolName(step planner.PlanStep) string {
	if step.Action.Kind == planner.ActionToolCalls && len(step.Action.ToolCalls) > 0 {
		return step.Action.ToolCalls[0].ToolName
	}
	return ""
}

func firstToolArgs(step planner.PlanStep) any {
	if step.Action.Kind == planner.ActionToolCalls && len(step.Action.ToolCalls) > 0 {
		return step.Action.ToolCalls[0].Input
	}
	return nil
}

var _ AgentRunner = (*standardAgentRunner)(nil)
