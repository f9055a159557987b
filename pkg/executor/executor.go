// Package executor implements the step executor: given a PlanStep, dispatch
// its tool calls (or sandboxed code), emit the StepStarted/
// ToolExecutionStart/ToolExecutionEnd/StepCompleted events, and produce an
// ExecutionResult. Tool calls within a single step are dispatched
// concurrently up to the process-wide dispatch limit.
package executor

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/distrihub/distri-sub004/pkg/distrierr"
	"github.com/distrihub/distri-sub004/pkg/event"
	"github.com/distrihub/distri-sub004/pkg/exectx"
	"github.com/distrihub/distri-sub004/pkg/message"
	"github.com/distrihub/distri-sub004/pkg/planner"
	"github.com/distrihub/distri-sub004/pkg/tool"
)

// DefaultDispatchLimit bounds concurrent tool calls within a single step
// when a Config doesn't override it.
const DefaultDispatchLimit = 8

// DefaultToolTimeout bounds a single tool call's Execute when the agent's
// ModelSettings.ToolTimeout is unset.
const DefaultToolTimeout = 30 * time.Second

// CodeRunner executes a code-action payload. Sandboxed code execution
// runtimes live with the host; this is the contract a concrete sandbox is
// wired into.
type CodeRunner interface {
	Run(ctx context.Context, language, code string) ([]message.Part, error)
}

// Config configures one Executor.
type Config struct {
	DispatchLimit int
	ToolTimeout   time.Duration
	CodeRunner    CodeRunner
}

// ExecutionResult is the outcome of running one PlanStep.
type ExecutionResult struct {
	Responses []*message.ToolResponse
	Final     *message.Part // non-nil when the step's final tool produced the terminal answer
	Success   bool
}

// Executor runs PlanSteps against a tool.Catalog, bounded by a process-wide
// concurrency limit.
type Executor struct {
	cfg Config
	sem *semaphore.Weighted
}

// New creates an Executor. A zero Config uses DefaultDispatchLimit and
// DefaultToolTimeout.
func New(cfg Config) *Executor {
	if cfg.DispatchLimit <= 0 {
		cfg.DispatchLimit = DefaultDispatchLimit
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = DefaultToolTimeout
	}
	return &Executor{cfg: cfg, sem: semaphore.NewWeighted(int64(cfg.DispatchLimit))}
}

// Execute dispatches step against ectx's tool catalog, bracketing the work
// in StepStarted/StepCompleted events.
func (e *Executor) Execute(ctx context.Context, ectx *exectx.Context, bus *event.Bus, step planner.PlanStep, stepIdx int) (*ExecutionResult, error) {
	env := ectx.Envelope()

	started := event.New(event.KindStepStarted, env)
	started.StepID = step.ID
	started.StepIdx = stepIdx
	_ = bus.Emit(ctx, started)

	var result *ExecutionResult
	var err error
	switch step.Action.Kind {
	case planner.ActionCode:
		result, err = e.executeCode(ctx, step)
	default:
		result, err = e.executeToolCalls(ctx, ectx, bus, step)
	}

	completed := event.New(event.KindStepCompleted, env)
	completed.StepID = step.ID
	completed.StepIdx = stepIdx
	completed.Success = err == nil && result != nil && result.Success
	_ = bus.Emit(ctx, completed)

	return result, err
}

func (e *Executor) executeCode(ctx context.Context, step planner.PlanStep) (*ExecutionResult, error) {
	if e.cfg.CodeRunner == nil {
		return nil, distrierr.New(distrierr.NotImplemented, "no code runner configured for Action::Code")
	}
	parts, err := e.cfg.CodeRunner.Run(ctx, step.Action.Language, step.Action.Code)
	if err != nil {
		return &ExecutionResult{Success: false}, distrierr.Wrap(distrierr.ToolExecution, err, "execute code step")
	}
	return &ExecutionResult{Responses: []*message.ToolResponse{{Parts: parts}}, Success: true}, nil
}

func (e *Executor) executeToolCalls(ctx context.Context, ectx *exectx.Context, bus *event.Bus, step planner.PlanStep) (*ExecutionResult, error) {
	calls := step.Action.ToolCalls
	responses := make([]*message.ToolResponse, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		i, call := i, call
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return nil, distrierr.Wrap(distrierr.Cancelled, err, "acquire dispatch slot")
		}
		g.Go(func() error {
			defer e.sem.Release(1)
			responses[i] = e.dispatchOne(gctx, ectx, bus, call)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, distrierr.Wrap(distrierr.Cancelled, err, "dispatch tool calls")
	}

	result := &ExecutionResult{Responses: responses, Success: true}
	for _, r := range responses {
		if r.IsError {
			result.Success = false
		}
		if r.ToolName == tool.NameFinal && !r.IsError {
			text := r.Text()
			part := message.TextPart(text)
			result.Final = &part
		}
	}
	return result, nil
}

// dispatchOne resolves and executes one tool call, emitting
// ToolExecutionStart/End around it. Resolution or execution failures become
// an error ToolResponse part rather than propagating, so one bad call never
// takes down its step.
func (e *Executor) dispatchOne(ctx context.Context, ectx *exectx.Context, bus *event.Bus, call *message.ToolCall) *message.ToolResponse {
	env := ectx.Envelope()

	start := event.New(event.KindToolExecutionStart, env)
	start.ToolCallID = call.ToolCallID
	start.ToolCallName = call.ToolName
	start.Input = call.Input
	_ = bus.Emit(ctx, start)

	resp := e.execute(ctx, ectx, call)

	end := event.New(event.KindToolExecutionEnd, env)
	end.ToolCallID = call.ToolCallID
	end.ToolCallName = call.ToolName
	end.Success = !resp.IsError
	_ = bus.Emit(ctx, end)

	return resp
}

func (e *Executor) execute(ctx context.Context, ectx *exectx.Context, call *message.ToolCall) *message.ToolResponse {
	t, ok := ectx.Tools().Resolve(call.ToolName)
	if !ok {
		return message.ErrorResponse(call.ToolCallID, call.ToolName, distrierr.Newf(distrierr.ToolExecution, "tool %q not found in catalog", call.ToolName).Error())
	}

	timeout := e.cfg.ToolTimeout
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	parts, err := t.Execute(ectx.WithContext(callCtx), call)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return message.ErrorResponse(call.ToolCallID, call.ToolName, distrierr.Newf(distrierr.Cancelled, "tool %q canceled", call.ToolName).Error())
		case callCtx.Err() != nil:
			return message.ErrorResponse(call.ToolCallID, call.ToolName, distrierr.Newf(distrierr.ToolExecution, "tool %q timed out after %s", call.ToolName, timeout).Error())
		}
		return message.ErrorResponse(call.ToolCallID, call.ToolName, err.Error())
	}
	return &message.ToolResponse{ToolCallID: call.ToolCallID, ToolName: call.ToolName, Parts: parts}
}
