package orchestrator

import (
	"context"
	"fmt"

	"github.com/distrihub/distri-sub004/pkg/agentdef"
	"github.com/distrihub/distri-sub004/pkg/distrierr"
	"github.com/distrihub/distri-sub004/pkg/event"
	"github.com/distrihub/distri-sub004/pkg/executor"
	"github.com/distrihub/distri-sub004/pkg/exectx"
	"github.com/distrihub/distri-sub004/pkg/message"
	"github.com/distrihub/distri-sub004/pkg/planner"
)

// sequentialWorkflowRunner runs a SequentialWorkflowAgent's steps in order
// — each a tool or sub-agent invocation — feeding each step's output text
// forward as the next step's input when the step doesn't define its own
// literal Input. It reuses the executor and CallAgent primitives rather
// than introducing a separate dispatch path.
type sequentialWorkflowRunner struct {
	def  *agentdef.AgentDefinition
	deps FactoryDeps
	exec *executor.Executor
}

// SequentialWorkflowFactory builds an AgentRunner for KindSequentialWorkflow.
func SequentialWorkflowFactory() AgentFactory {
	return func(def *agentdef.AgentDefinition, deps FactoryDeps) (AgentRunner, error) {
		if def.Sequential == nil {
			return nil, distrierr.New(distrierr.Validation, "sequential workflow factory requires a Sequential payload")
		}
		return &sequentialWorkflowRunner{def: def, deps: deps, exec: executor.New(executor.Config{})}, nil
	}
}

func (r *sequentialWorkflowRunner) InvokeStream(ctx context.Context, ectx *exectx.Context, bus *event.Bus, input *message.Message) (*InvokeResult, error) {
	env := ectx.Envelope()
	carry := input.Text()
	result := &InvokeResult{}

	for idx, step := range r.def.Sequential.Steps {
		if step.IsToolStep() {
			stepInput := step.Input
			if stepInput == nil {
				stepInput = map[string]any{"input": carry}
			}
			plan := planner.NewToolCallStep("", []*message.ToolCall{message.NewToolCall(step.ToolName, stepInput)})
			stepResult, err := r.exec.Execute(ctx, ectx, bus, plan, idx)
			result.TotalSteps++
			if err != nil {
				result.FailedSteps++
				return nil, distrierr.Wrap(distrierr.ToolExecution, err, fmt.Sprintf("sequential step %q", step.Name))
			}
			if !stepResult.Success {
				result.FailedSteps++
			}
			if len(stepResult.Responses) > 0 {
				carry = stepResult.Responses[0].Text()
			}
			continue
		}

		task := step.Task
		if task == "" {
			task = carry
		}
		reply, err := r.deps.CallAgent(ctx, ectx.ThreadID(), step.AgentName, task)
		result.TotalSteps++
		if err != nil {
			result.FailedSteps++
			return nil, distrierr.Wrap(distrierr.ToolExecution, err, fmt.Sprintf("sequential step %q calling agent %q", step.Name, step.AgentName))
		}
		carry = reply

		handover := event.New(event.KindAgentHandover, env)
		handover.FromAgent = r.def.Name
		handover.ToAgent = step.AgentName
		_ = bus.Emit(ctx, handover)
	}

	result.Content = carry
	return result, nil
}

// dagWorkflowRunner runs a DagWorkflowAgent's nodes in dependency order.
// Nodes whose depends_on sets have resolved run one at a time, in
// declaration order: a tool node as its own single-call step through
// executor.Executor, an agent node through CallAgent.
type dagWorkflowRunner struct {
	def  *agentdef.AgentDefinition
	deps FactoryDeps
}

// DagWorkflowFactory builds an AgentRunner for KindDagWorkflow.
func DagWorkflowFactory() AgentFactory {
	return func(def *agentdef.AgentDefinition, deps FactoryDeps) (AgentRunner, error) {
		if def.Dag == nil {
			return nil, distrierr.New(distrierr.Validation, "dag workflow factory requires a Dag payload")
		}
		return &dagWorkflowRunner{def: def, deps: deps}, nil
	}
}

func (r *dagWorkflowRunner) InvokeStream(ctx context.Context, ectx *exectx.Context, bus *event.Bus, input *message.Message) (*InvokeResult, error) {
	nodes := r.def.Dag.Nodes
	done := make(map[string]string) // node id -> output text
	result := &InvokeResult{}

	for len(done) < len(nodes) {
		ready := readyNodes(nodes, done)
		if len(ready) == 0 {
			return nil, distrierr.New(distrierr.Planning, "dag workflow made no progress; a dependency is unresolved")
		}

		for _, n := range ready {
			var output string
			var err error
			if n.IsToolNode() {
				output, err = r.runToolNode(ctx, ectx, bus, n)
			} else {
				task := n.Task
				if task == "" {
					task = input.Text()
				}
				output, err = r.deps.CallAgent(ctx, ectx.ThreadID(), n.AgentName, task)
			}
			result.TotalSteps++
			if err != nil {
				result.FailedSteps++
				return nil, distrierr.Wrap(distrierr.ToolExecution, err, fmt.Sprintf("dag node %q", n.ID))
			}
			done[n.ID] = output
		}
	}

	if len(nodes) > 0 {
		result.Content = done[nodes[len(nodes)-1].ID]
	}
	return result, nil
}

func (r *dagWorkflowRunner) runToolNode(ctx context.Context, ectx *exectx.Context, bus *event.Bus, n agentdef.DagNode) (string, error) {
	exec := executor.New(executor.Config{})
	plan := planner.NewToolCallStep("", []*message.ToolCall{message.NewToolCall(n.ToolName, n.Input)})
	stepResult, err := exec.Execute(ctx, ectx, bus, plan, 0)
	if err != nil {
		return "", err
	}
	if len(stepResult.Responses) == 0 {
		return "", nil
	}
	return stepResult.Responses[0].Text(), nil
}

func readyNodes(nodes []agentdef.DagNode, done map[string]string) []agentdef.DagNode {
	var ready []agentdef.DagNode
	for _, n := range nodes {
		if _, finished := done[n.ID]; finished {
			continue
		}
		allDepsDone := true
		for _, dep := range n.DependsOn {
			if _, ok := done[dep]; !ok {
				allDepsDone = false
				break
			}
		}
		if allDepsDone {
			ready = append(ready, n)
		}
	}
	return ready
}

var (
	_ AgentRunner = (*sequentialWorkflowRunner)(nil)
	_ AgentRunner = (*dagWorkflowRunner)(nil)
)
