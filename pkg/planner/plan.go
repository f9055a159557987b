// Package planner turns a user message plus conversation history into a
// sequence of PlanSteps: one Strategy implementation per reasoning mode
// (CoT, ReAct, ToolOnly), each driving an llm.Client and parsing its
// completion through the XML or JSONL tool-call wire grammar. The step
// executor owns the iteration loop, so Strategy exposes a single Plan call
// with no per-iteration hooks.
package planner

import (
	"github.com/google/uuid"

	"github.com/distrihub/distri-sub004/pkg/message"
)

// ActionKind tags which Action variant a PlanStep holds.
type ActionKind string

const (
	ActionToolCalls ActionKind = "tool_calls"
	ActionCode      ActionKind = "code"
)

// Action is a PlanStep's payload: a batch of tool calls, or a code body to
// run in a sandboxed executor.
type Action struct {
	Kind ActionKind

	ToolCalls []*message.ToolCall

	Language string
	Code     string
}

// PlanStep is one step of an AgentPlan.
type PlanStep struct {
	ID      string
	Thought string
	Action  Action
}

// IsTerminal reports whether this step's tool calls include the reserved
// final or transfer_to_agent tools, either of which ends the current
// agent's portion of the run.
func (s PlanStep) IsTerminal() bool {
	if s.Action.Kind != ActionToolCalls {
		return false
	}
	for _, tc := range s.Action.ToolCalls {
		if tc.ToolName == "final" || tc.ToolName == "transfer_to_agent" {
			return true
		}
	}
	return false
}

// NewToolCallStep builds a PlanStep carrying a tool-call action.
func NewToolCallStep(thought string, calls []*message.ToolCall) PlanStep {
	return PlanStep{ID: uuid.NewString(), Thought: thought, Action: Action{Kind: ActionToolCalls, ToolCalls: calls}}
}

// NewCodeStep builds a PlanStep carrying an Action::Code payload.
func NewCodeStep(thought, language, code string) PlanStep {
	return PlanStep{ID: uuid.NewString(), Thought: thought, Action: Action{Kind: ActionCode, Language: language, Code: code}}
}

// AgentPlan is the result of one Strategy.Plan call.
type AgentPlan struct {
	Steps     []PlanStep
	Reasoning string
}
