// Package event defines AgentEvent, the closed variant set streamed by the
// execution engine to the task store and to subscribers. A single flat
// struct tagged by a Kind carries only the fields relevant to that kind;
// the JSON field names are a stable surface and evolve additively.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies which AgentEvent variant a given event is.
type Kind string

const (
	KindRunStarted         Kind = "RunStarted"
	KindPlanStarted        Kind = "PlanStarted"
	KindPlanFinished       Kind = "PlanFinished"
	KindStepStarted        Kind = "StepStarted"
	KindStepCompleted      Kind = "StepCompleted"
	KindToolExecutionStart Kind = "ToolExecutionStart"
	KindToolExecutionEnd   Kind = "ToolExecutionEnd"
	KindTextMessageStart   Kind = "TextMessageStart"
	KindTextMessageContent Kind = "TextMessageContent"
	KindTextMessageEnd     Kind = "TextMessageEnd"
	KindToolCalls          Kind = "ToolCalls"
	KindToolResults        Kind = "ToolResults"
	KindAgentHandover      Kind = "AgentHandover"
	KindTodosUpdated       Kind = "TodosUpdated"
	KindRunFinished        Kind = "RunFinished"
	KindRunError           Kind = "RunError"
	KindExternalToolCall   Kind = "ExternalToolCall"
	KindExternalToolResult Kind = "ExternalToolResult"
)

// AgentEvent is one entry in a run's event stream. Every event carries the
// causal envelope; only the fields relevant to Kind are set.
type AgentEvent struct {
	// Envelope, present on every event.
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	ThreadID  string    `json:"thread_id"`
	RunID     string    `json:"run_id"`
	TaskID    string    `json:"task_id"`
	AgentID   string    `json:"agent_id"`

	// PlanStarted
	InitialPlan bool `json:"initial_plan,omitempty"`

	// PlanFinished
	TotalSteps int `json:"total_steps,omitempty"`

	// StepStarted / StepCompleted
	StepID  string `json:"step_id,omitempty"`
	StepIdx int    `json:"step_idx,omitempty"`
	Success bool   `json:"success,omitempty"`

	// ToolExecutionStart / ToolExecutionEnd
	ToolCallID   string `json:"tool_call_id,omitempty"`
	ToolCallName string `json:"tool_call_name,omitempty"`
	Input        any    `json:"input,omitempty"`

	// TextMessageStart / Content / End
	MessageID string `json:"message_id,omitempty"`
	Delta     string `json:"delta,omitempty"`

	// ToolCalls / ToolResults carry the full batch for the step.
	ToolCallsBatch   []ToolCallSummary   `json:"tool_calls,omitempty"`
	ToolResultsBatch []ToolResultSummary `json:"tool_results,omitempty"`

	// AgentHandover
	FromAgent string `json:"from_agent,omitempty"`
	ToAgent   string `json:"to_agent,omitempty"`
	Reason    string `json:"reason,omitempty"`

	// TodosUpdated
	TodoCount      int    `json:"todo_count,omitempty"`
	TodoAction     string `json:"todo_action,omitempty"`
	FormattedTodos string `json:"formatted_todos,omitempty"`

	// RunFinished
	FailedSteps int `json:"failed_steps,omitempty"`

	// RunError / ExternalToolCall failures
	ErrorMessage string `json:"error_message,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
}

// ToolCallSummary is the lightweight view of a ToolCall carried on
// ToolCalls events (not the full message.ToolCall, to keep events small).
type ToolCallSummary struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	Input      any    `json:"input"`
}

// ToolResultSummary is the lightweight view of a ToolResponse carried on
// ToolResults events.
type ToolResultSummary struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	Success    bool   `json:"success"`
}

// Envelope carries the identity fields stamped onto every event emitted
// within one run.
type Envelope struct {
	ThreadID string
	RunID    string
	TaskID   string
	AgentID  string
}

// New creates an AgentEvent of the given kind, stamped with env and a fresh
// ID/timestamp. Callers set variant-specific fields on the returned value.
func New(kind Kind, env Envelope) *AgentEvent {
	return &AgentEvent{
		ID:        uuid.NewString(),
		Kind:      kind,
		Timestamp: time.Now(),
		ThreadID:  env.ThreadID,
		RunID:     env.RunID,
		TaskID:    env.TaskID,
		AgentID:   env.AgentID,
	}
}

// IsTerminal reports whether this event ends a run. A run's stream contains
// exactly one terminal event and nothing after it.
func (e *AgentEvent) IsTerminal() bool {
	return e.Kind == KindRunFinished || e.Kind == KindRunError
}
