package tool

import (
	"fmt"

	"github.com/distrihub/distri-sub004/pkg/message"
)

// finalTool implements the reserved "final" tool: its message argument
// becomes the run's final answer and halts the engine.
type finalTool struct{}

// Final returns the reserved final tool.
func Final() Tool { return &finalTool{} }

func (t *finalTool) Name() string        { return NameFinal }
func (t *finalTool) Description() string { return "Ends the run and returns message as the final answer." }
func (t *finalTool) ParametersSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{"type": "string", "description": "The final answer to return to the caller."},
		},
		"required": []string{"message"},
	}
}
func (t *finalTool) OutputSchema() map[string]any   { return nil }
func (t *finalTool) IsFinal() bool                  { return true }
func (t *finalTool) IsExternal() bool               { return false }
func (t *finalTool) NeedsExecutorContext() bool     { return false }

func (t *finalTool) Execute(ctx Context, call *message.ToolCall) ([]message.Part, error) {
	msg, _ := argString(call.Input, "message")
	return []message.Part{message.TextPart(msg)}, nil
}

// transferToAgentTool implements the reserved "transfer_to_agent" tool:
// requests a handover to another agent. A single tool takes the target
// agent name as an argument rather than one tool instance per sub-agent.
type transferToAgentTool struct{}

// TransferToAgent returns the reserved transfer_to_agent tool.
func TransferToAgent() Tool { return &transferToAgentTool{} }

func (t *transferToAgentTool) Name() string { return NameTransferToAgent }
func (t *transferToAgentTool) Description() string {
	return "Transfers control of the run to another registered agent."
}
func (t *transferToAgentTool) ParametersSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"target":  map[string]any{"type": "string", "description": "Name of the agent to transfer control to."},
			"message": map[string]any{"type": "string", "description": "Message to hand off to the target agent."},
			"reason":  map[string]any{"type": "string", "description": "Optional reason for the handover."},
		},
		"required": []string{"target", "message"},
	}
}
func (t *transferToAgentTool) OutputSchema() map[string]any { return nil }
func (t *transferToAgentTool) IsFinal() bool                { return true } // ends the current agent's portion of the run
func (t *transferToAgentTool) IsExternal() bool              { return false }
func (t *transferToAgentTool) NeedsExecutorContext() bool    { return false }

func (t *transferToAgentTool) Execute(ctx Context, call *message.ToolCall) ([]message.Part, error) {
	target, _ := argString(call.Input, "target")
	msg, _ := argString(call.Input, "message")
	return []message.Part{message.TextPart(fmt.Sprintf("transferring to %s: %s", target, msg))}, nil
}

func argString(input any, key string) (string, bool) {
	m, ok := input.(map[string]any)
	if !ok {
		return "", false
	}
	v, ok := m[key].(string)
	return v, ok
}
