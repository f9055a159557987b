package planner

import (
	"context"
	"strings"

	"github.com/distrihub/distri-sub004/pkg/agentdef"
	"github.com/distrihub/distri-sub004/pkg/distrierr"
	"github.com/distrihub/distri-sub004/pkg/llm"
	"github.com/distrihub/distri-sub004/pkg/message"
	"github.com/distrihub/distri-sub004/pkg/scratchpad"
	"github.com/distrihub/distri-sub004/pkg/tool"
)

// Request carries everything a Strategy needs to build one LLM request:
// system prompt, agent instructions, the rendered scratchpad, the declared
// tools, and the history slice bounded by the agent's history_size.
type Request struct {
	SystemPrompt string
	Instructions string
	Scratchpad   string
	Tools        []tool.Tool
	History      []*message.Message
	Message      *message.Message
}

// Strategy produces an AgentPlan from a Request by driving an llm.Client.
type Strategy interface {
	Name() string
	Plan(ctx context.Context, llmClient llm.Client, req Request) (*AgentPlan, error)
}

// New selects a Strategy implementation by agentdef.Strategy, defaulting
// to ReAct when unset.
func New(s agentdef.Strategy, format agentdef.ToolCallFormat) Strategy {
	if format == "" {
		format = agentdef.FormatXML
	}
	switch s {
	case agentdef.StrategyCoT:
		return &chainOfThought{format: format}
	case agentdef.StrategyToolOnly:
		return &toolOnly{format: format}
	default:
		return &reactStrategy{format: format}
	}
}

func buildMessages(req Request) []*message.Message {
	msgs := make([]*message.Message, 0, len(req.History)+2)
	if req.SystemPrompt != "" || req.Instructions != "" {
		msgs = append(msgs, message.New(message.RoleSystem, req.Message.CreatedAt, message.TextPart(strings.TrimSpace(req.SystemPrompt+"\n"+req.Instructions))))
	}
	if req.Scratchpad != "" {
		msgs = append(msgs, message.New(message.RoleSystem, req.Message.CreatedAt, message.TextPart("Scratchpad:\n"+req.Scratchpad)))
	}
	msgs = append(msgs, req.History...)
	msgs = append(msgs, req.Message)
	return msgs
}

func toolDefinitions(tools []tool.Tool) []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, llm.ToolDefinition{Name: t.Name(), Description: t.Description(), Parameters: t.ParametersSchema()})
	}
	return defs
}

func parseCompletion(format agentdef.ToolCallFormat, text string) (ParsedCalls, error) {
	switch format {
	case agentdef.FormatJSONL:
		return ParseJSONL(text)
	default:
		return ParseXML(text)
	}
}

// chainOfThought is the CoT mode: one or more thoughts followed by a
// terminal answer, one PlanStep per LLM call until a terminal answer is
// detected.
type chainOfThought struct{ format agentdef.ToolCallFormat }

func (s *chainOfThought) Name() string { return "CoT" }

func (s *chainOfThought) Plan(ctx context.Context, llmClient llm.Client, req Request) (*AgentPlan, error) {
	completion, err := llmClient.Generate(ctx, buildMessages(req), toolDefinitions(req.Tools))
	if err != nil {
		return nil, distrierr.Wrap(distrierr.LLM, err, "chain-of-thought generate")
	}

	if len(completion.ToolCalls) > 0 {
		return &AgentPlan{Steps: []PlanStep{NewToolCallStep(completion.Text, completion.ToolCalls)}}, nil
	}

	parsed, err := parseCompletion(s.format, completion.Text)
	if err != nil {
		// No wire-format tool calls either: treat the whole completion as a
		// terminal answer via the reserved final tool. CoT tolerates
		// prose-heavy completions.
		return &AgentPlan{Steps: []PlanStep{finalStep(completion.Text)}}, nil
	}
	if parsed.IsFinal {
		return &AgentPlan{Steps: []PlanStep{finalStep(parsed.Final)}}, nil
	}
	return &AgentPlan{Steps: []PlanStep{NewToolCallStep(completion.Text, parsed.ToolCalls)}}, nil
}

// reactStrategy is the ReAct mode: alternating Thought/Action/Observation.
// One PlanStep per call; each action is a tool call; observations are
// appended to the scratchpad for the next call.
type reactStrategy struct{ format agentdef.ToolCallFormat }

func (s *reactStrategy) Name() string { return "ReAct" }

func (s *reactStrategy) Plan(ctx context.Context, llmClient llm.Client, req Request) (*AgentPlan, error) {
	completion, err := llmClient.Generate(ctx, buildMessages(req), toolDefinitions(req.Tools))
	if err != nil {
		return nil, distrierr.Wrap(distrierr.LLM, err, "react generate")
	}

	if len(completion.ToolCalls) > 0 {
		return &AgentPlan{Steps: []PlanStep{NewToolCallStep(extractThought(completion.Text), completion.ToolCalls)}}, nil
	}

	parsed, err := parseCompletion(s.format, completion.Text)
	if err != nil {
		return nil, distrierr.Wrap(distrierr.Planning, err, "react parse completion")
	}
	if parsed.IsFinal {
		return &AgentPlan{Steps: []PlanStep{finalStep(parsed.Final)}}, nil
	}
	return &AgentPlan{Steps: []PlanStep{NewToolCallStep(extractThought(completion.Text), parsed.ToolCalls)}}, nil
}

// extractThought pulls a leading "Thought: ..." line from raw completion
// text, matching scratchpad.Render's own "Thought:" convention.
func extractThought(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "Thought:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "Thought:"))
		}
	}
	return ""
}

// toolOnly is the tool-only mode: no free-text reasoning is solicited; the
// LLM is expected to emit tool calls (or a final answer) directly.
type toolOnly struct{ format agentdef.ToolCallFormat }

func (s *toolOnly) Name() string { return "ToolOnly" }

func (s *toolOnly) Plan(ctx context.Context, llmClient llm.Client, req Request) (*AgentPlan, error) {
	completion, err := llmClient.Generate(ctx, buildMessages(req), toolDefinitions(req.Tools))
	if err != nil {
		return nil, distrierr.Wrap(distrierr.LLM, err, "tool-only generate")
	}

	if len(completion.ToolCalls) > 0 {
		return &AgentPlan{Steps: []PlanStep{NewToolCallStep("", completion.ToolCalls)}}, nil
	}

	parsed, err := parseCompletion(s.format, completion.Text)
	if err != nil {
		return nil, distrierr.Wrap(distrierr.Planning, err, "tool-only parse completion")
	}
	if parsed.IsFinal {
		return &AgentPlan{Steps: []PlanStep{finalStep(parsed.Final)}}, nil
	}
	if len(parsed.ToolCalls) == 0 {
		return nil, distrierr.New(distrierr.Planning, "tool-only strategy received no tool calls")
	}
	return &AgentPlan{Steps: []PlanStep{NewToolCallStep("", parsed.ToolCalls)}}, nil
}

func finalStep(text string) PlanStep {
	return NewToolCallStep("", []*message.ToolCall{message.NewToolCall(tool.NameFinal, map[string]any{"message": text})})
}

// RenderScratchpad is a thin re-export so executors building a Request
// don't need to import the scratchpad package solely for this call.
func RenderScratchpad(entries []scratchpad.Entry) string { return scratchpad.Render(entries) }
