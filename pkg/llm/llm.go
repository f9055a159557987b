// Package llm defines the vendor-agnostic client contract planners generate
// completions through. Provider-specific tool-calling wire formats are not
// modelled here; the planner owns prompted grammars, and providers that
// support structured tool schemas receive the ToolDefinition list.
package llm

import (
	"context"

	"github.com/distrihub/distri-sub004/pkg/message"
)

// ToolDefinition is what a planner advertises to the LLM for tool-calling
// providers that accept structured tool schemas rather than prompted XML/
// JSONL grammars.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Completion is one LLM turn's result.
type Completion struct {
	Text       string
	ToolCalls  []*message.ToolCall
	TokensUsed int
}

// Client is the contract a planner drives to obtain completions.
type Client interface {
	// Generate produces one completion for the given conversation.
	Generate(ctx context.Context, messages []*message.Message, tools []ToolDefinition) (*Completion, error)

	// GenerateStreaming produces a completion while streaming text deltas to
	// onDelta as they arrive; TextMessageContent events are sourced from it.
	GenerateStreaming(ctx context.Context, messages []*message.Message, tools []ToolDefinition, onDelta func(string)) (*Completion, error)

	// SupportsToolCalling reports whether the provider accepts ToolDefinition
	// natively; planners fall back to prompted tool-call grammars
	// (agentdef.FormatXML/FormatJSONL) when false.
	SupportsToolCalling() bool
}
