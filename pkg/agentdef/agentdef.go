// Package agentdef defines the polymorphic AgentDefinition variant set —
// standard (LLM-backed), sequential workflow, DAG workflow, and custom —
// and its registration-time validation.
package agentdef

import (
	"context"

	"github.com/distrihub/distri-sub004/pkg/distrierr"
	"github.com/distrihub/distri-sub004/pkg/message"
)

// Strategy selects which planner strategy a StandardAgent uses.
type Strategy string

const (
	StrategyCoT      Strategy = "CoT"
	StrategyReAct    Strategy = "ReAct"
	StrategyToolOnly Strategy = "ToolOnly"
)

// ToolCallFormat selects the wire grammar the planner expects from the LLM.
type ToolCallFormat string

const (
	FormatXML   ToolCallFormat = "xml"
	FormatJSONL ToolCallFormat = "jsonl"
)

// Kind tags which AgentDefinition variant a value holds.
type Kind string

const (
	KindStandard           Kind = "standard"
	KindSequentialWorkflow Kind = "sequential_workflow"
	KindDagWorkflow        Kind = "dag_workflow"
	KindCustom             Kind = "custom"
)

// ModelSettings configures the LLM backing a StandardAgent.
type ModelSettings struct {
	Provider      string        `yaml:"provider" json:"provider"`
	Model         string        `yaml:"model" json:"model"`
	Temperature   *float64      `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	MaxTokens     *int          `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	MaxIterations int           `yaml:"max_iterations,omitempty" json:"max_iterations,omitempty"`
	ToolTimeout   int64         `yaml:"tool_timeout_ms,omitempty" json:"tool_timeout_ms,omitempty"`
}

// McpServerRef references an MCP server declared against an agent.
type McpServerRef struct {
	Name   string   `yaml:"name" json:"name"`
	Filter []string `yaml:"filter,omitempty" json:"filter,omitempty"`
}

// AgentDefinition is the polymorphic configuration for one registered agent.
// Exactly one of Standard/Sequential/Dag/Custom is non-nil, matching Kind.
type AgentDefinition struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Kind        Kind   `yaml:"-" json:"kind"`

	Standard   *StandardAgent           `json:"standard,omitempty"`
	Sequential *SequentialWorkflowAgent `json:"sequential,omitempty"`
	Dag        *DagWorkflowAgent        `json:"dag,omitempty"`
	Custom     *CustomAgent             `json:"custom,omitempty"`
}

// StandardAgent is an LLM-backed agent driven by a planner strategy.
type StandardAgent struct {
	Instructions  string         `yaml:"instructions" json:"instructions"`
	Model         ModelSettings  `yaml:"model_settings" json:"model_settings"`
	Tools         []string       `yaml:"tools,omitempty" json:"tools,omitempty"`
	McpServers    []McpServerRef `yaml:"mcp_servers,omitempty" json:"mcp_servers,omitempty"`
	Plugins       []string       `yaml:"plugins,omitempty" json:"plugins,omitempty"`
	Strategy      Strategy       `yaml:"strategy,omitempty" json:"strategy,omitempty"`
	HistorySize   int            `yaml:"history_size,omitempty" json:"history_size,omitempty"`
	ToolFormat    ToolCallFormat `yaml:"tool_format,omitempty" json:"tool_format,omitempty"`
	SubAgents     []string       `yaml:"sub_agents,omitempty" json:"sub_agents,omitempty"`

	// BeforeToolCall and AfterToolCall are an optional host-set extension
	// point observing each tool invocation the engine dispatches for this
	// agent. They are code-only fields, never part of the definition file
	// format, and must not block: the engine calls them inline.
	BeforeToolCall func(ctx context.Context, call *message.ToolCall)                                `yaml:"-" json:"-"`
	AfterToolCall  func(ctx context.Context, call *message.ToolCall, resp *message.ToolResponse)   `yaml:"-" json:"-"`
}

// SequentialWorkflowAgent runs an ordered list of steps.
type SequentialWorkflowAgent struct {
	Steps []WorkflowStep `yaml:"steps" json:"steps"`
}

// WorkflowStep is either a tool or a sub-agent invocation within a
// SequentialWorkflowAgent.
type WorkflowStep struct {
	Name      string `yaml:"name,omitempty" json:"name,omitempty"`
	ToolName  string `yaml:"tool_name,omitempty" json:"tool_name,omitempty"`
	Input     any    `yaml:"input,omitempty" json:"input,omitempty"`
	AgentName string `yaml:"agent_name,omitempty" json:"agent_name,omitempty"`
	Task      string `yaml:"task,omitempty" json:"task,omitempty"`
}

// IsToolStep reports whether this step invokes a tool rather than an agent.
func (s WorkflowStep) IsToolStep() bool { return s.ToolName != "" }

// DagWorkflowAgent runs a dependency graph of nodes.
type DagWorkflowAgent struct {
	Nodes []DagNode `yaml:"nodes" json:"nodes"`
}

// DagNode is a single node in a DagWorkflowAgent, either a tool or agent
// invocation, gated on its DependsOn set completing first.
type DagNode struct {
	ID        string   `yaml:"id" json:"id"`
	Name      string   `yaml:"name" json:"name"`
	ToolName  string   `yaml:"tool_name,omitempty" json:"tool_name,omitempty"`
	Input     any      `yaml:"input,omitempty" json:"input,omitempty"`
	AgentName string   `yaml:"agent_name,omitempty" json:"agent_name,omitempty"`
	Task      string   `yaml:"task,omitempty" json:"task,omitempty"`
	DependsOn []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
}

// IsToolNode reports whether this node invokes a tool rather than an agent.
func (n DagNode) IsToolNode() bool { return n.ToolName != "" }

// CustomAgent delegates to a host-implemented behavior identified by a
// script reference, resolved by a host-registered factory.
type CustomAgent struct {
	ScriptRef string `yaml:"script_ref" json:"script_ref"`
}

// Validate checks the registration invariants: non-empty name, a standard
// agent has at least name+description, and a DAG is acyclic.
func (d *AgentDefinition) Validate() error {
	if d.Name == "" {
		return distrierr.New(distrierr.Validation, "agent definition name must not be empty")
	}
	if d.Name == "user" {
		return distrierr.New(distrierr.Validation, "agent name 'user' is reserved")
	}

	switch d.Kind {
	case KindStandard:
		if d.Standard == nil {
			return distrierr.New(distrierr.Validation, "standard agent definition missing Standard payload")
		}
		if d.Description == "" {
			return distrierr.New(distrierr.Validation, "standard agent requires a description")
		}
	case KindSequentialWorkflow:
		if d.Sequential == nil || len(d.Sequential.Steps) == 0 {
			return distrierr.New(distrierr.Validation, "sequential workflow agent requires at least one step")
		}
	case KindDagWorkflow:
		if d.Dag == nil || len(d.Dag.Nodes) == 0 {
			return distrierr.New(distrierr.Validation, "dag workflow agent requires at least one node")
		}
		if err := validateAcyclic(d.Dag.Nodes); err != nil {
			return err
		}
	case KindCustom:
		if d.Custom == nil || d.Custom.ScriptRef == "" {
			return distrierr.New(distrierr.Validation, "custom agent requires a script_ref")
		}
	default:
		return distrierr.Newf(distrierr.Validation, "unknown agent kind %q", d.Kind)
	}
	return nil
}

// validateAcyclic runs a DFS cycle check over DependsOn edges.
func validateAcyclic(nodes []DagNode) error {
	byID := make(map[string]DagNode, len(nodes))
	for _, n := range nodes {
		if n.ID == "" {
			return distrierr.New(distrierr.Validation, "dag node missing id")
		}
		if _, dup := byID[n.ID]; dup {
			return distrierr.Newf(distrierr.Validation, "duplicate dag node id %q", n.ID)
		}
		byID[n.ID] = n
	}
	for _, n := range nodes {
		for _, dep := range n.DependsOn {
			if _, ok := byID[dep]; !ok {
				return distrierr.Newf(distrierr.Validation, "dag node %q depends_on unknown node %q", n.ID, dep)
			}
		}
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(nodes))

	var visit func(id string, path []string) error
	visit = func(id string, path []string) error {
		switch state[id] {
		case done:
			return nil
		case visiting:
			return distrierr.Newf(distrierr.Validation, "dag contains a cycle: %v -> %s", path, id)
		}
		state[id] = visiting
		for _, dep := range byID[id].DependsOn {
			if err := visit(dep, append(path, id)); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}

	for _, n := range nodes {
		if err := visit(n.ID, nil); err != nil {
			return err
		}
	}
	return nil
}
