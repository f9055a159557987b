// Package config loads Distri's two configuration surfaces: per-agent
// Markdown-with-front-matter definition files and the process-level runtime
// configuration (dispatch limits, timeouts, store wiring).
package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/distrihub/distri-sub004/pkg/agentdef"
	"github.com/distrihub/distri-sub004/pkg/distrierr"
)

// AgentFrontMatter is the YAML front-matter block of an agent definition
// file. Keys are case-sensitive, and yaml.v3's KnownFields(true) decoding
// below rejects unknown keys.
type AgentFrontMatter struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description"`
	Model       ModelSettingsRaw `yaml:"model_settings"`
	Tools       []string         `yaml:"tools"`
	McpServers  []McpServerRaw   `yaml:"mcp_servers"`
	Plugins     []string         `yaml:"plugins"`
	Strategy    string           `yaml:"strategy"`
	HistorySize int              `yaml:"history_size"`
	ToolFormat  string           `yaml:"tool_format"`
}

// ModelSettingsRaw mirrors agentdef.ModelSettings at the YAML layer.
type ModelSettingsRaw struct {
	Provider      string   `yaml:"provider"`
	Model         string   `yaml:"model"`
	Temperature   *float64 `yaml:"temperature"`
	MaxTokens     *int     `yaml:"max_tokens"`
	MaxIterations int      `yaml:"max_iterations"`
	ToolTimeoutMs int64    `yaml:"tool_timeout_ms"`
}

// McpServerRaw mirrors agentdef.McpServerRef at the YAML layer.
type McpServerRaw struct {
	Name   string   `yaml:"name"`
	Filter []string `yaml:"filter"`
}

const frontMatterDelim = "---"

// ParseAgentFile splits a Markdown agent-definition file into its YAML
// front-matter and instruction body, and builds an agentdef.AgentDefinition
// from the two.
func ParseAgentFile(raw []byte) (*agentdef.AgentDefinition, error) {
	front, body, err := splitFrontMatter(string(raw))
	if err != nil {
		return nil, err
	}

	var fm AgentFrontMatter
	dec := yaml.NewDecoder(strings.NewReader(front))
	dec.KnownFields(true)
	if err := dec.Decode(&fm); err != nil {
		return nil, distrierr.Wrap(distrierr.Validation, err, "decode agent front-matter")
	}

	def := &agentdef.AgentDefinition{
		Name:        fm.Name,
		Description: fm.Description,
		Kind:        agentdef.KindStandard,
		Standard: &agentdef.StandardAgent{
			Instructions: strings.TrimSpace(body),
			Model: agentdef.ModelSettings{
				Provider:      fm.Model.Provider,
				Model:         fm.Model.Model,
				Temperature:   fm.Model.Temperature,
				MaxTokens:     fm.Model.MaxTokens,
				MaxIterations: fm.Model.MaxIterations,
				ToolTimeout:   fm.Model.ToolTimeoutMs,
			},
			Tools:       fm.Tools,
			Plugins:     fm.Plugins,
			Strategy:    agentdef.Strategy(fm.Strategy),
			HistorySize: fm.HistorySize,
			ToolFormat:  agentdef.ToolCallFormat(fm.ToolFormat),
		},
	}
	for _, ref := range fm.McpServers {
		def.Standard.McpServers = append(def.Standard.McpServers, agentdef.McpServerRef{Name: ref.Name, Filter: ref.Filter})
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// splitFrontMatter separates a "---\n...\n---\n" header block from the
// remainder of the file.
func splitFrontMatter(content string) (front, body string, err error) {
	content = strings.TrimPrefix(content, "\ufeff")
	if !strings.HasPrefix(content, frontMatterDelim) {
		return "", "", distrierr.New(distrierr.Validation, "agent file must start with a YAML front-matter block delimited by ---")
	}

	rest := content[len(frontMatterDelim):]
	rest = strings.TrimPrefix(rest, "\n")
	idx := strings.Index(rest, "\n"+frontMatterDelim)
	if idx < 0 {
		return "", "", distrierr.New(distrierr.Validation, "agent file front-matter is not closed with a trailing ---")
	}

	front = rest[:idx]
	remainder := rest[idx+len("\n"+frontMatterDelim):]
	remainder = strings.TrimPrefix(remainder, "\r\n")
	remainder = strings.TrimPrefix(remainder, "\n")
	return front, remainder, nil
}

// RenderAgentFile is ParseAgentFile's inverse, used by tests and by
// config-writing tooling.
func RenderAgentFile(def *agentdef.AgentDefinition) (string, error) {
	if def.Standard == nil {
		return "", distrierr.New(distrierr.Validation, "only standard agent definitions have a front-matter rendering")
	}
	fm := AgentFrontMatter{
		Name:        def.Name,
		Description: def.Description,
		Model: ModelSettingsRaw{
			Provider:      def.Standard.Model.Provider,
			Model:         def.Standard.Model.Model,
			Temperature:   def.Standard.Model.Temperature,
			MaxTokens:     def.Standard.Model.MaxTokens,
			MaxIterations: def.Standard.Model.MaxIterations,
			ToolTimeoutMs: def.Standard.Model.ToolTimeout,
		},
		Tools:       def.Standard.Tools,
		Plugins:     def.Standard.Plugins,
		Strategy:    string(def.Standard.Strategy),
		HistorySize: def.Standard.HistorySize,
		ToolFormat:  string(def.Standard.ToolFormat),
	}
	for _, ref := range def.Standard.McpServers {
		fm.McpServers = append(fm.McpServers, McpServerRaw{Name: ref.Name, Filter: ref.Filter})
	}

	out, err := yaml.Marshal(&fm)
	if err != nil {
		return "", distrierr.Wrap(distrierr.Validation, err, "marshal agent front-matter")
	}
	return fmt.Sprintf("---\n%s---\n%s\n", string(out), def.Standard.Instructions), nil
}
