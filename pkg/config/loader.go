package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/distrihub/distri-sub004/pkg/distrierr"
)

// RuntimeConfig is the process-level configuration a host reads once at
// startup: where agent/tool definitions live, and dispatch/timeout/iteration
// defaults. The Orchestrator and the step executor do not read this struct;
// a host applies these values itself.
type RuntimeConfig struct {
	Home string `koanf:"home" yaml:"home"`

	DispatchLimit      int           `koanf:"dispatch_limit" yaml:"dispatch_limit"`
	DefaultToolTimeout time.Duration `koanf:"default_tool_timeout" yaml:"default_tool_timeout"`
	MaxIterations       int          `koanf:"max_iterations" yaml:"max_iterations"`

	LLM LLMSettings `koanf:"llm" yaml:"llm"`

	AgentsDir  string                   `koanf:"agents_dir" yaml:"agents_dir"`
	McpServers []McpServerProcessConfig `koanf:"mcp_servers" yaml:"mcp_servers"`
	Plugins    []PluginProcessConfig    `koanf:"plugins" yaml:"plugins"`
}

// LLMSettings configures the default llm.Client a host wires into the
// Orchestrator when no per-request override is given.
type LLMSettings struct {
	Provider string `koanf:"provider" yaml:"provider"`
	Model    string `koanf:"model" yaml:"model"`
	APIKey   string `koanf:"api_key" yaml:"api_key"`
	BaseURL  string `koanf:"base_url" yaml:"base_url"`
}

// McpServerProcessConfig declares one MCP server for
// Orchestrator.RegisterMcpServer at process startup.
type McpServerProcessConfig struct {
	Name    string   `koanf:"name" yaml:"name"`
	Command string   `koanf:"command" yaml:"command"`
	Args    []string `koanf:"args" yaml:"args"`
}

// PluginProcessConfig declares one installed plugin package for
// Orchestrator.RegisterPlugin at process startup.
type PluginProcessConfig struct {
	Name string `koanf:"name" yaml:"name"`
	Path string `koanf:"path" yaml:"path"`
}

// Loader loads a RuntimeConfig from a YAML file via koanf.
type Loader struct {
	path string
}

// NewLoader creates a Loader reading from path.
func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// Load reads and parses the configured file, applying defaults for any
// zero-valued field.
func (l *Loader) Load() (*RuntimeConfig, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(l.path), yaml.Parser()); err != nil {
		return nil, distrierr.Wrap(distrierr.Validation, err, "load runtime config from "+l.path)
	}

	cfg := &RuntimeConfig{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, distrierr.Wrap(distrierr.Validation, err, "unmarshal runtime config")
	}

	applyDefaults(cfg)
	return cfg, nil
}

// ResolveHome returns the state root: an explicit value wins, then the
// DISTRI_HOME environment variable, then ".distri" under the CWD.
func ResolveHome(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv("DISTRI_HOME"); env != "" {
		return env
	}
	return filepath.Join(".", ".distri")
}

func applyDefaults(cfg *RuntimeConfig) {
	cfg.Home = ResolveHome(cfg.Home)
	if cfg.DispatchLimit <= 0 {
		cfg.DispatchLimit = 8
	}
	if cfg.DefaultToolTimeout <= 0 {
		cfg.DefaultToolTimeout = 30 * time.Second
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 25
	}
	if cfg.AgentsDir == "" {
		cfg.AgentsDir = "agents"
	}
}
