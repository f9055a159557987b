// Command distri is a thin CLI over the orchestration engine: load
// agent-definition files from a directory, register them, and run one of
// them against a message.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/distrihub/distri-sub004/pkg/agentdef"
	"github.com/distrihub/distri-sub004/pkg/config"
	"github.com/distrihub/distri-sub004/pkg/distrierr"
	"github.com/distrihub/distri-sub004/pkg/event"
	"github.com/distrihub/distri-sub004/pkg/llm/openai"
	"github.com/distrihub/distri-sub004/pkg/message"
	"github.com/distrihub/distri-sub004/pkg/orchestrator"
	"github.com/distrihub/distri-sub004/pkg/store"
	"github.com/distrihub/distri-sub004/pkg/tool"
	"github.com/distrihub/distri-sub004/pkg/tool/mcp"
	"github.com/distrihub/distri-sub004/pkg/tool/plugin"
)

// CLI is the top-level command set.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Validate ValidateCmd `cmd:"" help:"Validate agent-definition files."`
	Run      RunCmd      `cmd:"" help:"Register agent files and run one agent against a message."`

	AgentsDir string `short:"d" help:"Directory of agent-definition (.md) files." default:"agents"`
}

// VersionCmd prints build info.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println("distri dev")
	return nil
}

// ValidateCmd parses every agent file under AgentsDir and reports errors.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	defs, err := loadAgentDir(cli.AgentsDir)
	if err != nil {
		return err
	}
	for _, def := range defs {
		fmt.Printf("ok: %s (%s)\n", def.Name, def.Kind)
	}
	return nil
}

// RunCmd registers every agent under AgentsDir and runs one to completion.
type RunCmd struct {
	Agent    string `arg:"" help:"Agent name to run."`
	Message  string `arg:"" help:"Input message text."`
	Provider string `help:"LLM provider base URL override." default:""`
	Model    string `help:"LLM model name." default:"gpt-4o-mini"`
	APIKey   string `name:"api-key" help:"LLM API key (defaults to OPENAI_API_KEY)."`
	Config   string `short:"c" help:"Process config file declaring MCP servers and plugin packages."`
}

func (c *RunCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	defs, err := loadAgentDir(cli.AgentsDir)
	if err != nil {
		return err
	}

	apiKey := c.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	llmClient := openai.New(openai.Config{APIKey: apiKey, Model: c.Model, BaseURL: c.Provider})

	todos := tool.NewTodoManager()

	orch, err := orchestrator.New(orchestrator.Config{
		AgentStore:   store.NewMemoryAgentStore(),
		TaskStore:    store.NewMemoryTaskStore(),
		SessionStore: store.NewMemorySessionStore(),
		LLMClient:    llmClient,
		Factories: map[string]orchestrator.AgentFactory{
			string(agentdef.KindStandard):           orchestrator.StandardAgentFactory(todos),
			string(agentdef.KindSequentialWorkflow): orchestrator.SequentialWorkflowFactory(),
			string(agentdef.KindDagWorkflow):        orchestrator.DagWorkflowFactory(),
		},
	})
	if err != nil {
		return err
	}
	if c.Config != "" {
		if err := registerProcessToolsets(orch, c.Config); err != nil {
			return err
		}
	}
	for _, def := range defs {
		orch.RegisterTool(def.Name, todos.Tool())
		if err := orch.RegisterAgent(ctx, def); err != nil {
			return distrierr.Wrap(distrierr.Validation, err, "register agent "+def.Name)
		}
	}

	ch := make(chan *event.AgentEvent, 64)
	sink := event.NewChanSink(ch)

	done := make(chan error, 1)
	go func() {
		done <- orch.ExecuteStream(ctx, c.Agent, message.New(message.RoleUser, time.Now(), message.TextPart(c.Message)), sink)
	}()

	for {
		select {
		case ev := <-ch:
			printEvent(ev)
			if ev.IsTerminal() {
				return <-done
			}
		case err := <-done:
			return err
		}
	}
}

func printEvent(ev *event.AgentEvent) {
	switch ev.Kind {
	case event.KindToolExecutionStart:
		fmt.Printf("[tool] %s ->\n", ev.ToolCallName)
	case event.KindToolExecutionEnd:
		fmt.Printf("[tool] %s done (success=%v)\n", ev.ToolCallName, ev.Success)
	case event.KindAgentHandover:
		fmt.Printf("[handover] %s -> %s: %s\n", ev.FromAgent, ev.ToAgent, ev.Reason)
	case event.KindRunFinished:
		fmt.Printf("[run finished] success=%v steps=%d failed=%d\n", ev.Success, ev.TotalSteps, ev.FailedSteps)
	case event.KindRunError:
		fmt.Printf("[run error] %s: %s\n", ev.ErrorCode, ev.ErrorMessage)
	}
}

// registerProcessToolsets loads the process config and registers its MCP
// servers and plugin packages with the orchestrator.
func registerProcessToolsets(orch *orchestrator.Orchestrator, path string) error {
	cfg, err := config.NewLoader(path).Load()
	if err != nil {
		return err
	}
	for _, srv := range cfg.McpServers {
		toolset, err := mcp.New(mcp.Config{Name: srv.Name, Command: srv.Command, Args: srv.Args})
		if err != nil {
			return distrierr.Wrap(distrierr.Validation, err, "mcp server "+srv.Name)
		}
		orch.RegisterMcpServer(srv.Name, toolset)
	}
	for _, p := range cfg.Plugins {
		toolset, err := plugin.New(plugin.Config{Name: p.Name, Path: p.Path})
		if err != nil {
			return distrierr.Wrap(distrierr.Validation, err, "plugin "+p.Name)
		}
		orch.RegisterPlugin(p.Name, toolset)
	}
	return nil
}

func loadAgentDir(dir string) ([]*agentdef.AgentDefinition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, distrierr.Wrap(distrierr.Validation, err, "read agents dir "+dir)
	}

	var defs []*agentdef.AgentDefinition
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".md" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, distrierr.Wrap(distrierr.Validation, err, "read agent file "+entry.Name())
		}
		def, err := config.ParseAgentFile(raw)
		if err != nil {
			return nil, distrierr.Wrap(distrierr.Validation, err, "parse agent file "+entry.Name())
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("distri"),
		kong.Description("Distri multi-agent orchestration runtime"),
		kong.UsageOnError(),
	)

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
