// Package tool defines the unified dispatch contract that in-process,
// external, MCP, and plugin-packaged tools all satisfy, plus the
// catalog-resolution rules used to build one agent's tool set.
package tool

import (
	"context"
	"strings"

	"github.com/distrihub/distri-sub004/pkg/message"
	"github.com/distrihub/distri-sub004/pkg/store"
)

// Context is the narrow view a Tool receives unless it declares
// NeedsExecutorContext. It intentionally exposes less than the full
// executor context: tools should not be able to reach into the tool
// catalog or fork sub-runs.
type Context interface {
	context.Context

	AgentID() string
	SessionID() string
	TaskID() string
	RunID() string
	ThreadID() string
	UserID() string

	// SessionStore is the key/value store scoped by (namespace, key); may be
	// nil for ad-hoc host invocations outside a run.
	SessionStore() store.SessionStore

	Metadata() map[string]any
}

// Tool is the base capability every tool source (in-process, external, MCP,
// plugin) implements.
type Tool interface {
	Name() string
	Description() string
	ParametersSchema() map[string]any

	// OutputSchema is optional; nil means unspecified output shape.
	OutputSchema() map[string]any

	// IsFinal marks tools whose invocation ends the current agent's loop
	// (final ends the run; transfer_to_agent hands it to another agent).
	IsFinal() bool

	// IsExternal marks tools whose execution is delegated to a host and
	// resolved asynchronously via the event channel.
	IsExternal() bool

	// NeedsExecutorContext requests the full ExecutorContext instead of
	// the narrow tool.Context.
	NeedsExecutorContext() bool

	// Execute runs the tool and returns result Parts. The step executor
	// calls it for every source; an external tool's Execute hands the call
	// to its local resolver or the run's broker (see package external).
	Execute(ctx Context, call *message.ToolCall) ([]message.Part, error)
}

// Toolset groups related tools and resolves them dynamically; MCP servers
// and plugin packages both expose one.
type Toolset interface {
	Name() string
	Tools(ctx context.Context) ([]Tool, error)
}

// Reserved tool names — immutable.
const (
	NameFinal           = "final"
	NameTransferToAgent = "transfer_to_agent"
	NameWriteTodos      = "write_todos"
)

// Source tags which of the four tool sources a catalog entry came from, used
// to apply the precedence rule in BuildCatalog.
type Source int

const (
	SourceInProcess Source = iota
	SourcePlugin
	SourceMCP
	SourceExternal
)

// CatalogEntry pairs a Tool with its namespace (MCP server name, plugin
// package name, or "" for plain in-process/external tools) and Source.
type CatalogEntry struct {
	Tool      Tool
	Namespace string
	Source    Source
}

// qualifiedName returns "namespace::name" when Namespace is set.
func (e CatalogEntry) qualifiedName() string {
	if e.Namespace == "" {
		return e.Tool.Name()
	}
	return e.Namespace + "::" + e.Tool.Name()
}

// Catalog is the per-context, per-agent resolved tool set, computed once
// per context and cached for the context's lifetime. Catalog itself is
// just the cache; building one is BuildCatalog's job.
type Catalog struct {
	byQualified map[string]CatalogEntry
	byBareName  map[string][]CatalogEntry // for bare-name fallback resolution
}

// BuildCatalog composes entries into a catalog, de-duplicating by bare name
// with precedence in-process > plugin > MCP > external. Entries arrive
// already unioned from the four sources; BuildCatalog only applies
// precedence and indexing.
func BuildCatalog(entries []CatalogEntry) *Catalog {
	c := &Catalog{
		byQualified: make(map[string]CatalogEntry),
		byBareName:  make(map[string][]CatalogEntry),
	}

	// Lower Source value wins; within equal Source, first registered wins.
	bareWinner := make(map[string]CatalogEntry)
	for _, e := range entries {
		q := e.qualifiedName()
		if _, exists := c.byQualified[q]; !exists {
			c.byQualified[q] = e
		}

		bare := bareKey(e.Tool.Name())
		c.byBareName[bare] = append(c.byBareName[bare], e)

		if existing, ok := bareWinner[bare]; !ok || e.Source < existing.Source {
			bareWinner[bare] = e
		}
	}
	for bare, winner := range bareWinner {
		c.byBareName[bare] = []CatalogEntry{winner}
	}

	return c
}

func bareKey(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, "-", "_"))
}

// Resolve looks up a tool by the name the LLM emitted: exact
// "namespace::name" match first, then case/hyphen-insensitive bare name.
// BuildCatalog already collapsed same-name candidates to a single winner,
// so ambiguity resolution happens at build time, not lookup time.
func (c *Catalog) Resolve(name string) (Tool, bool) {
	// Only namespaced names are looked up verbatim: an un-namespaced entry's
	// qualified name equals its bare name, and must not bypass precedence.
	if strings.Contains(name, "::") {
		if e, ok := c.byQualified[name]; ok {
			return e.Tool, true
		}
	}
	if entries, ok := c.byBareName[bareKey(name)]; ok && len(entries) > 0 {
		return entries[0].Tool, true
	}
	return nil, false
}

// All returns every tool in the catalog (qualified-name deduplicated).
func (c *Catalog) All() []Tool {
	out := make([]Tool, 0, len(c.byQualified))
	for _, e := range c.byQualified {
		out = append(out, e.Tool)
	}
	return out
}
