// Package scratchpad renders prior plan steps into the stable ReAct-style
// text surface the planner feeds the LLM. The rendering format is part of
// the external contract — LLMs are trained against it — so its shape, once
// fixed, must not drift; only the backing Entry representation is free to
// evolve.
package scratchpad

import (
	"fmt"
	"strings"

	"github.com/distrihub/distri-sub004/pkg/message"
)

// EntryKind tags which ScratchpadEntry variant a value holds.
type EntryKind string

const (
	EntryTask      EntryKind = "task"
	EntryPlanStep  EntryKind = "plan_step"
	EntryExecution EntryKind = "execution"
)

// Entry is one scratchpad record: a task statement, a plan step, or a tool
// execution result, each tagged with the task it belongs to.
type Entry struct {
	Kind   EntryKind
	TaskID string

	// EntryTask
	TaskParts []message.Part

	// EntryPlanStep
	Thought  string
	ToolName string
	ToolArgs any

	// EntryExecution
	ToolCallID       string
	ExecutionResult  string
}

// Pad accumulates Entries, each tagged with its task_id, and renders them on
// demand. With a positive maxEntries it retains only the newest entries,
// evicting from the front on Append once the cap is exceeded.
type Pad struct {
	maxEntries int
	entries    []Entry
}

// New creates a Pad retaining at most maxEntries (0 means unbounded).
func New(maxEntries int) *Pad {
	return &Pad{maxEntries: maxEntries}
}

// Append adds an entry, evicting the oldest if over capacity.
func (p *Pad) Append(e Entry) {
	p.entries = append(p.entries, e)
	if p.maxEntries > 0 && len(p.entries) > p.maxEntries {
		p.entries = p.entries[len(p.entries)-p.maxEntries:]
	}
}

// Tail returns the last n entries across every task in the pad (0 means
// all). This is the view a standard agent renders: a pad shared across a
// run's handover chain accumulates entries under more than one task_id, and
// Render separates those groups.
func (p *Pad) Tail(n int) []Entry {
	entries := p.entries
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return append([]Entry(nil), entries...)
}

// ForTask returns a view filtered to entries tagged with taskID, truncated
// to the last n (0 means all). Used to build per-sub-agent views.
func (p *Pad) ForTask(taskID string, n int) []Entry {
	var filtered []Entry
	for _, e := range p.entries {
		if e.TaskID == taskID {
			filtered = append(filtered, e)
		}
	}
	if n > 0 && len(filtered) > n {
		filtered = filtered[len(filtered)-n:]
	}
	return filtered
}

// Render produces the stable ReAct-convention text for entries:
// "Task: ...\nThought: ...\nAction: <tool>(<args>)\nObservation: ..."
// with a "---" separator between groups of entries that belong to
// different task_ids.
func Render(entries []Entry) string {
	var b strings.Builder
	lastTaskID := ""
	for i, e := range entries {
		if i > 0 && e.TaskID != lastTaskID {
			b.WriteString("---\n")
		}
		lastTaskID = e.TaskID

		switch e.Kind {
		case EntryTask:
			b.WriteString("Task: ")
			b.WriteString(renderParts(e.TaskParts))
			b.WriteByte('\n')
		case EntryPlanStep:
			if e.Thought != "" {
				b.WriteString("Thought: ")
				b.WriteString(e.Thought)
				b.WriteByte('\n')
			}
			if e.ToolName != "" {
				b.WriteString(fmt.Sprintf("Action: %s(%v)\n", e.ToolName, e.ToolArgs))
			}
		case EntryExecution:
			b.WriteString("Observation: ")
			b.WriteString(e.ExecutionResult)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func renderParts(parts []message.Part) string {
	var b strings.Builder
	for _, p := range parts {
		if p.Kind == message.PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}
