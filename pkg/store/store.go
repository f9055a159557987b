// Package store defines the durable-storage interfaces the engine depends
// on: AgentStore, TaskStore, SessionStore, and ToolSessionStore. Concrete
// SQL/Redis/filesystem backends live with the host; memory.go provides a
// single in-memory reference implementation of each, used by tests and by
// hosts that don't need persistence across restarts.
package store

import (
	"context"
	"time"

	"github.com/distrihub/distri-sub004/pkg/agentdef"
	"github.com/distrihub/distri-sub004/pkg/message"
)

// TaskStatus is the Task.Status enum.
type TaskStatus string

const (
	TaskSubmitted     TaskStatus = "submitted"
	TaskWorking       TaskStatus = "working"
	TaskInputRequired TaskStatus = "input_required"
	TaskCompleted     TaskStatus = "completed"
	TaskFailed        TaskStatus = "failed"
	TaskCanceled      TaskStatus = "canceled"
)

// IsTerminal reports whether no further transitions are expected.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCanceled:
		return true
	}
	return false
}

// TaskMessageKind tags a TaskMessage's payload type.
type TaskMessageKind string

const (
	TaskMessageEntry TaskMessageKind = "message"
	TaskMessageEvent TaskMessageKind = "event"
)

// TaskMessage is one entry in a Task's history: either a conversation
// Message or a persisted event snapshot. Events are stored as opaque
// JSON-able payloads so this package doesn't need to import the event
// package's concrete type, avoiding an import cycle with the engine.
type TaskMessage struct {
	Kind      TaskMessageKind
	Message   *message.Message
	EventKind string
	EventData any
	CreatedAt time.Time
}

// Artifact is a promoted, named output attached to a Task.
type Artifact struct {
	Name      string
	Version   int64
	MIME      string
	Data      []byte
	CreatedAt time.Time
}

// Task is the durable record of one run.
type Task struct {
	ID        string
	ThreadID  string
	Status    TaskStatus
	History   []TaskMessage
	Artifacts []Artifact
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HistoryFilter narrows get_history results.
type HistoryFilter struct {
	TaskID string // empty means "all tasks on the thread"
	Since  time.Time
}

// TaskStore is the durable record of Task state and history.
type TaskStore interface {
	CreateTask(ctx context.Context, threadID string) (*Task, error)
	GetTask(ctx context.Context, taskID string) (*Task, error)
	UpdateTaskStatus(ctx context.Context, taskID string, status TaskStatus) error
	AddMessageToTask(ctx context.Context, taskID string, msg *message.Message) error
	AddEventToTask(ctx context.Context, taskID string, kind string, data any) error
	AddArtifactToTask(ctx context.Context, taskID string, artifact Artifact) error
	GetHistory(ctx context.Context, threadID string, filter HistoryFilter) ([]*Task, error)
	CancelTask(ctx context.Context, taskID string) error
}

// SessionStore is a typed key/value store partitioned by (namespace, key).
// The engine uses namespaces "task:{task_id}" and "thread:{thread_id}";
// hosts may use others for tool-private state, but those two are reserved.
type SessionStore interface {
	Get(ctx context.Context, namespace, key string) (any, bool, error)
	Set(ctx context.Context, namespace, key string, value any) error
	SetWithExpiry(ctx context.Context, namespace, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, namespace, key string) error
	Keys(ctx context.Context, namespace string) ([]string, error)
}

// AgentStore persists AgentDefinitions across process restarts.
type AgentStore interface {
	Register(ctx context.Context, def *agentdef.AgentDefinition) error
	Update(ctx context.Context, def *agentdef.AgentDefinition) error
	Get(ctx context.Context, name string) (*agentdef.AgentDefinition, bool, error)
	List(ctx context.Context, cursor string, limit int) ([]*agentdef.AgentDefinition, string, error)
}

// ToolSessionStore is a per-tool, per-session scratch store — distinct from
// SessionStore's task/thread namespaces, used by tool adapters that need to
// keep connection-level state (an MCP session ID, a plugin handle cache)
// alive across calls within one ExecutorContext's lifetime.
type ToolSessionStore interface {
	Get(ctx context.Context, toolName, sessionID, key string) (any, bool, error)
	Set(ctx context.Context, toolName, sessionID, key string, value any) error
	Clear(ctx context.Context, toolName, sessionID string) error
}
