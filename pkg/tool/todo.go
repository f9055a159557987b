package tool

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/distrihub/distri-sub004/pkg/distrierr"
	"github.com/distrihub/distri-sub004/pkg/message"
)

// TodoStatus is one todo item's lifecycle state.
type TodoStatus string

const (
	TodoOpen       TodoStatus = "open"
	TodoInProgress TodoStatus = "in_progress"
	TodoDone       TodoStatus = "done"
)

// TodoItem is one entry in a task's todo list.
type TodoItem struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Notes     string     `json:"notes,omitempty"`
	Status    TodoStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// TodoManager holds per-task todo lists and exposes them as the reserved
// write_todos tool. There is no merge mode: each write atomically replaces
// the whole list for the current task scope.
type TodoManager struct {
	mu    sync.RWMutex
	lists map[string][]TodoItem // task_id -> items
}

// NewTodoManager creates an empty TodoManager.
func NewTodoManager() *TodoManager {
	return &TodoManager{lists: make(map[string][]TodoItem)}
}

// GetTodos returns the current list for taskID (nil if none written yet).
func (m *TodoManager) GetTodos(taskID string) []TodoItem {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]TodoItem(nil), m.lists[taskID]...)
}

// Tool returns the reserved write_todos tool bound to this manager.
func (m *TodoManager) Tool() Tool { return &writeTodosTool{mgr: m} }

type writeTodosTool struct{ mgr *TodoManager }

func (t *writeTodosTool) Name() string        { return NameWriteTodos }
func (t *writeTodosTool) Description() string { return "Atomically replaces the todo list for the current task." }
func (t *writeTodosTool) ParametersSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"todos": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id":     map[string]any{"type": "string"},
						"title":  map[string]any{"type": "string"},
						"notes":  map[string]any{"type": "string"},
						"status": map[string]any{"type": "string", "enum": []string{"open", "in_progress", "done"}},
					},
					"required": []string{"title"},
				},
			},
		},
		"required": []string{"todos"},
	}
}
func (t *writeTodosTool) OutputSchema() map[string]any { return nil }
func (t *writeTodosTool) IsFinal() bool                { return false }
func (t *writeTodosTool) IsExternal() bool             { return false }
func (t *writeTodosTool) NeedsExecutorContext() bool   { return false }

func (t *writeTodosTool) Execute(ctx Context, call *message.ToolCall) ([]message.Part, error) {
	raw, ok := call.Input.(map[string]any)
	if !ok {
		return nil, distrierr.New(distrierr.Validation, "write_todos expects an object with a todos array")
	}
	items, err := parseTodoItems(raw["todos"])
	if err != nil {
		return nil, err
	}

	taskID := ctx.TaskID()
	t.mgr.mu.Lock()
	t.mgr.lists[taskID] = items
	t.mgr.mu.Unlock()

	if ss := ctx.SessionStore(); ss != nil {
		if err := ss.Set(ctx, "task:"+taskID, "todos", items); err != nil {
			return nil, distrierr.Wrap(distrierr.Session, err, "persist todos")
		}
	}

	formatted := FormatTodos(items)
	text := fmt.Sprintf("wrote %d todos\n%s", len(items), formatted)
	return []message.Part{
		message.TextPart(text),
		message.DataPart(map[string]any{
			"count":           len(items),
			"action":          "write_todos",
			"formatted_todos": formatted,
		}),
	}, nil
}

func parseTodoItems(raw any) ([]TodoItem, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, distrierr.New(distrierr.Validation, "todos must be an array")
	}

	now := time.Now()
	items := make([]TodoItem, 0, len(list))
	for _, entry := range list {
		m, ok := entry.(map[string]any)
		if !ok {
			return nil, distrierr.New(distrierr.Validation, "each todo must be an object")
		}
		id, _ := m["id"].(string)
		if id == "" {
			id = uuid.NewString()
		}
		title, _ := m["title"].(string)
		if title == "" {
			title, _ = m["content"].(string) // models frequently emit "content" instead
		}
		notes, _ := m["notes"].(string)
		status := TodoStatus(strings.ToLower(fmt.Sprint(m["status"])))
		switch status {
		case TodoOpen, TodoInProgress, TodoDone:
		default:
			status = TodoOpen
		}
		items = append(items, TodoItem{
			ID:        id,
			Title:     title,
			Notes:     notes,
			Status:    status,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return items, nil
}

// FormatTodos renders a todo list one item per line: "□" open,
// "◐" in_progress, "✓" done.
func FormatTodos(items []TodoItem) string {
	sorted := append([]TodoItem(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })

	var b strings.Builder
	for i, it := range sorted {
		if i > 0 {
			b.WriteByte('\n')
		}
		glyph := "□"
		switch it.Status {
		case TodoInProgress:
			glyph = "◐"
		case TodoDone:
			glyph = "✓"
		}
		b.WriteString(glyph)
		b.WriteByte(' ')
		b.WriteString(it.Title)
	}
	return b.String()
}
