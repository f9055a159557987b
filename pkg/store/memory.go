package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/distrihub/distri-sub004/pkg/agentdef"
	"github.com/distrihub/distri-sub004/pkg/distrierr"
	"github.com/distrihub/distri-sub004/pkg/message"
	"github.com/distrihub/distri-sub004/pkg/registry"
)

// MemoryTaskStore is an in-memory TaskStore. Insertion order is preserved
// for equal CreatedAt timestamps, since History is appended to under a
// single lock.
type MemoryTaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewMemoryTaskStore creates an empty in-memory TaskStore.
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{tasks: make(map[string]*Task)}
}

func (s *MemoryTaskStore) CreateTask(ctx context.Context, threadID string) (*Task, error) {
	now := time.Now()
	t := &Task{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		Status:    TaskSubmitted,
		History:   nil,
		Artifacts: nil,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.tasks[t.ID] = t
	s.mu.Unlock()
	return t, nil
}

func (s *MemoryTaskStore) GetTask(ctx context.Context, taskID string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return nil, distrierr.Newf(distrierr.NotFound, "task %q not found", taskID)
	}
	cp := *t
	cp.History = append([]TaskMessage(nil), t.History...)
	cp.Artifacts = append([]Artifact(nil), t.Artifacts...)
	return &cp, nil
}

func (s *MemoryTaskStore) UpdateTaskStatus(ctx context.Context, taskID string, status TaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return distrierr.Newf(distrierr.NotFound, "task %q not found", taskID)
	}
	t.Status = status
	t.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryTaskStore) AddMessageToTask(ctx context.Context, taskID string, msg *message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return distrierr.Newf(distrierr.NotFound, "task %q not found", taskID)
	}
	t.History = append(t.History, TaskMessage{
		Kind:      TaskMessageEntry,
		Message:   msg,
		CreatedAt: msg.CreatedAt,
	})
	t.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryTaskStore) AddEventToTask(ctx context.Context, taskID string, kind string, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return distrierr.Newf(distrierr.NotFound, "task %q not found", taskID)
	}
	t.History = append(t.History, TaskMessage{
		Kind:      TaskMessageEvent,
		EventKind: kind,
		EventData: data,
		CreatedAt: time.Now(),
	})
	t.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryTaskStore) AddArtifactToTask(ctx context.Context, taskID string, artifact Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return distrierr.Newf(distrierr.NotFound, "task %q not found", taskID)
	}
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now()
	}
	t.Artifacts = append(t.Artifacts, artifact)
	t.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryTaskStore) GetHistory(ctx context.Context, threadID string, filter HistoryFilter) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Task
	for _, t := range s.tasks {
		if t.ThreadID != threadID {
			continue
		}
		if filter.TaskID != "" && t.ID != filter.TaskID {
			continue
		}
		cp := *t
		cp.History = append([]TaskMessage(nil), t.History...)
		sort.SliceStable(cp.History, func(i, j int) bool {
			return cp.History[i].CreatedAt.Before(cp.History[j].CreatedAt)
		})
		if !filter.Since.IsZero() {
			filtered := cp.History[:0:0]
			for _, m := range cp.History {
				if !m.CreatedAt.Before(filter.Since) {
					filtered = append(filtered, m)
				}
			}
			cp.History = filtered
		}
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryTaskStore) CancelTask(ctx context.Context, taskID string) error {
	return s.UpdateTaskStatus(ctx, taskID, TaskCanceled)
}

var _ TaskStore = (*MemoryTaskStore)(nil)

// sessionValue pairs a stored value with its expiry (zero means no expiry).
type sessionValue struct {
	value   any
	expires time.Time
}

// MemorySessionStore is an in-memory SessionStore partitioned by namespace.
type MemorySessionStore struct {
	mu   sync.RWMutex
	data map[string]map[string]sessionValue
}

// NewMemorySessionStore creates an empty in-memory SessionStore.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{data: make(map[string]map[string]sessionValue)}
}

func (s *MemorySessionStore) Get(ctx context.Context, namespace, key string) (any, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ns, ok := s.data[namespace]
	if !ok {
		return nil, false, nil
	}
	v, ok := ns[key]
	if !ok {
		return nil, false, nil
	}
	if !v.expires.IsZero() && time.Now().After(v.expires) {
		return nil, false, nil
	}
	return v.value, true, nil
}

func (s *MemorySessionStore) Set(ctx context.Context, namespace, key string, value any) error {
	return s.SetWithExpiry(ctx, namespace, key, value, 0)
}

func (s *MemorySessionStore) SetWithExpiry(ctx context.Context, namespace, key string, value any, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns, ok := s.data[namespace]
	if !ok {
		ns = make(map[string]sessionValue)
		s.data[namespace] = ns
	}
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	ns[key] = sessionValue{value: value, expires: expires}
	return nil
}

func (s *MemorySessionStore) Delete(ctx context.Context, namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ns, ok := s.data[namespace]; ok {
		delete(ns, key)
	}
	return nil
}

func (s *MemorySessionStore) Keys(ctx context.Context, namespace string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ns, ok := s.data[namespace]
	if !ok {
		return nil, nil
	}
	keys := make([]string, 0, len(ns))
	now := time.Now()
	for k, v := range ns {
		if !v.expires.IsZero() && now.After(v.expires) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

var _ SessionStore = (*MemorySessionStore)(nil)

// MemoryAgentStore is an in-memory AgentStore backed by registry.BaseRegistry.
type MemoryAgentStore struct {
	reg *registry.BaseRegistry[*agentdef.AgentDefinition]
}

// NewMemoryAgentStore creates an empty in-memory AgentStore.
func NewMemoryAgentStore() *MemoryAgentStore {
	return &MemoryAgentStore{reg: registry.NewBaseRegistry[*agentdef.AgentDefinition]()}
}

func (s *MemoryAgentStore) Register(ctx context.Context, def *agentdef.AgentDefinition) error {
	return s.reg.Register(def.Name, def)
}

func (s *MemoryAgentStore) Update(ctx context.Context, def *agentdef.AgentDefinition) error {
	return s.reg.Update(def.Name, def)
}

func (s *MemoryAgentStore) Get(ctx context.Context, name string) (*agentdef.AgentDefinition, bool, error) {
	d, ok := s.reg.Get(name)
	return d, ok, nil
}

func (s *MemoryAgentStore) List(ctx context.Context, cursor string, limit int) ([]*agentdef.AgentDefinition, string, error) {
	page, next := s.reg.ListPage(cursor, limit)
	return page, next, nil
}

var _ AgentStore = (*MemoryAgentStore)(nil)

// MemoryToolSessionStore is an in-memory ToolSessionStore.
type MemoryToolSessionStore struct {
	mu   sync.RWMutex
	data map[string]map[string]any // "tool\x00session" -> key -> value
}

// NewMemoryToolSessionStore creates an empty in-memory ToolSessionStore.
func NewMemoryToolSessionStore() *MemoryToolSessionStore {
	return &MemoryToolSessionStore{data: make(map[string]map[string]any)}
}

func scopeKey(toolName, sessionID string) string { return toolName + "\x00" + sessionID }

func (s *MemoryToolSessionStore) Get(ctx context.Context, toolName, sessionID, key string) (any, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scope, ok := s.data[scopeKey(toolName, sessionID)]
	if !ok {
		return nil, false, nil
	}
	v, ok := scope[key]
	return v, ok, nil
}

func (s *MemoryToolSessionStore) Set(ctx context.Context, toolName, sessionID, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := scopeKey(toolName, sessionID)
	scope, ok := s.data[k]
	if !ok {
		scope = make(map[string]any)
		s.data[k] = scope
	}
	scope[key] = value
	return nil
}

func (s *MemoryToolSessionStore) Clear(ctx context.Context, toolName, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, scopeKey(toolName, sessionID))
	return nil
}

var _ ToolSessionStore = (*MemoryToolSessionStore)(nil)
