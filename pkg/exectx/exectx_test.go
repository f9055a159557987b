package exectx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distrihub/distri-sub004/pkg/store"
)

func rootContext() *Context {
	return New(context.Background(), "router", "thread-1", "run-1", "task-1", "user-1",
		store.NewMemorySessionStore(), store.NewMemoryTaskStore(), nil, nil)
}

func TestIdentityAccessors(t *testing.T) {
	c := rootContext()
	assert.Equal(t, "router", c.AgentID())
	assert.Equal(t, "thread-1", c.ThreadID())
	assert.Equal(t, "thread-1", c.SessionID())
	assert.Equal(t, "run-1", c.RunID())
	assert.Equal(t, "task-1", c.TaskID())
	assert.Equal(t, "user-1", c.UserID())
	assert.Empty(t, c.ParentTaskID())
	assert.NotNil(t, c.SessionStore())
	assert.NotNil(t, c.TaskStore())
}

func TestForkSubAgentCall(t *testing.T) {
	parent := rootContext()
	child := parent.Fork(ForkOptions{Kind: ForkSubAgentCall, AgentID: "worker"})

	assert.Equal(t, "worker", child.AgentID())
	assert.Equal(t, parent.ThreadID(), child.ThreadID(), "thread_id is stable across forks")
	assert.NotEqual(t, parent.RunID(), child.RunID(), "forks get a fresh run_id")
	assert.NotEqual(t, parent.TaskID(), child.TaskID(), "forks get a fresh task_id")
	assert.Equal(t, parent.TaskID(), child.ParentTaskID())
	assert.Empty(t, child.FromAgent())
}

func TestForkHandoverTagsFromAgent(t *testing.T) {
	parent := rootContext()
	child := parent.Fork(ForkOptions{Kind: ForkHandover, AgentID: "expert", FromAgent: "router"})

	assert.Equal(t, "expert", child.AgentID())
	assert.Equal(t, "router", child.FromAgent())
	assert.Equal(t, parent.ThreadID(), child.ThreadID())
	assert.Equal(t, parent.TaskID(), child.ParentTaskID())
}

func TestForkSharesStores(t *testing.T) {
	parent := rootContext()
	child := parent.Fork(ForkOptions{Kind: ForkSubAgentCall, AgentID: "worker"})

	require.NoError(t, parent.SessionStore().Set(context.Background(), "thread:thread-1", "fact", "v"))
	got, ok, err := child.SessionStore().Get(context.Background(), "thread:thread-1", "fact")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", got)
}

func TestSetTaskIDOverridesPlaceholder(t *testing.T) {
	parent := rootContext()
	child := parent.Fork(ForkOptions{Kind: ForkHandover, AgentID: "expert"})
	child.SetTaskID("persisted-task")
	assert.Equal(t, "persisted-task", child.TaskID())
	assert.Equal(t, "persisted-task", child.Envelope().TaskID)
}

func TestWithContextReplacesCancellationOnly(t *testing.T) {
	parent := rootContext()
	ctx, cancel := context.WithCancel(context.Background())
	scoped := parent.WithContext(ctx)

	cancel()
	assert.Error(t, scoped.Err())
	assert.NoError(t, parent.Err(), "the original context is untouched")
	assert.Equal(t, parent.TaskID(), scoped.TaskID())
}

func TestEnvVars(t *testing.T) {
	c := rootContext()
	_, ok := c.EnvVar("DISTRI_HOME")
	assert.False(t, ok)

	c.SetEnvVars(map[string]string{"DISTRI_HOME": "/tmp/state"})
	v, ok := c.EnvVar("DISTRI_HOME")
	require.True(t, ok)
	assert.Equal(t, "/tmp/state", v)
}
