package event

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	mu     sync.Mutex
	events []*AgentEvent
	err    error
}

func (w *recordingWriter) WriteEvent(_ context.Context, ev *AgentEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.events = append(w.events, ev)
	return nil
}

func testEnv() Envelope {
	return Envelope{ThreadID: "th-1", RunID: "run-1", TaskID: "task-1", AgentID: "agent-1"}
}

func TestNewStampsEnvelope(t *testing.T) {
	ev := New(KindStepStarted, testEnv())
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.Timestamp.IsZero())
	assert.Equal(t, "th-1", ev.ThreadID)
	assert.Equal(t, "run-1", ev.RunID)
	assert.Equal(t, "task-1", ev.TaskID)
	assert.Equal(t, "agent-1", ev.AgentID)
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, New(KindRunFinished, testEnv()).IsTerminal())
	assert.True(t, New(KindRunError, testEnv()).IsTerminal())
	assert.False(t, New(KindStepCompleted, testEnv()).IsTerminal())
}

func TestBusWritesThroughAndSends(t *testing.T) {
	ch := make(chan *AgentEvent, 4)
	writer := &recordingWriter{}
	bus := NewBus(NewChanSink(ch), writer, nil)

	ev := New(KindRunStarted, testEnv())
	require.NoError(t, bus.Emit(context.Background(), ev))

	assert.Len(t, writer.events, 1)
	select {
	case got := <-ch:
		assert.Equal(t, ev.ID, got.ID)
	default:
		t.Fatal("event did not reach the sink")
	}
}

func TestBusStoreFailureIsBestEffort(t *testing.T) {
	ch := make(chan *AgentEvent, 1)
	writer := &recordingWriter{err: errors.New("disk full")}
	bus := NewBus(NewChanSink(ch), writer, nil)

	// A failing writer must not block the sink path.
	require.NoError(t, bus.Emit(context.Background(), New(KindStepStarted, testEnv())))
	assert.Len(t, ch, 1)
}

func TestBusNilSinkStillWrites(t *testing.T) {
	writer := &recordingWriter{}
	bus := NewBus(nil, writer, nil)

	require.NoError(t, bus.Emit(context.Background(), New(KindStepStarted, testEnv())))
	assert.Len(t, writer.events, 1)
}

func TestChanSinkBackpressure(t *testing.T) {
	ch := make(chan *AgentEvent) // unbuffered: Send blocks until drained
	sink := NewChanSink(ch)

	sent := make(chan error, 1)
	go func() {
		sent <- sink.Send(context.Background(), New(KindRunStarted, testEnv()))
	}()

	select {
	case err := <-sent:
		t.Fatalf("Send returned before consumer drained: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	<-ch
	require.NoError(t, <-sent)
}

func TestChanSinkCancelledContext(t *testing.T) {
	ch := make(chan *AgentEvent)
	sink := NewChanSink(ch)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sink.Send(ctx, New(KindRunStarted, testEnv()))
	assert.ErrorIs(t, err, context.Canceled)
}
