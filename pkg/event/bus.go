package event

import (
	"context"
	"log/slog"
)

// Sink receives a stream of AgentEvents for one run. Send blocks when the
// sink is backpressured; the producer awaits.
type Sink interface {
	Send(ctx context.Context, ev *AgentEvent) error
}

// ChanSink adapts a bounded channel to Sink. The channel is owned by the
// caller of NewChanSink; Send blocks on a full channel until the consumer
// drains it or ctx is cancelled, which is the engine's sole backpressure
// mechanism.
type ChanSink struct {
	ch chan<- *AgentEvent
}

// NewChanSink wraps ch as a Sink.
func NewChanSink(ch chan<- *AgentEvent) *ChanSink {
	return &ChanSink{ch: ch}
}

func (s *ChanSink) Send(ctx context.Context, ev *AgentEvent) error {
	select {
	case s.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Writer persists events to durable storage as they're emitted. The
// write-through is best-effort: if the store errors, the engine logs and
// continues.
type Writer interface {
	WriteEvent(ctx context.Context, ev *AgentEvent) error
}

// Bus fans one run's events out to an optional Sink and an optional Writer.
// A nil Sink means "drop silently but still write through".
type Bus struct {
	sink   Sink
	writer Writer
	log    *slog.Logger
}

// NewBus creates a Bus. sink and writer may independently be nil.
func NewBus(sink Sink, writer Writer, log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{sink: sink, writer: writer, log: log}
}

// Emit sends ev to the sink (if attached) and write-through storage
// (best-effort). Emit never returns a store error to the caller — a
// TaskStore failure is logged, not propagated — but it does propagate sink
// cancellation, since that reflects the run itself being torn down.
func (b *Bus) Emit(ctx context.Context, ev *AgentEvent) error {
	if b.writer != nil {
		if err := b.writer.WriteEvent(ctx, ev); err != nil {
			b.log.Warn("task store write-through failed", "kind", ev.Kind, "run_id", ev.RunID, "err", err)
		}
	}

	if b.sink != nil {
		return b.sink.Send(ctx, ev)
	}
	return nil
}
