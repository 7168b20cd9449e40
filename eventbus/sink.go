package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Sink is a fan-out observer of bus events, independent of the bus's
// in-process subscription mechanism — sinks are typically wired via
// Bus.On(\"\", sink.Emit) so they observe everything. Grounded on the
// teacher's graph/emit.Emitter interface (Emit/EmitBatch/Flush), kept
// here as the shape every sink below implements.
type Sink interface {
	Emit(ev Event)
	EmitBatch(ctx context.Context, evs []Event) error
	Flush(ctx context.Context) error
}

// LogSink writes events as text or JSON lines to an io.Writer, grounded
// on the teacher's graph/emit/log.go LogEmitter.
type LogSink struct {
	w        io.Writer
	jsonMode bool
	mu       sync.Mutex
}

// NewLogSink creates a LogSink. jsonMode selects structured JSON-lines
// output over the default human-readable text format.
func NewLogSink(w io.Writer, jsonMode bool) *LogSink {
	return &LogSink{w: w, jsonMode: jsonMode}
}

func (l *LogSink) Emit(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.jsonMode {
		l.emitJSON(ev)
		return
	}
	l.emitText(ev)
}

func (l *LogSink) emitText(ev Event) {
	fmt.Fprintf(l.w, "[%s] run=%s node=%s type=%s data=%v\n",
		ev.Ts.Format("2006-01-02T15:04:05.000Z07:00"), ev.RunID, ev.NodeID, ev.Type, ev.Data)
}

func (l *LogSink) emitJSON(ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		fmt.Fprintf(l.w, `{"error":"marshal failed: %s"}`+"\n", err)
		return
	}
	l.w.Write(b)
	l.w.Write([]byte("\n"))
}

func (l *LogSink) EmitBatch(_ context.Context, evs []Event) error {
	for _, ev := range evs {
		l.Emit(ev)
	}
	return nil
}

// Flush is a no-op; wrap w in a bufio.Writer and flush it externally for
// real flush control, matching the teacher's documented LogEmitter
// contract.
func (l *LogSink) Flush(context.Context) error { return nil }

// NullSink discards every event; used in tests and as a safe default
// (grounded on graph/emit/null.go).
type NullSink struct{}

func (NullSink) Emit(Event)                             {}
func (NullSink) EmitBatch(context.Context, []Event) error { return nil }
func (NullSink) Flush(context.Context) error              { return nil }

// BufferedSink batches events in memory and flushes them to an
// underlying Sink once the batch reaches size or Flush is called
// explicitly, grounded on graph/emit/buffered.go.
type BufferedSink struct {
	mu      sync.Mutex
	buf     []Event
	size    int
	wrapped Sink
}

// NewBufferedSink creates a BufferedSink flushing to wrapped every size
// events.
func NewBufferedSink(wrapped Sink, size int) *BufferedSink {
	if size <= 0 {
		size = 100
	}
	return &BufferedSink{wrapped: wrapped, size: size}
}

func (b *BufferedSink) Emit(ev Event) {
	b.mu.Lock()
	b.buf = append(b.buf, ev)
	full := len(b.buf) >= b.size
	var toFlush []Event
	if full {
		toFlush = b.buf
		b.buf = nil
	}
	b.mu.Unlock()

	if toFlush != nil {
		_ = b.wrapped.EmitBatch(context.Background(), toFlush)
	}
}

func (b *BufferedSink) EmitBatch(ctx context.Context, evs []Event) error {
	for _, ev := range evs {
		b.Emit(ev)
	}
	return nil
}

func (b *BufferedSink) Flush(ctx context.Context) error {
	b.mu.Lock()
	toFlush := b.buf
	b.buf = nil
	b.mu.Unlock()
	if len(toFlush) == 0 {
		return b.wrapped.Flush(ctx)
	}
	if err := b.wrapped.EmitBatch(ctx, toFlush); err != nil {
		return err
	}
	return b.wrapped.Flush(ctx)
}
