package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ConsoleProcessor streams one line per span start and end to a writer,
// for local debugging:
//
//	[4bf92f3577b34da6a3ce929d0e0e4736] open `AddChat`
//	[4bf92f3577b34da6a3ce929d0e0e4736] close `AddChat` duration=152000
//
// The close line is written only for sampled spans. Duration is in
// nanoseconds. Write errors are ignored.
type ConsoleProcessor struct {
	mu  sync.Mutex
	out io.Writer
}

var _ sdktrace.SpanProcessor = (*ConsoleProcessor)(nil)

// NewConsoleProcessor creates a processor writing to out, or stdout when nil.
func NewConsoleProcessor(out io.Writer) *ConsoleProcessor {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleProcessor{out: out}
}

// OnStart writes the open line.
func (p *ConsoleProcessor) OnStart(_ context.Context, s sdktrace.ReadWriteSpan) {
	p.write("[%s] open `%s`\n", s.SpanContext().TraceID(), s.Name())
}

// OnEnd writes the close line for sampled spans.
func (p *ConsoleProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	if !s.SpanContext().IsSampled() {
		return
	}
	p.write("[%s] close `%s` duration=%d\n",
		s.SpanContext().TraceID(), s.Name(), s.EndTime().Sub(s.StartTime()).Nanoseconds())
}

// Shutdown flushes the writer.
func (p *ConsoleProcessor) Shutdown(ctx context.Context) error {
	return p.ForceFlush(ctx)
}

// ForceFlush flushes the writer when it supports Flush or Sync.
// It always reports success.
func (p *ConsoleProcessor) ForceFlush(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch w := p.out.(type) {
	case interface{ Flush() error }:
		_ = w.Flush()
	case interface{ Sync() error }:
		_ = w.Sync()
	}
	return nil
}

func (p *ConsoleProcessor) write(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintf(p.out, format, args...)
}
