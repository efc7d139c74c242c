package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/vmihailenco/msgpack/v5"

	dverrors "github.com/randalmurphal/deusvult/pkg/deusvult/errors"
	"github.com/randalmurphal/deusvult/pkg/deusvult/observability"
)

// flushTimeout bounds the server round trip when ctx has no deadline.
const flushTimeout = 5 * time.Second

// NATSBackend publishes msgpack-encoded records to
// "<prefix>.<app_env>.<stage>".
type NATSBackend struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSBackend connects to url. An empty prefix defaults to
// "operation.traces".
func NewNATSBackend(url, prefix string, opts ...nats.Option) (*NATSBackend, error) {
	if url == "" {
		return nil, errors.New("nats url is required")
	}
	if prefix == "" {
		prefix = "operation.traces"
	}

	defaults := []nats.Option{
		nats.Name("deusvult-traces"),
		nats.MaxReconnects(-1),
	}
	conn, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATSBackend{conn: conn, prefix: prefix}, nil
}

// Subject returns the subject a record is published to.
func (n *NATSBackend) Subject(rec observability.TraceRecord) string {
	return n.prefix + "." + subjectToken(rec.AppEnv) + "." + subjectToken(rec.Stage)
}

// subjectToken makes s usable as a single subject token.
func subjectToken(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}

// Write implements Backend. It returns once the server acknowledged the
// batch with a flush. Connection failures are *errors.UnavailableError and
// therefore retried by BatchWriter.
func (n *NATSBackend) Write(ctx context.Context, records []observability.TraceRecord) error {
	for _, rec := range records {
		data, err := msgpack.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("encode span %s: %w", rec.SpanID, err)
		}
		if err := n.conn.Publish(n.Subject(rec), data); err != nil {
			return &dverrors.UnavailableError{Backend: "nats", Err: fmt.Errorf("publish span %s: %w", rec.SpanID, err)}
		}
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flushTimeout)
		defer cancel()
	}
	if err := n.conn.FlushWithContext(ctx); err != nil {
		return &dverrors.UnavailableError{Backend: "nats", Err: err}
	}
	return nil
}

// Close implements Backend.
func (n *NATSBackend) Close() error {
	n.conn.Close()
	return nil
}
