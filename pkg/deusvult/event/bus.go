package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/deusvult/pkg/deusvult/observability"
)

// Bus is an in-process publish/subscribe dispatcher.
type Bus interface {
	// Publish delivers an event to every handler of its topic.
	Publish(ctx context.Context, evt Event) error

	// Subscribe registers a handler for a topic.
	Subscribe(topic Topic, handler Handler, opts ...SubscribeOption) error

	// Close rejects further publishes.
	Close() error
}

// BusConfig configures bus behavior.
type BusConfig struct {
	// Concurrent runs the handlers of one event concurrently instead of
	// sequentially in registration order. Outcomes keep registration order
	// either way.
	// Default: false
	Concurrent bool

	// ConcurrencyLimit bounds concurrent handlers per event.
	// Default: 0 (unlimited)
	ConcurrencyLimit int

	// HandlerTimeout bounds each handler invocation unless the subscription
	// sets its own. Handlers observe it through ctx.
	// Default: 0 (none)
	HandlerTimeout time.Duration

	// Registry validates payloads before dispatch (optional).
	Registry *Registry

	// StrictSchemas rejects events on topics the Registry does not know.
	StrictSchemas bool

	// DLQ receives failures of multi-handler topics (optional).
	DLQ DeadLetterQueue

	// Resources are injected into every handler context. Default: empty.
	Resources *Resources

	Logger  *slog.Logger
	Metrics *observability.Metrics // optional

	// OnError is called for every failed handler invocation.
	OnError func(evt Event, handler string, err error)
}

// DefaultBusConfig provides reasonable defaults.
var DefaultBusConfig = BusConfig{}

// LocalBus is the in-memory Bus implementation.
//
// Handlers of a topic run in registration order. A failing or panicking
// handler never prevents its siblings from running: failures are collected
// into the Report returned by Dispatch. Publish surfaces a handler error
// only when the topic has exactly one handler; failures on multi-handler
// topics are logged, passed to OnError and sent to the DLQ instead.
type LocalBus struct {
	config    BusConfig
	resources *Resources
	logger    *slog.Logger
	metrics   *observability.Metrics

	mu         sync.RWMutex
	handlers   map[Topic][]*subscription
	middleware []MiddlewareFunc

	closed atomic.Bool
}

var _ Bus = (*LocalBus)(nil)

// NewBus creates a new local event bus.
func NewBus(config BusConfig) *LocalBus {
	b := &LocalBus{
		config:    config,
		resources: config.Resources,
		logger:    config.Logger,
		metrics:   config.Metrics,
		handlers:  make(map[Topic][]*subscription),
	}
	if b.resources == nil {
		b.resources = NewResources()
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

// subscription is a registered handler.
type subscription struct {
	name    string
	handler Handler
	timeout time.Duration
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*subscription)

// WithName names the handler in logs, spans, metrics and the DLQ.
func WithName(name string) SubscribeOption {
	return func(s *subscription) {
		s.name = name
	}
}

// WithTimeout bounds the handler's invocation.
func WithTimeout(d time.Duration) SubscribeOption {
	return func(s *subscription) {
		s.timeout = d
	}
}

// Resources returns the registry injected into handler contexts.
func (b *LocalBus) Resources() *Resources {
	return b.resources
}

// Use adds middleware applied to subsequently subscribed handlers.
func (b *LocalBus) Use(middleware MiddlewareFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middleware = append(b.middleware, middleware)
}

// Subscribe registers handler for topic. Registration happens at startup;
// there is no unsubscribe.
func (b *LocalBus) Subscribe(topic Topic, handler Handler, opts ...SubscribeOption) error {
	if handler == nil {
		return ErrNilHandler
	}
	if b.closed.Load() {
		return ErrBusClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{timeout: b.config.HandlerTimeout}
	for _, opt := range opts {
		opt(sub)
	}
	if sub.name == "" {
		sub.name = handlerName(handler, topic, len(b.handlers[topic]))
	}
	sub.handler = ChainMiddleware(handler, b.middleware...)

	b.handlers[topic] = append(b.handlers[topic], sub)
	return nil
}

// Handlers returns the names of the handlers of a topic in dispatch order.
func (b *LocalBus) Handlers(topic Topic) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, len(b.handlers[topic]))
	for i, sub := range b.handlers[topic] {
		names[i] = sub.name
	}
	return names
}

// Outcome is the result of one handler invocation.
type Outcome struct {
	Handler  string
	Err      error
	Duration time.Duration
}

// Report collects the outcomes of one dispatch in registration order.
type Report struct {
	Event    Event
	Outcomes []Outcome
}

// Failed returns the outcomes with an error.
func (r *Report) Failed() []Outcome {
	var failed []Outcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}
	return failed
}

// Err joins every handler error, or returns nil when all succeeded.
func (r *Report) Err() error {
	var errs []error
	for _, o := range r.Outcomes {
		if o.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.Handler, o.Err))
		}
	}
	return errors.Join(errs...)
}

// Publish validates evt and delivers it to every handler of its topic.
//
// A malformed payload returns a *PayloadError and no handler runs. For a
// topic with exactly one handler the handler's error is returned unchanged;
// otherwise Publish returns nil once every handler has run.
func (b *LocalBus) Publish(ctx context.Context, evt Event) error {
	report, err := b.Dispatch(ctx, evt)
	if err != nil {
		return err
	}
	if len(report.Outcomes) == 1 {
		return report.Outcomes[0].Err
	}
	return nil
}

// Dispatch is Publish returning every handler's outcome. Its error is
// non-nil only when the event was not dispatched at all.
func (b *LocalBus) Dispatch(ctx context.Context, evt Event) (*Report, error) {
	if evt == nil {
		return nil, errors.New("event cannot be nil")
	}
	if b.closed.Load() {
		return nil, &EventError{Event: evt, Message: "publish rejected", Err: ErrBusClosed}
	}

	if err := b.validate(evt); err != nil {
		observability.LogPayloadError(b.logger, evt.Topic().String(), evt.ID(), err)
		return nil, err
	}

	b.mu.RLock()
	subs := append([]*subscription(nil), b.handlers[evt.Topic()]...)
	b.mu.RUnlock()

	topic := evt.Topic().String()
	ctx, span := observability.StartPublishSpan(ctx, topic, evt.ID())
	ctx = WithResources(ctx, b.resources)

	observability.LogPublish(b.logger, topic, evt.ID(), len(subs))
	b.metrics.Published(ctx, topic, len(subs))

	report := &Report{Event: evt, Outcomes: make([]Outcome, len(subs))}
	if b.config.Concurrent && len(subs) > 1 {
		var g errgroup.Group
		if b.config.ConcurrencyLimit > 0 {
			g.SetLimit(b.config.ConcurrencyLimit)
		}
		for i, sub := range subs {
			g.Go(func() error {
				report.Outcomes[i] = b.invoke(ctx, evt, sub)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, sub := range subs {
			report.Outcomes[i] = b.invoke(ctx, evt, sub)
		}
	}

	for _, o := range report.Failed() {
		b.handleFailure(ctx, evt, o, len(subs) > 1)
	}

	observability.EndSpan(span, report.Err())
	return report, nil
}

func (b *LocalBus) validate(evt Event) error {
	if p, ok := evt.Data().(Payload); ok {
		if err := p.Validate(); err != nil {
			return &PayloadError{
				Topic:    evt.Topic(),
				EventID:  evt.ID(),
				Expected: fmt.Sprintf("%T", p),
				Err:      err,
			}
		}
	}

	if b.config.Registry == nil {
		return nil
	}
	err := b.config.Registry.Validate(evt)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnknownTopic) && !b.config.StrictSchemas {
		return nil
	}
	var pe *PayloadError
	if errors.As(err, &pe) {
		return pe
	}
	return &PayloadError{Topic: evt.Topic(), EventID: evt.ID(), Err: err}
}

// invoke runs one handler with recovery, timeout, tracing and metrics.
func (b *LocalBus) invoke(ctx context.Context, evt Event, sub *subscription) Outcome {
	topic := evt.Topic().String()
	start := time.Now()

	ctx, span := observability.StartHandlerSpan(ctx, topic, sub.name)
	if sub.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, sub.timeout)
		defer cancel()
	}

	err := safeHandle(ctx, sub.handler, evt, sub.name)
	duration := time.Since(start)

	observability.EndSpan(span, err)
	b.metrics.HandlerDone(ctx, topic, sub.name, duration, err)
	if err == nil {
		observability.LogHandlerComplete(b.logger, topic, sub.name, float64(duration.Microseconds())/1000)
	}

	return Outcome{Handler: sub.name, Err: err, Duration: duration}
}

func safeHandle(ctx context.Context, h Handler, evt Event, name string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HandlerError{
				Topic:   evt.Topic(),
				EventID: evt.ID(),
				Handler: name,
				Panic:   r,
				Stack:   debug.Stack(),
			}
		}
	}()
	return h.Handle(ctx, evt)
}

func (b *LocalBus) handleFailure(ctx context.Context, evt Event, o Outcome, multi bool) {
	observability.LogHandlerError(b.logger, evt.Topic().String(), o.Handler, o.Err)

	if b.config.OnError != nil {
		b.config.OnError(evt, o.Handler, o.Err)
	}

	// Single-handler failures reach the publisher instead
	if !multi || b.config.DLQ == nil {
		return
	}
	if err := b.config.DLQ.Enqueue(ctx, NewFailedEvent(evt, o.Handler, o.Err)); err != nil {
		b.logger.Error("dead-letter enqueue failed",
			slog.String("topic", evt.Topic().String()),
			slog.String("event_id", evt.ID()),
			slog.String("handler", o.Handler),
			slog.String("error", err.Error()),
		)
	}
}

// Close rejects further publishes and subscriptions. In-flight dispatches
// complete.
func (b *LocalBus) Close() error {
	b.closed.Store(true)
	return nil
}

// namedHandler is implemented by handlers that report their own name.
type namedHandler interface {
	Name() string
}

// handlerName derives a name for an unnamed subscription.
func handlerName(h Handler, topic Topic, index int) string {
	if n, ok := h.(namedHandler); ok && n.Name() != "" {
		return n.Name()
	}
	if _, ok := h.(HandlerFunc); ok {
		return fmt.Sprintf("%s#%d", topic, index)
	}
	return fmt.Sprintf("%T", h)
}
