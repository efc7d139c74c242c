/*
Package deusvult is the core of the crusade game bot: an in-process event
bus, an ambient unit of work and a tracing layer whose spans end up as
flat trace records in a database, object store or message stream.

# Overview

Inbound updates from the messaging platform are handled one at a time.
Each update becomes one inbound operation with its own unit of work, and
everything the operation triggers (services, event handlers, nested
helpers) shares that unit through context.Context.

The packages are:

  - event: topics, typed payloads, the LocalBus and its resources
  - uow: the unit of work and its database openers
  - observability: logging helpers, the tracing wrapper, span export
  - observability/sink: trace record backends and the batch writer
  - game: the bot's services, store and update dispatcher
  - config: layered configuration and typed settings
  - errors: error categories and retry

# Events

Handlers subscribe to a topic and receive every event published on it, in
registration order:

	bus := event.NewBus(event.BusConfig{Registry: reg})
	bus.Subscribe(game.TopicChatAdded, event.TypedHandler(onChatAdded),
	    event.WithName("chats.add"))

	err := bus.Publish(ctx, event.New(game.TopicChatAdded, "memberships",
	    game.AddChatPayload{ChatID: 42}))

A failing handler never stops its siblings. When a topic has a single
handler its error reaches the publisher; with several handlers failures are
logged and sent to the dead-letter queue instead.

# Unit of Work

uow.Run attaches a unit of work to ctx, commits it when fn succeeds and
rolls it back otherwise. The transaction opens lazily on first use:

	err := uow.Run(ctx, store.Opener(), func(ctx context.Context) error {
	    tx, err := uow.SQLTx(ctx)
	    ...
	})

A nested Run reuses the outer unit, so code that needs a transaction can
call Run without knowing whether it is already inside one.

# Tracing

observability.Trace and its Func helpers wrap a call in a span carrying
explicit arguments as attributes:

	sendPoll := observability.Func1("polls.SendPoll", "request", send)

observability.Setup installs a tracer provider whose exporter converts each
finished span into an observability.TraceRecord and hands it to an
Inserter, typically a sink.BatchWriter.
*/
package deusvult
