// Package event provides the in-process event bus that decouples the bot's
// services.
//
// # Events
//
// An Event carries a Topic, a payload and tracing identity. Use New for a
// root event and NewFromParent for an event caused by another:
//
//	evt := event.New(game.TopicChatAdded, "memberships", game.AddChatPayload{ChatID: id})
//	// evt.CorrelationID() == evt.ID()
//
//	next := event.NewFromParent(evt, game.TopicPollSend, "chats", payload)
//	// next.CorrelationID() == evt.ID(), next.CausationID() == evt.ID()
//
// # Typed payloads
//
// Payloads implement Payload. TypedHandler decodes the event payload into
// the handler's declared type before the handler runs, accepting the type
// itself, a pointer to it, a map or raw JSON. A payload that cannot be
// converted or fails Validate yields a *PayloadError, which matches
// ErrPayloadShape.
//
//	bus.Subscribe(game.TopicChatAdded, event.TypedHandler(
//	    func(ctx context.Context, p game.AddChatPayload, meta event.Metadata) error {
//	        return chats.AddChat(ctx, p)
//	    }))
//
// A Registry checks payloads at publish time, so no handler sees a malformed
// event:
//
//	reg := event.NewRegistry()
//	event.RegisterSchema[game.AddChatPayload](reg, game.TopicChatAdded, "bot joined a chat")
//
// # Dispatch
//
// LocalBus runs every handler of a topic in registration order, each
// exactly once per publish. A failing or panicking handler never prevents
// its siblings from running. When a topic has one handler its error is
// returned to the publisher unchanged; failures on topics with several
// handlers are logged, reported to OnError and sent to the dead-letter
// queue, and Publish returns nil. Dispatch returns the full Report.
//
// # Resources
//
// Process-wide singletons are injected through Resources. Handlers read
// them from their context:
//
//	var MessengerKey = event.NewKey[Messenger]("messenger")
//	event.Provide(bus.Resources(), MessengerKey, client)
//
//	m, ok := event.Resource(ctx, MessengerKey)
//
// Handlers also see the unit of work of the publishing operation, because
// the publisher's context is passed through unchanged.
package event
