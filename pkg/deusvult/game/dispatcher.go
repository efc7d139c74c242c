package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/randalmurphal/deusvult/pkg/deusvult/event"
	"github.com/randalmurphal/deusvult/pkg/deusvult/observability"
	"github.com/randalmurphal/deusvult/pkg/deusvult/uow"
)

// ErrUnsupportedUpdate is returned for updates the dispatcher has no route for.
var ErrUnsupportedUpdate = errors.New("unsupported update")

// Update is one inbound message from the platform. Exactly one of the
// optional fields is set.
type Update struct {
	UpdateID   int64             `json:"update_id"`
	ChatMember *ChatMemberUpdate `json:"my_chat_member,omitempty"`
	SendPoll   *SendPollPayload  `json:"send_poll,omitempty"`
}

// Kind names the update's route, "unknown" when none applies.
func (u Update) Kind() string {
	switch {
	case u.ChatMember != nil:
		return "my_chat_member"
	case u.SendPoll != nil:
		return "send_poll"
	default:
		return "unknown"
	}
}

// Config wires the game services.
type Config struct {
	Bus       *event.LocalBus
	Store     *Store
	Messenger Messenger
	Logger    *slog.Logger
}

// Dispatcher routes inbound updates to the game services.
type Dispatcher struct {
	bus         *event.LocalBus
	store       *Store
	memberships *MembershipService
	logger      *slog.Logger
}

// Wire provides the messenger to the bus, subscribes every service and
// returns the dispatcher feeding them.
func Wire(cfg Config) (*Dispatcher, error) {
	if cfg.Bus == nil || cfg.Store == nil {
		return nil, errors.New("game: bus and store are required")
	}
	if cfg.Messenger == nil {
		return nil, ErrNoMessenger
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	event.Provide(cfg.Bus.Resources(), MessengerKey, cfg.Messenger)

	if err := NewChatsService(cfg.Store, logger).Register(cfg.Bus); err != nil {
		return nil, fmt.Errorf("register chats: %w", err)
	}
	if err := NewPollsService(cfg.Store, logger).Register(cfg.Bus); err != nil {
		return nil, fmt.Errorf("register polls: %w", err)
	}

	return &Dispatcher{
		bus:         cfg.Bus,
		store:       cfg.Store,
		memberships: NewMembershipService(cfg.Bus, cfg.Store.Opener(), logger),
		logger:      logger,
	}, nil
}

// HandleUpdate processes one update as one inbound operation: everything it
// triggers shares a single unit of work, committed when the update was
// handled and rolled back when it failed.
func (d *Dispatcher) HandleUpdate(ctx context.Context, upd Update) error {
	ctx = event.WithResources(ctx, d.bus.Resources())
	logger := d.logger.With(slog.Int64("update_id", upd.UpdateID), slog.String("kind", upd.Kind()))

	args := observability.Args{
		observability.Arg("update_id", upd.UpdateID),
		observability.Arg("kind", upd.Kind()),
	}
	err := observability.TraceErr(ctx, "updates.HandleUpdate", args, func(ctx context.Context) error {
		return uow.Run(ctx, d.store.Opener(), func(ctx context.Context) error {
			return d.route(ctx, upd)
		}, uow.WithLogger(logger))
	})
	if err != nil {
		logger.ErrorContext(ctx, "update failed", slog.String("error", err.Error()))
		return fmt.Errorf("update %d: %w", upd.UpdateID, err)
	}
	logger.DebugContext(ctx, "update handled")
	return nil
}

func (d *Dispatcher) route(ctx context.Context, upd Update) error {
	switch {
	case upd.ChatMember != nil:
		return d.memberships.OnMemberUpdated(ctx, *upd.ChatMember)
	case upd.SendPoll != nil:
		return d.bus.Publish(ctx, event.New(TopicPollSend, "updates", *upd.SendPoll))
	default:
		return ErrUnsupportedUpdate
	}
}
