package game

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/randalmurphal/deusvult/pkg/deusvult/event"
	"github.com/randalmurphal/deusvult/pkg/deusvult/observability"
	"github.com/randalmurphal/deusvult/pkg/deusvult/uow"
)

// User is a platform account.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
	IsSelf   bool   `json:"is_self,omitempty"`
}

// ChatMember is a user's membership in a chat.
type ChatMember struct {
	User   User   `json:"user"`
	Status string `json:"status"`
}

// ChatMemberUpdate reports a change of membership in a chat.
type ChatMemberUpdate struct {
	Chat      Chat        `json:"chat"`
	OldMember *ChatMember `json:"old_chat_member,omitempty"`
	NewMember *ChatMember `json:"new_chat_member,omitempty"`
}

// BotJoined reports whether the update is the bot itself joining the chat.
func (u ChatMemberUpdate) BotJoined() bool {
	return u.NewMember != nil && u.NewMember.User.IsSelf
}

// MembershipService reacts to the bot's own membership changes.
type MembershipService struct {
	bus    event.Bus
	opener uow.Opener
	logger *slog.Logger
}

// NewMembershipService creates a MembershipService publishing on bus. Each
// trigger runs in a unit of work opened with opener.
func NewMembershipService(bus event.Bus, opener uow.Opener, logger *slog.Logger) *MembershipService {
	if logger == nil {
		logger = slog.Default()
	}
	return &MembershipService{bus: bus, opener: opener, logger: logger}
}

// OnMemberUpdated greets a chat the bot has joined and publishes chat.added.
// Updates about other members are ignored. The greeting and the chat.added
// handlers share one unit of work: a failure rolls all of it back. The
// Messenger is looked up in the resources of ctx (see event.WithResources).
func (s *MembershipService) OnMemberUpdated(ctx context.Context, upd ChatMemberUpdate) error {
	if !upd.BotJoined() {
		return nil
	}

	args := observability.Args{observability.Arg("chat_id", upd.Chat.ID)}
	return observability.TraceErr(ctx, "memberships.OnMemberUpdated", args, func(ctx context.Context) error {
		return uow.Run(ctx, s.opener, func(ctx context.Context) error {
			if err := s.greet(ctx, upd.Chat.ID); err != nil {
				return err
			}

			evt := event.New(TopicChatAdded, "memberships", AddChatPayload{
				ChatID:   upd.Chat.ID,
				Title:    upd.Chat.Title,
				Type:     upd.Chat.Type,
				Username: upd.Chat.Username,
			})
			if err := s.bus.Publish(ctx, evt); err != nil {
				return fmt.Errorf("publish %s: %w", TopicChatAdded, err)
			}
			return nil
		}, uow.WithLogger(s.logger))
	})
}

func (s *MembershipService) greet(ctx context.Context, chatID int64) error {
	messenger, ok := event.Resource(ctx, MessengerKey)
	if !ok || messenger == nil {
		return ErrNoMessenger
	}
	if _, err := messenger.SendMessage(ctx, chatID, JoinTheCrusadeMessage,
		Button{Text: LaunchGameText, CallbackData: LaunchGameCallback},
	); err != nil {
		return fmt.Errorf("greet chat %d: %w", chatID, err)
	}
	return nil
}
