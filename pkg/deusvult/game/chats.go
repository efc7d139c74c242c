package game

import (
	"context"
	"log/slog"

	"github.com/randalmurphal/deusvult/pkg/deusvult/event"
	"github.com/randalmurphal/deusvult/pkg/deusvult/observability"
)

// ChatsService keeps the chats table in step with chat.added events.
type ChatsService struct {
	store  *Store
	logger *slog.Logger
}

// NewChatsService creates a ChatsService.
func NewChatsService(store *Store, logger *slog.Logger) *ChatsService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatsService{store: store, logger: logger}
}

// Register subscribes the service to its topics.
func (s *ChatsService) Register(bus event.Bus) error {
	return bus.Subscribe(TopicChatAdded, event.TypedHandler(s.onChatAdded), event.WithName("chats.add"))
}

func (s *ChatsService) onChatAdded(ctx context.Context, p AddChatPayload, meta event.Metadata) error {
	return s.AddChat(ctx, Chat{ID: p.ChatID, Title: p.Title, Type: p.Type, Username: p.Username})
}

// AddChat persists chat in the unit of work of ctx.
func (s *ChatsService) AddChat(ctx context.Context, chat Chat) error {
	args := observability.Args{
		observability.Arg("chat_id", chat.ID),
		observability.Arg("title", chat.Title),
	}
	return observability.TraceErr(ctx, "chats.AddChat", args, func(ctx context.Context) error {
		if err := s.store.AddChat(ctx, chat); err != nil {
			return err
		}
		s.logger.InfoContext(ctx, "chat added", slog.Int64("chat_id", chat.ID), slog.String("title", chat.Title))
		return nil
	})
}
