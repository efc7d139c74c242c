package game

import (
	"context"
	"errors"
	"log/slog"

	"github.com/randalmurphal/deusvult/pkg/deusvult/event"
	"github.com/randalmurphal/deusvult/pkg/deusvult/observability"
	"github.com/randalmurphal/deusvult/pkg/deusvult/uow"
)

// ErrNoMessenger is returned when no Messenger was provided to the bus.
var ErrNoMessenger = errors.New("no messenger resource")

// PollsService handles poll.send with two handlers: "polls.record" stores the
// request and "polls.send" delivers it. The record survives a failed send.
//
// Polls are stored only when the payload asks for it and a unit of work is
// active; otherwise they are sent without being recorded.
type PollsService struct {
	store    *Store
	logger   *slog.Logger
	sendPoll func(context.Context, PollRequest) (SentPoll, error)
}

// NewPollsService creates a PollsService.
func NewPollsService(store *Store, logger *slog.Logger) *PollsService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &PollsService{store: store, logger: logger}
	s.sendPoll = observability.Func1("polls.SendPoll", "request", s.send)
	return s
}

// Register subscribes the service to its topics.
func (s *PollsService) Register(bus event.Bus) error {
	if err := bus.Subscribe(TopicPollSend, event.TypedHandler(s.onRecord), event.WithName("polls.record")); err != nil {
		return err
	}
	return bus.Subscribe(TopicPollSend, event.TypedHandler(s.onSend), event.WithName("polls.send"))
}

// SendPoll sends req through the Messenger resource of ctx.
func (s *PollsService) SendPoll(ctx context.Context, req PollRequest) (SentPoll, error) {
	return s.sendPoll(ctx, req)
}

func (s *PollsService) send(ctx context.Context, req PollRequest) (SentPoll, error) {
	messenger, ok := event.Resource(ctx, MessengerKey)
	if !ok || messenger == nil {
		return SentPoll{}, ErrNoMessenger
	}
	return messenger.SendPoll(ctx, req)
}

func (s *PollsService) persist(ctx context.Context, p SendPollPayload) bool {
	if !p.Save {
		return false
	}
	if uow.Current(ctx) == nil {
		s.logger.DebugContext(ctx, "no unit of work, poll not recorded", slog.Int64("chat_id", p.ChatID))
		return false
	}
	return true
}

func (s *PollsService) onRecord(ctx context.Context, p SendPollPayload, meta event.Metadata) error {
	if !s.persist(ctx, p) {
		return nil
	}
	return s.store.AddPoll(ctx, Poll{
		ID:          meta.EventID,
		ChatID:      p.ChatID,
		Question:    p.Question,
		Options:     p.Options,
		IsAnonymous: p.IsAnonymous,
		Explanation: p.Explanation,
	})
}

func (s *PollsService) onSend(ctx context.Context, p SendPollPayload, meta event.Metadata) error {
	sent, err := s.SendPoll(ctx, PollRequest{
		ChatID:      p.ChatID,
		Question:    p.Question,
		Options:     p.Options,
		IsAnonymous: p.IsAnonymous,
		Explanation: p.Explanation,
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "poll sent",
		slog.Int64("chat_id", p.ChatID),
		slog.Int64("message_id", sent.MessageID),
	)

	if !s.persist(ctx, p) {
		return nil
	}
	return s.store.MarkPollSent(ctx, meta.EventID, sent.MessageID)
}
