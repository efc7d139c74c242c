package game

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/randalmurphal/deusvult/pkg/deusvult/event"
)

// Greeting sent when the bot joins a chat.
const (
	JoinTheCrusadeMessage = "Deus vult! This chat has been called to the crusade. Press the button to begin."
	LaunchGameText        = "Launch the game"
	LaunchGameCallback    = "launch_game"
)

// Button is an inline keyboard button attached to a message.
type Button struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// PollRequest describes a poll to send.
type PollRequest struct {
	ChatID      int64    `json:"chat_id"`
	Question    string   `json:"question"`
	Options     []string `json:"options"`
	IsAnonymous bool     `json:"is_anonymous"`
	Explanation string   `json:"explanation,omitempty"`
}

// SentPoll is the platform's answer to a sent poll.
type SentPoll struct {
	MessageID int64  `json:"message_id"`
	PollID    string `json:"poll_id"`
}

// Messenger is the messaging platform client.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string, buttons ...Button) (int64, error)
	SendPoll(ctx context.Context, req PollRequest) (SentPoll, error)
}

// MessengerKey injects the Messenger into event handlers.
var MessengerKey = event.NewKey[Messenger]("messenger")

// LogMessenger is a Messenger that only logs what it would send. It backs
// dry runs of the CLI.
type LogMessenger struct {
	logger *slog.Logger
	nextID atomic.Int64
}

// NewLogMessenger creates a LogMessenger.
func NewLogMessenger(logger *slog.Logger) *LogMessenger {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMessenger{logger: logger}
}

// SendMessage implements Messenger.
func (m *LogMessenger) SendMessage(ctx context.Context, chatID int64, text string, buttons ...Button) (int64, error) {
	id := m.nextID.Add(1)
	m.logger.InfoContext(ctx, "send message",
		slog.Int64("chat_id", chatID),
		slog.Int64("message_id", id),
		slog.String("text", text),
		slog.Int("buttons", len(buttons)),
	)
	return id, nil
}

// SendPoll implements Messenger.
func (m *LogMessenger) SendPoll(ctx context.Context, req PollRequest) (SentPoll, error) {
	sent := SentPoll{MessageID: m.nextID.Add(1), PollID: uuid.NewString()}
	m.logger.InfoContext(ctx, "send poll",
		slog.Int64("chat_id", req.ChatID),
		slog.Int64("message_id", sent.MessageID),
		slog.String("question", req.Question),
		slog.Any("options", req.Options),
	)
	return sent, nil
}
