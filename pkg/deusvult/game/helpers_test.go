package game_test

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/deusvult/pkg/deusvult/event"
	"github.com/randalmurphal/deusvult/pkg/deusvult/game"
)

// fakeMessenger records what would be sent. Errors, when set, are returned
// instead of sending.
type fakeMessenger struct {
	mu         sync.Mutex
	messages   []sentMessage
	polls      []game.PollRequest
	messageErr error
	pollErr    error
	nextID     int64
}

type sentMessage struct {
	ChatID  int64
	Text    string
	Buttons []game.Button
}

func (m *fakeMessenger) SendMessage(_ context.Context, chatID int64, text string, buttons ...game.Button) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.messageErr != nil {
		return 0, m.messageErr
	}
	m.nextID++
	m.messages = append(m.messages, sentMessage{ChatID: chatID, Text: text, Buttons: buttons})
	return m.nextID, nil
}

func (m *fakeMessenger) SendPoll(_ context.Context, req game.PollRequest) (game.SentPoll, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pollErr != nil {
		return game.SentPoll{}, m.pollErr
	}
	m.nextID++
	m.polls = append(m.polls, req)
	return game.SentPoll{MessageID: m.nextID, PollID: "poll"}, nil
}

func (m *fakeMessenger) sentMessages() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMessage(nil), m.messages...)
}

func (m *fakeMessenger) sentPolls() []game.PollRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]game.PollRequest(nil), m.polls...)
}

func newStore(t *testing.T) *game.Store {
	t.Helper()
	store, err := game.OpenStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// fixture is a wired game over an in-memory store with JSON logs captured.
type fixture struct {
	bus        *event.LocalBus
	store      *game.Store
	messenger  *fakeMessenger
	dispatcher *game.Dispatcher
	logs       *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	reg := event.NewRegistry()
	require.NoError(t, game.RegisterSchemas(reg))

	bus := event.NewBus(event.BusConfig{Registry: reg, Logger: logger})
	store := newStore(t)
	messenger := &fakeMessenger{}

	dispatcher, err := game.Wire(game.Config{Bus: bus, Store: store, Messenger: messenger, Logger: logger})
	require.NoError(t, err)

	return &fixture{bus: bus, store: store, messenger: messenger, dispatcher: dispatcher, logs: logs}
}

// publishCtx returns a context carrying the bus resources, as handlers see it.
func (f *fixture) publishCtx() context.Context {
	return event.WithResources(context.Background(), f.bus.Resources())
}
