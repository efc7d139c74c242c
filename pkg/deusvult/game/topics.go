package game

import (
	"errors"

	dverrors "github.com/randalmurphal/deusvult/pkg/deusvult/errors"
	"github.com/randalmurphal/deusvult/pkg/deusvult/event"
)

// Topics published by the game.
const (
	TopicChatAdded event.Topic = "chat.added"
	TopicPollSend  event.Topic = "poll.send"
)

// AddChatPayload announces a chat the bot has joined.
type AddChatPayload struct {
	ChatID   int64  `json:"chat_id"`
	Title    string `json:"title,omitempty"`
	Type     string `json:"type,omitempty"`
	Username string `json:"username,omitempty"`
}

// Validate implements event.Payload.
func (p AddChatPayload) Validate() error {
	if p.ChatID == 0 {
		return dverrors.Required("chat_id")
	}
	return nil
}

// SendPollPayload asks for a poll to be sent to a chat. Save records the
// poll in the store.
type SendPollPayload struct {
	ChatID      int64    `json:"chat_id"`
	Question    string   `json:"question"`
	Options     []string `json:"options"`
	IsAnonymous bool     `json:"is_anonymous,omitempty"`
	Explanation string   `json:"explanation,omitempty"`
	Save        bool     `json:"save,omitempty"`
}

// Validate implements event.Payload.
func (p SendPollPayload) Validate() error {
	var errs []error
	if p.ChatID == 0 {
		errs = append(errs, dverrors.Required("chat_id"))
	}
	if p.Question == "" {
		errs = append(errs, dverrors.Required("question"))
	}
	if len(p.Options) < 2 {
		errs = append(errs, &dverrors.ValidationError{Field: "options", Message: "at least two options required"})
	}
	return errors.Join(errs...)
}

// RegisterSchemas registers the payload schemas of every game topic.
func RegisterSchemas(reg *event.Registry) error {
	if err := event.RegisterSchema[AddChatPayload](reg, TopicChatAdded, "the bot joined a chat"); err != nil {
		return err
	}
	return event.RegisterSchema[SendPollPayload](reg, TopicPollSend, "send a poll to a chat")
}
