package commander

import "context"

// Commander is the chat transport abstraction used by the relay.
type Commander interface {
	GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error)
	SendMessage(ctx context.Context, chatID int64, text string, opts *SendOptions) error
}

// Update represents an incoming update.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// Message represents a source message.
type Message struct {
	MessageID int64   `json:"message_id"`
	From      *User   `json:"from,omitempty"`
	Chat      Chat    `json:"chat"`
	Text      *string `json:"text,omitempty"`
	Date      int64   `json:"date"`
}

// SenderID returns the id histories are keyed by: the sending user, or the
// chat when the platform omits the sender.
func (m *Message) SenderID() int64 {
	if m.From != nil && m.From.ID != 0 {
		return m.From.ID
	}
	return m.Chat.ID
}

// User identifies the sender of a message.
type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

// Chat identifies a conversation.
type Chat struct {
	ID int64 `json:"id"`
}

// SendOptions carries optional presentation for an outgoing message.
type SendOptions struct {
	Keyboard *ReplyKeyboard
}

// ReplyKeyboard is a persistent keyboard whose buttons send their label as
// plain text.
type ReplyKeyboard struct {
	Rows   [][]string
	Resize bool
}
