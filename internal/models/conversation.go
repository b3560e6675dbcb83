package models

import (
	"time"
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderClient Sender = "client"
	SenderSystem Sender = "system"
)

// MaxConversationIDLength bounds the client supplied conversation token.
const MaxConversationIDLength = 50

// DisplayTimeLayout is the timestamp format shown to chat and admin clients.
const DisplayTimeLayout = "Monday Jan 02, 2006 03:04 PM"

// Conversation is one person contacting customer support, identified by an
// opaque token the client generates.
type Conversation struct {
	ID             int64     `json:"-"`
	ConversationID string    `json:"id"`
	CreatedAt      time.Time `json:"creation_date"`
}

// Message is a single line of a conversation, stored append-only.
type Message struct {
	ID             string    `json:"id"` // ULID
	ConversationID string    `json:"conversation_id"`
	Body           string    `json:"message"`
	Sender         Sender    `json:"sender"`
	Timestamp      time.Time `json:"timestamp"`
}

// IsClient reports whether the customer wrote the message.
func (m *Message) IsClient() bool {
	return m.Sender == SenderClient
}

// ToMap returns the shape the chat client renders.
func (m *Message) ToMap() map[string]any {
	return map[string]any{
		"id":              m.ID,
		"timestamp":       m.Timestamp.Format(DisplayTimeLayout),
		"sender":          string(m.Sender),
		"is_client":       m.IsClient(),
		"conversation_id": m.ConversationID,
		"message":         m.Body,
	}
}

// MessageMaps converts messages for transport, skipping nil entries.
func MessageMaps(messages []*Message) []map[string]any {
	out := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		if m == nil {
			continue
		}
		out = append(out, m.ToMap())
	}
	return out
}

// ConversationView is a conversation together with its messages.
type ConversationView struct {
	ID           string           `json:"id"`
	Messages     []map[string]any `json:"messages"`
	CreationDate string           `json:"creation_date"`
}

// NewConversationView renders a conversation for admin listings.
func NewConversationView(c *Conversation, messages []*Message) ConversationView {
	return ConversationView{
		ID:           c.ConversationID,
		Messages:     MessageMaps(messages),
		CreationDate: c.CreatedAt.Format(DisplayTimeLayout),
	}
}
