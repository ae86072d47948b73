package domain

import (
	"strings"
	"time"
)

// UserID is the stable identity of an account, issued outside the relay.
type UserID string

// Valid reports whether the id is non-blank.
func (u UserID) Valid() bool {
	return strings.TrimSpace(string(u)) != ""
}

func (u UserID) String() string {
	return string(u)
}

// ReplyRef quotes the message being replied to.
type ReplyRef struct {
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
	SenderID  UserID `json:"sender_id"`
}

// Draft is a send request before persistence has assigned an id and timestamp.
type Draft struct {
	SenderID   UserID
	ReceiverID UserID
	Content    string
	ReplyTo    *ReplyRef
}

// IsGroup reports whether the draft has no receiver.
func (d Draft) IsGroup() bool {
	return d.ReceiverID == ""
}

// Message is a persisted chat message. An empty ReceiverID means a group message.
type Message struct {
	ID         string    `json:"id"`
	SenderID   UserID    `json:"sender_id"`
	ReceiverID UserID    `json:"receiver_id,omitempty"`
	Content    string    `json:"content"`
	ReplyTo    *ReplyRef `json:"reply_to,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// IsGroup reports whether the message is broadcast to everyone online.
func (m Message) IsGroup() bool {
	return m.ReceiverID == ""
}

// Binding pairs a user with the handle it is currently bound to.
type Binding struct {
	UserID UserID
	Handle Handle
}

// PresenceSnapshot is the online set at one registry version. Bindings are
// sorted by user id.
type PresenceSnapshot struct {
	Version  uint64
	Bindings []Binding
}

// UserIDs returns the online set in snapshot order.
func (s PresenceSnapshot) UserIDs() []UserID {
	ids := make([]UserID, len(s.Bindings))
	for i, b := range s.Bindings {
		ids[i] = b.UserID
	}
	return ids
}
