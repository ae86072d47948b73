package domain

// Inbound is one of the events a client may send on its connection:
// Identify, SendMessage, Typing or Disconnect.
type Inbound interface {
	inbound()
}

// Identify announces the user behind a connection.
type Identify struct {
	UserID UserID
}

// SendMessage asks the relay to persist and deliver a message.
type SendMessage struct {
	ReceiverID UserID
	Content    string
	ReplyTo    *ReplyRef
}

// TypingKind distinguishes typing from stop_typing.
type TypingKind int

const (
	TypingStarted TypingKind = iota
	TypingStopped
)

// Typing carries a typing or stop_typing signal for one receiver.
type Typing struct {
	ReceiverID UserID
	Kind       TypingKind
}

// Disconnect is raised by the transport when the connection ends.
type Disconnect struct{}

func (Identify) inbound()    {}
func (SendMessage) inbound() {}
func (Typing) inbound()      {}
func (Disconnect) inbound()  {}

// EventKind names an outbound event on the wire.
type EventKind string

const (
	KindPresenceUpdate  EventKind = "presence_update"
	KindMessageReceived EventKind = "message_received"
	KindUserTyping      EventKind = "user_typing"
	KindUserStopTyping  EventKind = "user_stop_typing"
	KindForceLogout     EventKind = "force_logout"
	KindUserRemoved     EventKind = "user_removed"
	KindError           EventKind = "error"
)

// Outbound is an event pushed to a client.
type Outbound interface {
	Kind() EventKind
}

// PresenceUpdate replaces the client's view of who is online.
type PresenceUpdate struct {
	Version uint64
	UserIDs []UserID
}

type MessageReceived struct {
	Message Message
}

// UserTyping tells the receiver that From started typing to them.
type UserTyping struct {
	From UserID
}

type UserStopTyping struct {
	From UserID
}

// ForceLogout tells the client its session was ended by a moderator.
type ForceLogout struct {
	Reason string
}

// UserRemoved announces that an account no longer exists.
type UserRemoved struct {
	UserID UserID
}

// ErrorNotice reports a rejected inbound event to its origin connection.
type ErrorNotice struct {
	Code      string
	Message   string
	RequestID string
}

func (PresenceUpdate) Kind() EventKind  { return KindPresenceUpdate }
func (MessageReceived) Kind() EventKind { return KindMessageReceived }
func (UserTyping) Kind() EventKind      { return KindUserTyping }
func (UserStopTyping) Kind() EventKind  { return KindUserStopTyping }
func (ForceLogout) Kind() EventKind     { return KindForceLogout }
func (UserRemoved) Kind() EventKind     { return KindUserRemoved }
func (ErrorNotice) Kind() EventKind     { return KindError }
