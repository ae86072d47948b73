package protocol

import (
	"fmt"
	"time"

	"github.com/HMasataka/chatrelay/pkg/domain"
	"github.com/HMasataka/chatrelay/pkg/errors"
)

// Inbound frame types.
const (
	TypeIdentify   = "identify"
	TypeSend       = "send"
	TypeTyping     = "typing"
	TypeStopTyping = "stop_typing"
)

// IdentifyPayload is the body of an identify frame.
type IdentifyPayload struct {
	UserID domain.UserID `json:"user_id"`
}

// SendPayload is the body of a send frame. An empty ReceiverID sends to the group.
type SendPayload struct {
	ReceiverID domain.UserID    `json:"receiver_id,omitempty"`
	Content    string           `json:"content"`
	ReplyTo    *domain.ReplyRef `json:"reply_to,omitempty"`
}

type TypingPayload struct {
	ReceiverID domain.UserID `json:"receiver_id"`
}

type PresencePayload struct {
	Version uint64          `json:"version"`
	UserIDs []domain.UserID `json:"user_ids"`
}

// MessagePayload is domain.Message plus the derived group flag.
type MessagePayload struct {
	ID         string           `json:"id"`
	SenderID   domain.UserID    `json:"sender_id"`
	ReceiverID domain.UserID    `json:"receiver_id,omitempty"`
	Content    string           `json:"content"`
	ReplyTo    *domain.ReplyRef `json:"reply_to,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	Group      bool             `json:"group"`
}

type UserPayload struct {
	UserID domain.UserID `json:"user_id"`
}

type ForceLogoutPayload struct {
	Reason string `json:"reason"`
}

type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// DecodeInbound parses a client frame into an inbound event. Unknown types
// and malformed payloads yield protocol errors.
func DecodeInbound(data []byte) (string, domain.Inbound, error) {
	frame, err := Unmarshal(data)
	if err != nil {
		return "", nil, errors.Wrap(err, errors.ErrorTypeProtocol, domain.CodeInvalidMessage, "malformed frame")
	}

	switch frame.Type {
	case TypeIdentify:
		var p IdentifyPayload
		if err := frame.Decode(&p); err != nil {
			return frame.ID, nil, payloadError(frame.Type, err)
		}
		return frame.ID, domain.Identify{UserID: p.UserID}, nil

	case TypeSend:
		var p SendPayload
		if err := frame.Decode(&p); err != nil {
			return frame.ID, nil, payloadError(frame.Type, err)
		}
		return frame.ID, domain.SendMessage{ReceiverID: p.ReceiverID, Content: p.Content, ReplyTo: p.ReplyTo}, nil

	case TypeTyping, TypeStopTyping:
		var p TypingPayload
		if err := frame.Decode(&p); err != nil {
			return frame.ID, nil, payloadError(frame.Type, err)
		}
		kind := domain.TypingStarted
		if frame.Type == TypeStopTyping {
			kind = domain.TypingStopped
		}
		return frame.ID, domain.Typing{ReceiverID: p.ReceiverID, Kind: kind}, nil

	default:
		return frame.ID, nil, errors.New(errors.ErrorTypeProtocol, domain.CodeUnknownEvent, fmt.Sprintf("unknown event type %q", frame.Type))
	}
}

// EncodeOutbound renders an outbound event as a frame.
func EncodeOutbound(event domain.Outbound) ([]byte, error) {
	var payload any
	switch ev := event.(type) {
	case domain.PresenceUpdate:
		ids := ev.UserIDs
		if ids == nil {
			ids = []domain.UserID{}
		}
		payload = PresencePayload{Version: ev.Version, UserIDs: ids}
	case domain.MessageReceived:
		m := ev.Message
		payload = MessagePayload{
			ID:         m.ID,
			SenderID:   m.SenderID,
			ReceiverID: m.ReceiverID,
			Content:    m.Content,
			ReplyTo:    m.ReplyTo,
			CreatedAt:  m.CreatedAt,
			Group:      m.IsGroup(),
		}
	case domain.UserTyping:
		payload = UserPayload{UserID: ev.From}
	case domain.UserStopTyping:
		payload = UserPayload{UserID: ev.From}
	case domain.ForceLogout:
		payload = ForceLogoutPayload{Reason: ev.Reason}
	case domain.UserRemoved:
		payload = UserPayload{UserID: ev.UserID}
	case domain.ErrorNotice:
		payload = ErrorPayload{Code: ev.Code, Message: ev.Message, RequestID: ev.RequestID}
	default:
		return nil, errors.New(errors.ErrorTypeInternal, "UNSUPPORTED_EVENT", fmt.Sprintf("cannot encode %T", event))
	}

	frame, err := NewFrame(string(event.Kind()), payload)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "MARSHAL_ERROR", "failed to marshal event")
	}
	return frame.Marshal()
}

// EncodeInbound renders a client event as a frame. Used by clients.
func EncodeInbound(in domain.Inbound) ([]byte, error) {
	var (
		typ     string
		payload any
	)
	switch ev := in.(type) {
	case domain.Identify:
		typ, payload = TypeIdentify, IdentifyPayload{UserID: ev.UserID}
	case domain.SendMessage:
		typ, payload = TypeSend, SendPayload{ReceiverID: ev.ReceiverID, Content: ev.Content, ReplyTo: ev.ReplyTo}
	case domain.Typing:
		typ = TypeTyping
		if ev.Kind == domain.TypingStopped {
			typ = TypeStopTyping
		}
		payload = TypingPayload{ReceiverID: ev.ReceiverID}
	default:
		return nil, errors.New(errors.ErrorTypeProtocol, domain.CodeUnknownEvent, fmt.Sprintf("cannot encode %T", in))
	}

	frame, err := NewFrame(typ, payload)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "MARSHAL_ERROR", "failed to marshal event")
	}
	return frame.Marshal()
}

// DecodeOutbound parses a relay frame back into an outbound event. Used by clients.
func DecodeOutbound(data []byte) (domain.Outbound, error) {
	frame, err := Unmarshal(data)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeProtocol, domain.CodeInvalidMessage, "malformed frame")
	}

	switch domain.EventKind(frame.Type) {
	case domain.KindPresenceUpdate:
		var p PresencePayload
		if err := frame.Decode(&p); err != nil {
			return nil, payloadError(frame.Type, err)
		}
		return domain.PresenceUpdate{Version: p.Version, UserIDs: p.UserIDs}, nil
	case domain.KindMessageReceived:
		var p MessagePayload
		if err := frame.Decode(&p); err != nil {
			return nil, payloadError(frame.Type, err)
		}
		return domain.MessageReceived{Message: domain.Message{
			ID:         p.ID,
			SenderID:   p.SenderID,
			ReceiverID: p.ReceiverID,
			Content:    p.Content,
			ReplyTo:    p.ReplyTo,
			CreatedAt:  p.CreatedAt,
		}}, nil
	case domain.KindUserTyping, domain.KindUserStopTyping, domain.KindUserRemoved:
		var p UserPayload
		if err := frame.Decode(&p); err != nil {
			return nil, payloadError(frame.Type, err)
		}
		switch domain.EventKind(frame.Type) {
		case domain.KindUserTyping:
			return domain.UserTyping{From: p.UserID}, nil
		case domain.KindUserStopTyping:
			return domain.UserStopTyping{From: p.UserID}, nil
		default:
			return domain.UserRemoved{UserID: p.UserID}, nil
		}
	case domain.KindForceLogout:
		var p ForceLogoutPayload
		if err := frame.Decode(&p); err != nil {
			return nil, payloadError(frame.Type, err)
		}
		return domain.ForceLogout{Reason: p.Reason}, nil
	case domain.KindError:
		var p ErrorPayload
		if err := frame.Decode(&p); err != nil {
			return nil, payloadError(frame.Type, err)
		}
		return domain.ErrorNotice{Code: p.Code, Message: p.Message, RequestID: p.RequestID}, nil
	default:
		return nil, errors.New(errors.ErrorTypeProtocol, domain.CodeUnknownEvent, fmt.Sprintf("unknown event type %q", frame.Type))
	}
}

func payloadError(typ string, err error) error {
	return errors.Wrap(err, errors.ErrorTypeProtocol, domain.CodeInvalidMessage, "malformed "+typ+" payload")
}
