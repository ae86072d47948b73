package relay

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/HMasataka/chatrelay/internal/eventbus"
	"github.com/HMasataka/chatrelay/internal/logging"
	"github.com/HMasataka/chatrelay/pkg/domain"
	"github.com/HMasataka/chatrelay/pkg/errors"
)

// State is the lifecycle state of one connection.
type State int

const (
	StateConnected State = iota
	StateIdentified
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateIdentified:
		return "identified"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MessageStore persists a draft before it is relayed. Rejections carry an
// errors.ErrorTypeModeration error.
type MessageStore interface {
	SaveMessage(ctx context.Context, draft domain.Draft) (domain.Message, error)
}

// Session drives one connection from accept to disconnect. It is the only
// writer of its own registry binding.
type Session struct {
	handle   domain.Handle
	registry *Registry
	router   *Router
	typing   *TypingRelay
	store    MessageStore
	bus      eventbus.Bus
	base     *logging.Logger
	release  func()

	mu     sync.Mutex
	logger *logging.Logger
	state  State
	userID domain.UserID
}

// State returns the current state and, once identified, the user id.
func (s *Session) State() (State, domain.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.userID
}

// Handle dispatches one inbound event. A failure is pushed to this
// connection as an error event carrying requestID and is also returned.
func (s *Session) Handle(ctx context.Context, requestID string, in domain.Inbound) error {
	var err error
	switch ev := in.(type) {
	case domain.Identify:
		err = s.Identify(ev.UserID)
	case domain.SendMessage:
		err = s.Send(ctx, ev)
	case domain.Typing:
		err = s.Typing(ev)
	case domain.Disconnect:
		s.Disconnect()
	default:
		err = errors.New(errors.ErrorTypeProtocol, domain.CodeUnknownEvent, fmt.Sprintf("unsupported event %T", in))
	}

	if err != nil {
		s.ReportError(requestID, err)
	}
	return err
}

// Identify binds the connection to userID. Announcing a different id first
// releases the previous one.
func (s *Session) Identify(userID domain.UserID) error {
	if !userID.Valid() {
		return errors.New(errors.ErrorTypeValidation, domain.CodeInvalidUserID, "user id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return closedError()
	}

	previous := s.userID
	if s.state == StateIdentified && previous != userID {
		s.registry.Unbind(previous, s.handle)
	}

	s.registry.Bind(userID, s.handle)
	s.state = StateIdentified
	s.userID = userID
	s.logger = s.base.WithFields(map[string]any{"user_id": userID})

	if s.bus != nil {
		s.bus.PublishAsync(eventbus.NewEvent(eventbus.EventUserIdentified, "session", userID).
			WithMetadata("client_id", s.handle.ID()).
			WithMetadata("previous_user_id", previous.String()))
	}

	s.logger.Info("connection identified")
	return nil
}

// Send persists the message and then routes it.
func (s *Session) Send(ctx context.Context, req domain.SendMessage) error {
	sender, err := s.identified()
	if err != nil {
		return err
	}

	if strings.TrimSpace(req.Content) == "" {
		return errors.New(errors.ErrorTypeValidation, domain.CodeEmptyContent, "message content is required")
	}
	if req.ReceiverID != "" && !req.ReceiverID.Valid() {
		return errors.New(errors.ErrorTypeValidation, domain.CodeInvalidReceiver, "receiver id is blank")
	}

	msg, err := s.store.SaveMessage(ctx, domain.Draft{
		SenderID:   sender,
		ReceiverID: req.ReceiverID,
		Content:    req.Content,
		ReplyTo:    req.ReplyTo,
	})
	if err != nil {
		if _, ok := errors.As(err); ok {
			return err
		}
		return errors.Wrap(err, errors.ErrorTypeInternal, domain.CodePersistenceFailed, "failed to save message")
	}

	return s.router.Route(ctx, msg)
}

// Typing relays a typing or stop_typing signal from this connection's user.
func (s *Session) Typing(req domain.Typing) error {
	sender, err := s.identified()
	if err != nil {
		return err
	}
	if !req.ReceiverID.Valid() {
		return errors.New(errors.ErrorTypeValidation, domain.CodeInvalidReceiver, "receiver id is required")
	}

	s.typing.Relay(sender, req.ReceiverID, req.Kind)
	return nil
}

// Disconnect moves the session to Closed and releases its binding if it
// still owns it. Calls after the first are ignored.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return
	}

	if s.state == StateIdentified {
		s.registry.Unbind(s.userID, s.handle)
	}
	s.state = StateClosed
	s.logger.Debug("session closed")

	if s.release != nil {
		s.release()
	}
}

// revoke returns the session to anonymous after moderation removed its
// binding for userID. A session that has bound userID again since then keeps
// it.
func (s *Session) revoke(userID domain.UserID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdentified || s.userID != userID {
		return false
	}
	if h, ok := s.registry.Lookup(userID); ok && h == s.handle {
		return false
	}

	s.state = StateConnected
	s.userID = ""
	s.logger.Info("session evicted")
	s.logger = s.base
	return true
}

// ReportError pushes err to this connection as an error event.
func (s *Session) ReportError(requestID string, err error) {
	notice := domain.ErrorNotice{
		Code:      domain.CodeInternal,
		Message:   "internal error",
		RequestID: requestID,
	}
	if e, ok := errors.As(err); ok {
		notice.Code = e.Code
		if e.Type != errors.ErrorTypeInternal {
			notice.Message = e.Message
		}
	}

	if pushErr := s.handle.Push(notice); pushErr != nil {
		_, userID := s.State()
		s.base.Warn("failed to report error to client",
			"user_id", userID,
			"code", notice.Code,
			"error", pushErr,
		)
	}
}

func (s *Session) identified() (domain.UserID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateIdentified:
		return s.userID, nil
	case StateClosed:
		return "", closedError()
	default:
		return "", errors.New(errors.ErrorTypeValidation, domain.CodeNotIdentified, "identify before sending events")
	}
}

func closedError() error {
	return errors.Wrap(domain.ErrSessionClosed, errors.ErrorTypeValidation, domain.CodeSessionClosed, "session is closed")
}
