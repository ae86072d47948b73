package relay

import (
	"context"
	"strconv"
	"strings"

	"github.com/HMasataka/chatrelay/internal/eventbus"
	"github.com/HMasataka/chatrelay/internal/logging"
	"github.com/HMasataka/chatrelay/pkg/domain"
	"github.com/HMasataka/chatrelay/pkg/errors"
)

// Router delivers persisted messages to bound handles. Group messages go to
// everyone online, the sender included. Private messages go to the receiver
// only, and are dropped when the receiver is offline.
type Router struct {
	registry *Registry
	logger   *logging.Logger
	bus      eventbus.Bus
}

func NewRouter(registry *Registry, logger *logging.Logger, bus eventbus.Bus) *Router {
	return &Router{
		registry: registry,
		logger:   logger,
		bus:      bus,
	}
}

// Route validates msg and pushes it to its recipients. Only validation
// failures are returned; push failures are logged per handle.
func (r *Router) Route(ctx context.Context, msg domain.Message) error {
	if err := validateMessage(msg); err != nil {
		return err
	}

	var targets []domain.Handle
	if msg.IsGroup() {
		targets = r.registry.Handles()
	} else if h, ok := r.registry.Lookup(msg.ReceiverID); ok {
		targets = []domain.Handle{h}
	} else {
		r.logger.DebugContext(ctx, "receiver offline, message not relayed",
			"message_id", msg.ID,
			"receiver_id", msg.ReceiverID,
		)
	}

	event := domain.MessageReceived{Message: msg}
	var delivered int
	for _, h := range targets {
		if err := h.Push(event); err != nil {
			r.logger.WarnContext(ctx, "failed to deliver message",
				"message_id", msg.ID,
				"client_id", h.ID(),
				"error", err,
			)
			continue
		}
		delivered++
	}

	if r.bus != nil {
		r.bus.PublishAsync(eventbus.NewEvent(eventbus.EventMessageRouted, "router", msg).
			WithMetadata("message_id", msg.ID).
			WithMetadata("delivered", strconv.Itoa(delivered)))
	}

	return nil
}

func validateMessage(msg domain.Message) error {
	if strings.TrimSpace(msg.Content) == "" {
		return errors.New(errors.ErrorTypeValidation, domain.CodeEmptyContent, "message content is required")
	}
	if msg.ID == "" {
		return errors.New(errors.ErrorTypeValidation, domain.CodeInvalidMessage, "message has no id")
	}
	if !msg.SenderID.Valid() {
		return errors.New(errors.ErrorTypeValidation, domain.CodeInvalidMessage, "message has no sender")
	}
	if !msg.IsGroup() && !msg.ReceiverID.Valid() {
		return errors.New(errors.ErrorTypeValidation, domain.CodeInvalidReceiver, "receiver id is blank")
	}
	return nil
}
