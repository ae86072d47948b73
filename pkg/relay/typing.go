package relay

import (
	"github.com/HMasataka/chatrelay/internal/logging"
	"github.com/HMasataka/chatrelay/pkg/domain"
)

// TypingRelay forwards typing signals to a bound receiver and keeps no state.
type TypingRelay struct {
	registry *Registry
	logger   *logging.Logger
}

func NewTypingRelay(registry *Registry, logger *logging.Logger) *TypingRelay {
	return &TypingRelay{registry: registry, logger: logger}
}

// Relay pushes the signal to receiver if bound and reports whether it did.
func (t *TypingRelay) Relay(sender, receiver domain.UserID, kind domain.TypingKind) bool {
	h, ok := t.registry.Lookup(receiver)
	if !ok {
		return false
	}

	var event domain.Outbound = domain.UserTyping{From: sender}
	if kind == domain.TypingStopped {
		event = domain.UserStopTyping{From: sender}
	}

	if err := h.Push(event); err != nil {
		t.logger.Warn("failed to relay typing signal",
			"user_id", sender,
			"receiver_id", receiver,
			"error", err,
		)
		return false
	}
	return true
}
