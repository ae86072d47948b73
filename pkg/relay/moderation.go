package relay

import (
	"github.com/HMasataka/chatrelay/internal/eventbus"
	"github.com/HMasataka/chatrelay/internal/logging"
	"github.com/HMasataka/chatrelay/pkg/domain"
	"github.com/HMasataka/chatrelay/pkg/errors"
)

const (
	DefaultEvictReason   = "You have been logged out by an administrator"
	AccountDeletedReason = "Your account has been deleted by admin"

	maxEvictAttempts = 3
)

// ConnectionBroadcaster pushes an event to every open connection.
type ConnectionBroadcaster interface {
	Broadcast(event domain.Outbound) error
}

// Moderator carries out administrative actions against live sessions.
type Moderator struct {
	registry    *Registry
	connections ConnectionBroadcaster
	logger      *logging.Logger
	bus         eventbus.Bus

	// revoke demotes the session owning handle once userID was taken from it.
	revoke func(userID domain.UserID, handle domain.Handle)
}

func NewModerator(registry *Registry, connections ConnectionBroadcaster, logger *logging.Logger, bus eventbus.Bus) *Moderator {
	return &Moderator{
		registry:    registry,
		connections: connections,
		logger:      logger,
		bus:         bus,
	}
}

// Evict pushes force_logout to the user's bound handle and then removes
// that binding. If the user rebinds in between, the newer handle is told and
// evicted as well. Every session that was told drops back to anonymous; the
// connections stay open. It reports whether a binding was removed.
func (m *Moderator) Evict(userID domain.UserID, reason string) bool {
	if reason == "" {
		reason = DefaultEvictReason
	}
	logout := domain.ForceLogout{Reason: reason}

	var (
		notified []domain.Handle
		evicted  bool
	)
	for attempt := 0; attempt < maxEvictAttempts && !evicted; attempt++ {
		h, ok := m.registry.Lookup(userID)
		if !ok {
			break
		}
		m.forceLogout(userID, h, logout)
		notified = append(notified, h)
		evicted = m.registry.EvictHandle(userID, h)
	}

	if len(notified) == 0 {
		m.logger.Debug("evict skipped, user offline", "user_id", userID)
		return false
	}

	if !evicted {
		if h, ok := m.registry.Evict(userID); ok {
			m.logger.Warn("binding kept changing, evicting unconditionally", "user_id", userID)
			m.forceLogout(userID, h, logout)
			notified = append(notified, h)
			evicted = true
		}
	}

	if m.revoke != nil {
		for _, h := range notified {
			m.revoke(userID, h)
		}
	}

	if !evicted {
		return false
	}

	if m.bus != nil {
		m.bus.PublishAsync(eventbus.NewEvent(eventbus.EventUserEvicted, "moderation", userID).
			WithMetadata("reason", reason))
	}
	return true
}

func (m *Moderator) forceLogout(userID domain.UserID, h domain.Handle, logout domain.ForceLogout) {
	if err := h.Push(logout); err != nil {
		m.logger.Warn("failed to push force_logout",
			"user_id", userID,
			"client_id", h.ID(),
			"error", err,
		)
	}
}

// BroadcastUserRemoved tells every open connection that userID no longer exists.
func (m *Moderator) BroadcastUserRemoved(userID domain.UserID) error {
	if m.connections == nil {
		return errors.New(errors.ErrorTypeInternal, "NO_CONNECTION_HUB", "no connection hub configured")
	}
	if err := m.connections.Broadcast(domain.UserRemoved{UserID: userID}); err != nil {
		return errors.Wrap(err, errors.ErrorTypeDelivery, "BROADCAST_FAILED", "failed to broadcast user removal")
	}

	if m.bus != nil {
		m.bus.PublishAsync(eventbus.NewEvent(eventbus.EventUserRemoved, "moderation", userID))
	}
	return nil
}

// RemoveUser handles account deletion: the user's session is evicted and
// everyone is told the account is gone.
func (m *Moderator) RemoveUser(userID domain.UserID) (bool, error) {
	evicted := m.Evict(userID, AccountDeletedReason)
	return evicted, m.BroadcastUserRemoved(userID)
}
