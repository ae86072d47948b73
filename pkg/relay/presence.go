package relay

import (
	"sync"

	"github.com/HMasataka/chatrelay/internal/eventbus"
	"github.com/HMasataka/chatrelay/internal/logging"
	"github.com/HMasataka/chatrelay/pkg/domain"
)

// PresenceBroadcaster pushes the full online set to every bound handle after
// each registry mutation.
//
// Snapshots may be published out of order by concurrent mutations. Any
// snapshot not newer than the last one broadcast is dropped, and pushes happen
// under mu, so no connection sees an older set after a newer one.
type PresenceBroadcaster struct {
	mu     sync.Mutex
	last   uint64
	logger *logging.Logger
}

func NewPresenceBroadcaster(logger *logging.Logger) *PresenceBroadcaster {
	return &PresenceBroadcaster{logger: logger}
}

// Attach subscribes the broadcaster to presence changes on bus and returns
// the subscription id.
func (p *PresenceBroadcaster) Attach(bus eventbus.Bus) string {
	return bus.Subscribe(eventbus.EventPresenceChanged, func(event *eventbus.Event) {
		snap, ok := event.Data.(domain.PresenceSnapshot)
		if !ok {
			p.logger.Error("unexpected presence event payload", "event_id", event.ID)
			return
		}
		p.Broadcast(snap)
	})
}

// Broadcast sends snap to its bound handles and returns how many pushes
// succeeded. Stale snapshots return 0 without pushing.
func (p *PresenceBroadcaster) Broadcast(snap domain.PresenceSnapshot) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if snap.Version <= p.last {
		p.logger.Debug("stale presence snapshot dropped",
			"version", snap.Version,
			"last_version", p.last,
		)
		return 0
	}
	p.last = snap.Version

	update := domain.PresenceUpdate{
		Version: snap.Version,
		UserIDs: snap.UserIDs(),
	}

	var delivered int
	for _, b := range snap.Bindings {
		if err := b.Handle.Push(update); err != nil {
			p.logger.Warn("failed to push presence update",
				"user_id", b.UserID,
				"client_id", b.Handle.ID(),
				"error", err,
			)
			continue
		}
		delivered++
	}

	p.logger.Debug("presence broadcast",
		"version", snap.Version,
		"online", len(snap.Bindings),
		"delivered", delivered,
	)
	return delivered
}

// LastVersion returns the version of the most recent broadcast.
func (p *PresenceBroadcaster) LastVersion() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}
