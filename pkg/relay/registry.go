package relay

import (
	"sort"
	"sync"

	"github.com/HMasataka/chatrelay/internal/eventbus"
	"github.com/HMasataka/chatrelay/internal/logging"
	"github.com/HMasataka/chatrelay/pkg/domain"
)

// Registry maps each online user to the single handle it is bound to.
//
// Every mutation bumps a version and publishes EventPresenceChanged with the
// snapshot taken inside the same critical section. Publishing happens after
// the lock is released.
type Registry struct {
	mu       sync.RWMutex
	bindings map[domain.UserID]domain.Handle
	version  uint64
	logger   *logging.Logger
	bus      eventbus.Bus
}

// NewRegistry creates an empty registry. bus may be nil.
func NewRegistry(logger *logging.Logger, bus eventbus.Bus) *Registry {
	return &Registry{
		bindings: make(map[domain.UserID]domain.Handle),
		logger:   logger,
		bus:      bus,
	}
}

// Bind registers handle for userID, replacing any previous handle. The
// replaced handle is not closed.
func (r *Registry) Bind(userID domain.UserID, handle domain.Handle) {
	r.mu.Lock()
	prev, had := r.bindings[userID]
	r.bindings[userID] = handle
	snap := r.mutatedLocked()
	r.mu.Unlock()

	if had && prev != handle {
		r.logger.Info("binding superseded",
			"user_id", userID,
			"previous_client_id", prev.ID(),
			"client_id", handle.ID(),
		)
	} else {
		r.logger.Debug("user bound", "user_id", userID, "client_id", handle.ID())
	}

	r.notify(snap)
}

// Unbind removes the binding only if userID is currently bound to handle.
// It reports whether a binding was removed.
func (r *Registry) Unbind(userID domain.UserID, handle domain.Handle) bool {
	r.mu.Lock()
	current, ok := r.bindings[userID]
	if !ok || current != handle {
		r.mu.Unlock()
		r.logger.Debug("stale unbind ignored", "user_id", userID, "client_id", handle.ID())
		return false
	}
	delete(r.bindings, userID)
	snap := r.mutatedLocked()
	r.mu.Unlock()

	r.logger.Debug("user unbound", "user_id", userID, "client_id", handle.ID())
	r.notify(snap)
	return true
}

// EvictHandle removes userID's binding while handle still holds it. Unlike
// Unbind it is called by moderation on another connection's behalf, after
// force_logout was pushed to handle.
func (r *Registry) EvictHandle(userID domain.UserID, handle domain.Handle) bool {
	r.mu.Lock()
	current, ok := r.bindings[userID]
	if !ok || current != handle {
		r.mu.Unlock()
		return false
	}
	delete(r.bindings, userID)
	snap := r.mutatedLocked()
	r.mu.Unlock()

	r.logger.Info("user evicted", "user_id", userID, "client_id", handle.ID())
	r.notify(snap)
	return true
}

// Evict removes whatever handle userID is bound to, without the identity
// check Unbind applies. Only moderation should call it.
func (r *Registry) Evict(userID domain.UserID) (domain.Handle, bool) {
	r.mu.Lock()
	handle, ok := r.bindings[userID]
	if !ok {
		r.mu.Unlock()
		return nil, false
	}
	delete(r.bindings, userID)
	snap := r.mutatedLocked()
	r.mu.Unlock()

	r.logger.Info("user evicted", "user_id", userID, "client_id", handle.ID())
	r.notify(snap)
	return handle, true
}

// Lookup returns the handle bound to userID.
func (r *Registry) Lookup(userID domain.UserID) (domain.Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handle, ok := r.bindings[userID]
	return handle, ok
}

// UserIDs returns the sorted online set.
func (r *Registry) UserIDs() []domain.UserID {
	return r.Snapshot().UserIDs()
}

// Snapshot returns the current bindings and version.
func (r *Registry) Snapshot() domain.PresenceSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.snapshotLocked()
}

// Handles returns every bound handle.
func (r *Registry) Handles() []domain.Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handles := make([]domain.Handle, 0, len(r.bindings))
	for _, h := range r.bindings {
		handles = append(handles, h)
	}
	return handles
}

// Len returns the number of bound users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.bindings)
}

func (r *Registry) mutatedLocked() domain.PresenceSnapshot {
	r.version++
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() domain.PresenceSnapshot {
	bindings := make([]domain.Binding, 0, len(r.bindings))
	for id, h := range r.bindings {
		bindings = append(bindings, domain.Binding{UserID: id, Handle: h})
	}
	sort.Slice(bindings, func(i, j int) bool {
		return bindings[i].UserID < bindings[j].UserID
	})

	return domain.PresenceSnapshot{
		Version:  r.version,
		Bindings: bindings,
	}
}

func (r *Registry) notify(snap domain.PresenceSnapshot) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.NewEvent(eventbus.EventPresenceChanged, "registry", snap))
}
