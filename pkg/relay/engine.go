package relay

import (
	"sync"

	"github.com/HMasataka/chatrelay/internal/eventbus"
	"github.com/HMasataka/chatrelay/internal/logging"
	"github.com/HMasataka/chatrelay/pkg/domain"
)

// Options configures an Engine.
type Options struct {
	Logger   *logging.Logger
	EventBus eventbus.Bus
	Store    MessageStore
	// Connections reaches every open connection, identified or not. It is
	// required for BroadcastUserRemoved.
	Connections ConnectionBroadcaster
}

// Engine wires the registry, presence broadcaster, router, typing relay and
// moderation together and creates a Session per accepted connection.
type Engine struct {
	registry  *Registry
	presence  *PresenceBroadcaster
	router    *Router
	typing    *TypingRelay
	moderator *Moderator
	store     MessageStore
	bus       eventbus.Bus
	logger    *logging.Logger

	presenceSub string
	sessions    sync.Map // domain.Handle -> *Session
}

// NewEngine builds an engine. A nil EventBus is replaced by an unstarted
// in-memory bus, which still delivers synchronous presence events.
func NewEngine(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.EventBus == nil {
		opts.EventBus = eventbus.NewInMemoryBus(64)
	}

	registry := NewRegistry(opts.Logger.WithFields(map[string]any{"component": "registry"}), opts.EventBus)
	presence := NewPresenceBroadcaster(opts.Logger.WithFields(map[string]any{"component": "presence"}))

	e := &Engine{
		registry: registry,
		presence: presence,
		router:   NewRouter(registry, opts.Logger.WithFields(map[string]any{"component": "router"}), opts.EventBus),
		typing:   NewTypingRelay(registry, opts.Logger),
		store:    opts.Store,
		bus:      opts.EventBus,
		logger:   opts.Logger,
	}
	e.moderator = NewModerator(registry, opts.Connections, opts.Logger.WithFields(map[string]any{"component": "moderation"}), opts.EventBus)
	e.moderator.revoke = e.revoke
	e.presenceSub = presence.Attach(opts.EventBus)

	return e
}

// NewSession creates the lifecycle controller for a freshly accepted
// connection. The session starts anonymous.
func (e *Engine) NewSession(handle domain.Handle) *Session {
	logger := e.logger.WithFields(map[string]any{"client_id": handle.ID()})
	s := &Session{
		handle:   handle,
		registry: e.registry,
		router:   e.router,
		typing:   e.typing,
		store:    e.store,
		bus:      e.bus,
		base:     logger,
		logger:   logger,
		state:    StateConnected,
	}
	s.release = func() { e.sessions.CompareAndDelete(handle, s) }
	e.sessions.Store(handle, s)
	return s
}

func (e *Engine) revoke(userID domain.UserID, handle domain.Handle) {
	if s, ok := e.sessions.Load(handle); ok {
		s.(*Session).revoke(userID)
	}
}

func (e *Engine) Registry() *Registry { return e.registry }

func (e *Engine) Presence() *PresenceBroadcaster { return e.presence }

func (e *Engine) Router() *Router { return e.router }

func (e *Engine) Typing() *TypingRelay { return e.typing }

func (e *Engine) Moderator() *Moderator { return e.moderator }

// Close detaches the presence broadcaster from the event bus.
func (e *Engine) Close() {
	e.bus.Unsubscribe(e.presenceSub)
}
