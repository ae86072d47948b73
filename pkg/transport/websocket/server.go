package websocket

import (
	"context"
	"net/http"
	"strings"

	"github.com/HMasataka/chatrelay/internal/eventbus"
	"github.com/HMasataka/chatrelay/internal/logging"
	"github.com/HMasataka/chatrelay/pkg/domain"
	"github.com/HMasataka/chatrelay/pkg/relay"
	"github.com/HMasataka/chatrelay/pkg/transport/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/xid"
)

// SessionFactory creates the lifecycle controller for an accepted connection.
type SessionFactory interface {
	NewSession(handle domain.Handle) *relay.Session
}

// ServerOptions represents websocket server options
type ServerOptions struct {
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
	Conn            ConnOptions
	Hub             domain.Hub
	Sessions        SessionFactory
	Logger          *logging.Logger
	EventBus        eventbus.Bus
}

// ServerOption is a function that configures ServerOptions
type ServerOption func(*ServerOptions)

// WithHub sets the connection hub
func WithHub(hub domain.Hub) ServerOption {
	return func(o *ServerOptions) {
		o.Hub = hub
	}
}

// WithSessions sets the session factory, usually a *relay.Engine
func WithSessions(sessions SessionFactory) ServerOption {
	return func(o *ServerOptions) {
		o.Sessions = sessions
	}
}

// WithLogger sets the logger for the server
func WithLogger(logger *logging.Logger) ServerOption {
	return func(o *ServerOptions) {
		o.Logger = logger
	}
}

// WithEventBus sets the event bus for the server
func WithEventBus(eventBus eventbus.Bus) ServerOption {
	return func(o *ServerOptions) {
		o.EventBus = eventBus
	}
}

// WithCheckOrigin sets the check origin function
func WithCheckOrigin(checkOrigin func(r *http.Request) bool) ServerOption {
	return func(o *ServerOptions) {
		o.CheckOrigin = checkOrigin
	}
}

// WithBufferSizes sets the upgrader read and write buffer sizes
func WithBufferSizes(read, write int) ServerOption {
	return func(o *ServerOptions) {
		o.ReadBufferSize = read
		o.WriteBufferSize = write
	}
}

// WithConnOptions sets per-connection options
func WithConnOptions(conn ConnOptions) ServerOption {
	return func(o *ServerOptions) {
		o.Conn = conn
	}
}

// AllowOrigins returns an origin check accepting the listed origins. An
// empty list accepts every origin, as does a request without an Origin header.
func AllowOrigins(origins []string) func(r *http.Request) bool {
	if len(origins) == 0 {
		return func(*http.Request) bool { return true }
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(o, "/")] = struct{}{}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[strings.TrimRight(origin, "/")]
		return ok
	}
}

// Server accepts websocket connections and runs a relay session for each.
type Server struct {
	upgrader websocket.Upgrader
	hub      domain.Hub
	sessions SessionFactory
	logger   *logging.Logger
	eventBus eventbus.Bus
	options  ServerOptions
}

// NewServer creates a new WebSocket server
func NewServer(opts ...ServerOption) *Server {
	options := ServerOptions{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     AllowOrigins(nil),
		Conn:            DefaultConnOptions(),
		Logger:          logging.Discard(),
	}

	for _, opt := range opts {
		opt(&options)
	}

	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  options.ReadBufferSize,
			WriteBufferSize: options.WriteBufferSize,
			CheckOrigin:     options.CheckOrigin,
		},
		hub:      options.Hub,
		sessions: options.Sessions,
		logger:   options.Logger,
		eventBus: options.EventBus,
		options:  options,
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade error",
			"error", err,
			"remote_addr", r.RemoteAddr,
		)
		return
	}

	connID := xid.New().String()
	conn := NewConnection(connID, ws, s.logger, s.options.Conn)
	session := s.sessions.NewSession(conn)

	conn.OnFrame(func(ctx context.Context, data []byte) {
		s.handleFrame(ctx, session, data)
	})

	if err := s.hub.Register(conn); err != nil {
		s.logger.Error("failed to register connection",
			"error", err,
			"client_id", connID,
		)
		ws.Close()
		return
	}

	s.publish(eventbus.EventConnectionOpened, connID, r.RemoteAddr)

	conn.Start()

	s.logger.Info("client connected",
		"client_id", connID,
		"remote_addr", r.RemoteAddr,
	)

	<-conn.Context().Done()

	session.Disconnect()

	if err := s.hub.Unregister(connID); err != nil {
		s.logger.Warn("failed to unregister connection",
			"error", err,
			"client_id", connID,
		)
	}
	conn.Wait()

	s.publish(eventbus.EventConnectionClosed, connID, r.RemoteAddr)
	s.logger.Info("client disconnected", "client_id", connID)
}

func (s *Server) handleFrame(ctx context.Context, session *relay.Session, data []byte) {
	requestID, in, err := protocol.DecodeInbound(data)
	if err != nil {
		logging.FromContext(ctx).Debug("rejected frame", "error", err)
		session.ReportError(requestID, err)
		return
	}

	if err := session.Handle(ctx, requestID, in); err != nil {
		logging.FromContext(ctx).Debug("event rejected", "request_id", requestID, "error", err)
	}
}

func (s *Server) publish(eventType eventbus.EventType, connID, remoteAddr string) {
	if s.eventBus == nil {
		return
	}
	s.eventBus.PublishAsync(eventbus.NewEvent(eventType, "websocket-server", connID).
		WithMetadata("client_id", connID).
		WithMetadata("remote_addr", remoteAddr))
}
