// Package server assembles the relay's HTTP surface.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/HMasataka/chatrelay/internal/admin"
	"github.com/HMasataka/chatrelay/internal/config"
	"github.com/HMasataka/chatrelay/internal/eventbus"
	"github.com/HMasataka/chatrelay/internal/logging"
	"github.com/HMasataka/chatrelay/internal/store"
	"github.com/HMasataka/chatrelay/pkg/domain"
	"github.com/HMasataka/chatrelay/pkg/relay"
	"github.com/HMasataka/chatrelay/pkg/transport/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Deps are the long-lived components the routes are served from.
type Deps struct {
	Config *config.Config
	Logger *logging.Logger
	Bus    eventbus.Bus
	Hub    domain.Hub
	Engine *relay.Engine
	Store  store.Store
}

// NewRouter mounts the websocket endpoint, the public status API and, when
// an admin secret is configured, the admin API.
func NewRouter(deps Deps) chi.Router {
	cfg := deps.Config

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(deps.Logger))
	r.Use(middleware.Recoverer)

	ws := websocket.NewServer(
		websocket.WithHub(deps.Hub),
		websocket.WithSessions(deps.Engine),
		websocket.WithLogger(deps.Logger.WithFields(map[string]any{"component": "websocket"})),
		websocket.WithEventBus(deps.Bus),
		websocket.WithCheckOrigin(websocket.AllowOrigins(cfg.WebSocket.AllowedOrigins)),
		websocket.WithBufferSizes(cfg.WebSocket.ReadBufferSize, cfg.WebSocket.WriteBufferSize),
		websocket.WithConnOptions(websocket.ConnOptions{
			WriteTimeout:   cfg.WebSocket.WriteTimeout,
			ReadTimeout:    cfg.WebSocket.ReadTimeout,
			PingInterval:   cfg.WebSocket.PingInterval,
			MaxMessageSize: cfg.WebSocket.MaxMessageSize,
			SendQueueSize:  cfg.WebSocket.SendQueueSize,
		}),
	)
	r.Get("/ws", ws.ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", health)
		r.Get("/presence", presence(deps.Engine.Registry()))
		r.Get("/stats", stats(deps.Hub, deps.Engine.Registry()))

		if cfg.Admin.Enabled() {
			auth := admin.NewAuthenticator(cfg.Admin)
			r.Mount("/admin", admin.NewHandler(deps.Engine.Moderator(), deps.Store, auth, deps.Logger).Routes())
		}
	})

	return r
}

// NewHTTPServer wraps handler with the configured timeouts.
func NewHTTPServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type presenceResponse struct {
	Version uint64          `json:"version"`
	UserIDs []domain.UserID `json:"user_ids"`
}

func presence(registry *relay.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		snap := registry.Snapshot()
		ids := snap.UserIDs()
		if ids == nil {
			ids = []domain.UserID{}
		}
		writeJSON(w, http.StatusOK, presenceResponse{Version: snap.Version, UserIDs: ids})
	}
}

type statsResponse struct {
	domain.HubStats
	OnlineUsers int `json:"online_users"`
}

func stats(hub domain.Hub, registry *relay.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, statsResponse{
			HubStats:    hub.Stats(),
			OnlineUsers: registry.Len(),
		})
	}
}

func requestLogger(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
				"remote_addr", r.RemoteAddr,
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
