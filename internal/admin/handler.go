// Package admin exposes moderation actions over HTTP.
package admin

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/HMasataka/chatrelay/internal/logging"
	"github.com/HMasataka/chatrelay/pkg/domain"
	"github.com/HMasataka/chatrelay/pkg/errors"
	"github.com/go-chi/chi/v5"
)

// Moderator is the live-session side of moderation.
type Moderator interface {
	Evict(userID domain.UserID, reason string) bool
	RemoveUser(userID domain.UserID) (bool, error)
}

// FlagStore holds the persistent moderation flags.
type FlagStore interface {
	SetSuspended(ctx context.Context, userID domain.UserID, suspended bool) error
	SetBlockedFromGroup(ctx context.Context, userID domain.UserID, blocked bool) error
}

type Handler struct {
	moderator Moderator
	flags     FlagStore
	auth      *Authenticator
	logger    *logging.Logger
}

func NewHandler(moderator Moderator, flags FlagStore, auth *Authenticator, logger *logging.Logger) *Handler {
	return &Handler{
		moderator: moderator,
		flags:     flags,
		auth:      auth,
		logger:    logger.WithFields(map[string]any{"component": "admin"}),
	}
}

// Routes returns the authenticated admin router, to be mounted under /api/admin.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.auth.Middleware)

	r.Route("/users/{userID}", func(r chi.Router) {
		r.Post("/evict", h.evict)
		r.Post("/removed", h.removed)
		r.Put("/suspend", h.suspend)
		r.Put("/block-group", h.blockGroup)
	})
	return r
}

type evictRequest struct {
	Reason string `json:"reason"`
}

type evictResponse struct {
	UserID  domain.UserID `json:"user_id"`
	Evicted bool          `json:"evicted"`
}

func (h *Handler) evict(w http.ResponseWriter, r *http.Request) {
	userID, ok := userParam(w, r)
	if !ok {
		return
	}

	var req evictRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
			return
		}
	}

	evicted := h.moderator.Evict(userID, req.Reason)
	h.logger.Info("user evicted", "user_id", userID, "online", evicted)
	writeJSON(w, http.StatusOK, evictResponse{UserID: userID, Evicted: evicted})
}

func (h *Handler) removed(w http.ResponseWriter, r *http.Request) {
	userID, ok := userParam(w, r)
	if !ok {
		return
	}

	evicted, err := h.moderator.RemoveUser(userID)
	if err != nil {
		h.fail(w, err)
		return
	}

	h.logger.Info("user removed", "user_id", userID, "online", evicted)
	writeJSON(w, http.StatusOK, evictResponse{UserID: userID, Evicted: evicted})
}

type suspendRequest struct {
	Suspended *bool `json:"suspended"`
}

func (h *Handler) suspend(w http.ResponseWriter, r *http.Request) {
	userID, ok := userParam(w, r)
	if !ok {
		return
	}

	var req suspendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Suspended == nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", `body must be {"suspended": bool}`)
		return
	}

	if err := h.flags.SetSuspended(r.Context(), userID, *req.Suspended); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "suspended": *req.Suspended})
}

type blockRequest struct {
	Blocked *bool `json:"blocked"`
}

func (h *Handler) blockGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := userParam(w, r)
	if !ok {
		return
	}

	var req blockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Blocked == nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", `body must be {"blocked": bool}`)
		return
	}

	if err := h.flags.SetBlockedFromGroup(r.Context(), userID, *req.Blocked); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "blocked": *req.Blocked})
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	e, ok := errors.As(err)
	if !ok {
		e = errors.Wrap(err, errors.ErrorTypeInternal, domain.CodeInternal, "internal error")
	}

	status := http.StatusInternalServerError
	switch e.Type {
	case errors.ErrorTypeNotFound:
		status = http.StatusNotFound
	case errors.ErrorTypeValidation:
		status = http.StatusBadRequest
	case errors.ErrorTypeDelivery:
		status = http.StatusBadGateway
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("admin action failed", "code", e.Code, "error", err)
	}
	writeError(w, status, e.Code, e.Message)
}

func userParam(w http.ResponseWriter, r *http.Request) (domain.UserID, bool) {
	userID := domain.UserID(chi.URLParam(r, "userID"))
	if !userID.Valid() {
		writeError(w, http.StatusBadRequest, domain.CodeInvalidUserID, "invalid user id")
		return "", false
	}
	return userID, true
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
