// Package api provides HTTP handlers for the widget API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lumenreach/chatwidget/internal/config"
	"github.com/lumenreach/chatwidget/internal/conversation"
	"github.com/lumenreach/chatwidget/internal/identity"
)

// maxRequestBodySize caps message request bodies (1MB).
const maxRequestBodySize = 1 << 20

// Handler serves the widget's user intents: open, state, send, reset,
// minimize.
type Handler struct {
	registry    *conversation.Registry
	rateLimiter *RateLimiter
	cfg         *config.Config
}

// NewHandler creates a widget API handler.
func NewHandler(registry *conversation.Registry, cfg *config.Config) *Handler {
	return &Handler{
		registry:    registry,
		rateLimiter: NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration),
		cfg:         cfg,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// RegisterRoutes registers widget routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/widget", func(r chi.Router) {
		r.Post("/open", h.HandleOpen)
		r.Get("/state", h.HandleState)
		r.Post("/message", h.HandleMessage)
		r.Post("/reset", h.HandleReset)
		r.Post("/minimize", h.HandleMinimize)
	})
}

// openResponse is the payload returned by HandleOpen.
type openResponse struct {
	SessionID string            `json:"session_id"`
	State     conversation.View `json:"state"`
}

// HandleOpen handles POST /api/widget/open: mints a session for this widget
// load and restores any stored conversation.
func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	visitorID := identity.VisitorIDFromContext(r.Context())
	if visitorID == "" {
		Error(w, http.StatusUnauthorized, "unknown visitor")
		return
	}

	m, err := h.registry.Open(r.Context(), visitorID)
	if err != nil {
		slog.Error("Failed to open widget session", "visitor_id", visitorID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to open widget session")
		return
	}
	m.Open()

	JSON(w, http.StatusOK, openResponse{
		SessionID: m.SessionID(),
		State:     m.View(),
	})
}

// manager resolves the live manager for the request, writing the error
// response itself when there is none.
func (h *Handler) manager(w http.ResponseWriter, r *http.Request) *conversation.Manager {
	visitorID := identity.VisitorIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if visitorID == "" {
		Error(w, http.StatusUnauthorized, "unknown visitor")
		return nil
	}
	if sessionID == "" {
		Error(w, http.StatusBadRequest, "missing "+identity.SessionHeaderName+" header")
		return nil
	}

	m := h.registry.Get(visitorID, sessionID)
	if m == nil {
		Error(w, http.StatusNotFound, "no active widget session")
		return nil
	}
	return m
}

// HandleState handles GET /api/widget/state.
func (h *Handler) HandleState(w http.ResponseWriter, r *http.Request) {
	m := h.manager(w, r)
	if m == nil {
		return
	}
	JSON(w, http.StatusOK, m.View())
}

// messageRequest is the body of POST /api/widget/message.
type messageRequest struct {
	Message string `json:"message"`
}

// HandleMessage handles POST /api/widget/message. Quick-reply selection posts
// the action label through the same endpoint.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	m := h.manager(w, r)
	if m == nil {
		return
	}

	if !h.rateLimiter.Allow(m.VisitorID()) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		Error(w, http.StatusBadRequest, "message is required")
		return
	}

	if err := m.Send(r.Context(), req.Message); err != nil {
		switch {
		case errors.Is(err, conversation.ErrResponsePending):
			Error(w, http.StatusConflict, "a response is already pending")
		case errors.Is(err, conversation.ErrEmptyMessage):
			Error(w, http.StatusBadRequest, "message is required")
		case errors.Is(err, conversation.ErrClosed):
			Error(w, http.StatusGone, "widget session closed")
		default:
			slog.Error("Failed to process message",
				"visitor_id", m.VisitorID(), "session_id", m.SessionID(), "error", err)
			Error(w, http.StatusInternalServerError, "failed to process message")
		}
		return
	}

	JSON(w, http.StatusOK, m.View())
}

// HandleReset handles POST /api/widget/reset.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	m := h.manager(w, r)
	if m == nil {
		return
	}

	if err := m.Reset(r.Context()); err != nil {
		if errors.Is(err, conversation.ErrClosed) {
			Error(w, http.StatusGone, "widget session closed")
			return
		}
		slog.Error("Failed to reset conversation",
			"visitor_id", m.VisitorID(), "session_id", m.SessionID(), "error", err)
		Error(w, http.StatusInternalServerError, "failed to reset conversation")
		return
	}

	JSON(w, http.StatusOK, m.View())
}

// HandleMinimize handles POST /api/widget/minimize.
func (h *Handler) HandleMinimize(w http.ResponseWriter, r *http.Request) {
	m := h.manager(w, r)
	if m == nil {
		return
	}
	m.Minimize()
	w.WriteHeader(http.StatusNoContent)
}
