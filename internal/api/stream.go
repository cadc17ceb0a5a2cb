package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"

	"github.com/lumenreach/chatwidget/internal/conversation"
	"github.com/lumenreach/chatwidget/internal/identity"
)

// StreamHandler pushes conversation state views to the widget over a
// WebSocket, so the presentation layer re-renders on every transition
// (new messages, typing flag, quick replies, booking prompt).
type StreamHandler struct {
	registry      *conversation.Registry
	allowedOrigin string
	isDev         bool
}

// NewStreamHandler creates a WebSocket state-stream handler.
func NewStreamHandler(registry *conversation.Registry, allowedOrigin string, isDev bool) *StreamHandler {
	return &StreamHandler{
		registry:      registry,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	visitorID := identity.VisitorIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	slog.Info("Widget stream connection request",
		"visitor_id", visitorID, "session_id", sessionID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	if visitorID == "" || sessionID == "" {
		http.Error(w, "missing widget identity", http.StatusBadRequest)
		return
	}

	m := h.registry.Get(visitorID, sessionID)
	if m == nil {
		http.Error(w, "no active widget session", http.StatusNotFound)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "visitor_id", visitorID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "visitor_id", visitorID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	views, unsubscribe := m.Subscribe()
	defer unsubscribe()

	// Send the current state immediately so a reconnecting widget catches up.
	if err := writeView(ctx, ws, m.View()); err != nil {
		slog.Debug("Failed to write initial state view", "error", err, "visitor_id", visitorID)
		return
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("Widget stream disconnected", "visitor_id", visitorID, "session_id", sessionID)
			return
		case view, ok := <-views:
			if !ok {
				// Manager closed (torn down or evicted).
				return
			}
			if err := writeView(ctx, ws, view); err != nil {
				slog.Debug("Failed to write state view", "error", err, "visitor_id", visitorID)
				return
			}
		}
	}
}

func writeView(ctx context.Context, ws *websocket.Conn, view conversation.View) error {
	w, err := ws.Writer(ctx, websocket.MessageText)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(w).Encode(view); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (h *StreamHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return h.allowedOrigin == "" || strings.HasPrefix(origin, h.allowedOrigin)
}
