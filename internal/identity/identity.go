// Package identity provides durable visitor and per-load session identifiers.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// VisitorCookieName holds the durable visitor identifier, minted once
	// ever for a given client and reused across all future sessions.
	VisitorCookieName = "lumen_widget_visitor"
	// SessionHeaderName carries the per-widget-load session identifier.
	SessionHeaderName = "X-Widget-Session-ID"

	visitorCookieMaxAge = 365 * 24 * time.Hour
)

type contextKey int

const (
	visitorIDKey contextKey = iota
	sessionIDKey
)

var (
	visitorIDPattern = regexp.MustCompile(`^visitor_[a-f0-9]{32}$`)
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// Source mints identifiers. Injected so tests can use deterministic IDs.
type Source interface {
	// VisitorID mints a new durable visitor identifier.
	VisitorID() (string, error)
	// SessionID mints a fresh identifier for one widget load. Never
	// persisted independently, never reused across loads.
	SessionID() string
	// MessageID mints a unique identifier for one message.
	MessageID() string
}

// RandomSource is the production Source, backed by crypto/rand and UUIDs.
type RandomSource struct{}

// VisitorID mints a "visitor_" + 32 hex char identifier.
func (RandomSource) VisitorID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate visitor id: %w", err)
	}
	return "visitor_" + hex.EncodeToString(buf), nil
}

// SessionID mints a fresh UUID.
func (RandomSource) SessionID() string { return uuid.NewString() }

// MessageID mints a fresh UUID.
func (RandomSource) MessageID() string { return uuid.NewString() }

// VisitorIDFromContext extracts the visitor ID from the request context.
func VisitorIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(visitorIDKey).(string); ok {
		return v
	}
	return ""
}

// SessionIDFromContext extracts the widget session ID from the request
// context. Empty when the client did not supply one.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

// IsValidVisitorID reports whether id matches the minted visitor ID shape.
func IsValidVisitorID(id string) bool {
	return visitorIDPattern.MatchString(id)
}

func sanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !sessionIDPattern.MatchString(id) {
		return ""
	}
	return id
}

func setVisitorCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     VisitorCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(visitorCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(visitorCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

func getOrCreateVisitorID(w http.ResponseWriter, r *http.Request, src Source, isDev bool) (string, error) {
	if c, err := r.Cookie(VisitorCookieName); err == nil && IsValidVisitorID(c.Value) {
		// Re-set to extend the cookie lifetime.
		setVisitorCookie(w, c.Value, isDev)
		return c.Value, nil
	}

	id, err := src.VisitorID()
	if err != nil {
		return "", err
	}
	setVisitorCookie(w, id, isDev)
	return id, nil
}

func sessionIDFromRequest(r *http.Request) string {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		sid = r.URL.Query().Get("session_id")
	}
	return sanitizeSessionID(sid)
}

// Middleware injects the durable visitor ID (minting and setting the cookie
// when absent) and the per-load session ID into the request context.
func Middleware(src Source, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			visitorID, err := getOrCreateVisitorID(w, r, src, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish visitor identity"}`, http.StatusInternalServerError)
				return
			}

			ctx := context.WithValue(r.Context(), visitorIDKey, visitorID)
			ctx = context.WithValue(ctx, sessionIDKey, sessionIDFromRequest(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
