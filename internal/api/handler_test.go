package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lumenreach/chatwidget/internal/agent"
	"github.com/lumenreach/chatwidget/internal/config"
	"github.com/lumenreach/chatwidget/internal/conversation"
	"github.com/lumenreach/chatwidget/internal/domain"
	"github.com/lumenreach/chatwidget/internal/identity"
	"github.com/lumenreach/chatwidget/internal/store"
)

// stubAgent returns a fixed reply without leaving the process.
type stubAgent struct {
	reply *agent.Reply
	err   error
}

func (a *stubAgent) Process(context.Context, agent.Request) (*agent.Reply, error) {
	return a.reply, a.err
}

func qualifiedReply() *agent.Reply {
	return &agent.Reply{
		Text:             "We offer growth marketing packages.",
		SuggestedActions: []string{"How does pricing work?", "Book a consultation"},
		Qualification: &domain.LeadQualification{
			Qualified:     true,
			InterestLevel: "high",
			NextAction:    "Book a consultation",
		},
	}
}

func newWidgetServer(t *testing.T, client agent.Client, requestsPerWindow int) *httptest.Server {
	t.Helper()

	cfg := &config.Config{
		Port:   "8080",
		DBPath: "unused",
		Widget: config.WidgetConfig{
			MaxMessageChars: 250,
			BookingURL:      "https://cal.example/intro",
			SessionTTL:      30 * time.Minute,
		},
		RateLimit: config.RateLimitConfig{
			RequestsPerWindow: requestsPerWindow,
			WindowDuration:    time.Minute,
		},
	}

	registry := conversation.NewRegistry(conversation.Config{
		BookingURL: cfg.Widget.BookingURL,
	}, conversation.Deps{
		Repo:  store.NewMemory(),
		Agent: client,
		IDs:   identity.RandomSource{},
	})
	t.Cleanup(registry.CloseAll)

	r := chi.NewRouter()
	r.Use(identity.Middleware(identity.RandomSource{}, true))
	NewHandler(registry, cfg).RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

type openPayload struct {
	SessionID string            `json:"session_id"`
	State     conversation.View `json:"state"`
}

// openWidget opens a widget session and returns the visitor cookie and the
// minted session ID.
func openWidget(t *testing.T, srv *httptest.Server) (*http.Cookie, string) {
	t.Helper()

	resp, err := http.Post(srv.URL+"/api/widget/open", "application/json", nil)
	if err != nil {
		t.Fatalf("open request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("open returned %d: %s", resp.StatusCode, body)
	}

	var payload openPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode open response: %v", err)
	}
	if payload.SessionID == "" {
		t.Fatal("open did not return a session ID")
	}

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == identity.VisitorCookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("open did not set the visitor cookie")
	}
	return cookie, payload.SessionID
}

func widgetRequest(t *testing.T, srv *httptest.Server, method, path string, body []byte, cookie *http.Cookie, sessionID string) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	if sessionID != "" {
		req.Header.Set(identity.SessionHeaderName, sessionID)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func decodeView(t *testing.T, resp *http.Response) conversation.View {
	t.Helper()
	defer resp.Body.Close()
	var view conversation.View
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatalf("failed to decode view: %v", err)
	}
	return view
}

func TestOpenMintsVisitorAndSession(t *testing.T) {
	t.Parallel()

	srv := newWidgetServer(t, &stubAgent{reply: qualifiedReply()}, 10)
	cookie, sessionID := openWidget(t, srv)

	if !identity.IsValidVisitorID(cookie.Value) {
		t.Errorf("visitor cookie value %q is not a valid visitor ID", cookie.Value)
	}
	if sessionID == "" {
		t.Error("session ID missing")
	}
}

func TestMessageFlow(t *testing.T) {
	t.Parallel()

	srv := newWidgetServer(t, &stubAgent{reply: qualifiedReply()}, 10)
	cookie, sessionID := openWidget(t, srv)

	body, _ := json.Marshal(map[string]string{"message": "what do you offer?"})
	resp := widgetRequest(t, srv, http.MethodPost, "/api/widget/message", body, cookie, sessionID)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("message returned %d", resp.StatusCode)
	}

	view := decodeView(t, resp)
	if len(view.Messages) != 2 {
		t.Fatalf("message count = %d, want user + agent", len(view.Messages))
	}
	if view.Messages[0].Role != domain.RoleUser || view.Messages[1].Role != domain.RoleAgent {
		t.Errorf("roles = %s, %s", view.Messages[0].Role, view.Messages[1].Role)
	}
	if !view.ShowBookingPrompt || view.BookingURL != "https://cal.example/intro" {
		t.Errorf("booking prompt = %v (%q), want visible with the configured URL",
			view.ShowBookingPrompt, view.BookingURL)
	}
	if !view.ShowQuickReplies || len(view.QuickReplies) != 2 {
		t.Errorf("quick replies = %v", view.QuickReplies)
	}
}

func TestStateReflectsConversation(t *testing.T) {
	t.Parallel()

	srv := newWidgetServer(t, &stubAgent{reply: qualifiedReply()}, 10)
	cookie, sessionID := openWidget(t, srv)

	body, _ := json.Marshal(map[string]string{"message": "hello"})
	resp := widgetRequest(t, srv, http.MethodPost, "/api/widget/message", body, cookie, sessionID)
	resp.Body.Close()

	resp = widgetRequest(t, srv, http.MethodGet, "/api/widget/state", nil, cookie, sessionID)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("state returned %d", resp.StatusCode)
	}
	view := decodeView(t, resp)
	if len(view.Messages) != 2 {
		t.Errorf("state message count = %d, want 2", len(view.Messages))
	}
	if view.SessionID != sessionID {
		t.Errorf("state session ID = %q, want %q", view.SessionID, sessionID)
	}
}

func TestResetClearsConversation(t *testing.T) {
	t.Parallel()

	srv := newWidgetServer(t, &stubAgent{reply: qualifiedReply()}, 10)
	cookie, sessionID := openWidget(t, srv)

	body, _ := json.Marshal(map[string]string{"message": "hello"})
	resp := widgetRequest(t, srv, http.MethodPost, "/api/widget/message", body, cookie, sessionID)
	resp.Body.Close()

	resp = widgetRequest(t, srv, http.MethodPost, "/api/widget/reset", nil, cookie, sessionID)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reset returned %d", resp.StatusCode)
	}
	view := decodeView(t, resp)
	if len(view.Messages) != 0 {
		t.Errorf("message count after reset = %d, want 0", len(view.Messages))
	}
	if view.ShowQuickReplies {
		t.Error("quick replies should be hidden after reset")
	}
}

func TestMessageMissingSessionHeader(t *testing.T) {
	t.Parallel()

	srv := newWidgetServer(t, &stubAgent{reply: qualifiedReply()}, 10)
	cookie, _ := openWidget(t, srv)

	body, _ := json.Marshal(map[string]string{"message": "hello"})
	resp := widgetRequest(t, srv, http.MethodPost, "/api/widget/message", body, cookie, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestMessageUnknownSession(t *testing.T) {
	t.Parallel()

	srv := newWidgetServer(t, &stubAgent{reply: qualifiedReply()}, 10)
	cookie, _ := openWidget(t, srv)

	body, _ := json.Marshal(map[string]string{"message": "hello"})
	resp := widgetRequest(t, srv, http.MethodPost, "/api/widget/message", body, cookie, "sess-unknown")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestMessageEmptyBody(t *testing.T) {
	t.Parallel()

	srv := newWidgetServer(t, &stubAgent{reply: qualifiedReply()}, 10)
	cookie, sessionID := openWidget(t, srv)

	tests := []struct {
		name string
		body []byte
	}{
		{"blank message", []byte(`{"message": "   "}`)},
		{"missing field", []byte(`{}`)},
		{"malformed json", []byte(`{"message"`)},
	}
	for _, tt := range tests {
		resp := widgetRequest(t, srv, http.MethodPost, "/api/widget/message", tt.body, cookie, sessionID)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tt.name, resp.StatusCode)
		}
	}
}

func TestMessageRateLimited(t *testing.T) {
	t.Parallel()

	srv := newWidgetServer(t, &stubAgent{reply: qualifiedReply()}, 2)
	cookie, sessionID := openWidget(t, srv)

	body, _ := json.Marshal(map[string]string{"message": "hello"})
	for i := 0; i < 2; i++ {
		resp := widgetRequest(t, srv, http.MethodPost, "/api/widget/message", body, cookie, sessionID)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("message %d returned %d", i, resp.StatusCode)
		}
	}

	resp := widgetRequest(t, srv, http.MethodPost, "/api/widget/message", body, cookie, sessionID)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
}

func TestMinimize(t *testing.T) {
	t.Parallel()

	srv := newWidgetServer(t, &stubAgent{reply: qualifiedReply()}, 10)
	cookie, sessionID := openWidget(t, srv)

	resp := widgetRequest(t, srv, http.MethodPost, "/api/widget/minimize", nil, cookie, sessionID)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("minimize returned %d", resp.StatusCode)
	}

	resp = widgetRequest(t, srv, http.MethodGet, "/api/widget/state", nil, cookie, sessionID)
	view := decodeView(t, resp)
	if view.Opened {
		t.Error("widget should be collapsed after minimize")
	}
}

func TestOpenRestoresAcrossLoads(t *testing.T) {
	t.Parallel()

	srv := newWidgetServer(t, &stubAgent{reply: qualifiedReply()}, 10)
	cookie, sessionID := openWidget(t, srv)

	body, _ := json.Marshal(map[string]string{"message": "hello"})
	resp := widgetRequest(t, srv, http.MethodPost, "/api/widget/message", body, cookie, sessionID)
	resp.Body.Close()

	// Second widget load for the same visitor: new session, same history.
	resp = widgetRequest(t, srv, http.MethodPost, "/api/widget/open", nil, cookie, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second open returned %d", resp.StatusCode)
	}
	var payload openPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode open response: %v", err)
	}
	resp.Body.Close()

	if payload.SessionID == sessionID {
		t.Error("second open reused the previous session ID")
	}
	if len(payload.State.Messages) != 2 {
		t.Errorf("restored message count = %d, want 2", len(payload.State.Messages))
	}
	if !payload.State.Greeted {
		t.Error("restored conversation should count as greeted")
	}
}

func TestRateLimiterWindow(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(2, 50*time.Millisecond)

	if !rl.Allow("v1") || !rl.Allow("v1") {
		t.Fatal("first two requests should be allowed")
	}
	if rl.Allow("v1") {
		t.Fatal("third request inside the window should be denied")
	}
	if !rl.Allow("v2") {
		t.Fatal("a different visitor should not be affected")
	}

	time.Sleep(60 * time.Millisecond)
	if !rl.Allow("v1") {
		t.Fatal("request after the window expired should be allowed")
	}
}
