package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRandomSourceVisitorIDShape(t *testing.T) {
	t.Parallel()

	src := RandomSource{}
	id, err := src.VisitorID()
	if err != nil {
		t.Fatalf("VisitorID failed: %v", err)
	}
	if !IsValidVisitorID(id) {
		t.Errorf("minted visitor ID %q does not match the expected shape", id)
	}

	other, err := src.VisitorID()
	if err != nil {
		t.Fatalf("VisitorID failed: %v", err)
	}
	if id == other {
		t.Error("two minted visitor IDs collided")
	}
}

func TestRandomSourceSessionIDsAreUnique(t *testing.T) {
	t.Parallel()

	src := RandomSource{}
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := src.SessionID()
		if id == "" {
			t.Fatal("SessionID returned empty string")
		}
		if seen[id] {
			t.Fatalf("duplicate session ID %q", id)
		}
		seen[id] = true
	}
}

func TestSanitizeSessionID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"  ", ""},
		{"sess-1", "sess-1"},
		{"  sess-1  ", "sess-1"},
		{"9f8e7d6c", "9f8e7d6c"},
		{"has spaces", ""},
		{"<script>", ""},
	}

	for _, tt := range tests {
		if got := sanitizeSessionID(tt.in); got != tt.want {
			t.Errorf("sanitizeSessionID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func identityProbe(t *testing.T) (http.Handler, *string, *string) {
	t.Helper()
	var visitorID, sessionID string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		visitorID = VisitorIDFromContext(r.Context())
		sessionID = SessionIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	return Middleware(RandomSource{}, true)(next), &visitorID, &sessionID
}

func TestMiddlewareMintsVisitorCookie(t *testing.T) {
	t.Parallel()

	handler, visitorID, _ := identityProbe(t)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if *visitorID == "" || !IsValidVisitorID(*visitorID) {
		t.Fatalf("context visitor ID = %q, want a minted visitor ID", *visitorID)
	}

	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == VisitorCookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("visitor cookie was not set")
	}
	if cookie.Value != *visitorID {
		t.Errorf("cookie value %q != context visitor ID %q", cookie.Value, *visitorID)
	}
	if !cookie.HttpOnly {
		t.Error("visitor cookie should be HttpOnly")
	}
}

func TestMiddlewareReusesExistingVisitor(t *testing.T) {
	t.Parallel()

	handler, visitorID, _ := identityProbe(t)

	const existing = "visitor_0123456789abcdef0123456789abcdef"
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: VisitorCookieName, Value: existing})
	handler.ServeHTTP(httptest.NewRecorder(), r)

	if *visitorID != existing {
		t.Errorf("visitor ID = %q, want the existing cookie value %q", *visitorID, existing)
	}
}

func TestMiddlewareReplacesInvalidVisitorCookie(t *testing.T) {
	t.Parallel()

	handler, visitorID, _ := identityProbe(t)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: VisitorCookieName, Value: "not-a-visitor-id"})
	handler.ServeHTTP(httptest.NewRecorder(), r)

	if *visitorID == "not-a-visitor-id" {
		t.Fatal("invalid cookie value must not be accepted")
	}
	if !IsValidVisitorID(*visitorID) {
		t.Errorf("replacement visitor ID %q is not valid", *visitorID)
	}
}

func TestMiddlewareSessionIDFromHeader(t *testing.T) {
	t.Parallel()

	handler, _, sessionID := identityProbe(t)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(SessionHeaderName, "sess-42")
	handler.ServeHTTP(httptest.NewRecorder(), r)

	if *sessionID != "sess-42" {
		t.Errorf("session ID = %q, want sess-42", *sessionID)
	}
}

func TestMiddlewareSessionIDFromQueryFallback(t *testing.T) {
	t.Parallel()

	handler, _, sessionID := identityProbe(t)

	r := httptest.NewRequest(http.MethodGet, "/?session_id=sess-7", nil)
	handler.ServeHTTP(httptest.NewRecorder(), r)

	if *sessionID != "sess-7" {
		t.Errorf("session ID = %q, want sess-7", *sessionID)
	}
}
