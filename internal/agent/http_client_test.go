package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewHTTPClient(HTTPClientConfig{
		Endpoint: srv.URL,
		AgentID:  "marketing_site_agent",
		Timeout:  2 * time.Second,
	}, nil)
	if err != nil {
		t.Fatalf("NewHTTPClient failed: %v", err)
	}
	return c
}

func TestProcessSuccess(t *testing.T) {
	t.Parallel()

	var gotReq Request
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"status": "success",
			"result": {
				"message": "We offer three growth packages.",
				"lead_qualification": {"is_qualified": true, "interest_level": "high", "next_action": "Book a consultation"},
				"sources_used": [{"kind": "faq"}],
				"suggested_actions": ["How does pricing work?", "Book a consultation"]
			}
		}`))
	})

	reply, err := c.Process(context.Background(), Request{
		Message: "what do you offer?",
		Context: RequestContext{UserID: "visitor_1", SessionID: "sess-1"},
	})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if gotReq.AgentID != "marketing_site_agent" {
		t.Errorf("agent_id = %q, want the configured default", gotReq.AgentID)
	}
	if gotReq.Context.UserID != "visitor_1" || gotReq.Context.SessionID != "sess-1" {
		t.Errorf("request context = %+v, want visitor_1/sess-1", gotReq.Context)
	}

	if reply.Text != "We offer three growth packages." {
		t.Errorf("reply text = %q", reply.Text)
	}
	if reply.Qualification == nil || !reply.Qualification.Qualified {
		t.Errorf("qualification = %+v, want qualified", reply.Qualification)
	}
	if len(reply.SuggestedActions) != 2 {
		t.Errorf("suggested actions = %v, want 2 entries", reply.SuggestedActions)
	}
}

func TestProcessNonSuccessStatus(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status": "error", "error": "model overloaded"}`))
	})

	_, err := c.Process(context.Background(), Request{Message: "hi"})
	if !errors.Is(err, ErrProcessingFailed) {
		t.Fatalf("expected ErrProcessingFailed, got %v", err)
	}
}

func TestProcessMissingResultIsProcessingFailure(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status": "success"}`))
	})

	_, err := c.Process(context.Background(), Request{Message: "hi"})
	if !errors.Is(err, ErrProcessingFailed) {
		t.Fatalf("expected ErrProcessingFailed for success without result, got %v", err)
	}
}

func TestProcessTransportFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := srv.URL
	srv.Close() // connection refused from here on

	c, err := NewHTTPClient(HTTPClientConfig{
		Endpoint: endpoint,
		AgentID:  "marketing_site_agent",
		Timeout:  time.Second,
	}, nil)
	if err != nil {
		t.Fatalf("NewHTTPClient failed: %v", err)
	}

	_, err = c.Process(context.Background(), Request{Message: "hi"})
	if err == nil {
		t.Fatal("expected a transport error")
	}
	if errors.Is(err, ErrProcessingFailed) {
		t.Fatalf("transport failure must not be a processing failure: %v", err)
	}
}

func TestProcessMalformedBody(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	})

	_, err := c.Process(context.Background(), Request{Message: "hi"})
	if err == nil {
		t.Fatal("expected a decode error")
	}
	if errors.Is(err, ErrProcessingFailed) {
		t.Fatalf("decode failure must not be a processing failure: %v", err)
	}
}

func TestNewHTTPClientValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewHTTPClient(HTTPClientConfig{AgentID: "a"}, nil); err == nil {
		t.Error("expected error for missing endpoint")
	}
	if _, err := NewHTTPClient(HTTPClientConfig{Endpoint: "http://agent"}, nil); err == nil {
		t.Error("expected error for missing agent id")
	}
}
