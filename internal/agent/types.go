// Package agent implements the client boundary to the remote AI agent.
package agent

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/lumenreach/chatwidget/internal/domain"
)

// ErrProcessingFailed indicates the agent answered but reported a non-success
// status. Transport and decoding failures are returned as ordinary wrapped
// errors; callers use this sentinel to tell the two cases apart.
var ErrProcessingFailed = errors.New("agent could not process message")

// Request carries one user message plus identifiers to the agent.
type Request struct {
	Message string         `json:"message"`
	AgentID string         `json:"agent_id"`
	Context RequestContext `json:"context"`
}

// RequestContext identifies who is talking in this request.
type RequestContext struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// envelope is the agent's wire response.
type envelope struct {
	Status string  `json:"status"`
	Result *result `json:"result"`
	Error  string  `json:"error,omitempty"`
}

type result struct {
	Message           string                    `json:"message"`
	LeadQualification *domain.LeadQualification `json:"lead_qualification"`
	SourcesUsed       []json.RawMessage         `json:"sources_used"` // opaque, unused by the widget
	SuggestedActions  []string                  `json:"suggested_actions"`
}

// Reply is the decoded success payload handed to the conversation core.
type Reply struct {
	Text             string
	Qualification    *domain.LeadQualification
	SuggestedActions []string
}

// Client defines the boundary to the remote agent.
type Client interface {
	// Process sends a message and returns the structured reply. A reply
	// with a non-success status yields an error wrapping
	// ErrProcessingFailed; network and decoding failures yield other
	// errors.
	Process(ctx context.Context, req Request) (*Reply, error)
}
