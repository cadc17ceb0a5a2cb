// Package domain contains core domain types for the chat widget service.
package domain

import (
	"strings"
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	// RoleUser marks a visitor-authored message.
	RoleUser Role = "user"
	// RoleAgent marks a message produced by (or on behalf of) the AI agent.
	RoleAgent Role = "agent"
)

// LeadQualification is the verdict an agent response may attach, indicating
// whether the visitor is a sales-ready lead and what to do next.
type LeadQualification struct {
	Qualified     bool   `json:"is_qualified"`
	InterestLevel string `json:"interest_level"`
	NextAction    string `json:"next_action"`
}

// WantsBooking reports whether the qualification should surface the booking
// prompt: the visitor is qualified and the suggested next action mentions
// booking.
func (q *LeadQualification) WantsBooking() bool {
	if q == nil || !q.Qualified {
		return false
	}
	return strings.Contains(strings.ToLower(q.NextAction), "book")
}

// Message is a single entry in the conversation log. Messages are immutable
// once created; the log is an append-only ordered sequence.
type Message struct {
	ID               string             `json:"id"`
	Role             Role               `json:"role"`
	Content          string             `json:"content"`
	CreatedAt        time.Time          `json:"created_at"`
	SuggestedActions []string           `json:"suggested_actions,omitempty"`
	Qualification    *LeadQualification `json:"lead_qualification,omitempty"`
}

// IsAgent reports whether the message was authored by the agent.
func (m *Message) IsAgent() bool {
	return m.Role == RoleAgent
}
