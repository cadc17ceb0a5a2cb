package domain

// Snapshot is the complete persisted conversation state, written and read as
// a single unit. The JSON field names match the widget's original storage
// layout, so existing snapshots remain readable.
type Snapshot struct {
	Messages  []Message `json:"messages"`
	SessionID string    `json:"sessionId"`
	VisitorID string    `json:"userId"`
}

// LatestQualification returns the qualification attached to the most recent
// agent message that carries one, which is not necessarily the last message
// overall. Returns nil if no agent message has a qualification.
func (s *Snapshot) LatestQualification() *LeadQualification {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		m := &s.Messages[i]
		if m.IsAgent() && m.Qualification != nil {
			return m.Qualification
		}
	}
	return nil
}

// LatestSuggestions returns the suggested actions on the most recent agent
// message, used to re-derive quick replies when a conversation is restored.
func (s *Snapshot) LatestSuggestions() []string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		m := &s.Messages[i]
		if m.IsAgent() {
			return m.SuggestedActions
		}
	}
	return nil
}

// Empty reports whether the snapshot holds no messages. Empty snapshots are
// never persisted.
func (s *Snapshot) Empty() bool {
	return s == nil || len(s.Messages) == 0
}
