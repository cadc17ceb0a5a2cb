package conversation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lumenreach/chatwidget/internal/agent"
	"github.com/lumenreach/chatwidget/internal/domain"
	"github.com/lumenreach/chatwidget/internal/identity"
	"github.com/lumenreach/chatwidget/internal/store"
	"github.com/lumenreach/chatwidget/internal/transcript"
)

var (
	// ErrEmptyMessage is returned when the trimmed input is empty. The
	// conversation state is unchanged.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrResponsePending is returned when a send arrives while another
	// response is outstanding. The latecomer is rejected.
	ErrResponsePending = errors.New("a response is already pending")
	// ErrClosed is returned when the widget session has been torn down.
	ErrClosed = errors.New("widget session closed")
)

// Deps are the collaborators a Manager needs.
type Deps struct {
	Repo       store.Repository
	Agent      agent.Client
	IDs        identity.Source
	Transcript transcript.Logger
}

func (d Deps) withDefaults() Deps {
	if d.IDs == nil {
		d.IDs = identity.RandomSource{}
	}
	if d.Transcript == nil {
		d.Transcript = transcript.NewNoop()
	}
	return d
}

// Manager is the conversation state machine for one widget instance
// (one visitor + one widget load). It owns the message log, the
// awaiting-response flag, quick-reply visibility, and the greeting flag, and
// persists a snapshot on every log mutation.
type Manager struct {
	cfg       Config
	deps      Deps
	visitorID string
	sessionID string

	mu               sync.Mutex
	messages         []domain.Message
	opened           bool
	greeted          bool
	awaiting         bool
	quickReplies     []string
	showQuickReplies bool
	generation       uint64 // bumped on reset so stale agent replies are discarded
	greetTimer       *time.Timer
	closed           bool
	lastActivity     time.Time

	subscribers map[int]chan View
	nextSubID   int
}

// NewManager restores the visitor's conversation from the snapshot store, or
// starts fresh and arms the auto-greeting timer.
func NewManager(ctx context.Context, cfg Config, deps Deps, visitorID, sessionID string) (*Manager, error) {
	if deps.Repo == nil {
		return nil, errors.New("conversation: store repository is required")
	}
	if deps.Agent == nil {
		return nil, errors.New("conversation: agent client is required")
	}

	m := &Manager{
		cfg:          cfg.withDefaults(),
		deps:         deps.withDefaults(),
		visitorID:    visitorID,
		sessionID:    sessionID,
		lastActivity: time.Now(),
		subscribers:  make(map[int]chan View),
	}

	snap, err := m.deps.Repo.LoadSnapshot(ctx, visitorID)
	if err != nil {
		// Storage read failures are recovered as absence.
		slog.Warn("Failed to load conversation snapshot, starting fresh",
			"visitor_id", visitorID, "error", err)
		snap = nil
	}

	if !snap.Empty() {
		m.messages = snap.Messages
		m.greeted = true
		if suggestions := snap.LatestSuggestions(); len(suggestions) > 0 {
			m.quickReplies = suggestions
			m.showQuickReplies = true
		}
		return m, nil
	}

	if m.cfg.GreetingDelay > 0 {
		m.greetTimer = time.AfterFunc(m.cfg.GreetingDelay, m.deliverGreeting)
	}
	return m, nil
}

// SessionID returns the per-load session identifier.
func (m *Manager) SessionID() string { return m.sessionID }

// VisitorID returns the durable visitor identifier.
func (m *Manager) VisitorID() string { return m.visitorID }

// LastActivity returns the time of the last user intent, for idle eviction.
func (m *Manager) LastActivity() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActivity
}

// Open expands the widget panel.
func (m *Manager) Open() {
	m.mu.Lock()
	m.opened = true
	m.touchLocked()
	m.mu.Unlock()
	m.notify()
}

// Minimize collapses the widget panel. Conversation state is untouched.
func (m *Manager) Minimize() {
	m.mu.Lock()
	m.opened = false
	m.touchLocked()
	m.mu.Unlock()
	m.notify()
}

// Send appends the user's message, calls the agent, and appends the agent's
// reply (or a fixed apology). Selecting a quick reply is the same operation
// with the action label as text.
func (m *Manager) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	text = truncateMessage(text, m.cfg.MaxMessageChars)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.awaiting {
		m.mu.Unlock()
		return ErrResponsePending
	}

	m.stopGreetingTimerLocked()
	m.greeted = true
	m.showQuickReplies = false

	userMsg := domain.Message{
		ID:        m.deps.IDs.MessageID(),
		Role:      domain.RoleUser,
		Content:   text,
		CreatedAt: time.Now(),
	}
	m.messages = append(m.messages, userMsg)
	m.persistLocked(ctx)
	m.awaiting = true
	m.touchLocked()
	generation := m.generation

	req := agent.Request{
		Message: text,
		Context: agent.RequestContext{
			UserID:    m.visitorID,
			SessionID: m.sessionID,
		},
	}
	m.mu.Unlock()

	m.notify()
	m.deps.Transcript.Log(transcript.Event{
		VisitorID: m.visitorID,
		SessionID: m.sessionID,
		Direction: "outbound",
		EventType: "user_message",
		Content:   text,
	})

	reply, err := m.deps.Agent.Process(ctx, req)

	m.mu.Lock()
	// Awaiting clears before the response message is appended, so the widget
	// returns to idle even if persistence of the reply fails.
	m.awaiting = false

	if m.closed || m.generation != generation {
		// The conversation was reset or torn down while the call was in
		// flight; the late reply has no log to land in.
		m.mu.Unlock()
		m.notify()
		return nil
	}

	agentMsg := m.buildAgentMessageLocked(reply, err)
	m.messages = append(m.messages, agentMsg)
	m.persistLocked(ctx)
	m.mu.Unlock()

	m.notify()
	m.deps.Transcript.Log(transcript.Event{
		VisitorID: m.visitorID,
		SessionID: m.sessionID,
		Direction: "inbound",
		EventType: "agent_message",
		Content:   agentMsg.Content,
		Meta:      transcriptMeta(reply, err),
	})
	return nil
}

// buildAgentMessageLocked turns the agent call outcome into the message to
// append. Quick replies change only on a successful reply that carries
// suggestions.
func (m *Manager) buildAgentMessageLocked(reply *agent.Reply, err error) domain.Message {
	msg := domain.Message{
		ID:        m.deps.IDs.MessageID(),
		Role:      domain.RoleAgent,
		CreatedAt: time.Now(),
	}

	switch {
	case err == nil:
		msg.Content = reply.Text
		if strings.TrimSpace(msg.Content) == "" {
			msg.Content = m.cfg.EmptyReplyText
		}
		msg.SuggestedActions = reply.SuggestedActions
		msg.Qualification = reply.Qualification
		if len(reply.SuggestedActions) > 0 {
			m.quickReplies = reply.SuggestedActions
			m.showQuickReplies = true
		}
	case errors.Is(err, agent.ErrProcessingFailed):
		slog.Warn("Agent reported a processing failure",
			"visitor_id", m.visitorID, "session_id", m.sessionID, "error", err)
		msg.Content = m.cfg.ProcessingApology
	default:
		slog.Warn("Agent call failed",
			"visitor_id", m.visitorID, "session_id", m.sessionID, "error", err)
		msg.Content = m.cfg.NetworkApology
	}
	return msg
}

// Reset empties the log, deletes the stored snapshot, clears the greeting
// flag, hides quick replies, and re-arms the auto-greeting.
func (m *Manager) Reset(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}

	m.messages = nil
	m.greeted = false
	m.quickReplies = nil
	m.showQuickReplies = false
	m.generation++
	m.touchLocked()

	if err := m.deps.Repo.DeleteSnapshot(ctx, m.visitorID); err != nil {
		slog.Warn("Failed to delete conversation snapshot",
			"visitor_id", m.visitorID, "error", err)
	}

	m.stopGreetingTimerLocked()
	if m.cfg.GreetingDelay > 0 {
		m.greetTimer = time.AfterFunc(m.cfg.GreetingDelay, m.deliverGreeting)
	}
	m.mu.Unlock()

	m.notify()
	m.deps.Transcript.Log(transcript.Event{
		VisitorID: m.visitorID,
		SessionID: m.sessionID,
		Direction: "outbound",
		EventType: "reset",
	})
	return nil
}

// deliverGreeting synthesizes the local auto-greeting agent message. Runs on
// the greeting timer; a no-op once anything else has happened.
func (m *Manager) deliverGreeting() {
	m.mu.Lock()
	if m.closed || m.greeted || len(m.messages) > 0 {
		m.mu.Unlock()
		return
	}

	greeting := domain.Message{
		ID:               m.deps.IDs.MessageID(),
		Role:             domain.RoleAgent,
		Content:          m.cfg.GreetingText,
		CreatedAt:        time.Now(),
		SuggestedActions: m.cfg.GreetingActions,
	}
	m.messages = append(m.messages, greeting)
	m.greeted = true
	m.quickReplies = m.cfg.GreetingActions
	m.showQuickReplies = true
	m.persistLocked(context.Background())
	m.mu.Unlock()

	m.notify()
	m.deps.Transcript.Log(transcript.Event{
		VisitorID: m.visitorID,
		SessionID: m.sessionID,
		Direction: "inbound",
		EventType: "auto_greeting",
		Content:   m.cfg.GreetingText,
	})
}

// Close tears the widget instance down, cancelling the greeting timer and
// releasing subscribers.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.stopGreetingTimerLocked()
	for id, ch := range m.subscribers {
		close(ch)
		delete(m.subscribers, id)
	}
	m.mu.Unlock()
}

// persistLocked snapshots the current log. Persist only when the log is
// non-empty; save failures are logged and swallowed, never surfaced.
func (m *Manager) persistLocked(ctx context.Context) {
	if len(m.messages) == 0 {
		return
	}
	snap := &domain.Snapshot{
		Messages:  append([]domain.Message(nil), m.messages...),
		SessionID: m.sessionID,
		VisitorID: m.visitorID,
	}
	if err := m.deps.Repo.SaveSnapshot(ctx, m.visitorID, snap); err != nil {
		slog.Warn("Failed to save conversation snapshot",
			"visitor_id", m.visitorID, "message_count", len(snap.Messages), "error", err)
	}
}

func (m *Manager) stopGreetingTimerLocked() {
	if m.greetTimer != nil {
		m.greetTimer.Stop()
		m.greetTimer = nil
	}
}

func (m *Manager) touchLocked() {
	m.lastActivity = time.Now()
}

// truncateMessage caps user input at max characters.
func truncateMessage(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func transcriptMeta(reply *agent.Reply, err error) map[string]any {
	meta := map[string]any{}
	if err != nil {
		meta["error"] = err.Error()
		return meta
	}
	if reply.Qualification != nil {
		meta["is_qualified"] = reply.Qualification.Qualified
		meta["interest_level"] = reply.Qualification.InterestLevel
		meta["next_action"] = reply.Qualification.NextAction
	}
	if len(reply.SuggestedActions) > 0 {
		meta["suggested_actions"] = reply.SuggestedActions
	}
	return meta
}
