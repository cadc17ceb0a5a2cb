package conversation

import "github.com/lumenreach/chatwidget/internal/domain"

// View is the read model the presentation layer consumes: the message log,
// typing flag, quick replies, and the booking verdict derived from the latest
// qualification.
type View struct {
	VisitorID         string                    `json:"visitor_id"`
	SessionID         string                    `json:"session_id"`
	Opened            bool                      `json:"opened"`
	Greeted           bool                      `json:"greeted"`
	AwaitingResponse  bool                      `json:"awaiting_response"`
	Messages          []domain.Message          `json:"messages"`
	QuickReplies      []string                  `json:"quick_replies,omitempty"`
	ShowQuickReplies  bool                      `json:"show_quick_replies"`
	Qualification     *domain.LeadQualification `json:"lead_qualification,omitempty"`
	ShowBookingPrompt bool                      `json:"show_booking_prompt"`
	BookingURL        string                    `json:"booking_url,omitempty"`
}

// View returns a copy of the current state.
func (m *Manager) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewLocked()
}

func (m *Manager) viewLocked() View {
	snap := domain.Snapshot{Messages: m.messages}
	qualification := snap.LatestQualification()

	v := View{
		VisitorID:        m.visitorID,
		SessionID:        m.sessionID,
		Opened:           m.opened,
		Greeted:          m.greeted,
		AwaitingResponse: m.awaiting,
		Messages:         append([]domain.Message(nil), m.messages...),
		QuickReplies:     append([]string(nil), m.quickReplies...),
		ShowQuickReplies: m.showQuickReplies,
		Qualification:    qualification,
	}
	if qualification.WantsBooking() {
		v.ShowBookingPrompt = true
		v.BookingURL = m.cfg.BookingURL
	}
	return v
}

// Subscribe registers for state change notifications. The returned channel
// receives a View after every transition and is closed when the manager
// closes; the cancel function unsubscribes.
func (m *Manager) Subscribe() (<-chan View, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		ch := make(chan View)
		close(ch)
		return ch, func() {}
	}

	id := m.nextSubID
	m.nextSubID++
	ch := make(chan View, 8)
	m.subscribers[id] = ch

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if sub, ok := m.subscribers[id]; ok {
			delete(m.subscribers, id)
			close(sub)
		}
	}
}

// notify pushes the current view to all subscribers. Sends never block; a
// slow consumer misses intermediate views and catches up on the next one.
func (m *Manager) notify() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	view := m.viewLocked()
	subs := make([]chan View, 0, len(m.subscribers))
	for _, ch := range m.subscribers {
		subs = append(subs, ch)
	}
	m.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- view:
		default:
		}
	}
}
