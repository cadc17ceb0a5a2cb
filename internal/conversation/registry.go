package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const evictionSweepInterval = time.Minute

// snapshotRetention bounds how long an untouched snapshot row survives in the
// store before the eviction worker prunes it.
const snapshotRetention = 30 * 24 * time.Hour

// Registry tracks live widget managers keyed by visitor and session. Each
// widget load gets its own Manager; idle ones are evicted in the background.
type Registry struct {
	cfg  Config
	deps Deps

	mu       sync.RWMutex
	managers map[string]*Manager
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config, deps Deps) *Registry {
	return &Registry{
		cfg:      cfg.withDefaults(),
		deps:     deps.withDefaults(),
		managers: make(map[string]*Manager),
	}
}

func registryKey(visitorID, sessionID string) string {
	return visitorID + ":" + sessionID
}

// Open mints a fresh session ID and creates a Manager for the visitor,
// restoring any stored conversation snapshot.
func (r *Registry) Open(ctx context.Context, visitorID string) (*Manager, error) {
	sessionID := r.deps.IDs.SessionID()
	m, err := NewManager(ctx, r.cfg, r.deps, visitorID, sessionID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.managers[registryKey(visitorID, sessionID)] = m
	r.mu.Unlock()

	slog.Info("Widget session opened", "visitor_id", visitorID, "session_id", sessionID)
	return m, nil
}

// Get returns the live manager for a visitor/session, or nil.
func (r *Registry) Get(visitorID, sessionID string) *Manager {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.managers[registryKey(visitorID, sessionID)]
}

// Remove closes and forgets the manager for a visitor/session.
func (r *Registry) Remove(visitorID, sessionID string) {
	key := registryKey(visitorID, sessionID)

	r.mu.Lock()
	m, ok := r.managers[key]
	if ok {
		delete(r.managers, key)
	}
	r.mu.Unlock()

	if ok {
		m.Close()
		slog.Info("Widget session removed", "visitor_id", visitorID, "session_id", sessionID)
	}
}

// CloseAll tears down every live manager. Used at shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	managers := make([]*Manager, 0, len(r.managers))
	for _, m := range r.managers {
		managers = append(managers, m)
	}
	r.managers = make(map[string]*Manager)
	r.mu.Unlock()

	for _, m := range managers {
		m.Close()
	}
}

// StartEviction runs a background goroutine that closes managers idle past
// ttl and prunes long-untouched snapshot rows.
func (r *Registry) StartEviction(ctx context.Context, ttl time.Duration) {
	ticker := time.NewTicker(evictionSweepInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("Widget eviction worker started", "interval", evictionSweepInterval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				r.evictIdle(ctx, ttl)
			case <-ctx.Done():
				slog.Info("Widget eviction worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func (r *Registry) evictIdle(ctx context.Context, ttl time.Duration) {
	cutoff := time.Now().Add(-ttl)

	r.mu.Lock()
	var expired []*Manager
	for key, m := range r.managers {
		if m.LastActivity().Before(cutoff) {
			expired = append(expired, m)
			delete(r.managers, key)
		}
	}
	r.mu.Unlock()

	for _, m := range expired {
		m.Close()
		slog.Info("Widget session evicted",
			"visitor_id", m.VisitorID(), "session_id", m.SessionID())
	}

	if pruned, err := r.deps.Repo.PruneSnapshots(ctx, snapshotRetention); err != nil {
		slog.Error("Eviction worker failed to prune snapshots", "error", err)
	} else if pruned > 0 {
		slog.Info("Eviction worker pruned stale snapshots", "count", pruned)
	}
}
