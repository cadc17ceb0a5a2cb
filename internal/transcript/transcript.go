// Package transcript writes NDJSON conversation transcripts so the marketing
// team can review lead conversations offline.
package transcript

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event is one transcript line.
type Event struct {
	Timestamp string         `json:"ts"`
	VisitorID string         `json:"visitor_id"`
	SessionID string         `json:"session_id"`
	Direction string         `json:"direction"` // "inbound" (to visitor) or "outbound" (from visitor)
	EventType string         `json:"event_type"`
	Content   string         `json:"content,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// Logger records conversation transcript events.
type Logger interface {
	// Log enqueues an event. Never blocks; events are dropped when the
	// queue is full.
	Log(event Event)
	// Close flushes queued events and releases resources.
	Close() error
}

// NewNoop returns a Logger that discards everything.
func NewNoop() Logger { return noopLogger{} }

type noopLogger struct{}

func (noopLogger) Log(Event)   {}
func (noopLogger) Close() error { return nil }

// Config controls the file logger.
type Config struct {
	Dir       string
	QueueSize int
}

// FileLogger appends one NDJSON file per visitor/session under Dir. Writes
// happen on a background goroutine fed by a bounded queue.
type FileLogger struct {
	dir     string
	queue   chan Event
	done    chan struct{}
	logger  *slog.Logger
	once    sync.Once
	dropped int64
	mu      sync.Mutex // guards dropped
}

// NewFileLogger creates the transcript directory and starts the writer.
func NewFileLogger(cfg Config, logger *slog.Logger) (*FileLogger, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("transcript dir is required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create transcript directory: %w", err)
	}

	l := &FileLogger{
		dir:    cfg.Dir,
		queue:  make(chan Event, cfg.QueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	go l.writeLoop()
	return l, nil
}

// Log enqueues an event, stamping the timestamp when absent.
func (l *FileLogger) Log(event Event) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	select {
	case l.queue <- event:
	default:
		l.mu.Lock()
		l.dropped++
		dropped := l.dropped
		l.mu.Unlock()
		if dropped%100 == 1 {
			l.logger.Warn("Transcript queue full, dropping events", "dropped_total", dropped)
		}
	}
}

// Close drains the queue and stops the writer.
func (l *FileLogger) Close() error {
	l.once.Do(func() {
		close(l.queue)
		<-l.done
	})
	return nil
}

func (l *FileLogger) writeLoop() {
	defer close(l.done)
	for event := range l.queue {
		if err := l.append(event); err != nil {
			l.logger.Warn("Failed to write transcript event",
				"visitor_id", event.VisitorID,
				"session_id", event.SessionID,
				"error", err,
			)
		}
	}
}

func (l *FileLogger) append(event Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal transcript event: %w", err)
	}

	dir := filepath.Join(l.dir, sanitizePathComponent(event.VisitorID))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create visitor transcript directory: %w", err)
	}

	path := filepath.Join(dir, sanitizePathComponent(event.SessionID)+".ndjson")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open transcript file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			l.logger.Debug("failed to close transcript file", "path", path, "error", closeErr)
		}
	}()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append transcript line: %w", err)
	}
	return nil
}

// sanitizePathComponent keeps identifiers safe to use as file names.
func sanitizePathComponent(s string) string {
	if s == "" {
		return "unknown"
	}
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
