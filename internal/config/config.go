// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port       string
	SiteURL    string // origin of the marketing site embedding the widget
	DBPath     string
	Agent      AgentConfig
	Widget     WidgetConfig
	RateLimit  RateLimitConfig
	Transcript TranscriptConfig
}

// AgentConfig points at the remote AI agent endpoint.
type AgentConfig struct {
	Endpoint string
	AgentID  string
	Timeout  time.Duration
}

// WidgetConfig carries the user-visible widget constants. They are
// configuration rather than package globals so the conversation core can be
// constructed with explicit values.
type WidgetConfig struct {
	GreetingDelay   time.Duration
	MaxMessageChars int
	BookingURL      string
	SessionTTL      time.Duration
}

// RateLimitConfig controls per-visitor message throttling.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// TranscriptConfig controls NDJSON conversation transcript logging.
type TranscriptConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:    getEnv("PORT", "8080"),
		SiteURL: getEnv("SITE_URL", ""),
		DBPath:  getEnv("DB_PATH", "./data/widget.db"),
		Agent: AgentConfig{
			Endpoint: getEnv("AGENT_ENDPOINT", ""),
			AgentID:  getEnv("AGENT_ID", "marketing_site_agent"),
			Timeout:  time.Duration(getEnvInt("AGENT_TIMEOUT_SECONDS", 30)) * time.Second,
		},
		Widget: WidgetConfig{
			GreetingDelay:   time.Duration(getEnvInt("WIDGET_GREETING_DELAY_MS", 5000)) * time.Millisecond,
			MaxMessageChars: getEnvInt("WIDGET_MAX_MESSAGE_CHARS", 250),
			BookingURL:      getEnv("BOOKING_URL", "https://cal.com/lumenreach/intro"),
			SessionTTL:      time.Duration(getEnvInt("WIDGET_SESSION_TTL_MINUTES", 30)) * time.Minute,
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 10),
			WindowDuration:    time.Duration(getEnvInt("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second,
		},
		Transcript: TranscriptConfig{
			Enabled:   getEnvBool("TRANSCRIPT_LOG_ENABLED", false),
			Dir:       getEnv("TRANSCRIPT_LOG_DIR", "./data/transcripts"),
			QueueSize: getEnvInt("TRANSCRIPT_LOG_QUEUE_SIZE", 1000),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Agent.Endpoint == "" {
		return fmt.Errorf("AGENT_ENDPOINT cannot be empty")
	}
	if c.Agent.AgentID == "" {
		return fmt.Errorf("AGENT_ID cannot be empty")
	}
	if c.Agent.Timeout <= 0 {
		return fmt.Errorf("AGENT_TIMEOUT_SECONDS must be > 0")
	}
	if c.Widget.MaxMessageChars <= 0 {
		return fmt.Errorf("WIDGET_MAX_MESSAGE_CHARS must be > 0")
	}
	if c.Widget.GreetingDelay < 0 {
		return fmt.Errorf("WIDGET_GREETING_DELAY_MS cannot be negative")
	}
	if c.Widget.SessionTTL <= 0 {
		return fmt.Errorf("WIDGET_SESSION_TTL_MINUTES must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.Transcript.Enabled && c.Transcript.Dir == "" {
		return fmt.Errorf("TRANSCRIPT_LOG_DIR cannot be empty when transcript logging is enabled")
	}
	if c.Transcript.QueueSize <= 0 {
		return fmt.Errorf("TRANSCRIPT_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.SiteURL == "" ||
		strings.Contains(c.SiteURL, "localhost") ||
		strings.Contains(c.SiteURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}
