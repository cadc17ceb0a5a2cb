// Package conversation owns the widget conversation state machine.
package conversation

import "time"

// Widget defaults. These are the user-visible constants of the widget;
// deployments override them through Config.
const (
	DefaultGreetingDelay   = 5 * time.Second
	DefaultMaxMessageChars = 250

	DefaultGreetingText      = "Hi there! I'm Lumen, the LumenReach assistant. How can I help you today?"
	DefaultEmptyReplyText    = "I'm sorry, I wasn't able to come up with a response. Could you rephrase that?"
	DefaultProcessingApology = "I'm sorry, I had trouble processing that. Please try again in a moment."
	DefaultNetworkApology    = "I'm sorry, something went wrong reaching our assistant. Please check your connection and try again."
)

// DefaultGreetingActions returns the fixed suggested actions attached to the
// auto-greeting.
func DefaultGreetingActions() []string {
	return []string{
		"What services do you offer?",
		"How does pricing work?",
		"Book a consultation",
		"Talk to a human",
	}
}

// Config carries the constants a Manager is constructed with, rather than
// reading them from package globals.
type Config struct {
	GreetingDelay     time.Duration
	GreetingText      string
	GreetingActions   []string
	MaxMessageChars   int
	BookingURL        string
	EmptyReplyText    string
	ProcessingApology string
	NetworkApology    string
}

// DefaultConfig returns the stock widget configuration.
func DefaultConfig() Config {
	return Config{
		GreetingDelay:     DefaultGreetingDelay,
		GreetingText:      DefaultGreetingText,
		GreetingActions:   DefaultGreetingActions(),
		MaxMessageChars:   DefaultMaxMessageChars,
		EmptyReplyText:    DefaultEmptyReplyText,
		ProcessingApology: DefaultProcessingApology,
		NetworkApology:    DefaultNetworkApology,
	}
}

// withDefaults fills zero-valued fields so partially specified configs still
// behave.
func (c Config) withDefaults() Config {
	if c.GreetingText == "" {
		c.GreetingText = DefaultGreetingText
	}
	if c.GreetingActions == nil {
		c.GreetingActions = DefaultGreetingActions()
	}
	if c.MaxMessageChars <= 0 {
		c.MaxMessageChars = DefaultMaxMessageChars
	}
	if c.EmptyReplyText == "" {
		c.EmptyReplyText = DefaultEmptyReplyText
	}
	if c.ProcessingApology == "" {
		c.ProcessingApology = DefaultProcessingApology
	}
	if c.NetworkApology == "" {
		c.NetworkApology = DefaultNetworkApology
	}
	return c
}
