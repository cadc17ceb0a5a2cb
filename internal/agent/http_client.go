package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// HTTPClient implements Client against the agent's JSON-over-HTTP endpoint.
type HTTPClient struct {
	endpoint string
	agentID  string
	client   *http.Client
	logger   *slog.Logger
}

// HTTPClientConfig holds configuration for the HTTP client.
type HTTPClientConfig struct {
	Endpoint string
	AgentID  string
	Timeout  time.Duration
}

// NewHTTPClient creates a client for the remote agent endpoint.
func NewHTTPClient(cfg HTTPClientConfig, logger *slog.Logger) (*HTTPClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("agent endpoint is required")
	}
	if cfg.AgentID == "" {
		return nil, fmt.Errorf("agent id is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &HTTPClient{
		endpoint: cfg.Endpoint,
		agentID:  cfg.AgentID,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}, nil
}

// Process sends the message and decodes the agent's response envelope.
func (c *HTTPClient) Process(ctx context.Context, req Request) (*Reply, error) {
	if req.AgentID == "" {
		req.AgentID = c.agentID
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal agent request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create agent request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call agent: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close agent response body", "error", closeErr)
		}
	}()

	// The agent reports failures through the envelope status, so the body is
	// decoded regardless of the HTTP status code.
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode agent response (http %d): %w", resp.StatusCode, err)
	}

	c.logger.Debug("Agent call completed",
		"status", env.Status,
		"http_status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if env.Status != "success" || env.Result == nil {
		if env.Error != "" {
			return nil, fmt.Errorf("%w: %s", ErrProcessingFailed, env.Error)
		}
		return nil, fmt.Errorf("%w: status %q", ErrProcessingFailed, env.Status)
	}

	return &Reply{
		Text:             env.Result.Message,
		Qualification:    env.Result.LeadQualification,
		SuggestedActions: env.Result.SuggestedActions,
	}, nil
}
