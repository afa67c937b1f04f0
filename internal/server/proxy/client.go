// Package proxy forwards completion requests to the upstream AI provider.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	DefaultMaxTokens      = 4096
	DefaultThinkingBudget = 4000
	defaultTemperature    = 1.0
)

// maxResponseBytes bounds a successful upstream body. Error bodies beyond it
// are truncated.
var maxResponseBytes int64 = 10 << 20

// Config describes the upstream endpoint.
type Config struct {
	URL     string
	APIKey  string
	Version string
	Model   string
	Timeout time.Duration
}

// Thinking enables extended reasoning on the upstream model.
type Thinking struct {
	BudgetTokens int `json:"budget_tokens,omitempty"`
}

// CompletionRequest is the subset of the upstream request the gateway lets
// clients control.
type CompletionRequest struct {
	Messages    []json.RawMessage `json:"messages" validate:"required,min=1"`
	MaxTokens   int               `json:"max_tokens,omitempty" validate:"omitempty,min=1,max=64000"`
	System      json.RawMessage   `json:"system,omitempty"`
	Temperature *float64          `json:"temperature,omitempty" validate:"omitempty,min=0,max=1"`
	Thinking    *Thinking         `json:"thinking,omitempty"`
}

type upstreamThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type upstreamRequest struct {
	Model       string            `json:"model"`
	MaxTokens   int               `json:"max_tokens"`
	Messages    []json.RawMessage `json:"messages"`
	System      json.RawMessage   `json:"system,omitempty"`
	Temperature float64           `json:"temperature"`
	Thinking    *upstreamThinking `json:"thinking,omitempty"`
}

// Usage reports token consumption of a completion.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Completion is a successful upstream response. Raw is passed to the
// caller untouched; the other fields are parsed for auditing.
type Completion struct {
	ID         string
	StopReason string
	Usage      Usage
	Raw        json.RawMessage
}

// UpstreamError is a non-2xx answer from the provider.
type UpstreamError struct {
	Status  int
	Message string
	Details json.RawMessage
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.Status, e.Message)
}

// ErrUpstreamUnavailable wraps transport failures talking to the provider.
var ErrUpstreamUnavailable = errors.New("ai provider unavailable")

// ErrResponseTooLarge is returned when a successful upstream body exceeds
// maxResponseBytes.
var ErrResponseTooLarge = errors.New("ai response too large")

// Client talks to the provider's messages endpoint.
type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool {
	return c.cfg.APIKey != ""
}

func (c *Client) buildRequest(req CompletionRequest) upstreamRequest {
	out := upstreamRequest{
		Model:       c.cfg.Model,
		MaxTokens:   req.MaxTokens,
		Messages:    req.Messages,
		System:      req.System,
		Temperature: defaultTemperature,
	}
	if out.MaxTokens == 0 {
		out.MaxTokens = DefaultMaxTokens
	}
	if req.Temperature != nil {
		out.Temperature = *req.Temperature
	}
	if req.Thinking != nil {
		budget := req.Thinking.BudgetTokens
		if budget == 0 {
			budget = DefaultThinkingBudget
		}
		out.Thinking = &upstreamThinking{Type: "enabled", BudgetTokens: budget}
	}
	return out
}

// Complete sends req upstream. A non-2xx answer yields *UpstreamError.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	body, err := json.Marshal(c.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", c.cfg.Version)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrUpstreamUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, upstreamError(resp.StatusCode, raw[:min(int64(len(raw)), maxResponseBytes)])
	}
	if int64(len(raw)) > maxResponseBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, maxResponseBytes)
	}

	var parsed struct {
		ID         string `json:"id"`
		StopReason string `json:"stop_reason"`
		Usage      Usage  `json:"usage"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode body: %w", ErrUpstreamUnavailable, err)
	}

	return &Completion{ID: parsed.ID, StopReason: parsed.StopReason, Usage: parsed.Usage, Raw: raw}, nil
}

func upstreamError(status int, raw []byte) *UpstreamError {
	e := &UpstreamError{Status: status, Message: "AI request failed"}

	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Valid(raw) {
		e.Details = raw
		if json.Unmarshal(raw, &body) == nil && body.Error.Message != "" {
			e.Message = body.Error.Message
		}
	}
	return e
}
