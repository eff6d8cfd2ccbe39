// Package claude implements the incident explainer on the Anthropic
// Messages API.
package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/tidwall/gjson"

	"github.com/linnemanlabs/signaltrace/internal/evidence"
	"github.com/linnemanlabs/signaltrace/internal/explain"
)

var _ explain.Explainer = (*Client)(nil)

const (
	DefaultModel     = "claude-sonnet-4-5"
	DefaultMaxTokens = 1500
)

// Call kinds reported to hooks.
const (
	CallExplain = "explain"
	CallRepair  = "repair"
)

// Hooks are optional callbacks for metrics.
type Hooks struct {
	OnCall func(kind string, inputTokens, outputTokens int64, duration float64, err error)
}

// Client is an explain.Explainer backed by Claude.
type Client struct {
	sdk       anthropic.Client
	model     string
	maxTokens int64
	hooks     Hooks
}

type config struct {
	maxTokens  int64
	hooks      Hooks
	reqOptions []option.RequestOption
}

// Option configures a Client.
type Option func(*config)

// WithBaseURL points the client at a different API endpoint.
func WithBaseURL(u string) Option {
	return func(c *config) { c.reqOptions = append(c.reqOptions, option.WithBaseURL(u)) }
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.reqOptions = append(c.reqOptions, option.WithHTTPClient(hc)) }
}

// WithMaxTokens bounds response length.
func WithMaxTokens(n int64) Option {
	return func(c *config) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithHooks installs metric hooks.
func WithHooks(h Hooks) Option {
	return func(c *config) { c.hooks = h }
}

// New creates a Claude explainer. SDK-level retries are disabled; the
// guardrail owns the single repair retry.
func New(apiKey, model string, opts ...Option) *Client {
	if model == "" {
		model = DefaultModel
	}
	cfg := config{maxTokens: DefaultMaxTokens}
	for _, o := range opts {
		o(&cfg)
	}

	reqOpts := append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}, cfg.reqOptions...)

	return &Client{
		sdk:       anthropic.NewClient(reqOpts...),
		model:     model,
		maxTokens: cfg.maxTokens,
		hooks:     cfg.hooks,
	}
}

// Explain asks Claude to explain one incident. A reply without a JSON
// object yields (nil, nil).
func (c *Client) Explain(ctx context.Context, b *evidence.Bundle, signature string) (json.RawMessage, error) {
	text, err := c.send(ctx, CallExplain, systemPrompt(), userPrompt(b, signature), 0.1)
	if err != nil {
		return nil, err
	}
	raw, _ := extractJSON(text)
	return raw, nil
}

// Repair asks Claude to correct a rejected response.
func (c *Client) Repair(ctx context.Context, invalidJSON, errorText string) (json.RawMessage, error) {
	text, err := c.send(ctx, CallRepair, repairSystemPrompt, repairPrompt(invalidJSON, errorText), 0)
	if err != nil {
		return nil, err
	}
	raw, _ := extractJSON(text)
	return raw, nil
}

func (c *Client) send(ctx context.Context, kind, system, user string, temperature float64) (string, error) {
	start := time.Now()

	msg, err := c.sdk.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   c.maxTokens,
		Temperature: anthropic.Float(temperature),
		System:      []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})

	var in, out int64
	if msg != nil {
		in, out = msg.Usage.InputTokens, msg.Usage.OutputTokens
	}
	if c.hooks.OnCall != nil {
		c.hooks.OnCall(kind, in, out, time.Since(start).Seconds(), err)
	}
	if err != nil {
		return "", fmt.Errorf("claude %s: %w", kind, err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

// extractJSON pulls a JSON object out of a model reply, tolerating code
// fences and surrounding prose.
func extractJSON(text string) (json.RawMessage, bool) {
	text = strings.TrimSpace(text)
	if isObject(text) {
		return json.RawMessage(text), true
	}

	if strings.HasPrefix(text, "```") {
		var kept []string
		for _, line := range strings.Split(text, "\n") {
			if !strings.HasPrefix(line, "```") {
				kept = append(kept, line)
			}
		}
		text = strings.Join(kept, "\n")
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return nil, false
	}
	candidate := text[start : end+1]
	if !isObject(candidate) {
		return nil, false
	}
	return json.RawMessage(candidate), true
}

func isObject(s string) bool {
	return gjson.Valid(s) && gjson.Parse(s).IsObject()
}
