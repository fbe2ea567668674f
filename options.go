package agentpod

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// StructuredMode selects how a Client asks the backend for typed output.
type StructuredMode int

const (
	// ModeJSONSchema uses the backend's native json_schema response format.
	ModeJSONSchema StructuredMode = iota
	// ModeFunctionCall forces a single tool call whose parameters are the schema.
	ModeFunctionCall
	// ModeJSONObject requests a JSON object and describes the schema in a
	// system message, for backends without schema support.
	ModeJSONObject
)

func (m StructuredMode) String() string {
	switch m {
	case ModeJSONSchema:
		return "json_schema"
	case ModeFunctionCall:
		return "function_call"
	case ModeJSONObject:
		return "json_object"
	}
	return fmt.Sprintf("StructuredMode(%d)", int(m))
}

// ParseStructuredMode is the inverse of StructuredMode.String.
func ParseStructuredMode(s string) (StructuredMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json_schema", "schema":
		return ModeJSONSchema, nil
	case "function_call", "function", "tools":
		return ModeFunctionCall, nil
	case "json_object", "json":
		return ModeJSONObject, nil
	}
	return 0, &ConfigurationError{Field: "structured_mode", Message: fmt.Sprintf("unknown mode %q", s)}
}

// Option configures a Client.
type Option func(*Client)

// WithModel sets the model identifier sent with every request.
func WithModel(model string) Option {
	return func(c *Client) { c.model = strings.TrimSpace(model) }
}

// WithUsageTracker makes the client record every billed call into t.
func WithUsageTracker(t *UsageTracker) Option {
	return func(c *Client) { c.tracker = t }
}

// WithPricing overrides the built-in rates for the configured model.
func WithPricing(p Pricing) Option {
	return func(c *Client) {
		c.pricing = p
		c.hasPricing = true
	}
}

// WithBaseURL points the client at an OpenAI-compatible gateway.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(strings.TrimSpace(url), "/") }
}

// WithHTTPClient sets the HTTP client used for backend calls.
func WithHTTPClient(h HTTPDoer) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithBackend replaces the OpenAI transport entirely. The API key is not
// required when a backend is supplied.
func WithBackend(b Backend) Option {
	return func(c *Client) { c.backend = b }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithStructuredMode selects how typed output is requested.
func WithStructuredMode(m StructuredMode) Option {
	return func(c *Client) { c.mode = m }
}

// WithTemperature sets the sampling temperature. When unset the backend
// default applies, which is required for reasoning models.
func WithTemperature(t float32) Option {
	return func(c *Client) { c.temperature = &t }
}

// WithMaxTokens caps completion tokens per call.
func WithMaxTokens(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithMaxPromptTokens rejects calls whose estimated prompt exceeds n tokens
// before anything is sent.
func WithMaxPromptTokens(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxPromptTokens = n
		}
	}
}

// WithTokenCounter overrides the counter used for prompt estimates.
func WithTokenCounter(tc TokenCounter) Option {
	return func(c *Client) { c.counter = tc }
}
