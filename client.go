package agentpod

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Client sends conversations to an LLM backend, coerces replies into typed
// values and records what each call cost.
type Client struct {
	backend         Backend
	model           string
	tracker         *UsageTracker
	pricing         Pricing
	hasPricing      bool
	mode            StructuredMode
	temperature     *float32
	maxTokens       int
	maxPromptTokens int
	counter         TokenCounter
	baseURL         string
	httpClient      HTTPDoer
	logger          *zap.Logger
}

// New constructs a Client. apiKey is required unless WithBackend supplies a
// transport.
func New(apiKey string, opts ...Option) (*Client, error) {
	c := &Client{
		model:  DefaultModel,
		mode:   ModeJSONSchema,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.model == "" {
		return nil, &ConfigurationError{Field: "model", Message: "must not be empty"}
	}
	if c.backend == nil {
		if strings.TrimSpace(apiKey) == "" {
			return nil, &ConfigurationError{Field: "api_key", Message: "is required"}
		}
		cfg := openai.DefaultConfig(apiKey)
		if c.baseURL != "" {
			cfg.BaseURL = c.baseURL
		}
		if c.httpClient != nil {
			cfg.HTTPClient = c.httpClient
		}
		c.backend = openai.NewClientWithConfig(cfg)
	}
	if c.hasPricing {
		if err := ValidateCost(c.pricing.InputPerMillion); err != nil {
			return nil, &ConfigurationError{Field: "pricing", Message: err.Error()}
		}
		if err := ValidateCost(c.pricing.OutputPerMillion); err != nil {
			return nil, &ConfigurationError{Field: "pricing", Message: err.Error()}
		}
	} else if p, ok := LookupPricing(c.model); ok {
		c.pricing = p
	} else {
		c.logger.Warn("no pricing known for model; calls will be recorded at zero cost", zap.String("model", c.model))
	}
	return c, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

// UsageTracker returns the client's tracker, which may be nil.
func (c *Client) UsageTracker() *UsageTracker { return c.tracker }

// Invoke sends msgs and returns the reply as an assistant message.
func (c *Client) Invoke(ctx context.Context, msgs []Message) (Message, error) {
	req, err := c.newRequest(ctx, msgs)
	if err != nil {
		return Message{}, err
	}
	resp, err := c.complete(ctx, req)
	if err != nil {
		return Message{}, err
	}
	reply := resp.Choices[0].Message
	if strings.TrimSpace(reply.Content) == "" {
		if reply.Refusal != "" {
			return Message{}, EmptyResponseError("refused: " + reply.Refusal)
		}
		return Message{}, EmptyResponseError("no content")
	}
	return AssistantMessage(reply.Content), nil
}

// InvokeStructured sends msgs, asks for output matching schema and decodes
// the reply into out, which must be a pointer. The call is billed even when
// decoding fails.
func (c *Client) InvokeStructured(ctx context.Context, msgs []Message, schema OutputSchema, out any) error {
	req, err := c.newRequest(ctx, msgs)
	if err != nil {
		return err
	}
	if err := c.applySchema(&req, schema); err != nil {
		return err
	}
	resp, err := c.complete(ctx, req)
	if err != nil {
		return err
	}

	reply := resp.Choices[0].Message
	raw := reply.Content
	if c.mode == ModeFunctionCall {
		for _, tc := range reply.ToolCalls {
			if tc.Function.Name == schema.Name {
				raw = tc.Function.Arguments
				break
			}
		}
	}
	if strings.TrimSpace(raw) == "" && reply.Refusal != "" {
		return &SchemaValidationError{Schema: schema.Name, Raw: reply.Refusal, Err: errors.New("backend refused to answer")}
	}
	if err := schema.Decode(raw, out); err != nil {
		return err
	}
	if v, ok := out.(Validator); ok {
		if err := v.Validate(); err != nil {
			return &SchemaValidationError{Schema: schema.Name, Raw: raw, Err: err}
		}
	}
	return nil
}

// InvokeAs invokes c and coerces the reply into T. T may be a struct, a
// scalar, or a slice; for slices the backend decides the length.
func InvokeAs[T any](ctx context.Context, c *Client, msgs []Message) (T, error) {
	var out T
	schema, err := SchemaFor[T]()
	if err != nil {
		return out, err
	}
	err = c.InvokeStructured(ctx, msgs, schema, &out)
	return out, err
}

func (c *Client) newRequest(ctx context.Context, msgs []Message) (openai.ChatCompletionRequest, error) {
	if err := validateMessages(msgs); err != nil {
		return openai.ChatCompletionRequest{}, err
	}
	if c.maxPromptTokens > 0 {
		counter := c.counter
		if counter == nil {
			counter = TokenCounterForModel(c.model)
		}
		if est := estimatePromptTokens(counter, msgs); est > c.maxPromptTokens {
			return openai.ChatCompletionRequest{}, &BackendError{
				Code:    ErrCodeContextLength,
				Message: fmt.Sprintf("estimated %d prompt tokens exceeds limit of %d", est, c.maxPromptTokens),
			}
		}
	}

	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(msgs)),
	}
	for _, m := range msgs {
		req.Messages = append(req.Messages, m.toOpenAI())
	}
	if c.temperature != nil {
		req.Temperature = *c.temperature
	}
	if c.maxTokens > 0 {
		req.MaxCompletionTokens = c.maxTokens
	}
	ri := requestInfoFrom(ctx)
	req.Metadata = ri.requestMetadata()
	req.User = ri.customerID
	return req, nil
}

func (c *Client) applySchema(req *openai.ChatCompletionRequest, schema OutputSchema) error {
	def := schema.Definition()
	switch c.mode {
	case ModeJSONSchema:
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:        schema.Name,
				Description: schema.Description,
				Schema:      &def,
				Strict:      schema.Strict(),
			},
		}
	case ModeFunctionCall:
		req.Tools = []openai.Tool{{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        schema.Name,
				Description: schema.Description,
				Strict:      schema.Strict(),
				Parameters:  &def,
			},
		}}
		req.ToolChoice = openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: schema.Name},
		}
	case ModeJSONObject:
		js, err := schema.JSON()
		if err != nil {
			return fmt.Errorf("render schema %s: %w", schema.Name, err)
		}
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
		instruction := openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: jsonObjectInstruction(string(js)),
		}
		req.Messages = append([]openai.ChatCompletionMessage{instruction}, req.Messages...)
	default:
		return &ConfigurationError{Field: "structured_mode", Message: c.mode.String()}
	}
	return nil
}

func jsonObjectInstruction(schema string) string {
	return "Respond with a single JSON object that conforms to this JSON Schema. " +
		"Do not add commentary or code fences.\n\n" + schema
}

// complete performs one backend round trip and records its cost. A response
// that arrives is billed even if it turns out to be unusable.
func (c *Client) complete(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	log := c.logger.With(zap.String("call_id", uuid.NewString()), zap.String("model", req.Model))
	start := time.Now()
	resp, err := c.backend.CreateChatCompletion(ctx, req)
	if err != nil {
		err = mapBackendError(err)
		log.Warn("chat completion failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return resp, err
	}

	cost := c.record(ctx, resp.Usage)
	log.Debug("chat completion",
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Float64("cost", cost),
		zap.Duration("elapsed", time.Since(start)))

	if len(resp.Choices) == 0 {
		return resp, EmptyResponseError("no choices")
	}
	return resp, nil
}

func (c *Client) record(ctx context.Context, usage openai.Usage) float64 {
	cost, err := CostForUsage(c.pricing, usage.PromptTokens, usage.CompletionTokens)
	if err != nil {
		c.logger.Warn("discarding invalid usage report", zap.Error(err))
		return 0
	}
	for _, t := range Trackers(ctx, c.tracker) {
		t.recordCompletion(cost, usage.PromptTokens, usage.CompletionTokens)
	}
	return cost
}
