package agentpod

import (
	"context"
	"net/http"

	"github.com/sashabaranov/go-openai"
)

// Backend is the chat completion endpoint a Client talks to. *openai.Client
// satisfies it; tests and gateways can supply their own.
type Backend interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// HTTPDoer executes HTTP requests. *http.Client satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Validator is implemented by output types that check their own field-level
// constraints after decoding. A failing Validate turns into a
// *SchemaValidationError.
type Validator interface {
	Validate() error
}

var _ Backend = (*openai.Client)(nil)
