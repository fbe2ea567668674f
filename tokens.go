package agentpod

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Chat format overhead, per the backend's published counting rules.
const (
	tokensPerMessage = 3
	tokensPerRole    = 1
	tokensReplyPrime = 3
	tokensPerImage   = 85
)

// TokenCounter counts tokens in a piece of text.
type TokenCounter interface {
	CountTokens(text string) int
}

// TokenCounterFunc adapts a function to TokenCounter.
type TokenCounterFunc func(text string) int

// CountTokens implements TokenCounter.
func (f TokenCounterFunc) CountTokens(text string) int { return f(text) }

// HeuristicTokenCounter approximates tokens as 4/3 per word. It is used when
// no BPE encoding can be loaded.
var HeuristicTokenCounter = TokenCounterFunc(func(text string) int {
	words := len(strings.Fields(text))
	return (words*4 + 2) / 3
})

type bpeCounter struct {
	enc *tiktoken.Tiktoken
}

func (b bpeCounter) CountTokens(text string) int {
	return len(b.enc.Encode(text, nil, nil))
}

var (
	encodingMu    sync.Mutex
	encodingCache = map[string]TokenCounter{}
)

// encodingName picks the BPE encoding for model. Azure aliases share the
// encoding of the underlying model.
func encodingName(model string) string {
	m := strings.TrimPrefix(strings.ToLower(model), "azure/")
	switch {
	case strings.HasPrefix(m, "gpt-4o"), strings.HasPrefix(m, "o1"),
		strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"), strings.HasPrefix(m, "gpt-5"):
		return tiktoken.MODEL_O200K_BASE
	}
	return tiktoken.MODEL_CL100K_BASE
}

// TokenCounterForModel returns a BPE counter for model. Encodings are loaded
// once per process; when loading fails the heuristic counter is returned and
// cached so the failure is not retried on every call.
func TokenCounterForModel(model string) TokenCounter {
	name := encodingName(model)
	encodingMu.Lock()
	defer encodingMu.Unlock()
	if c, ok := encodingCache[name]; ok {
		return c
	}
	var c TokenCounter = HeuristicTokenCounter
	if enc, err := tiktoken.GetEncoding(name); err == nil {
		c = bpeCounter{enc: enc}
	}
	encodingCache[name] = c
	return c
}

// EstimatePromptTokens estimates the prompt size of msgs for model. Billing
// never uses this number; it only guards oversized requests and feeds logs.
func EstimatePromptTokens(model string, msgs []Message) int {
	return estimatePromptTokens(TokenCounterForModel(model), msgs)
}

func estimatePromptTokens(counter TokenCounter, msgs []Message) int {
	total := tokensReplyPrime
	for _, m := range msgs {
		total += tokensPerMessage + tokensPerRole
		if !m.IsMultipart() {
			total += counter.CountTokens(m.text)
			continue
		}
		for _, p := range m.parts {
			switch v := p.(type) {
			case TextContent:
				total += counter.CountTokens(v.Text)
			case ImageContent:
				total += tokensPerImage
			}
		}
	}
	return total
}
