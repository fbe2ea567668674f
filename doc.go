// Package agentpod is a thin client layer over an OpenAI-compatible chat
// backend, a web search backend and a page content extractor.
//
// Its job is bookkeeping and shape: building text and multi-modal messages,
// coercing model replies into Go types, and recording what every call cost
// into an explicit UsageTracker.
//
// # Usage Tracking
//
// A UsageTracker is created by the caller and handed to every client that
// should bill into it. There is no global tracker. Totals only grow and only
// successful (billed) calls touch them:
//
//	tracker := agentpod.NewUsageTracker()
//	llm, err := agentpod.New(apiKey,
//	    agentpod.WithModel(agentpod.ModelGPT4oMini),
//	    agentpod.WithUsageTracker(tracker),
//	)
//
// To measure one logical operation on top of the process-wide totals, attach
// a second tracker to the context with ContextWithUsageTracker.
//
// # Typed Output
//
// InvokeAs derives a JSON schema from a Go type, asks the backend for
// conforming output and decodes it:
//
//	type Fact struct {
//	    Claim  string `json:"claim" description:"one sentence, must start with 'Fact:'"`
//	    Source string `json:"source"`
//	}
//	facts, err := agentpod.InvokeAs[[]Fact](ctx, llm, []agentpod.Message{
//	    agentpod.UserMessage("List three facts about the Moon."),
//	})
//
// The length of a returned slice is whatever the model produced. Field
// descriptions steer the model but are not enforced; implement Validator on
// the output type to check them.
//
// # Multi-modal Messages
//
//	msg := agentpod.NewMultipartMessage(agentpod.RoleUser,
//	    agentpod.TextContent{Text: "What is in this picture?"},
//	    agentpod.ImageContent{URL: "https://example.com/cat.png"},
//	)
//
// Web search lives in the search package, page extraction in contentize and
// a small research loop built from both in research.
package agentpod
