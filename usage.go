package agentpod

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
)

// Usage is a point-in-time copy of a UsageTracker's totals.
type Usage struct {
	LLMCost          float64
	SearchCost       float64
	SearchCount      int64
	LLMCalls         int64
	PromptTokens     int64
	CompletionTokens int64
}

// TotalCost is the sum of LLM and search spend.
func (u Usage) TotalCost() float64 {
	return u.LLMCost + u.SearchCost
}

func (u Usage) String() string {
	return fmt.Sprintf("llm=$%.6f (%d calls, %d prompt / %d completion tokens) search=$%.6f (%d calls) total=$%.6f",
		u.LLMCost, u.LLMCalls, u.PromptTokens, u.CompletionTokens, u.SearchCost, u.SearchCount, u.TotalCost())
}

// UsageTracker accumulates cost and call counts across LLM and search calls.
// Totals only ever grow; there is no reset. A tracker is safe for concurrent
// use and may be shared by any number of clients. A nil *UsageTracker records
// nothing.
type UsageTracker struct {
	mu    sync.Mutex
	usage Usage
}

// NewUsageTracker returns an empty tracker.
func NewUsageTracker() *UsageTracker {
	return &UsageTracker{}
}

// RecordLLMCost adds amount dollars of LLM spend.
func (t *UsageTracker) RecordLLMCost(amount float64) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.usage.LLMCost += amount
	t.mu.Unlock()
}

// RecordSearchCost adds amount dollars of search spend.
func (t *UsageTracker) RecordSearchCost(amount float64) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.usage.SearchCost += amount
	t.mu.Unlock()
}

// RecordSearchCall counts one completed search.
func (t *UsageTracker) RecordSearchCall() {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.usage.SearchCount++
	t.mu.Unlock()
}

// recordCompletion records one billed LLM call in a single critical section
// so readers never observe the cost without the matching token counts.
func (t *UsageTracker) recordCompletion(cost float64, promptTokens, completionTokens int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.usage.LLMCost += cost
	t.usage.LLMCalls++
	t.usage.PromptTokens += int64(promptTokens)
	t.usage.CompletionTokens += int64(completionTokens)
	t.mu.Unlock()
}

// TotalLLMCost returns accumulated LLM spend in dollars.
func (t *UsageTracker) TotalLLMCost() float64 { return t.Snapshot().LLMCost }

// TotalSearchCost returns accumulated search spend in dollars.
func (t *UsageTracker) TotalSearchCost() float64 { return t.Snapshot().SearchCost }

// TotalSearchCount returns the number of successful searches.
func (t *UsageTracker) TotalSearchCount() int64 { return t.Snapshot().SearchCount }

// TotalCost returns TotalLLMCost + TotalSearchCost.
func (t *UsageTracker) TotalCost() float64 { return t.Snapshot().TotalCost() }

// LLMCallCount returns the number of billed LLM calls.
func (t *UsageTracker) LLMCallCount() int64 { return t.Snapshot().LLMCalls }

// PromptTokens returns the prompt tokens reported by the backend.
func (t *UsageTracker) PromptTokens() int64 { return t.Snapshot().PromptTokens }

// CompletionTokens returns the completion tokens reported by the backend.
func (t *UsageTracker) CompletionTokens() int64 { return t.Snapshot().CompletionTokens }

// Snapshot returns a consistent copy of all totals.
func (t *UsageTracker) Snapshot() Usage {
	if t == nil {
		return Usage{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usage
}

func (t *UsageTracker) String() string {
	return t.Snapshot().String()
}

// ValidateCost rejects amounts that must never reach a tracker.
func ValidateCost(amount float64) error {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		return fmt.Errorf("%w: %v", ErrNegativeCost, amount)
	}
	return nil
}

type trackerKey struct{}

// ContextWithUsageTracker attaches an extra tracker to ctx. Clients record
// into it in addition to their own tracker, which lets a caller measure the
// cost of one logical operation while the client-level tracker keeps the
// process-wide totals. Trackers attached by outer callers stay attached.
func ContextWithUsageTracker(ctx context.Context, t *UsageTracker) context.Context {
	if t == nil {
		return ctx
	}
	outer := contextTrackers(ctx)
	chain := make([]*UsageTracker, 0, len(outer)+1)
	chain = append(chain, outer...)
	chain = append(chain, t)
	return context.WithValue(ctx, trackerKey{}, chain)
}

// UsageTrackerFromContext returns the innermost tracker attached with
// ContextWithUsageTracker, or nil.
func UsageTrackerFromContext(ctx context.Context) *UsageTracker {
	chain := contextTrackers(ctx)
	if len(chain) == 0 {
		return nil
	}
	return chain[len(chain)-1]
}

func contextTrackers(ctx context.Context) []*UsageTracker {
	chain, _ := ctx.Value(trackerKey{}).([]*UsageTracker)
	return chain
}

// Trackers returns the distinct non-nil trackers among the client tracker and
// every tracker carried by ctx.
func Trackers(ctx context.Context, own *UsageTracker) []*UsageTracker {
	var out []*UsageTracker
	if own != nil {
		out = append(out, own)
	}
	for _, extra := range contextTrackers(ctx) {
		if !slices.Contains(out, extra) {
			out = append(out, extra)
		}
	}
	return out
}
