package research

import (
	"github.com/smhanov/agentpod"
	"go.uber.org/zap"
)

const (
	defaultMaxIterations = 5
	defaultResultCount   = 5
)

// Option configures an Agent.
type Option func(*Agent)

// WithPlannerClient uses c for planning decisions instead of the main client.
func WithPlannerClient(c *agentpod.Client) Option {
	return func(a *Agent) { a.planner = c }
}

// WithSynthesizerClient uses c to fold search results into the knowledge state.
func WithSynthesizerClient(c *agentpod.Client) Option {
	return func(a *Agent) { a.synthesizer = c }
}

// WithFinalizerClient uses c to write the final answer.
func WithFinalizerClient(c *agentpod.Client) Option {
	return func(a *Agent) { a.finalizer = c }
}

// WithMaxIterations caps planner rounds per answer.
func WithMaxIterations(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxIterations = n
		}
	}
}

// WithResultCount sets how many search results each query asks for.
func WithResultCount(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.resultCount = n
		}
	}
}

// WithFetchContent makes every search contentize its result pages.
func WithFetchContent(enabled bool) Option {
	return func(a *Agent) { a.fetchContent = enabled }
}

// WithStrategy uses s directly, bypassing the registry.
func WithStrategy(s Strategy) Option {
	return func(a *Agent) { a.strategy = s }
}

// WithStrategyName selects a registered strategy.
func WithStrategyName(name string) Option {
	return func(a *Agent) { a.strategyName = name }
}

// WithStrategyFactory registers a strategy under name.
func WithStrategyFactory(name string, f StrategyFactory) Option {
	return func(a *Agent) { a.strategyFactories[name] = f }
}

// WithGraphReaderConfig customizes the built-in "graph-reader" strategy.
func WithGraphReaderConfig(cfg GraphReaderConfig) Option {
	return func(a *Agent) { a.graphConfig = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// AnswerOption configures a single Answer call.
type AnswerOption func(*Question)

// WithKnowledge seeds the run with knowledge from an earlier answer, for
// follow-up questions. It applies to that call only.
func WithKnowledge(knowledge string) AnswerOption {
	return func(q *Question) { q.Knowledge = knowledge }
}
