package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smhanov/agentpod"
	"github.com/smhanov/agentpod/search"
	"go.uber.org/zap"
)

var (
	// ErrMaxIterations is returned with a best-effort answer when the planner
	// never decided to answer within the iteration limit.
	ErrMaxIterations = errors.New("max iterations reached; returning best-effort answer")
	ErrEmptyQuestion = errors.New("question is empty")
)

// Searcher runs web searches. *search.Client satisfies it.
type Searcher interface {
	Search(ctx context.Context, query string, count int, fetchContent bool) ([]search.Result, error)
}

var _ Searcher = (*search.Client)(nil)

// Result is the outcome of one Answer call.
type Result struct {
	Answer string
	// Cost is the dollars spent on this answer, LLM and search combined.
	Cost float64
	// Usage breaks Cost down.
	Usage agentpod.Usage
	// Knowledge is the final knowledge state. Pass it to WithKnowledge for
	// follow-up questions.
	Knowledge  string
	Iterations int
}

// Agent coordinates the planner, searcher, synthesizer, and finalizer.
type Agent struct {
	searcher          Searcher
	planner           *agentpod.Client
	synthesizer       *agentpod.Client
	finalizer         *agentpod.Client
	maxIterations     int
	resultCount       int
	fetchContent      bool
	strategy          Strategy
	strategyName      string
	strategyFactories map[string]StrategyFactory
	graphConfig       GraphReaderConfig
	logger            *zap.Logger
}

// New constructs an Agent. llm serves every role unless a role-specific
// client is configured.
func New(llm *agentpod.Client, searcher Searcher, opts ...Option) (*Agent, error) {
	if llm == nil {
		return nil, &agentpod.ConfigurationError{Field: "llm client", Message: "is required"}
	}
	if searcher == nil {
		return nil, &agentpod.ConfigurationError{Field: "searcher", Message: "is required"}
	}
	a := &Agent{
		searcher:      searcher,
		planner:       llm,
		synthesizer:   llm,
		finalizer:     llm,
		maxIterations: defaultMaxIterations,
		resultCount:   defaultResultCount,
		strategyName:  "scratchpad",
		strategyFactories: map[string]StrategyFactory{
			"scratchpad":   newScratchpadStrategy,
			"graph-reader": newGraphReaderStrategy,
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.strategy == nil {
		name := strings.TrimSpace(a.strategyName)
		factory := a.strategyFactories[name]
		if factory == nil {
			return nil, &agentpod.ConfigurationError{Field: "strategy", Message: fmt.Sprintf("unknown strategy %q", name)}
		}
		s, err := factory(a)
		if err != nil {
			return nil, err
		}
		a.strategy = s
	}
	return a, nil
}

// Answer runs the research loop until an answer is produced or the limit is
// reached. Answer is safe for concurrent use.
func (a *Agent) Answer(ctx context.Context, question string, opts ...AnswerOption) (Result, error) {
	q := Question{Text: strings.TrimSpace(question)}
	for _, opt := range opts {
		opt(&q)
	}
	if q.Text == "" {
		return Result{}, ErrEmptyQuestion
	}

	tracker := agentpod.NewUsageTracker()
	ctx = agentpod.ContextWithUsageTracker(ctx, tracker)
	start := time.Now()

	res, err := a.strategy.Answer(ctx, q)
	res.Usage = tracker.Snapshot()
	res.Cost = res.Usage.TotalCost()

	a.logger.Info("research finished",
		zap.String("strategy", a.strategy.Name()),
		zap.Int("iterations", res.Iterations),
		zap.Int64("searches", res.Usage.SearchCount),
		zap.Float64("cost", res.Cost),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(err))
	return res, err
}

func (a *Agent) answerScratchpad(ctx context.Context, q Question) (Result, error) {
	pad := newScratchpad(q, a.maxIterations)
	result := func(answer string) Result {
		return Result{Answer: answer, Knowledge: pad.knowledge, Iterations: pad.round}
	}

	for pad.round < pad.maxRounds {
		pad.round++

		decision, err := a.plan(ctx, pad)
		if err != nil {
			return result(""), fmt.Errorf("planner: %w", err)
		}

		switch decision.Action {
		case ActionAnswer:
			// Answers must be grounded in at least one search.
			if !pad.hasKnowledge() {
				if err := a.research(ctx, pad, pad.question, true); err != nil {
					return result(""), err
				}
				continue
			}
			answer, err := a.finalize(ctx, pad)
			if err != nil {
				return result(""), fmt.Errorf("finalizer: %w", err)
			}
			return result(answer), nil
		case ActionSearch:
			if err := a.research(ctx, pad, decision.Query, false); err != nil {
				return result(""), err
			}
		default:
			return result(""), fmt.Errorf("unknown planner action: %q", decision.Action)
		}
	}

	answer, err := a.finalize(ctx, pad)
	if err != nil {
		return result(""), fmt.Errorf("%w: finalizer: %w", ErrMaxIterations, err)
	}
	return result(answer), ErrMaxIterations
}

// research searches query and folds the results into the knowledge.
func (a *Agent) research(ctx context.Context, pad *scratchpad, query string, forced bool) error {
	results, err := a.searcher.Search(ctx, query, a.resultCount, a.fetchContent)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	pad.logSearch(query, forced)
	if err := a.synthesize(ctx, pad, query, results); err != nil {
		return fmt.Errorf("synthesizer: %w", err)
	}
	return nil
}

func (a *Agent) plan(ctx context.Context, pad *scratchpad) (Decision, error) {
	user := buildPlannerUserPrompt(pad)
	a.logger.Debug("planner prompt", zap.Int("round", pad.round), zap.String("prompt", user))

	decision, err := agentpod.InvokeAs[Decision](ctx, a.planner, []agentpod.Message{
		agentpod.SystemMessage(plannerSystemPrompt),
		agentpod.UserMessage(user),
	})
	var sve *agentpod.SchemaValidationError
	if errors.As(err, &sve) && !json.Valid([]byte(strings.TrimSpace(sve.Raw))) {
		// The reply was not JSON at all; try the plain "Action: ..." format.
		if d, perr := parsePlannerText(sve.Raw); perr == nil {
			a.logger.Debug("planner reply parsed as text", zap.String("raw", sve.Raw))
			decision, err = d, nil
		}
	}
	if err != nil {
		return Decision{}, err
	}
	a.logger.Debug("planner decision", zap.String("action", string(decision.Action)), zap.String("query", decision.Query))
	return decision, nil
}

func (a *Agent) synthesize(ctx context.Context, pad *scratchpad, query string, results []search.Result) error {
	user := buildSynthesizerUserPrompt(pad, query, results)
	a.logger.Debug("synthesizer prompt", zap.String("prompt", user))

	reply, err := a.synthesizer.Invoke(ctx, []agentpod.Message{
		agentpod.SystemMessage(synthesizerSystemPrompt),
		agentpod.UserMessage(user),
	})
	if err != nil {
		return err
	}
	knowledge := StripThinkBlocks(reply.Text())
	if knowledge == "" {
		return agentpod.EmptyResponseError("synthesizer reply held only reasoning")
	}
	pad.knowledge = knowledge
	return nil
}

func (a *Agent) finalize(ctx context.Context, pad *scratchpad) (string, error) {
	user := buildFinalizerUserPrompt(pad)
	a.logger.Debug("finalizer prompt", zap.String("prompt", user))

	reply, err := a.finalizer.Invoke(ctx, []agentpod.Message{
		agentpod.SystemMessage(finalizerSystemPrompt),
		agentpod.UserMessage(user),
	})
	if err != nil {
		return "", err
	}
	answer := StripThinkBlocks(reply.Text())
	if answer == "" {
		return "", agentpod.EmptyResponseError("finalizer reply held only reasoning")
	}
	return answer, nil
}
