package research

import "context"

// Question is the input of one research run.
type Question struct {
	Text      string
	Knowledge string
}

// Strategy defines a configurable research loop.
type Strategy interface {
	Name() string
	Answer(ctx context.Context, q Question) (Result, error)
}

// StrategyFactory creates a strategy using the Agent's configured dependencies.
type StrategyFactory func(a *Agent) (Strategy, error)

type scratchpadStrategy struct {
	agent *Agent
}

func newScratchpadStrategy(a *Agent) (Strategy, error) {
	return &scratchpadStrategy{agent: a}, nil
}

func (s *scratchpadStrategy) Name() string {
	return "scratchpad"
}

func (s *scratchpadStrategy) Answer(ctx context.Context, q Question) (Result, error) {
	return s.agent.answerScratchpad(ctx, q)
}
