package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/smhanov/agentpod"
	"github.com/smhanov/agentpod/contentize"
	"github.com/smhanov/agentpod/internal/config"
	"github.com/smhanov/agentpod/internal/logging"
	"github.com/smhanov/agentpod/research"
	"github.com/smhanov/agentpod/search"
)

// env holds what every command needs: resolved settings, a logger and the
// tracker all clients bill into.
type env struct {
	cfg     *config.Configuration
	log     *zap.Logger
	tracker *agentpod.UsageTracker
	out     io.Writer
}

func setup(c *cli.Command) (*env, error) {
	cfg, err := config.NewConfiguration(c)
	if err != nil {
		return nil, err
	}
	log, err := logging.Init(cfg.Verbose)
	if err != nil {
		return nil, err
	}
	out := c.Root().Writer
	if out == nil {
		out = os.Stdout
	}
	return &env{cfg: cfg, log: log, tracker: agentpod.NewUsageTracker(), out: out}, nil
}

// finish prints the spend summary and flushes the logger.
func (e *env) finish() {
	fmt.Fprintf(os.Stderr, "\n%s\n", e.tracker)
	_ = e.log.Sync()
}

func (e *env) llm() (*agentpod.Client, error) {
	opts := []agentpod.Option{
		agentpod.WithModel(e.cfg.LLM.Model),
		agentpod.WithStructuredMode(e.cfg.LLM.Mode),
		agentpod.WithUsageTracker(e.tracker),
		agentpod.WithLogger(e.log.Named("llm")),
	}
	if e.cfg.LLM.BaseURL != "" {
		opts = append(opts, agentpod.WithBaseURL(e.cfg.LLM.BaseURL))
	}
	if e.cfg.LLM.Temperature > 0 {
		opts = append(opts, agentpod.WithTemperature(float32(e.cfg.LLM.Temperature)))
	}
	if e.cfg.LLM.MaxTokens > 0 {
		opts = append(opts, agentpod.WithMaxTokens(e.cfg.LLM.MaxTokens))
	}
	if e.cfg.LLM.MaxPromptTokens > 0 {
		opts = append(opts, agentpod.WithMaxPromptTokens(e.cfg.LLM.MaxPromptTokens))
	}
	return agentpod.New(e.cfg.LLM.APIKey, opts...)
}

func (e *env) extractor() *contentize.Extractor {
	return contentize.New(
		contentize.WithMaxBytes(e.cfg.Contentize.MaxBytes),
		contentize.WithUserAgent(e.cfg.Contentize.UserAgent),
		contentize.WithRobots(e.cfg.Contentize.Robots),
		contentize.WithLogger(e.log.Named("contentize")),
	)
}

func (e *env) backend() search.Backend {
	s := e.cfg.Search
	switch s.Backend {
	case "brave":
		return search.NewBrave(s.BraveKey)
	case "tavily":
		return search.NewTavily(s.TavilyKey, s.TavilyDepth)
	case "duckduckgo":
		return search.NewDuckDuckGo()
	default:
		b := search.NewBing(s.BingKey)
		b.Market = s.BingMarket
		return b
	}
}

func (e *env) searcher() (*search.Client, error) {
	return search.New(e.backend(),
		search.WithUsageTracker(e.tracker),
		search.WithContentizer(e.extractor()),
		search.WithFetchConcurrency(e.cfg.Search.Concurrency),
		search.WithLogger(e.log.Named("search")),
	)
}

func (e *env) timeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.LLM.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.cfg.LLM.Timeout)
}

func argText(c *cli.Command, what string) (string, error) {
	text := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if text == "" {
		return "", fmt.Errorf("missing %s", what)
	}
	return text, nil
}

func runInvoke(ctx context.Context, c *cli.Command) error {
	prompt, err := argText(c, "prompt")
	if err != nil {
		return err
	}
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.finish()
	llm, err := e.llm()
	if err != nil {
		return err
	}
	ctx, cancel := e.timeout(ctx)
	defer cancel()

	var msgs []agentpod.Message
	if sys := c.String("system"); sys != "" {
		msgs = append(msgs, agentpod.SystemMessage(sys))
	}
	if images := c.StringSlice("image"); len(images) > 0 {
		parts := []agentpod.ContentPart{agentpod.TextContent{Text: prompt}}
		for _, u := range images {
			parts = append(parts, agentpod.ImageContent{URL: u})
		}
		msgs = append(msgs, agentpod.NewMultipartMessage(agentpod.RoleUser, parts...))
	} else {
		msgs = append(msgs, agentpod.UserMessage(prompt))
	}

	if c.Bool("list") {
		items, err := agentpod.InvokeAs[[]string](ctx, llm, msgs)
		if err != nil {
			return err
		}
		for _, item := range items {
			fmt.Fprintln(e.out, item)
		}
		return nil
	}

	reply, err := llm.Invoke(ctx, msgs)
	if err != nil {
		return err
	}
	fmt.Fprintln(e.out, reply.Text())
	return nil
}

func runSearch(ctx context.Context, c *cli.Command) error {
	query, err := argText(c, "query")
	if err != nil {
		return err
	}
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.finish()
	s, err := e.searcher()
	if err != nil {
		return err
	}
	ctx, cancel := e.timeout(ctx)
	defer cancel()

	results, err := s.Search(ctx, query, e.cfg.Search.Count, c.Bool("fetch"))
	if err != nil {
		return err
	}
	for i, r := range results {
		fmt.Fprintf(e.out, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(e.out, "   %s\n", r.Snippet)
		}
		if r.Content != "" {
			fmt.Fprintf(e.out, "\n%s\n", indent(r.Content, "   "))
		}
		fmt.Fprintln(e.out)
	}
	return nil
}

func runContentize(ctx context.Context, c *cli.Command) error {
	rawURL, err := argText(c, "url")
	if err != nil {
		return err
	}
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.finish()
	ctx, cancel := e.timeout(ctx)
	defer cancel()

	text, err := e.extractor().Extract(ctx, rawURL)
	if err != nil {
		return err
	}
	fmt.Fprintln(e.out, text)
	return nil
}

func runResearch(ctx context.Context, c *cli.Command) error {
	question, err := argText(c, "question")
	if err != nil {
		return err
	}
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.finish()
	llm, err := e.llm()
	if err != nil {
		return err
	}
	s, err := e.searcher()
	if err != nil {
		return err
	}
	agent, err := research.New(llm, s,
		research.WithStrategyName(e.cfg.Research.Strategy),
		research.WithGraphReaderConfig(research.GraphReaderConfig{
			MaxSteps: e.cfg.Research.GraphSteps,
			Reader:   e.extractor(),
		}),
		research.WithMaxIterations(e.cfg.Research.MaxIterations),
		research.WithResultCount(e.cfg.Search.Count),
		research.WithFetchContent(c.Bool("fetch")),
		research.WithLogger(e.log.Named("research")),
	)
	if err != nil {
		return err
	}
	ctx, cancel := e.timeout(ctx)
	defer cancel()

	var opts []research.AnswerOption
	if k := c.String("knowledge"); k != "" {
		opts = append(opts, research.WithKnowledge(k))
	}
	res, err := agent.Answer(ctx, question, opts...)
	if err != nil && !errors.Is(err, research.ErrMaxIterations) {
		return err
	}
	fmt.Fprintln(e.out, res.Answer)
	if c.Bool("show-knowledge") {
		fmt.Fprintf(e.out, "\nKnowledge:\n%s\n", res.Knowledge)
	}
	if err != nil {
		e.log.Warn("answer is best effort", zap.Error(err))
	}
	return nil
}

func runConfig(_ context.Context, c *cli.Command) error {
	cfg, err := config.NewConfiguration(c)
	if err != nil {
		return err
	}
	out := c.Root().Writer
	if out == nil {
		out = os.Stdout
	}
	cfg.PrintConfig(out)
	return nil
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
