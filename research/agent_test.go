package research

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/smhanov/agentpod"
	"github.com/smhanov/agentpod/search"
	"go.uber.org/zap/zaptest"
)

// callCost is what every scripted completion costs: one completion token
// priced at 10,000 dollars per million.
const callCost = 0.01

type scriptedLLM struct {
	mu      sync.Mutex
	planner []string
	synth   []string
	final   []string

	plannerIdx int
	synthIdx   int
	finalIdx   int
	prompts    []string
}

func (s *scriptedLLM) next(list []string, idx *int) (string, error) {
	if *idx >= len(list) {
		return "", errors.New("no scripted response available")
	}
	resp := list[*idx]
	*idx = *idx + 1
	return resp, nil
}

func (s *scriptedLLM) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var text string
	var err error
	switch req.Messages[0].Content {
	case plannerSystemPrompt:
		text, err = s.next(s.planner, &s.plannerIdx)
	case synthesizerSystemPrompt:
		text, err = s.next(s.synth, &s.synthIdx)
	case finalizerSystemPrompt:
		text, err = s.next(s.final, &s.finalIdx)
	default:
		return openai.ChatCompletionResponse{}, errors.New("unknown system prompt")
	}
	if err != nil {
		return openai.ChatCompletionResponse{}, err
	}
	s.prompts = append(s.prompts, req.Messages[len(req.Messages)-1].Content)
	return reply(text), nil
}

func reply(text string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: text},
		}},
		Usage: openai.Usage{CompletionTokens: 1, TotalTokens: 1},
	}
}

type fakeBackend struct {
	mu      sync.Mutex
	queries []string
	err     error
}

func (f *fakeBackend) Name() string         { return "fake" }
func (f *fakeBackend) CostPerCall() float64 { return 0.005 }

func (f *fakeBackend) Query(_ context.Context, query string, count int) ([]search.Result, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return []search.Result{{Title: "Sky color", URL: "https://example.com", Snippet: "Rayleigh scattering"}}, nil
}

type fixture struct {
	llm      *agentpod.Client
	backend  *fakeBackend
	searcher *search.Client
	tracker  *agentpod.UsageTracker
}

func newFixture(t *testing.T, b agentpod.Backend) fixture {
	t.Helper()
	tracker := agentpod.NewUsageTracker()
	llm, err := agentpod.New("",
		agentpod.WithBackend(b),
		agentpod.WithUsageTracker(tracker),
		agentpod.WithPricing(agentpod.Pricing{OutputPerMillion: 10_000}),
		agentpod.WithLogger(zaptest.NewLogger(t)))
	if err != nil {
		t.Fatalf("agentpod.New() error = %v", err)
	}
	backend := &fakeBackend{}
	searcher, err := search.New(backend,
		search.WithUsageTracker(tracker),
		search.WithContentizer(search.ContentizerFunc(func(context.Context, string) string { return "" })))
	if err != nil {
		t.Fatalf("search.New() error = %v", err)
	}
	return fixture{llm: llm, backend: backend, searcher: searcher, tracker: tracker}
}

func (f fixture) agent(t *testing.T, opts ...Option) *Agent {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	a, err := New(f.llm, f.searcher, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return a
}

func TestAgentSearchThenAnswer(t *testing.T) {
	llm := &scriptedLLM{
		planner: []string{`{"action":"search","query":"optical depth"}`, `{"action":"answer","query":""}`},
		synth:   []string{"Blue sky due to Rayleigh scattering"},
		final:   []string{"Rayleigh scattering explains blue skies."},
	}
	f := newFixture(t, llm)

	res, err := f.agent(t, WithMaxIterations(3)).Answer(context.Background(), "Why is the sky blue?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Answer != "Rayleigh scattering explains blue skies." {
		t.Fatalf("Answer = %q", res.Answer)
	}
	if res.Iterations != 2 {
		t.Errorf("Iterations = %d, want 2", res.Iterations)
	}
	if len(f.backend.queries) != 1 || f.backend.queries[0] != "optical depth" {
		t.Errorf("queries = %v, want [optical depth]", f.backend.queries)
	}
	// The synthesizer saw the search results.
	if !strings.Contains(llm.prompts[1], "Sky color | https://example.com | Rayleigh scattering") {
		t.Errorf("synthesizer prompt missing results:\n%s", llm.prompts[1])
	}
}

func TestAgentMaxIterationsBestEffort(t *testing.T) {
	llm := &scriptedLLM{
		planner: []string{`{"action":"search","query":"retry"}`, `{"action":"search","query":"retry"}`, `{"action":"search","query":"retry"}`},
		synth:   []string{"k1", "k2", "k3"},
		final:   []string{"best effort"},
	}
	f := newFixture(t, llm)

	res, err := f.agent(t, WithMaxIterations(2)).Answer(context.Background(), "Q")
	if !errors.Is(err, ErrMaxIterations) {
		t.Fatalf("error = %v, want ErrMaxIterations", err)
	}
	if res.Answer != "best effort" {
		t.Fatalf("expected best-effort answer text, got %q", res.Answer)
	}
	if res.Knowledge != "k2" {
		t.Errorf("Knowledge = %q, want k2", res.Knowledge)
	}
}

func TestAgentCostTracking(t *testing.T) {
	llm := &scriptedLLM{
		planner: []string{`{"action":"search","query":"test query"}`, `{"action":"answer","query":""}`},
		synth:   []string{"some knowledge"},
		final:   []string{"final answer"},
	}
	f := newFixture(t, llm)
	outer := agentpod.NewUsageTracker()
	ctx := agentpod.ContextWithUsageTracker(context.Background(), outer)

	res, err := f.agent(t).Answer(ctx, "Test question")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// planner + search + synth + planner + finalizer
	want := 4*callCost + 0.005
	if diff := res.Cost - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("Cost = %.4f, want %.4f", res.Cost, want)
	}
	if res.Usage.SearchCount != 1 || res.Usage.LLMCalls != 4 {
		t.Errorf("Usage = %+v, want 1 search and 4 LLM calls", res.Usage)
	}
	for name, tr := range map[string]*agentpod.UsageTracker{"client": f.tracker, "outer": outer} {
		if diff := tr.TotalCost() - want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("%s tracker TotalCost = %.4f, want %.4f", name, tr.TotalCost(), want)
		}
	}
}

// statelessLLM searches while the knowledge is empty and answers otherwise,
// so it can serve concurrent runs.
type statelessLLM struct{}

func (statelessLLM) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	switch req.Messages[0].Content {
	case plannerSystemPrompt:
		if strings.Contains(req.Messages[1].Content, "Knowledge:\n(empty)") {
			return reply(`{"action":"search","query":"q"}`), nil
		}
		return reply(`{"action":"answer","query":""}`), nil
	case synthesizerSystemPrompt:
		return reply("knowledge"), nil
	default:
		return reply("answer"), nil
	}
}

func TestAgentConcurrentCostIsolation(t *testing.T) {
	f := newFixture(t, statelessLLM{})
	agent := f.agent(t)

	const runs = 8
	var wg sync.WaitGroup
	costs := make([]float64, runs)
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := agent.Answer(context.Background(), "Q")
			if err != nil {
				t.Errorf("run %d: %v", i, err)
				return
			}
			costs[i] = res.Cost
		}(i)
	}
	wg.Wait()

	want := 4*callCost + 0.005
	for i, c := range costs {
		if diff := c - want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("run %d Cost = %.4f, want %.4f", i, c, want)
		}
	}
	if diff := f.tracker.TotalCost() - runs*want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("shared TotalCost = %.4f, want %.4f", f.tracker.TotalCost(), runs*want)
	}
}

func TestAgentForcedSearch(t *testing.T) {
	llm := &scriptedLLM{
		planner: []string{`{"action":"answer","query":""}`, `{"action":"answer","query":""}`},
		synth:   []string{"found it"},
		final:   []string{"done"},
	}
	f := newFixture(t, llm)

	res, err := f.agent(t).Answer(context.Background(), "  Why is grass green?  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.backend.queries) != 1 || f.backend.queries[0] != "Why is grass green?" {
		t.Errorf("queries = %v, want the question itself", f.backend.queries)
	}
	if !strings.Contains(llm.prompts[2], "(forced)") {
		t.Errorf("second planner prompt should record the forced search:\n%s", llm.prompts[2])
	}
	if res.Answer != "done" {
		t.Errorf("Answer = %q", res.Answer)
	}
}

func TestPlannerTextFallback(t *testing.T) {
	llm := &scriptedLLM{
		planner: []string{"<think>hmm</think>Action: Search\nQuery: moon distance", "Action: Answer"},
		synth:   []string{"<think>let me see</think>384,400 km"},
		final:   []string{"About 384,400 km."},
	}
	f := newFixture(t, llm)

	res, err := f.agent(t).Answer(context.Background(), "How far is the moon?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.backend.queries[0] != "moon distance" {
		t.Errorf("query = %q, want moon distance", f.backend.queries[0])
	}
	if res.Knowledge != "384,400 km" {
		t.Errorf("Knowledge = %q, think block should be stripped", res.Knowledge)
	}
}

func TestPlannerInvalidDecision(t *testing.T) {
	llm := &scriptedLLM{planner: []string{`{"action":"search","query":""}`}}
	f := newFixture(t, llm)

	_, err := f.agent(t).Answer(context.Background(), "Q")
	var sve *agentpod.SchemaValidationError
	if !errors.As(err, &sve) {
		t.Fatalf("error = %v, want SchemaValidationError", err)
	}
	if len(f.backend.queries) != 0 {
		t.Errorf("no search should run, got %v", f.backend.queries)
	}
}

func TestSearchErrorPropagates(t *testing.T) {
	llm := &scriptedLLM{planner: []string{`{"action":"search","query":"q"}`}}
	f := newFixture(t, llm)
	f.backend.err = errors.New("boom")

	res, err := f.agent(t).Answer(context.Background(), "Q")
	var se *agentpod.SearchError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want SearchError", err)
	}
	if res.Cost != callCost {
		t.Errorf("Cost = %v, want only the planner call %v", res.Cost, callCost)
	}
}

func TestPriorKnowledge(t *testing.T) {
	llm := &scriptedLLM{
		planner: []string{`{"action":"answer","query":""}`},
		final:   []string{"follow-up answer using prior knowledge"},
	}
	f := newFixture(t, llm)

	res, err := f.agent(t).Answer(context.Background(), "Follow-up question",
		WithKnowledge("previously collected knowledge"),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Answer == "" {
		t.Fatal("expected non-empty answer")
	}
	if res.Knowledge != "previously collected knowledge" {
		t.Fatalf("Knowledge = %q, want prior knowledge preserved", res.Knowledge)
	}
	if len(f.backend.queries) != 0 {
		t.Errorf("prior knowledge should allow answering without search, got %v", f.backend.queries)
	}
}

func TestPriorKnowledgeCleared(t *testing.T) {
	llm := &scriptedLLM{
		planner: []string{
			`{"action":"answer","query":""}`,
			`{"action":"search","query":"q"}`,
			`{"action":"answer","query":""}`,
		},
		synth: []string{"new knowledge"},
		final: []string{"answer1", "answer2"},
	}
	f := newFixture(t, llm)
	agent := f.agent(t, WithMaxIterations(3))

	res1, err := agent.Answer(context.Background(), "Q1", WithKnowledge("prior stuff"))
	if err != nil {
		t.Fatalf("call 1: unexpected error: %v", err)
	}
	if res1.Knowledge != "prior stuff" {
		t.Fatalf("call 1: expected prior knowledge preserved, got %q", res1.Knowledge)
	}

	res2, err := agent.Answer(context.Background(), "Q2")
	if err != nil {
		t.Fatalf("call 2: unexpected error: %v", err)
	}
	if res2.Knowledge != "new knowledge" {
		t.Fatalf("call 2: expected fresh knowledge, got %q", res2.Knowledge)
	}
}

type cannedStrategy struct{}

func (cannedStrategy) Name() string { return "canned" }

func (cannedStrategy) Answer(_ context.Context, q Question) (Result, error) {
	return Result{Answer: "canned: " + q.Text, Knowledge: q.Knowledge}, nil
}

func TestNew(t *testing.T) {
	f := newFixture(t, statelessLLM{})
	var ce *agentpod.ConfigurationError

	if _, err := New(nil, f.searcher); !errors.As(err, &ce) {
		t.Errorf("New(nil llm) error = %v, want ConfigurationError", err)
	}
	if _, err := New(f.llm, nil); !errors.As(err, &ce) {
		t.Errorf("New(nil searcher) error = %v, want ConfigurationError", err)
	}
	if _, err := New(f.llm, f.searcher, WithStrategyName("depth-first")); !errors.As(err, &ce) {
		t.Errorf("unknown strategy error = %v, want ConfigurationError", err)
	}

	agent := f.agent(t, WithStrategyFactory("canned", func(*Agent) (Strategy, error) { return cannedStrategy{}, nil }),
		WithStrategyName("canned"))
	res, err := agent.Answer(context.Background(), "hi", WithKnowledge("k"))
	if err != nil || res.Answer != "canned: hi" || res.Knowledge != "k" {
		t.Errorf("canned strategy = %+v, %v", res, err)
	}

	if _, err := agent.Answer(context.Background(), "   "); !errors.Is(err, ErrEmptyQuestion) {
		t.Errorf("empty question error = %v, want ErrEmptyQuestion", err)
	}
}

func TestParsePlannerText(t *testing.T) {
	tests := []struct {
		raw     string
		want    Decision
		wantErr bool
	}{
		{"Action: Answer", Decision{Action: ActionAnswer}, false},
		{"answer now", Decision{Action: ActionAnswer}, false},
		{"Action: Search\nQuery: golang generics", Decision{Action: ActionSearch, Query: "golang generics"}, false},
		{"Search: tallest building", Decision{Action: ActionSearch, Query: "tallest building"}, false},
		{"<think>search?</think>Action: Search\nQuery - moon", Decision{Action: ActionSearch, Query: "moon"}, false},
		{"Action: Search", Decision{}, true},
		{"I don't know", Decision{}, true},
	}
	for _, tt := range tests {
		got, err := parsePlannerText(tt.raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("parsePlannerText(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parsePlannerText(%q) = %+v, want %+v", tt.raw, got, tt.want)
		}
	}
}

func TestStripThinkBlocks(t *testing.T) {
	in := "<think>\nreasoning\n</think>\n  Final text  "
	if got := StripThinkBlocks(in); got != "Final text" {
		t.Errorf("StripThinkBlocks() = %q, want %q", got, "Final text")
	}
}
