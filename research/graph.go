package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/smhanov/agentpod"
	"github.com/smhanov/agentpod/contentize"
	"github.com/smhanov/agentpod/search"
	"go.uber.org/zap"
)

const (
	defaultGraphSteps = 8

	// minFactsForCheck is how many facts must be collected before the
	// planner is asked whether they are enough.
	minFactsForCheck = 5
	// minPageChars skips pages that are only titles or need scripts to render.
	minPageChars = 200
	// maxPageChars bounds the page text sent to the page extractor.
	maxPageChars = 8000
	// maxReadMore bounds the pages read per search.
	maxReadMore = 3
	// Above maxDirectFacts the facts are condensed in batches before the
	// final answer is written.
	maxDirectFacts    = 40
	factCondenseBatch = 25
	// maxRetryKnowledge bounds the knowledge on the short retry prompt.
	maxRetryKnowledge = 1500
)

// GraphReaderConfig configures the "graph-reader" strategy. Nil clients fall
// back to the agent's synthesizer.
type GraphReaderConfig struct {
	Extractor *agentpod.Client
	Neighbor  *agentpod.Client
	// MaxSteps caps the searches per answer. Defaults to 8.
	MaxSteps int
	// Reader fetches pages the extractor asks to read in full. Defaults to a
	// contentize.Extractor.
	Reader search.Contentizer
}

// Fact is one self-contained piece of evidence collected by the graph-reader
// strategy. Its Result.Knowledge is a JSON array of facts.
type Fact struct {
	Content   string `json:"content" description:"one self-contained fact that directly helps answer the goal"`
	SourceURL string `json:"source_url" description:"URL the fact came from"`
}

type researchPlan struct {
	Goal        string   `json:"goal" description:"the question restated as a research goal, without output formatting instructions"`
	Steps       []string `json:"steps"`
	KeyElements []string `json:"key_elements"`
	Queries     []string `json:"queries" description:"3 to 5 web search queries to start with"`
}

type extraction struct {
	Facts    []Fact   `json:"facts"`
	ReadMore []string `json:"read_more_urls" description:"URLs of promising results whose snippet is cut off or empty"`
}

type pageFacts struct {
	Facts []Fact `json:"facts"`
}

type answerCheck struct {
	CanAnswer bool `json:"can_answer" description:"true only if the facts cover every part of the goal"`
}

// graphState is the exploration state of one graph-reader run. Queries are
// nodes; the neighbors of a node are the follow-up queries its facts suggest.
type graphState struct {
	question string
	plan     researchPlan
	facts    []Fact
	queue    []string
	visited  []string
	read     map[string]bool
}

func (g *graphState) seen(query string) bool {
	for _, v := range g.visited {
		if strings.EqualFold(v, query) {
			return true
		}
	}
	for _, q := range g.queue {
		if strings.EqualFold(q, query) {
			return true
		}
	}
	return false
}

func (g *graphState) enqueue(queries []string) {
	for _, q := range queries {
		q = strings.TrimSpace(q)
		if q != "" && !g.seen(q) {
			g.queue = append(g.queue, q)
		}
	}
}

// addFacts appends facts that are not already known. A fact that contains, or
// is contained in, a known fact counts as known.
func (g *graphState) addFacts(facts []Fact) int {
	added := 0
	for _, f := range facts {
		f.Content = strings.TrimSpace(f.Content)
		f.SourceURL = strings.TrimSpace(f.SourceURL)
		if f.Content == "" || containsFact(g.facts, f.Content) {
			continue
		}
		g.facts = append(g.facts, f)
		added++
	}
	return added
}

func containsFact(facts []Fact, content string) bool {
	lower := strings.ToLower(content)
	for _, f := range facts {
		known := strings.ToLower(f.Content)
		if strings.Contains(known, lower) || strings.Contains(lower, known) {
			return true
		}
	}
	return false
}

// seedFacts turns prior knowledge into facts. Knowledge from an earlier
// graph-reader answer is a JSON array of facts; anything else becomes one fact.
func seedFacts(knowledge string) []Fact {
	knowledge = strings.TrimSpace(knowledge)
	if knowledge == "" {
		return nil
	}
	var facts []Fact
	if err := json.Unmarshal([]byte(knowledge), &facts); err == nil {
		return facts
	}
	return []Fact{{Content: knowledge}}
}

type graphReaderStrategy struct {
	agent     *Agent
	extractor *agentpod.Client
	neighbor  *agentpod.Client
	maxSteps  int
	reader    search.Contentizer
}

func newGraphReaderStrategy(a *Agent) (Strategy, error) {
	cfg := a.graphConfig
	s := &graphReaderStrategy{
		agent:     a,
		extractor: cfg.Extractor,
		neighbor:  cfg.Neighbor,
		maxSteps:  cfg.MaxSteps,
		reader:    cfg.Reader,
	}
	if s.extractor == nil {
		s.extractor = a.synthesizer
	}
	if s.neighbor == nil {
		s.neighbor = s.extractor
	}
	if s.maxSteps <= 0 {
		s.maxSteps = defaultGraphSteps
	}
	if s.reader == nil {
		s.reader = contentize.New(contentize.WithLogger(a.logger))
	}
	return s, nil
}

func (s *graphReaderStrategy) Name() string {
	return "graph-reader"
}

func (s *graphReaderStrategy) Answer(ctx context.Context, q Question) (Result, error) {
	log := s.agent.logger.With(zap.String("strategy", s.Name()))
	g := &graphState{question: q.Text, read: make(map[string]bool)}
	g.addFacts(seedFacts(q.Knowledge))

	plan, err := s.makePlan(ctx, q.Text)
	if err != nil {
		return Result{}, fmt.Errorf("graph planner: %w", err)
	}
	g.plan = plan
	g.enqueue(plan.Queries)
	if len(g.queue) == 0 {
		g.enqueue([]string{q.Text})
	}

	steps := 0
	for steps < s.maxSteps && len(g.queue) > 0 {
		query := g.queue[0]
		g.queue = g.queue[1:]
		g.visited = append(g.visited, query)
		steps++

		results, err := s.agent.searcher.Search(ctx, query, s.agent.resultCount, s.agent.fetchContent)
		if err != nil {
			return Result{Knowledge: encodeFacts(g.facts), Iterations: steps}, fmt.Errorf("search: %w", err)
		}

		if err := s.explore(ctx, g, query, results); err != nil {
			if ctx.Err() != nil {
				return Result{Knowledge: encodeFacts(g.facts), Iterations: steps}, err
			}
			log.Warn("fact extraction failed", zap.String("query", query), zap.Error(err))
		}

		if len(g.facts) >= minFactsForCheck {
			ok, err := s.canAnswer(ctx, g)
			if err != nil && ctx.Err() != nil {
				return Result{Knowledge: encodeFacts(g.facts), Iterations: steps}, err
			}
			if ok {
				break
			}
		}

		next, err := s.neighbors(ctx, g, query)
		if err != nil {
			if ctx.Err() != nil {
				return Result{Knowledge: encodeFacts(g.facts), Iterations: steps}, err
			}
			log.Warn("neighbor selection failed", zap.String("query", query), zap.Error(err))
			continue
		}
		g.enqueue(next)
	}

	answer, err := s.finalize(ctx, g)
	res := Result{Answer: answer, Knowledge: encodeFacts(g.facts), Iterations: steps}
	if err != nil {
		return res, fmt.Errorf("finalizer: %w", err)
	}
	return res, nil
}

func (s *graphReaderStrategy) makePlan(ctx context.Context, question string) (researchPlan, error) {
	user, err := renderTemplate(tmplGraphPlan, question)
	if err != nil {
		return researchPlan{}, err
	}
	plan, err := agentpod.InvokeAs[researchPlan](ctx, s.agent.planner, []agentpod.Message{
		agentpod.SystemMessage(graphPlannerSystemPrompt),
		agentpod.UserMessage(user),
	})
	if err != nil {
		return researchPlan{}, err
	}
	plan.Goal = strings.TrimSpace(plan.Goal)
	if plan.Goal == "" {
		plan.Goal = researchGoal(question)
	}
	s.agent.logger.Debug("graph plan", zap.String("goal", plan.Goal), zap.Strings("queries", plan.Queries))
	return plan, nil
}

// explore extracts facts from the snippets of one search, then reads the
// pages the extractor flagged.
func (s *graphReaderStrategy) explore(ctx context.Context, g *graphState, query string, results []search.Result) error {
	user, err := renderTemplate(tmplGraphExtract, map[string]any{
		"Goal":    g.plan.Goal,
		"Query":   query,
		"Results": results,
	})
	if err != nil {
		return err
	}
	ex, err := agentpod.InvokeAs[extraction](ctx, s.extractor, []agentpod.Message{
		agentpod.SystemMessage(graphExtractorSystemPrompt),
		agentpod.UserMessage(user),
	})
	if err != nil {
		return err
	}
	g.addFacts(ex.Facts)

	read := 0
	for _, u := range ex.ReadMore {
		u = strings.TrimSpace(u)
		if read >= maxReadMore {
			break
		}
		if u == "" || g.read[u] || isAdURL(u) {
			continue
		}
		g.read[u] = true
		content := strings.TrimSpace(s.reader.Contentize(ctx, u))
		if len(content) < minPageChars {
			continue
		}
		read++
		facts, err := s.readPage(ctx, g, u, content)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			s.agent.logger.Debug("page extraction failed", zap.String("url", u), zap.Error(err))
			continue
		}
		g.addFacts(facts)
	}
	return nil
}

func (s *graphReaderStrategy) readPage(ctx context.Context, g *graphState, url, content string) ([]Fact, error) {
	user, err := renderTemplate(tmplGraphPage, map[string]any{
		"Goal":    g.plan.Goal,
		"URL":     url,
		"Content": clip(content, maxPageChars),
	})
	if err != nil {
		return nil, err
	}
	pf, err := agentpod.InvokeAs[pageFacts](ctx, s.extractor, []agentpod.Message{
		agentpod.SystemMessage(graphPageSystemPrompt),
		agentpod.UserMessage(user),
	})
	if err != nil {
		return nil, err
	}
	for i := range pf.Facts {
		if strings.TrimSpace(pf.Facts[i].SourceURL) == "" {
			pf.Facts[i].SourceURL = url
		}
	}
	return pf.Facts, nil
}

func (s *graphReaderStrategy) neighbors(ctx context.Context, g *graphState, query string) ([]string, error) {
	user, err := renderTemplate(tmplGraphNeighbors, map[string]any{
		"Goal":    g.plan.Goal,
		"Facts":   g.facts,
		"Visited": g.visited,
		"Query":   query,
	})
	if err != nil {
		return nil, err
	}
	return agentpod.InvokeAs[[]string](ctx, s.neighbor, []agentpod.Message{
		agentpod.SystemMessage(graphNeighborSystemPrompt),
		agentpod.UserMessage(user),
	})
}

func (s *graphReaderStrategy) canAnswer(ctx context.Context, g *graphState) (bool, error) {
	user, err := renderTemplate(tmplGraphAnswerCheck, map[string]any{
		"Goal":  g.plan.Goal,
		"Facts": g.facts,
	})
	if err != nil {
		return false, err
	}
	check, err := agentpod.InvokeAs[answerCheck](ctx, s.agent.planner, []agentpod.Message{
		agentpod.SystemMessage(graphAnswerCheckSystemPrompt),
		agentpod.UserMessage(user),
	})
	if err != nil {
		s.agent.logger.Debug("answer check failed", zap.Error(err))
		return false, err
	}
	return check.CanAnswer, nil
}

// finalize writes the answer from the collected facts. A reply with nothing
// but reasoning is retried once on a shorter prompt; if that fails too the
// knowledge itself is returned.
func (s *graphReaderStrategy) finalize(ctx context.Context, g *graphState) (string, error) {
	knowledge, err := s.knowledge(ctx, g.facts)
	if err != nil {
		return "", err
	}

	answer, err := s.write(ctx, graphFinalizerSystemPrompt, finalizerQuestion(g), knowledge)
	if err == nil || !errors.Is(err, agentpod.ErrEmptyResponse) {
		return answer, err
	}
	s.agent.logger.Debug("finalizer reply was empty, retrying with a shorter prompt")

	answer, err = s.write(ctx, graphRetrySystemPrompt, g.plan.Goal, cutAtSentence(knowledge, maxRetryKnowledge))
	if err == nil || !errors.Is(err, agentpod.ErrEmptyResponse) {
		return answer, err
	}
	if knowledge != "" {
		return knowledge, nil
	}
	return "", err
}

func (s *graphReaderStrategy) write(ctx context.Context, system, question, knowledge string) (string, error) {
	reply, err := s.agent.finalizer.Invoke(ctx, []agentpod.Message{
		agentpod.SystemMessage(system),
		agentpod.UserMessage(buildGraphFinalizerPrompt(question, knowledge)),
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

// knowledge renders the facts for the finalizer, without source URLs. Large
// fact sets are condensed into paragraphs in batches.
func (s *graphReaderStrategy) knowledge(ctx context.Context, facts []Fact) (string, error) {
	if len(facts) == 0 {
		return "", nil
	}
	if len(facts) <= maxDirectFacts {
		return bulletFacts(facts), nil
	}

	var paragraphs []string
	for start := 0; start < len(facts); start += factCondenseBatch {
		end := min(start+factCondenseBatch, len(facts))
		reply, err := s.agent.finalizer.Invoke(ctx, []agentpod.Message{
			agentpod.SystemMessage(graphCondenserSystemPrompt),
			agentpod.UserMessage(bulletFacts(facts[start:end])),
		})
		if err != nil {
			return "", fmt.Errorf("condense facts %d-%d: %w", start+1, end, err)
		}
		if text := StripThinkBlocks(reply.Text()); text != "" {
			paragraphs = append(paragraphs, text)
		}
	}
	return strings.Join(paragraphs, "\n\n"), nil
}

func bulletFacts(facts []Fact) string {
	var b strings.Builder
	for _, f := range facts {
		b.WriteString("- ")
		b.WriteString(f.Content)
		b.WriteString("\n")
	}
	return b.String()
}

func encodeFacts(facts []Fact) string {
	if len(facts) == 0 {
		return ""
	}
	b, err := json.Marshal(facts)
	if err != nil {
		return ""
	}
	return string(b)
}

var formatMarkers = []string{"FORMAT YOUR RESPONSE", "OUTPUT FORMAT", "RESPONSE FORMAT", "FORMAT:"}

// researchGoal strips output formatting instructions from a question.
func researchGoal(question string) string {
	goal := question
	upper := strings.ToUpper(goal)
	for _, marker := range formatMarkers {
		if idx := strings.Index(upper, marker); idx > 0 {
			goal = strings.TrimSpace(goal[:idx])
			break
		}
	}
	return clip(goal, 500)
}

// finalizerQuestion is the research goal plus any formatting section of the
// original question, so the finalizer does not redo the research steps.
func finalizerQuestion(g *graphState) string {
	upper := strings.ToUpper(g.question)
	for _, marker := range formatMarkers {
		if idx := strings.Index(upper, marker); idx >= 0 {
			return g.plan.Goal + "\n\n" + strings.TrimSpace(g.question[idx:])
		}
	}
	return g.plan.Goal
}

// cutAtSentence shortens s to at most n bytes, ending on a full sentence when
// there is one.
func cutAtSentence(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = strings.ToValidUTF8(s[:n], "")
	if idx := strings.LastIndex(s, ". "); idx > 0 {
		return s[:idx+1]
	}
	return s
}

var adPatterns = []string{
	"duckduckgo.com/y.js",
	"ad_domain=",
	"ad_provider=",
	"ad_type=",
	"doubleclick.net",
	"googlesyndication.com",
	"googleadservices.com",
	"click.linksynergy.com",
	"redirect.viglink.com",
	"/aclk?",
	"amazon-adsystem.com",
	"ads.yahoo.com",
	"clickserve",
	"tracking.php",
}

func isAdURL(u string) bool {
	lower := strings.ToLower(u)
	for _, p := range adPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
