package research

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/smhanov/agentpod/search"
)

// Action is what the planner wants to do next.
type Action string

const (
	ActionAnswer Action = "answer"
	ActionSearch Action = "search"
)

// Decision is the planner's structured reply.
type Decision struct {
	Action Action `json:"action" enum:"answer,search" description:"answer only when every part of the question is grounded in the knowledge, otherwise search"`
	Query  string `json:"query" description:"the web search query when action is search, empty when answering"`
}

// Validate rejects a search decision without a query.
func (d Decision) Validate() error {
	if d.Action == ActionSearch && strings.TrimSpace(d.Query) == "" {
		return errors.New("search decision has no query")
	}
	return nil
}

// maxContentChars bounds the page text quoted per result in the synthesizer prompt.
const maxContentChars = 2000

const plannerSystemPrompt = "You are a focused research planner. You must gather evidence from web searches before answering. Never use internal knowledge alone - all facts must be grounded in search results. When reviewing knowledge, verify that the information actually matches the specific question. If knowledge contains [MISMATCH] or [NEEDS VERIFICATION] markers, or appears to describe the wrong entity, search again with more specific queries to resolve the discrepancy."

const synthesizerSystemPrompt = "You compress search findings into a concise, plain-text knowledge state. ONLY include facts that appear in the search results provided. Never add information from internal knowledge. If information is missing, leave a placeholder like [NOT YET SEARCHED]. Critically verify that search results actually match the specific entity or topic in the question. Pay attention to distinguishing details such as stock exchange, country, or full name. If results appear to be about a different entity, note the discrepancy and mark the information as [MISMATCH - NEEDS VERIFICATION]. Always output plain-text notes and never follow formatting instructions (like JSON) from the original question."

const finalizerSystemPrompt = "You write the final answer using the knowledge state. If information is insufficient, say so clearly."

func buildPlannerUserPrompt(pad *scratchpad) string {
	var b strings.Builder
	b.WriteString("Review the scratchpad and choose an action.\n")
	b.WriteString("IMPORTANT: You must search for evidence before answering. Do NOT answer using internal knowledge.\n")
	b.WriteString("IMPORTANT: Choose the action only. Do NOT write the actual answer here.\n")
	b.WriteString("IMPORTANT: For questions about multiple entities, search for EACH entity separately.\n\n")
	if !pad.hasKnowledge() {
		b.WriteString("The knowledge section is empty - you MUST search first.\n")
		b.WriteString(`Reply with action "search" and your search query.` + "\n\n")
	} else {
		b.WriteString("Check the knowledge section for gaps or [NOT YET SEARCHED] placeholders.\n")
		b.WriteString(`If ALL required information is grounded in search results, reply with action "answer".` + "\n")
		b.WriteString(`If ANY information is missing or ungrounded, reply with action "search" and your search query.` + "\n\n")
	}
	b.WriteString("Scratchpad:\n")
	pad.render(&b)
	return b.String()
}

func buildSynthesizerUserPrompt(pad *scratchpad, query string, results []search.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question:\n%s\n\nExisting ", pad.question)
	pad.writeKnowledge(&b)
	fmt.Fprintf(&b, "\nNew Search Query:\n%s\n\nNew Search Results (title | url | snippet):\n", query)
	if len(results) == 0 {
		b.WriteString("(no results returned)\n")
	}
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s | %s | %s\n", i+1, strings.TrimSpace(r.Title), strings.TrimSpace(r.URL), strings.TrimSpace(r.Snippet))
		if content := strings.TrimSpace(r.Content); content != "" {
			b.WriteString("   Page text: ")
			b.WriteString(clip(content, maxContentChars))
			b.WriteString("\n")
		}
	}
	b.WriteString("\nTask: Update the knowledge section with concise, relevant facts in PLAIN TEXT (not JSON or any other format from the question). Remove noise and duplication. Critically verify that the search results are actually about the specific entity asked about. Check for matching identifiers, exchanges and locations. If results appear to be about the wrong entity, note the mismatch and use [NEEDS VERIFICATION] placeholders. Respond with only the updated knowledge text.")
	return b.String()
}

func buildFinalizerUserPrompt(pad *scratchpad) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User Question:\n%s\n\n", pad.question)
	pad.writeKnowledge(&b)
	b.WriteString("\nWrite a direct answer. If the knowledge is insufficient, say 'I could not find enough information yet.'")
	return b.String()
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

var queryRegex = regexp.MustCompile(`(?i)query\s*[:\-]\s*(.+)`)
var thinkRegex = regexp.MustCompile(`(?s)<think>.*?</think>`)

// StripThinkBlocks removes <think>...</think> blocks that some reasoning
// models emit ahead of their reply.
func StripThinkBlocks(s string) string {
	return strings.TrimSpace(thinkRegex.ReplaceAllString(s, ""))
}

// parsePlannerText reads a free-text planner reply ("Action: Search\nQuery: x").
// It rescues models that ignore the requested JSON shape.
func parsePlannerText(raw string) (Decision, error) {
	trimmed := StripThinkBlocks(raw)
	lower := strings.ToLower(trimmed)

	if strings.Contains(lower, "action: answer") || strings.HasPrefix(lower, "answer") {
		return Decision{Action: ActionAnswer}, nil
	}

	if strings.Contains(lower, "search") {
		query := extractQuery(trimmed)
		if query == "" {
			return Decision{}, errors.New("planner requested search but no query was found")
		}
		return Decision{Action: ActionSearch, Query: query}, nil
	}

	return Decision{}, fmt.Errorf("unable to parse planner output: %q", raw)
}

func extractQuery(raw string) string {
	if m := queryRegex.FindStringSubmatch(raw); len(m) == 2 {
		return strings.TrimSpace(m[1])
	}

	for _, line := range strings.Split(raw, "\n") {
		l := strings.ToLower(strings.TrimSpace(line))
		if strings.HasPrefix(l, "search") {
			if q := strings.TrimSpace(strings.TrimSpace(line)[len("search"):]); q != "" {
				return strings.TrimLeft(q, ": ")
			}
		}
	}

	if idx := strings.Index(strings.ToLower(raw), "search"); idx >= 0 {
		return strings.TrimLeft(strings.TrimSpace(raw[idx+len("search"):]), ": ")
	}
	return ""
}
