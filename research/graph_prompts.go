package research

import (
	"strings"
	"text/template"
)

const (
	graphPlannerSystemPrompt     = "You are a research planner. Break the question into steps and propose the first web searches. Keep your reasoning brief."
	graphExtractorSystemPrompt   = "You are a data extraction tool. Read the search snippets and extract facts. Do not write a report."
	graphPageSystemPrompt        = "You are a data extraction tool. Read the page content and extract facts. Ignore navigation, ads and boilerplate. Do not write a report."
	graphNeighborSystemPrompt    = "You are a research navigator. Propose the next web searches."
	graphAnswerCheckSystemPrompt = "You are a research validator. Judge only the facts you are given."
	graphFinalizerSystemPrompt   = "Write the answer using only the provided knowledge. Be thorough."
	graphRetrySystemPrompt       = "Answer the question using the provided knowledge. Be concise."
	graphCondenserSystemPrompt   = "Condense these facts into one brief paragraph. Keep all numbers, dates, and names. Remove duplicates. Output only the paragraph."
)

var tmplGraphPlan = template.Must(template.New("plan").Parse(`User Question: {{.}}

Make a plan to answer this question.
1. Restate the question as a research goal without any output formatting instructions.
2. Break it down into logical steps.
3. Identify the key elements (names, places, concepts) we need facts about.
4. Propose 3-5 specific web search queries most likely to yield those facts.
`))

var tmplGraphExtract = template.Must(template.New("extract").Parse(`Goal: {{.Goal}}
Current search: "{{.Query}}"

Search snippets:
{{range .Results}}- [{{.URL}}] {{if .Snippet}}{{.Snippet}}{{else}}{{.Title}}{{end}}
{{else}}(no results)
{{end}}
Task:
1. Extract atomic facts from these snippets. An atomic fact is a single, self-contained truth that DIRECTLY helps answer the goal.
2. Only extract facts that mention specific entities, numbers, dates, or details asked for in the goal.
3. If a snippet is promising but cut off, or only has a title, add its URL to read_more_urls.
4. Prefer fewer, high-quality facts over many low-relevance ones.
`))

var tmplGraphPage = template.Must(template.New("page").Parse(`Goal: {{.Goal}}
Page: {{.URL}}

Content:
{{.Content}}

Task:
1. Extract atomic facts from this content that DIRECTLY help answer the goal.
2. Skip general background, definitions and tangential topics.
3. If the content is irrelevant, return no facts.
`))

var tmplGraphNeighbors = template.Must(template.New("neighbors").Parse(`Goal: {{.Goal}}
Known facts:
{{range .Facts}}- {{.Content}}
{{else}}(none yet)
{{end}}
Already searched:
{{range .Visited}}- {{.}}
{{end}}
We just finished researching "{{.Query}}".

Propose new search queries to explore next. Target details the known facts
do not cover yet. Do not repeat a query that was already searched.
`))

var tmplGraphAnswerCheck = template.Must(template.New("answer_check").Parse(`Goal: {{.Goal}}
Facts:
{{range .Facts}}- {{.Content}}
{{end}}
Look ONLY at the facts listed above. Do NOT use your own knowledge.
Set can_answer to true only if the facts cover every part of the goal.
`))

func renderTemplate(tmpl *template.Template, data any) (string, error) {
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

func buildGraphFinalizerPrompt(question, knowledge string) string {
	var b strings.Builder
	b.WriteString("Question:\n")
	b.WriteString(question)
	b.WriteString("\n\nKnowledge:\n")
	if knowledge == "" {
		b.WriteString("(none collected)\n")
	} else {
		b.WriteString(knowledge)
	}
	b.WriteString("\nAnswer using only the knowledge above.")
	return b.String()
}
