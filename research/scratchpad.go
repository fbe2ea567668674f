package research

import (
	"fmt"
	"strings"
)

type searchStep struct {
	round  int
	query  string
	forced bool
}

// scratchpad is the working memory of one scratchpad run: the knowledge text
// the synthesizer keeps rewriting and the searches issued so far.
type scratchpad struct {
	question  string
	knowledge string
	round     int
	maxRounds int
	searches  []searchStep
}

func newScratchpad(q Question, maxRounds int) *scratchpad {
	return &scratchpad{
		question:  strings.TrimSpace(q.Text),
		knowledge: strings.TrimSpace(q.Knowledge),
		maxRounds: maxRounds,
	}
}

func (p *scratchpad) hasKnowledge() bool {
	return p.knowledge != ""
}

func (p *scratchpad) logSearch(query string, forced bool) {
	p.searches = append(p.searches, searchStep{round: p.round, query: query, forced: forced})
}

func (p *scratchpad) writeKnowledge(b *strings.Builder) {
	b.WriteString("Knowledge:\n")
	if p.hasKnowledge() {
		b.WriteString(p.knowledge)
	} else {
		b.WriteString("(empty)")
	}
	b.WriteString("\n")
}

// render writes the state the planner decides on.
func (p *scratchpad) render(b *strings.Builder) {
	fmt.Fprintf(b, "Question:\n%s\n\n", p.question)
	p.writeKnowledge(b)
	if len(p.searches) == 0 {
		b.WriteString("\nSearches so far: none\n")
	} else {
		b.WriteString("\nSearches so far:\n")
		for _, s := range p.searches {
			fmt.Fprintf(b, "- round %d: %s", s.round, s.query)
			if s.forced {
				b.WriteString(" (forced)")
			}
			b.WriteByte('\n')
		}
	}
	fmt.Fprintf(b, "\nRound %d of %d", p.round, p.maxRounds)
}
