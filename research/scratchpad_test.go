package research

import (
	"strings"
	"testing"
)

func TestScratchpadRender(t *testing.T) {
	pad := newScratchpad(Question{Text: "  Why is the sky blue? ", Knowledge: " "}, 3)
	if pad.hasKnowledge() {
		t.Fatal("blank knowledge should count as none")
	}

	pad.round = 1
	var b strings.Builder
	pad.render(&b)
	want := "Question:\nWhy is the sky blue?\n\nKnowledge:\n(empty)\n\nSearches so far: none\n\nRound 1 of 3"
	if b.String() != want {
		t.Errorf("render() =\n%q\nwant\n%q", b.String(), want)
	}

	pad.logSearch("why is the sky blue", true)
	pad.round = 2
	pad.knowledge = "Rayleigh scattering."
	pad.logSearch("rayleigh scattering", false)
	b.Reset()
	pad.render(&b)
	got := b.String()
	for _, s := range []string{
		"Knowledge:\nRayleigh scattering.\n",
		"- round 1: why is the sky blue (forced)\n",
		"- round 2: rayleigh scattering\n",
		"Round 2 of 3",
	} {
		if !strings.Contains(got, s) {
			t.Errorf("render() missing %q:\n%s", s, got)
		}
	}
}
