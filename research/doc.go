// Package research answers questions by iterating web searches through an
// LLM planner until the gathered knowledge covers the question.
//
// Each round the planner looks at a scratchpad (question, knowledge so far,
// history) and decides to search or answer. Search results are folded into
// the knowledge by a synthesizer, and a finalizer writes the answer from the
// knowledge alone:
//
//	agent, err := research.New(llm, searcher, research.WithMaxIterations(4))
//	if err != nil {
//	    return err
//	}
//	res, err := agent.Answer(ctx, "Why is the sky blue?")
//	fmt.Println(res.Answer, res.Cost)
//
// Result.Cost is the spend of that answer only, LLM and search combined,
// even when the clients share a tracker with other work. Pass
// res.Knowledge back with WithKnowledge to ask a follow-up question without
// searching again for what is already known.
//
// WithStrategyName("graph-reader") selects a second strategy that treats
// queries as graph nodes: it plans a first set of searches, extracts atomic
// facts from snippets and from pages worth reading in full, and expands to
// follow-up queries until the planner judges the facts sufficient or the
// step limit is reached. Its Result.Knowledge is a JSON array of Fact.
package research
