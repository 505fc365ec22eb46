package catalog

// DefaultEntries returns the built-in party planner actions.
func DefaultEntries() []Entry {
	return []Entry{
		{Name: "optimize_query", Description: "Rewrite the input into a short full-text search query.", Side: Local, Returns: Text},
		{Name: "generate_queries", Description: "Produce up to three alternative search queries.", Side: Local, Returns: JSON},
		{Name: "google_query_translator", Description: "Translate the input into a refined web search query.", Side: Local, Returns: JSON},
		{Name: "perform_orama_search", Description: "Run the generated queries against the search index.", Side: ExternalIntegration, Returns: JSON},
		{Name: "party_planner_orama_step", Description: "Hand intermediate results to the search integration.", Side: ExternalIntegration, Returns: Text},
		{Name: "describe_input_code", Description: "Explain code contained in the input.", Side: Local, Returns: Text},
		{Name: "ask_followup_questions", Description: "Ask clarifying questions when the input is ambiguous.", Side: Local, Returns: Text},
		{Name: "give_reply", Description: "Write the final answer using everything gathered so far.", Side: Local, Returns: Text},
	}
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := New(DefaultEntries()...)
	if err != nil {
		panic(err)
	}
	return c
}
