package registry

// BuiltinAgents is the fixed fallback pair used when no active definitions
// are configured. The pipeline never routes into an empty option set. The
// pair also serves as seed data for a fresh database.
func BuiltinAgents() []*AgentDefinition {
	documents := &AgentDefinition{
		Name:        "Documents",
		Key:         "documents",
		TypeTag:     "document_specialist",
		Status:      AgentActive,
		Description: "Answers questions about the participant's documents, receipts, and filings.",
		BaseInstructions: "You are a document specialist. Help the participant find, understand, " +
			"and summarize their documents. Be precise about dates, amounts, and document names. " +
			"If you do not have the requested document, say so plainly and suggest what to check next.",
		Params: ModelParams{
			Temperature: 0.2,
			MaxTokens:   1024,
			TimeoutSecs: 30,
			MaxRetries:  2,
		},
	}

	general := &AgentDefinition{
		Name:        "General",
		Key:         "general",
		TypeTag:     "general",
		Status:      AgentActive,
		Description: "Handles greetings, account questions, and anything without a clearer owner.",
		BaseInstructions: "You are a helpful assistant answering over a messaging channel. " +
			"Keep replies short and conversational. Answer in the participant's language. " +
			"If a question is outside your knowledge, say so instead of guessing.",
		Params: ModelParams{
			Temperature: 0.3,
			MaxTokens:   1024,
			TimeoutSecs: 30,
			MaxRetries:  2,
		},
	}

	return []*AgentDefinition{documents, general}
}
