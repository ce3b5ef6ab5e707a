package summarizer

// EstimateTokens provides a rough token count estimate for a prompt.
// Uses the approximation: ~4 chars per token + request overhead.
func EstimateTokens(prompt string) int64 {
	if prompt == "" {
		return 0
	}
	// ~4 chars per token, plus role/formatting overhead
	return int64(len(prompt))/4 + 7
}
