package adapter

const charsPerToken = 4

// EstimateTokens guesses the token count of text at four characters per
// token. Non-empty text counts as at least one token.
func EstimateTokens(text string) int64 {
	n := int64(len(text))
	tokens := n / charsPerToken
	if n > 0 && tokens == 0 {
		tokens = 1
	}
	return tokens
}

// outputRatio is how many output tokens an execution is assumed to produce
// per prompt token when a tool cannot say.
const outputRatio = 2

// estimatePrompt estimates an execution from its rendered prompt. Cost is
// left to the caller, which prices it with the selected model.
func estimatePrompt(tc TaskContext, modelID string) CostEstimate {
	in := EstimateTokens(BuildPrompt(tc))
	return CostEstimate{
		EstimatedInputTokens:  in,
		EstimatedOutputTokens: in * outputRatio,
		ModelID:               modelID,
	}
}
