package policy

// CalculateCost prices a token count linearly. No rounding is applied.
func CalculateCost(model ModelProfile, inputTokens, outputTokens int64) Cost {
	in := float64(inputTokens) / 1000 * model.CostPer1kInputTokens
	out := float64(outputTokens) / 1000 * model.CostPer1kOutputTokens
	return Cost{InputCost: in, OutputCost: out, TotalCost: in + out}
}
