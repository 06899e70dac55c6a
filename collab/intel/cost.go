package intel

// modelPricing maps model names to USD per one million tokens. Prices
// drift as vendors adjust; unknown models cost zero rather than guessing.
var modelPricing = map[string]struct {
	inputPer1M  float64
	outputPer1M float64
}{
	// OpenAI
	"gpt-4o":      {2.50, 10.00},
	"gpt-4o-mini": {0.15, 0.60},
	"gpt-4-turbo": {10.00, 30.00},

	// Anthropic
	"claude-3-5-sonnet-20241022": {3.00, 15.00},
	"claude-3-opus-20240229":     {15.00, 75.00},
	"claude-3-haiku-20240307":    {0.25, 1.25},

	// Google
	"gemini-1.5-pro":   {1.25, 5.00},
	"gemini-1.5-flash": {0.075, 0.30},
}

// Cost computes the USD spend of one model call from its token counts.
func Cost(model string, tokensIn, tokensOut int64) float64 {
	pricing, ok := modelPricing[model]
	if !ok {
		return 0
	}
	inputCost := float64(tokensIn) / 1_000_000.0 * pricing.inputPer1M
	outputCost := float64(tokensOut) / 1_000_000.0 * pricing.outputPer1M
	return inputCost + outputCost
}
