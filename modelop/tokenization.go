package modelop

import "math"

// DefaultCharsPerToken is the chars-per-token ratio used when a caller does
// not supply one explicitly.
const DefaultCharsPerToken = 4.0

// EstimateTokens is the authoritative definition of "token count" for the
// gateway core: a deterministic, length-derived estimate. No other
// estimator is consulted anywhere in the admission pipeline or scheduler.
func EstimateTokens(text string, charsPerToken float64) int {
	if text == "" {
		return 0
	}
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}
	return int(math.Max(1, math.Ceil(float64(len(text))/charsPerToken)))
}
