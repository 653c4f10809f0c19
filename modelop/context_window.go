package modelop

import "math"

// ContextOptimizationResult is the outcome of fitting a prompt into a token
// budget: the (possibly rewritten) prompt plus before/after token counts.
type ContextOptimizationResult struct {
	Prompt                string
	OriginalPromptTokens  int
	EffectivePromptTokens int
	PromptTruncated       bool
}

// ContextWindowOptimizer performs head+tail compaction of over-budget
// prompts, preserving both instruction-like preamble and recent context.
type ContextWindowOptimizer struct {
	charsPerToken float64
	headRatio     float64
	marker        string
}

// NewContextWindowOptimizer builds an optimizer. headRatio is clamped into
// [0.10, 0.90], matching spec.md's declared bound for the config surface.
func NewContextWindowOptimizer(charsPerToken, headRatio float64, marker string) *ContextWindowOptimizer {
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}
	return &ContextWindowOptimizer{
		charsPerToken: charsPerToken,
		headRatio:     math.Min(0.90, math.Max(0.10, headRatio)),
		marker:        marker,
	}
}

// Optimize fits prompt into maxPromptTokens, truncating head+tail around a
// marker when the prompt overruns the budget.
func (o *ContextWindowOptimizer) Optimize(prompt string, maxPromptTokens int) ContextOptimizationResult {
	original := EstimateTokens(prompt, o.charsPerToken)

	if maxPromptTokens <= 0 {
		return ContextOptimizationResult{
			Prompt:                "",
			OriginalPromptTokens:  original,
			EffectivePromptTokens: 0,
			PromptTruncated:       true,
		}
	}

	if original <= maxPromptTokens {
		return ContextOptimizationResult{
			Prompt:                prompt,
			OriginalPromptTokens:  original,
			EffectivePromptTokens: original,
			PromptTruncated:       false,
		}
	}

	maxChars := int(math.Max(1, math.Floor(float64(maxPromptTokens)*o.charsPerToken)))
	markerLen := len(o.marker)

	var trimmed string
	if maxChars <= markerLen+4 {
		trimmed = truncateString(prompt, maxChars)
	} else {
		headChars := int(float64(maxChars) * o.headRatio)
		tailChars := maxChars - headChars - markerLen
		if tailChars < 1 {
			tailChars = 1
			headChars = int(math.Max(1, float64(maxChars-markerLen-tailChars)))
		}
		head := truncateString(prompt, headChars)
		tail := tailString(prompt, tailChars)
		trimmed = head + o.marker + tail
	}

	effective := EstimateTokens(trimmed, o.charsPerToken)
	return ContextOptimizationResult{
		Prompt:                trimmed,
		OriginalPromptTokens:  original,
		EffectivePromptTokens: effective,
		PromptTruncated:       true,
	}
}

// truncateString returns the first n bytes of s (byte slicing, so a
// multi-byte character at the cut may be split).
func truncateString(s string, n int) string {
	if n >= len(s) {
		return s
	}
	if n <= 0 {
		return ""
	}
	return s[:n]
}

// tailString returns the last n bytes of s.
func tailString(s string, n int) string {
	if n >= len(s) {
		return s
	}
	if n <= 0 {
		return ""
	}
	return s[len(s)-n:]
}
