// Package tokens provides the conservative token heuristics used for prompt
// budgeting. Counts only need to be safe overestimates — billing-accurate
// numbers come from the provider rate table at cost-recording time.
package tokens

import (
	"math"
	"strings"
)

// codeBlockAdjustment inflates counts for text containing fenced code, which
// tokenizes denser than prose. Applied on any triple-backtick occurrence.
const codeBlockAdjustment = 1.10

// Count estimates the token count of text: ceil(chars/4), adjusted upward
// when a fenced code marker is present.
func Count(text string) int {
	if text == "" {
		return 0
	}
	estimate := math.Ceil(float64(len(text)) / 4)
	if strings.Contains(text, "```") {
		estimate *= codeBlockAdjustment
	}
	return int(math.Ceil(estimate))
}

// TruncateToTokens shortens text so its estimate fits the budget, preferring
// to break at whitespace within the last 50 characters of the cut point, and
// appends an ellipsis. Text already within budget is returned unchanged.
func TruncateToTokens(text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	if Count(text) <= budget {
		return text
	}

	// Invert the estimate: budget tokens cover roughly budget*4 chars, less
	// the code adjustment and the ellipsis.
	target := budget * 4
	if strings.Contains(text, "```") {
		target = int(float64(target) / codeBlockAdjustment)
	}
	target -= len("...")
	if target <= 0 {
		return "..."
	}
	if target > len(text) {
		target = len(text)
	}

	// The inverted estimate can land a token over budget once the ceiling
	// rounds up and the cut retains a fence marker, so shrink until the
	// re-count fits.
	for cut := target; ; cut -= 4 {
		if cut < 0 {
			cut = 0
		}
		at := cut
		window := at - 50
		if window < 0 {
			window = 0
		}
		if idx := strings.LastIndexAny(text[window:at], " \t\n"); idx >= 0 {
			at = window + idx
		}
		out := strings.TrimRight(text[:at], " \t\n") + "..."
		if Count(out) <= budget || cut == 0 {
			return out
		}
	}
}
