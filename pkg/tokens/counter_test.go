package tokens

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCount(t *testing.T) {
	assert.Equal(t, 0, Count(""))
	assert.Equal(t, 1, Count("hi"))
	assert.Equal(t, 25, Count(strings.Repeat("a", 100)))

	// Fenced code inflates the estimate.
	prose := strings.Repeat("a", 100)
	code := "```go\n" + strings.Repeat("a", 88) + "\n```"
	assert.Greater(t, Count(code), Count(prose[:len(code)]))
}

func TestCountIsMonotonic(t *testing.T) {
	prev := 0
	for i := 0; i < 200; i += 10 {
		c := Count(strings.Repeat("x", i))
		assert.GreaterOrEqual(t, c, prev)
		prev = c
	}
}

func TestTruncateToTokensWithinBudget(t *testing.T) {
	text := "short text"
	assert.Equal(t, text, TruncateToTokens(text, 100))
}

func TestTruncateToTokensShortens(t *testing.T) {
	text := strings.Repeat("some words here ", 200)
	out := TruncateToTokens(text, 50)

	assert.Less(t, len(out), len(text))
	assert.LessOrEqual(t, Count(out), 50)
	assert.True(t, strings.HasSuffix(out, "..."))
	// Break lands on a word boundary, not mid-word.
	trimmed := strings.TrimSuffix(out, "...")
	assert.False(t, strings.HasSuffix(trimmed, " "))
}

func TestTruncateToTokensFencedStaysWithinBudget(t *testing.T) {
	// A retained fence marker keeps the 1.10 adjustment in play on the
	// truncated text; the result must still fit.
	text := "```" + strings.Repeat("abcd ", 40)
	for _, budget := range []int{1, 2, 3, 5, 10, 25} {
		out := TruncateToTokens(text, budget)
		assert.LessOrEqual(t, Count(out), budget, "budget %d", budget)
	}
}

func TestTruncateToTokensTightBudgets(t *testing.T) {
	text := strings.Repeat("word ", 100)
	for budget := 1; budget <= 20; budget++ {
		out := TruncateToTokens(text, budget)
		assert.LessOrEqual(t, Count(out), budget, "budget %d", budget)
	}
}

func TestTruncateToTokensZeroBudget(t *testing.T) {
	assert.Equal(t, "", TruncateToTokens("anything", 0))
	assert.Equal(t, "", TruncateToTokens("anything", -5))
}
