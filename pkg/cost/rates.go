// Package cost maps token usage to dollars and enforces task and session
// budgets. Rates are per million tokens; providers and models resolve
// through alias tables before a case-insensitive lookup.
package cost

import "strings"

// Rate holds per-million-token USD rates for one model.
type Rate struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// providerAliases maps CLI-friendly names to canonical provider names.
var providerAliases = map[string]string{
	"claude":   "anthropic",
	"codex":    "openai",
	"gpt":      "openai",
	"gemini":   "google",
	"aistudio": "google",
}

// modelAliases resolves bare family names to a default revision per provider.
var modelAliases = map[string]map[string]string{
	"anthropic": {
		"sonnet": "claude-3-5-sonnet-20241022",
		"haiku":  "claude-3-5-haiku-20241022",
		"opus":   "claude-3-opus-20240229",
	},
	"openai": {
		"gpt-4o":      "gpt-4o-2024-08-06",
		"gpt-4o-mini": "gpt-4o-mini-2024-07-18",
		"o1":          "o1-2024-12-17",
	},
	"google": {
		"flash": "gemini-2.0-flash",
		"pro":   "gemini-1.5-pro",
	},
}

// rateTable holds the canonical provider/model rates.
var rateTable = map[string]map[string]Rate{
	"anthropic": {
		"claude-3-5-sonnet-20241022": {InputPerMillion: 3, OutputPerMillion: 15},
		"claude-3-5-haiku-20241022":  {InputPerMillion: 0.80, OutputPerMillion: 4},
		"claude-3-opus-20240229":     {InputPerMillion: 15, OutputPerMillion: 75},
	},
	"openai": {
		"gpt-4o-2024-08-06":      {InputPerMillion: 2.50, OutputPerMillion: 10},
		"gpt-4o-mini-2024-07-18": {InputPerMillion: 0.15, OutputPerMillion: 0.60},
		"o1-2024-12-17":          {InputPerMillion: 15, OutputPerMillion: 60},
	},
	"google": {
		"gemini-2.0-flash": {InputPerMillion: 0.10, OutputPerMillion: 0.40},
		"gemini-1.5-pro":   {InputPerMillion: 1.25, OutputPerMillion: 5},
	},
}

// ResolveProvider maps an alias or canonical name to the canonical provider.
func ResolveProvider(provider string) string {
	p := strings.ToLower(strings.TrimSpace(provider))
	if canonical, ok := providerAliases[p]; ok {
		return canonical
	}
	return p
}

// ResolveModel maps a bare family name to its default revision for the
// provider. Unknown names pass through lowercased.
func ResolveModel(provider, model string) string {
	p := ResolveProvider(provider)
	m := strings.ToLower(strings.TrimSpace(model))
	if aliases, ok := modelAliases[p]; ok {
		if canonical, ok := aliases[m]; ok {
			return canonical
		}
	}
	return m
}

// LookupRate returns the rate for a provider/model pair after alias
// resolution. The second return is false when the pair is unknown.
func LookupRate(provider, model string) (Rate, bool) {
	p := ResolveProvider(provider)
	m := ResolveModel(provider, model)
	models, ok := rateTable[p]
	if !ok {
		return Rate{}, false
	}
	rate, ok := models[m]
	return rate, ok
}
