package cost

import (
	"errors"
	"fmt"

	"github.com/substrate-run/substrate/pkg/models"
)

// ErrUnknownRate indicates the provider/model pair has no registered rate.
var ErrUnknownRate = errors.New("unknown provider/model rate")

// EstimateCost computes USD cost for the given token counts.
func EstimateCost(provider, model string, tokensIn, tokensOut int) (float64, error) {
	rate, ok := LookupRate(provider, model)
	if !ok {
		return 0, fmt.Errorf("%w: %s/%s", ErrUnknownRate, provider, model)
	}
	return float64(tokensIn)*rate.InputPerMillion/1e6 + float64(tokensOut)*rate.OutputPerMillion/1e6, nil
}

// EstimateCostSafe is EstimateCost but returns 0 for unknown pairs. Used on
// write paths where an unknown model must not fail the recording.
func EstimateCostSafe(provider, model string, tokensIn, tokensOut int) float64 {
	c, err := EstimateCost(provider, model, tokensIn, tokensOut)
	if err != nil {
		return 0
	}
	return c
}

// NewEntry builds a cost entry honoring the billing-mode invariant:
// subscription usage costs nothing and books the equivalent API price as
// savings; API usage books the cost with zero savings.
func NewEntry(agent, provider, model string, mode models.BillingMode, tokensIn, tokensOut int) *models.CostEntry {
	apiCost := EstimateCostSafe(provider, model, tokensIn, tokensOut)
	entry := &models.CostEntry{
		Agent:       agent,
		Provider:    ResolveProvider(provider),
		Model:       ResolveModel(provider, model),
		BillingMode: mode,
		TokensIn:    tokensIn,
		TokensOut:   tokensOut,
	}
	if mode == models.BillingModeSubscription {
		entry.SavingsUSD = apiCost
	} else {
		entry.CostUSD = apiCost
	}
	return entry
}
