package models

import "time"

// BillingMode distinguishes flat-rate subscription usage from metered API usage.
type BillingMode string

// Billing modes.
const (
	// BillingModeSubscription records zero marginal cost; the equivalent
	// API-priced cost is booked as savings.
	BillingModeSubscription BillingMode = "subscription"
	// BillingModeAPI records the metered cost; savings are zero.
	BillingModeAPI BillingMode = "api"
)

// IsValid checks whether the billing mode is known.
func (m BillingMode) IsValid() bool {
	return m == BillingModeSubscription || m == BillingModeAPI
}

// CostEntry is one recorded sub-agent invocation cost.
//
// Invariant: subscription entries have CostUSD == 0 and SavingsUSD equal to
// the equivalent API cost; API entries have SavingsUSD == 0.
type CostEntry struct {
	ID          string      `json:"id"`
	SessionID   string      `json:"session_id"`
	TaskID      *string     `json:"task_id,omitempty"`
	Agent       string      `json:"agent"`
	Provider    string      `json:"provider"`
	Model       string      `json:"model"`
	BillingMode BillingMode `json:"billing_mode"`
	TokensIn    int         `json:"tokens_in"`
	TokensOut   int         `json:"tokens_out"`
	CostUSD     float64     `json:"cost_usd"`
	SavingsUSD  float64     `json:"savings_usd"`
	CreatedAt   time.Time   `json:"created_at"`
}
