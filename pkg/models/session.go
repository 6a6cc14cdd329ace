package models

import "time"

// SessionStatus is the lifecycle status of an implementation session.
type SessionStatus string

// Session statuses. One implementation phase maps to exactly one session.
const (
	SessionStatusActive      SessionStatus = "active"
	SessionStatusPaused      SessionStatus = "paused"
	SessionStatusComplete    SessionStatus = "complete"
	SessionStatusFailed      SessionStatus = "failed"
	SessionStatusInterrupted SessionStatus = "interrupted"
	SessionStatusAbandoned   SessionStatus = "abandoned"
)

// IsValid checks whether the session status is known.
func (s SessionStatus) IsValid() bool {
	switch s {
	case SessionStatusActive, SessionStatusPaused, SessionStatusComplete,
		SessionStatusFailed, SessionStatusInterrupted, SessionStatusAbandoned:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the session can no longer accept work.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusComplete || s == SessionStatusFailed || s == SessionStatusAbandoned
}

// Session is one implementation-phase execution of a task graph.
type Session struct {
	ID              string        `json:"id"`
	GraphFile       string        `json:"graph_file"`
	Status          SessionStatus `json:"status"`
	BaseBranch      string        `json:"base_branch"`
	BudgetUSD       *float64      `json:"budget_usd,omitempty"`
	TotalCostUSD    float64       `json:"total_cost_usd"`
	PlanningCostUSD float64       `json:"planning_cost_usd"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// SessionCostSummary aggregates recorded cost entries for one session.
type SessionCostSummary struct {
	SessionID           string             `json:"session_id"`
	TotalCostUSD        float64            `json:"total_cost_usd"`
	SubscriptionSavings float64            `json:"subscription_savings_usd"`
	APICostUSD          float64            `json:"api_cost_usd"`
	InputTokens         int                `json:"input_tokens"`
	OutputTokens        int                `json:"output_tokens"`
	ByAgent             map[string]float64 `json:"by_agent"`
}
