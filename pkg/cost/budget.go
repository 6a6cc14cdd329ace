package cost

import (
	"errors"
	"fmt"
)

// ErrBudgetExceeded indicates a task or session cost cap has been reached.
// The engine stops dispatching new work and drains in-flight tasks; nothing
// is killed.
var ErrBudgetExceeded = errors.New("budget exceeded")

// BudgetScope identifies which cap was hit.
type BudgetScope string

// Budget scopes.
const (
	ScopeTask    BudgetScope = "task"
	ScopeSession BudgetScope = "session"
)

// BudgetError carries the exceeded limit and the current total.
type BudgetError struct {
	Scope   BudgetScope
	ID      string
	Limit   float64
	Current float64
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("%s %s budget exceeded: $%.4f of $%.4f limit", e.Scope, e.ID, e.Current, e.Limit)
}

func (e *BudgetError) Unwrap() error {
	return ErrBudgetExceeded
}

// CheckBudget returns a BudgetError when current meets or exceeds a non-nil
// limit. A nil limit means unlimited.
func CheckBudget(scope BudgetScope, id string, limit *float64, current float64) error {
	if limit == nil {
		return nil
	}
	if current >= *limit {
		return &BudgetError{Scope: scope, ID: id, Limit: *limit, Current: current}
	}
	return nil
}
