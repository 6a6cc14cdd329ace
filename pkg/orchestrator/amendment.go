package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/substrate-run/substrate/pkg/models"
	"github.com/substrate-run/substrate/pkg/services"
	"github.com/substrate-run/substrate/pkg/tokens"
)

const (
	amendmentHeader = "=== AMENDMENT CONTEXT ==="
	amendmentFooter = "=== END AMENDMENT CONTEXT ==="
	truncatedMarker = "[TRUNCATED]"
)

// SupersessionEntry is one in-memory record of a decision superseded during
// an amendment run. Persistence is the caller's job, not the handler's.
type SupersessionEntry struct {
	OriginalDecisionID    string       `json:"original_decision_id"`
	SupersedingDecisionID string       `json:"superseding_decision_id"`
	Phase                 models.Phase `json:"phase"`
	Key                   string       `json:"key"`
	Reason                string       `json:"reason"`
	LoggedAt              time.Time    `json:"logged_at"`
}

// AmendmentContext formats a parent run's surviving decisions into the
// framing block injected into each phase prompt of an amendment run.
type AmendmentContext struct {
	decisions *services.DecisionService

	mu  sync.Mutex
	log []SupersessionEntry
}

// NewAmendmentContext creates a handler over the decision store.
func NewAmendmentContext(decisions *services.DecisionService) *AmendmentContext {
	return &AmendmentContext{decisions: decisions}
}

// Build loads the parent run's non-superseded decisions, optionally filtered
// to a set of phases, and formats the context block. concept, when non-empty,
// is named as the idea the amendment explores.
func (a *AmendmentContext) Build(ctx context.Context, parentRunID string, phases []models.Phase, concept string) (string, error) {
	decisions, err := a.decisions.LoadParentRunDecisions(ctx, parentRunID)
	if err != nil {
		return "", fmt.Errorf("failed to load parent run decisions: %w", err)
	}
	if len(phases) > 0 {
		wanted := make(map[models.Phase]bool, len(phases))
		for _, p := range phases {
			wanted[p] = true
		}
		filtered := decisions[:0]
		for _, d := range decisions {
			if wanted[d.Phase] {
				filtered = append(filtered, d)
			}
		}
		decisions = filtered
	}

	var b strings.Builder
	b.WriteString(amendmentHeader + "\n")
	b.WriteString("This is an amendment run. The following decisions were established in the parent run and remain in force unless explicitly superseded:\n")

	var current models.Phase
	for _, d := range decisions {
		if d.Phase != current {
			current = d.Phase
			fmt.Fprintf(&b, "[Phase: %s]\n", current)
		}
		fmt.Fprintf(&b, "  - %s/%s: %s\n", d.Category, d.Key, d.Value)
		if d.Rationale != nil && *d.Rationale != "" {
			fmt.Fprintf(&b, "    Rationale: %s\n", *d.Rationale)
		}
	}
	if concept != "" {
		fmt.Fprintf(&b, "Concept being explored: %s\n", concept)
	}
	b.WriteString(amendmentFooter)
	return b.String(), nil
}

// Inject prepends the block to the prompt within the token budget. When the
// combined size overflows, the block is truncated with a marker; when there
// is no room for even a truncated block, it is dropped entirely rather than
// producing a prompt-too-long failure.
func (a *AmendmentContext) Inject(block, prompt string, tokenBudget int) string {
	return InjectAmendment(block, prompt, tokenBudget)
}

// InjectAmendment is Inject without the handler receiver, for phase runners
// that only hold the pre-built block.
func InjectAmendment(block, prompt string, tokenBudget int) string {
	if block == "" {
		return prompt
	}
	promptTokens := tokens.Count(prompt)
	blockTokens := tokens.Count(block)
	if tokenBudget <= 0 || promptTokens+blockTokens <= tokenBudget {
		return block + "\n\n" + prompt
	}

	room := tokenBudget - promptTokens - tokens.Count(truncatedMarker+amendmentFooter)
	if room <= tokens.Count(amendmentHeader) {
		slog.Warn("Amendment context dropped: no room within prompt budget",
			"block_tokens", blockTokens, "budget", tokenBudget)
		return prompt
	}
	truncated := tokens.TruncateToTokens(block, room)
	return truncated + "\n" + truncatedMarker + "\n" + amendmentFooter + "\n\n" + prompt
}

// LogSupersession appends one in-memory supersession record.
func (a *AmendmentContext) LogSupersession(entry SupersessionEntry) {
	entry.LoggedAt = time.Now().UTC()
	a.mu.Lock()
	a.log = append(a.log, entry)
	a.mu.Unlock()
}

// SupersessionLog returns a copy of the accumulated records.
func (a *AmendmentContext) SupersessionLog() []SupersessionEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]SupersessionEntry{}, a.log...)
}
