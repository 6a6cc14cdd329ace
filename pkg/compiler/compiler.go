// Package compiler assembles token-budgeted prompts from registered template
// sections backed by decision-store queries. Sections are registered by task
// type at construction time and evaluated in priority order at compile time.
package compiler

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/substrate-run/substrate/pkg/pack"
	"github.com/substrate-run/substrate/pkg/services"
	"github.com/substrate-run/substrate/pkg/tokens"
)

// Priority orders sections during assembly.
type Priority string

// Section priorities.
const (
	// PriorityRequired sections are always included. They are contractually
	// small; their tokens still draw down the running budget.
	PriorityRequired Priority = "required"
	// PriorityImportant sections are truncated to fit when the budget runs low.
	PriorityImportant Priority = "important"
	// PriorityOptional sections are included only while at least 30% of the
	// original budget remains.
	PriorityOptional Priority = "optional"
)

// optionalBudgetFloor is the remaining/original budget ratio below which
// optional sections are dropped.
const optionalBudgetFloor = 0.30

// Query describes a decision-store lookup: filters are AND-ed, list values
// become IN clauses, rows return in creation order.
type Query struct {
	Table   string
	Filters map[string]any
}

// FormatFunc renders query rows into section text.
type FormatFunc func(rows []services.ContextRow) string

// Section is one registered template section.
type Section struct {
	Name     string
	Priority Priority
	Query    Query
	Format   FormatFunc
}

// Descriptor is the full template for one task type.
type Descriptor struct {
	TaskType string
	// Header is an optional template rendered with the compile-time variable
	// set and always included (treated as required).
	Header   string
	Sections []Section
}

// SectionReport describes what happened to one section during assembly.
type SectionReport struct {
	Name      string   `json:"name"`
	Priority  Priority `json:"priority"`
	Tokens    int      `json:"tokens"`
	Included  bool     `json:"included"`
	Truncated bool     `json:"truncated"`
}

// Result is a compiled prompt with its per-section accounting.
type Result struct {
	Prompt     string          `json:"prompt"`
	TokenCount int             `json:"token_count"`
	Sections   []SectionReport `json:"sections"`
	Truncated  bool            `json:"truncated"`
}

// Compiler builds prompts from registered descriptors.
type Compiler struct {
	store       *services.DecisionService
	descriptors map[string]*Descriptor
}

// New creates a Compiler over the decision store.
func New(store *services.DecisionService) *Compiler {
	return &Compiler{
		store:       store,
		descriptors: map[string]*Descriptor{},
	}
}

// Register adds a descriptor for a task type, replacing any existing one.
func (c *Compiler) Register(d *Descriptor) {
	c.descriptors[d.TaskType] = d
}

// Compile assembles the prompt for a task type within the token budget.
func (c *Compiler) Compile(ctx context.Context, taskType string, vars pack.Vars, tokenBudget int) (*Result, error) {
	d, ok := c.descriptors[taskType]
	if !ok {
		return nil, fmt.Errorf("no context template registered for task type %q", taskType)
	}

	result := &Result{}
	remaining := tokenBudget
	var parts []string

	if d.Header != "" {
		header := pack.Render(d.Header, vars)
		headerTokens := tokens.Count(header)
		parts = append(parts, header)
		result.TokenCount += headerTokens
		remaining -= headerTokens
	}

	// Stable priority ordering: required, important, optional; registration
	// order within each priority.
	ordered := make([]Section, len(d.Sections))
	copy(ordered, d.Sections)
	sort.SliceStable(ordered, func(i, j int) bool {
		return priorityRank(ordered[i].Priority) < priorityRank(ordered[j].Priority)
	})

	for _, section := range ordered {
		rows, err := c.store.QueryContextRows(ctx, section.Query.Table, section.Query.Filters)
		if err != nil {
			return nil, fmt.Errorf("section %s: %w", section.Name, err)
		}
		text := section.Format(rows)
		sectionTokens := tokens.Count(text)
		report := SectionReport{Name: section.Name, Priority: section.Priority, Tokens: sectionTokens}

		switch section.Priority {
		case PriorityRequired:
			report.Included = true
			parts = append(parts, text)
			result.TokenCount += sectionTokens
			remaining -= sectionTokens

		case PriorityImportant:
			switch {
			case sectionTokens <= remaining:
				report.Included = true
				parts = append(parts, text)
				result.TokenCount += sectionTokens
				remaining -= sectionTokens
			case remaining > 0:
				truncated := tokens.TruncateToTokens(text, remaining)
				truncTokens := tokens.Count(truncated)
				report.Included = true
				report.Truncated = true
				report.Tokens = truncTokens
				parts = append(parts, truncated)
				result.TokenCount += truncTokens
				remaining -= truncTokens
				result.Truncated = true
			default:
				report.Truncated = true
				result.Truncated = true
			}

		case PriorityOptional:
			ratio := 0.0
			if tokenBudget > 0 {
				ratio = float64(remaining) / float64(tokenBudget)
			}
			if ratio > optionalBudgetFloor && sectionTokens <= remaining {
				report.Included = true
				parts = append(parts, text)
				result.TokenCount += sectionTokens
				remaining -= sectionTokens
			} else {
				result.Truncated = true
			}
		}

		result.Sections = append(result.Sections, report)
	}

	result.Prompt = strings.Join(parts, "\n\n")
	return result, nil
}

func priorityRank(p Priority) int {
	switch p {
	case PriorityRequired:
		return 0
	case PriorityImportant:
		return 1
	default:
		return 2
	}
}
