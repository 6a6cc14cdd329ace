// Package pack provides read-only access to a methodology pack: the phase
// prompts, constraint rules, and templates the orchestrator feeds to
// sub-agents. The core depends only on the Pack interface; the on-disk
// layout is an implementation detail of FilePack.
package pack

import (
	"errors"
	"fmt"

	"github.com/substrate-run/substrate/pkg/models"
)

var (
	// ErrPromptNotFound indicates no prompt is registered for a task type.
	ErrPromptNotFound = errors.New("prompt not found")

	// ErrTemplateNotFound indicates no template is registered under a name.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrManifestInvalid indicates the pack manifest failed to parse or validate.
	ErrManifestInvalid = errors.New("invalid pack manifest")
)

// ConstraintRule is one methodology constraint applied during a phase.
type ConstraintRule struct {
	RuleID      string `yaml:"rule_id"`
	Severity    string `yaml:"severity"` // info, warn, error
	Description string `yaml:"description"`
}

// Pack is a read-only provider of methodology content.
type Pack interface {
	// Name returns the pack name (e.g. "default").
	Name() string
	// Phases returns the phases the methodology defines, in order.
	Phases() []models.Phase
	// Prompt returns the prompt template for a task type.
	Prompt(taskType string) (string, error)
	// Constraints returns the constraint rules for a phase.
	Constraints(phase models.Phase) ([]ConstraintRule, error)
	// Template returns a named template's text.
	Template(name string) (string, error)
}

// Vars is the enumerated variable map available to template rendering,
// built from the pipeline run context plus per-call overrides.
type Vars struct {
	Methodology string
	Phase       models.Phase
	Overrides   map[string]string
}

// Map flattens the variable set into name → value. Override keys win.
func (v Vars) Map() map[string]string {
	m := map[string]string{
		"methodology": v.Methodology,
		"phase":       string(v.Phase),
	}
	for k, val := range v.Overrides {
		m[k] = val
	}
	return m
}

// severities accepted in constraint rules.
var validSeverities = map[string]bool{"info": true, "warn": true, "error": true}

func validateRule(r ConstraintRule) error {
	if r.RuleID == "" {
		return fmt.Errorf("%w: constraint rule missing rule_id", ErrManifestInvalid)
	}
	if !validSeverities[r.Severity] {
		return fmt.Errorf("%w: rule %s has unknown severity %q", ErrManifestInvalid, r.RuleID, r.Severity)
	}
	return nil
}
