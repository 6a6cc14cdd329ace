package pack

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/substrate-run/substrate/pkg/models"
)

// Manifest is the on-disk layout descriptor at packs/<name>/manifest.yaml.
// Prompt and template values are file paths relative to the pack directory.
type Manifest struct {
	Name        string                      `yaml:"name"`
	Phases      []string                    `yaml:"phases"`
	Prompts     map[string]string           `yaml:"prompts"`
	Templates   map[string]string           `yaml:"templates"`
	Constraints map[string][]ConstraintRule `yaml:"constraints"`
}

// FilePack loads a methodology pack from disk. All content is read eagerly
// at load time so the orchestrator never hits the filesystem mid-phase.
type FilePack struct {
	name        string
	phases      []models.Phase
	prompts     map[string]string
	templates   map[string]string
	constraints map[models.Phase][]ConstraintRule
}

// Load reads packs/<name>/manifest.yaml under packsDir and materializes the
// referenced prompt and template files.
func Load(packsDir, name string) (*FilePack, error) {
	dir := filepath.Join(packsDir, name)
	manifestPath := filepath.Join(dir, "manifest.yaml")

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read pack manifest %s: %w", manifestPath, err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestInvalid, err)
	}
	if manifest.Name == "" {
		manifest.Name = name
	}

	p := &FilePack{
		name:        manifest.Name,
		prompts:     map[string]string{},
		templates:   map[string]string{},
		constraints: map[models.Phase][]ConstraintRule{},
	}

	for _, ph := range manifest.Phases {
		phase := models.Phase(ph)
		if !phase.IsValid() {
			return nil, fmt.Errorf("%w: unknown phase %q", ErrManifestInvalid, ph)
		}
		p.phases = append(p.phases, phase)
	}
	if len(p.phases) == 0 {
		p.phases = models.PhaseSequence
	}

	for taskType, rel := range manifest.Prompts {
		text, err := os.ReadFile(filepath.Join(dir, rel))
		if err != nil {
			return nil, fmt.Errorf("failed to read prompt %s: %w", taskType, err)
		}
		p.prompts[taskType] = string(text)
	}
	for tmplName, rel := range manifest.Templates {
		text, err := os.ReadFile(filepath.Join(dir, rel))
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", tmplName, err)
		}
		p.templates[tmplName] = string(text)
	}
	for ph, rules := range manifest.Constraints {
		phase := models.Phase(ph)
		if !phase.IsValid() {
			return nil, fmt.Errorf("%w: constraints reference unknown phase %q", ErrManifestInvalid, ph)
		}
		for _, r := range rules {
			if err := validateRule(r); err != nil {
				return nil, err
			}
		}
		p.constraints[phase] = rules
	}
	return p, nil
}

// Name returns the pack name.
func (p *FilePack) Name() string { return p.name }

// Phases returns the methodology's phase order.
func (p *FilePack) Phases() []models.Phase { return p.phases }

// Prompt returns the prompt template for a task type.
func (p *FilePack) Prompt(taskType string) (string, error) {
	text, ok := p.prompts[taskType]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrPromptNotFound, taskType)
	}
	return text, nil
}

// Constraints returns the constraint rules for a phase. Phases with no rules
// return an empty slice.
func (p *FilePack) Constraints(phase models.Phase) ([]ConstraintRule, error) {
	return p.constraints[phase], nil
}

// Template returns a named template's text.
func (p *FilePack) Template(name string) (string, error) {
	text, ok := p.templates[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	return text, nil
}
