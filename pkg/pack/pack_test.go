package pack

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/substrate-run/substrate/pkg/models"
)

func writePack(t *testing.T, manifest string, files map[string]string) string {
	t.Helper()
	packsDir := t.TempDir()
	dir := filepath.Join(packsDir, "default")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "prompts"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.yaml"), []byte(manifest), 0o644))
	for rel, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, rel), []byte(content), 0o644))
	}
	return packsDir
}

const sampleManifest = `name: default
phases:
  - analysis
  - planning
  - solutioning
  - implementation
prompts:
  analysis: prompts/analysis.md
  dev-story: prompts/dev-story.md
templates:
  story: prompts/story.md
constraints:
  planning:
    - rule_id: PLAN-001
      severity: warn
      description: requirements need a priority
`

func TestLoadPack(t *testing.T) {
	packsDir := writePack(t, sampleManifest, map[string]string{
		"prompts/analysis.md":  "Analyze {{concept}} using {{methodology}}.",
		"prompts/dev-story.md": "Implement the story.",
		"prompts/story.md":     "# {{phase}}",
	})

	p, err := Load(packsDir, "default")
	require.NoError(t, err)

	assert.Equal(t, "default", p.Name())
	assert.Equal(t, models.PhaseSequence, p.Phases())

	prompt, err := p.Prompt("analysis")
	require.NoError(t, err)
	assert.Contains(t, prompt, "{{concept}}")

	tmpl, err := p.Template("story")
	require.NoError(t, err)
	assert.Equal(t, "# {{phase}}", tmpl)

	rules, err := p.Constraints(models.PhasePlanning)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "PLAN-001", rules[0].RuleID)

	empty, err := p.Constraints(models.PhaseAnalysis)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestLoadPackMissingPrompt(t *testing.T) {
	packsDir := writePack(t, sampleManifest, map[string]string{
		"prompts/analysis.md": "x",
		"prompts/story.md":    "x",
	})
	_, err := Load(packsDir, "default")
	assert.Error(t, err)
}

func TestLoadPackUnknownPhase(t *testing.T) {
	packsDir := writePack(t, "name: default\nphases: [deploy]\n", nil)
	_, err := Load(packsDir, "default")
	assert.ErrorIs(t, err, ErrManifestInvalid)
}

func TestLoadPackBadSeverity(t *testing.T) {
	manifest := `name: default
constraints:
  planning:
    - rule_id: X-1
      severity: fatal
      description: nope
`
	packsDir := writePack(t, manifest, nil)
	_, err := Load(packsDir, "default")
	assert.ErrorIs(t, err, ErrManifestInvalid)
}

func TestPromptNotFound(t *testing.T) {
	packsDir := writePack(t, "name: default\n", nil)
	p, err := Load(packsDir, "default")
	require.NoError(t, err)

	_, err = p.Prompt("nope")
	assert.ErrorIs(t, err, ErrPromptNotFound)
	_, err = p.Template("nope")
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestRender(t *testing.T) {
	vars := Vars{
		Methodology: "default",
		Phase:       models.PhaseAnalysis,
		Overrides:   map[string]string{"concept": "a url shortener"},
	}

	out := Render("Analyze {{concept}} during {{phase}} with {{methodology}}.", vars)
	assert.Equal(t, "Analyze a url shortener during analysis with default.", out)
}

func TestRenderLeavesUnknownPlaceholders(t *testing.T) {
	out := Render("keep {{unknown}} intact", Vars{})
	assert.Equal(t, "keep {{unknown}} intact", out)
}

func TestRenderOverrideWins(t *testing.T) {
	out := Render("{{phase}}", Vars{Phase: models.PhasePlanning, Overrides: map[string]string{"phase": "custom"}})
	assert.Equal(t, "custom", out)
}
