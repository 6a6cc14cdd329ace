package orchestrator

import (
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/substrate-run/substrate/pkg/models"
)

func TestPhaseSummaryBounds(t *testing.T) {
	started := time.Now().Add(-3 * time.Minute)
	artifacts := make([]string, 50)
	for i := range artifacts {
		artifacts[i] = fmt.Sprintf(".substrate/artifacts/artifact-%02d.md", i)
	}

	summary := FormatPhaseSummary(models.PhaseSolutioning, started, time.Now(), 12, artifacts, "run-abc123")

	words := strings.Fields(summary)
	assert.LessOrEqual(t, len(words), 500)
	assert.Contains(t, summary, "substrate auto resume --run-id run-abc123")
	assert.Contains(t, summary, "...40 more")
	assert.Contains(t, summary, "implementation")
}

func TestPhaseSummaryFinalPhase(t *testing.T) {
	summary := FormatPhaseSummary(models.PhaseImplementation, time.Now(), time.Now(), 0, nil, "r1")
	assert.Contains(t, summary, "final phase")
	assert.Contains(t, summary, "substrate auto resume --run-id r1")
}

func TestPhaseSummaryNoPlaceholderArtifactElision(t *testing.T) {
	summary := FormatPhaseSummary(models.PhaseAnalysis, time.Now(), time.Now(), 3,
		[]string{"a.md", "b.md"}, "r2")
	assert.NotContains(t, summary, "more")
	assert.Contains(t, summary, "a.md")
}

func TestValidatePhaseRange(t *testing.T) {
	from, stop, err := validatePhaseRange("", "")
	assert.NoError(t, err)
	assert.Equal(t, models.PhaseAnalysis, from)
	assert.Equal(t, models.Phase(""), stop)

	_, _, err = validatePhaseRange(models.PhaseSolutioning, models.PhasePlanning)
	assert.ErrorIs(t, err, ErrInvalidPhaseRange)

	_, _, err = validatePhaseRange("deploy", "")
	assert.Error(t, err)

	from, stop, err = validatePhaseRange(models.PhasePlanning, models.PhasePlanning)
	assert.NoError(t, err)
	assert.Equal(t, from, stop)
}

func TestInjectAmendmentFits(t *testing.T) {
	block := amendmentHeader + "\ndecision one\n" + amendmentFooter
	out := InjectAmendment(block, "the prompt", 10_000)
	assert.True(t, strings.HasPrefix(out, amendmentHeader))
	assert.True(t, strings.HasSuffix(out, "the prompt"))
}

func TestInjectAmendmentTruncates(t *testing.T) {
	block := amendmentHeader + "\n" + strings.Repeat("established decision text ", 500) + "\n" + amendmentFooter
	prompt := "short prompt"
	out := InjectAmendment(block, prompt, 300)

	assert.Contains(t, out, truncatedMarker)
	assert.Contains(t, out, amendmentFooter)
	assert.True(t, strings.HasSuffix(out, prompt))
	assert.Less(t, len(out), len(block))
}

func TestInjectAmendmentDropsWhenNoRoom(t *testing.T) {
	block := amendmentHeader + "\n" + strings.Repeat("x ", 2000) + amendmentFooter
	prompt := strings.Repeat("p ", 400)
	out := InjectAmendment(block, prompt, 200)
	assert.Equal(t, prompt, out)
}

func TestInjectAmendmentEmptyBlock(t *testing.T) {
	assert.Equal(t, "p", InjectAmendment("", "p", 100))
}

func TestAmendmentBlockFraming(t *testing.T) {
	// The framing regex consumers rely on: header first, footer last.
	re := regexp.MustCompile(`(?s)^=== AMENDMENT CONTEXT ===.*=== END AMENDMENT CONTEXT ===$`)
	block := amendmentHeader + "\nbody\n" + amendmentFooter
	assert.Regexp(t, re, block)
}
