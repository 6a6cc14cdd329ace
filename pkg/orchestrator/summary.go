package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/substrate-run/substrate/pkg/models"
)

// maxSummaryWords bounds the phase completion summary.
const maxSummaryWords = 500

// maxSummaryArtifacts bounds the artifact paths listed before eliding.
const maxSummaryArtifacts = 10

// phaseDescriptions explain what each phase will do, for the "next up" line.
var phaseDescriptions = map[models.Phase]string{
	models.PhaseAnalysis:       "analyze the concept and produce a product brief",
	models.PhasePlanning:       "derive requirements, user stories, and the tech stack",
	models.PhaseSolutioning:    "design the architecture and break work into a task graph",
	models.PhaseImplementation: "execute the task graph with sub-agents in isolated worktrees",
}

// FormatPhaseSummary renders the human-readable report shown when a run
// halts after --stop-after. The result is at most 500 words and always
// contains the literal resume command.
func FormatPhaseSummary(phase models.Phase, startedAt, completedAt time.Time, decisionCount int, artifactPaths []string, runID string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Phase %q completed in %s.\n", phase, completedAt.Sub(startedAt).Round(time.Second))
	fmt.Fprintf(&b, "Decisions recorded: %d.\n", decisionCount)

	if len(artifactPaths) > 0 {
		b.WriteString("Artifacts:\n")
		shown := artifactPaths
		if len(shown) > maxSummaryArtifacts {
			shown = shown[:maxSummaryArtifacts]
		}
		for _, p := range shown {
			fmt.Fprintf(&b, "  - %s\n", p)
		}
		if rest := len(artifactPaths) - len(shown); rest > 0 {
			fmt.Fprintf(&b, "  ...%d more\n", rest)
		}
	}

	if next := nextPhase(phase); next != "" {
		fmt.Fprintf(&b, "Next phase: %s will %s.\n", next, phaseDescriptions[next])
	} else {
		b.WriteString("This was the final phase.\n")
	}

	// The resume command must survive the word cap, so it is budgeted first.
	resume := fmt.Sprintf("Resume with: substrate auto resume --run-id %s", runID)
	body := strings.TrimRight(capWords(b.String(), maxSummaryWords-len(strings.Fields(resume))), "\n")
	return body + "\n" + resume + "\n"
}

// nextPhase returns the phase after p in the canonical sequence, or "".
func nextPhase(p models.Phase) models.Phase {
	i := p.Index()
	if i < 0 || i+1 >= len(models.PhaseSequence) {
		return ""
	}
	return models.PhaseSequence[i+1]
}

// capWords truncates text to at most n whitespace-separated words.
func capWords(text string, n int) string {
	words := strings.Fields(text)
	if len(words) <= n {
		return text
	}
	return strings.Join(words[:n], " ")
}
