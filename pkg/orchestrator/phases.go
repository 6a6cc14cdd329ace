package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/substrate-run/substrate/pkg/dispatch"
	"github.com/substrate-run/substrate/pkg/models"
	"github.com/substrate-run/substrate/pkg/pack"
	"github.com/substrate-run/substrate/pkg/services"
	"github.com/substrate-run/substrate/pkg/taskgraph"
)

// persistFunc stores a successful phase's structured output. It runs before
// any event emission for the phase.
type persistFunc func(ctx context.Context, pc *PhaseContext, output map[string]any) error

// llmPhase is the shared runner for the three conversational phases: fetch
// the pack prompt, inject amendment context, dispatch the agent, parse the
// trailing YAML block, persist.
type llmPhase struct {
	phase   models.Phase
	persist persistFunc
}

func (p *llmPhase) Phase() models.Phase { return p.phase }

func (p *llmPhase) Run(ctx context.Context, pc *PhaseContext) (*PhaseResult, error) {
	template, err := pc.Pack.Prompt(string(p.phase))
	if err != nil {
		return nil, fmt.Errorf("phase %s: %w", p.phase, err)
	}
	prompt := pack.Render(template, pack.Vars{
		Methodology: pc.Run.Methodology,
		Phase:       p.phase,
		Overrides:   map[string]string{"concept": pc.Concept},
	})
	prompt = InjectAmendment(pc.Amendment, prompt, pc.PromptTokens)

	result, err := pc.Dispatcher.Dispatch(ctx, dispatch.Request{
		Agent:    pc.Agent,
		TaskType: string(p.phase),
		Prompt:   prompt,
	})
	if err != nil {
		return nil, fmt.Errorf("phase %s dispatch: %w", p.phase, err)
	}

	pr := &PhaseResult{
		InputTokens:  result.TokenEstimate.Input,
		OutputTokens: result.TokenEstimate.Output,
		Output:       result.Parsed,
	}
	switch {
	case result.Status != dispatch.StatusCompleted:
		pr.Result = "failed"
		pr.Error = fmt.Sprintf("sub-agent %s: %s", result.Status, firstNonEmpty(result.ParseError, tail(result.Stderr, 300)))
		return pr, nil
	case result.Parsed == nil:
		pr.Result = "failed"
		pr.Error = dispatch.ErrNoStructuredOutput.Error()
		return pr, nil
	case stringValue(result.Parsed, "result") == "failed":
		pr.Result = "failed"
		pr.Error = dispatch.ErrAgentReportedFailure.Error()
		return pr, nil
	}

	if p.persist != nil {
		if err := p.persist(ctx, pc, result.Parsed); err != nil {
			return nil, fmt.Errorf("phase %s persist: %w", p.phase, err)
		}
	}
	pr.Result = "success"
	return pr, nil
}

// persistAnalysis stores the product brief: one decision per brief field plus
// an artifact record pointing back into the store.
func persistAnalysis(ctx context.Context, pc *PhaseContext, output map[string]any) error {
	brief, _ := output["product_brief"].(map[string]any)
	if brief == nil {
		return fmt.Errorf("analysis output missing product_brief")
	}
	for _, key := range sortedKeys(brief) {
		if _, err := pc.Decisions.CreateDecision(ctx, decisionReq(pc, models.PhaseAnalysis,
			"product-brief", key, flatten(brief[key]), "")); err != nil {
			return err
		}
	}
	return registerPhaseArtifact(ctx, pc, models.PhaseAnalysis, "product-brief")
}

// persistPlanning stores requirements and the tech stack.
func persistPlanning(ctx context.Context, pc *PhaseContext, output map[string]any) error {
	for category, field := range map[string]string{
		"functional":     "functional_requirements",
		"non-functional": "non_functional_requirements",
	} {
		for _, item := range stringSlice(output[field]) {
			if _, err := pc.Decisions.CreateRequirement(ctx, &models.Requirement{
				PipelineRunID: pc.Run.ID,
				Phase:         models.PhasePlanning,
				Category:      category,
				Description:   item,
			}); err != nil {
				return err
			}
		}
	}
	if stack, ok := output["tech_stack"].(map[string]any); ok {
		for _, key := range sortedKeys(stack) {
			if _, err := pc.Decisions.CreateDecision(ctx, decisionReq(pc, models.PhasePlanning,
				"tech-stack", key, flatten(stack[key]), "")); err != nil {
				return err
			}
		}
	}
	return registerPhaseArtifact(ctx, pc, models.PhasePlanning, "planning-brief")
}

// persistSolutioning stores architecture decisions and generates the task
// graph file the implementation phase executes.
func persistSolutioning(ctx context.Context, pc *PhaseContext, output map[string]any) error {
	if list, ok := output["architecture_decisions"].([]any); ok {
		for _, raw := range list {
			d, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if _, err := pc.Decisions.CreateDecision(ctx, decisionReq(pc, models.PhaseSolutioning,
				stringValue(d, "category"), stringValue(d, "key"),
				stringValue(d, "value"), stringValue(d, "rationale"))); err != nil {
				return err
			}
		}
	}
	if err := registerPhaseArtifact(ctx, pc, models.PhaseSolutioning, "architecture"); err != nil {
		return err
	}

	graph := graphFromEpics(output, pc.Run.ID)
	if len(graph.Tasks) == 0 {
		return fmt.Errorf("solutioning output produced no stories")
	}
	data, err := graph.Serialize("yaml")
	if err != nil {
		return fmt.Errorf("failed to serialize task graph: %w", err)
	}
	path := filepath.Join(pc.GraphDir, pc.Run.ID+".yaml")
	if err := os.MkdirAll(pc.GraphDir, 0o755); err != nil {
		return fmt.Errorf("failed to create graph directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write task graph: %w", err)
	}
	sum := sha256.Sum256(data)
	_, err = pc.Decisions.RegisterArtifact(ctx, &models.Artifact{
		PipelineRunID: pc.Run.ID,
		Phase:         models.PhaseSolutioning,
		Type:          "task-graph",
		Path:          path,
		ContentHash:   hex.EncodeToString(sum[:]),
	})
	return err
}

// graphFromEpics builds the implementation task graph: one task per story,
// sequential within an epic, epics independent.
func graphFromEpics(output map[string]any, runID string) *taskgraph.Graph {
	graph := &taskgraph.Graph{
		Version: "1",
		Session: taskgraph.SessionDef{Name: "run-" + runID},
		Tasks:   map[string]taskgraph.TaskDef{},
	}
	epics, _ := output["epics"].([]any)
	for _, rawEpic := range epics {
		epic, ok := rawEpic.(map[string]any)
		if !ok {
			continue
		}
		stories, _ := epic["stories"].([]any)
		prev := ""
		for _, rawStory := range stories {
			story, ok := rawStory.(map[string]any)
			if !ok {
				continue
			}
			key := stringValue(story, "key")
			if key == "" {
				continue
			}
			prompt := stringValue(story, "description")
			if criteria := stringSlice(story["acceptance_criteria"]); len(criteria) > 0 {
				prompt += "\n\nAcceptance criteria:\n- " + strings.Join(criteria, "\n- ")
			}
			def := taskgraph.TaskDef{
				Name:   stringValue(story, "title"),
				Prompt: prompt,
				Type:   "dev-story",
			}
			if prev != "" {
				def.DependsOn = []string{prev}
			}
			graph.Tasks[key] = def
			prev = key
		}
	}
	return graph
}

func decisionReq(pc *PhaseContext, phase models.Phase, category, key, value, rationale string) services.CreateDecisionRequest {
	return services.CreateDecisionRequest{
		PipelineRunID: pc.Run.ID,
		Phase:         phase,
		Category:      category,
		Key:           key,
		Value:         value,
		Rationale:     rationale,
	}
}

func registerPhaseArtifact(ctx context.Context, pc *PhaseContext, phase models.Phase, artifactType string) error {
	_, err := pc.Decisions.RegisterArtifact(ctx, &models.Artifact{
		PipelineRunID: pc.Run.ID,
		Phase:         phase,
		Type:          artifactType,
		Path:          fmt.Sprintf("db://%s/%s/%s", pc.Run.ID, phase, artifactType),
	})
	return err
}

func stringValue(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func stringSlice(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range list {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// flatten renders a YAML scalar or list as a single decision value.
func flatten(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, "; ")
	default:
		return fmt.Sprint(v)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
