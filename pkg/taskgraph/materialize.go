package taskgraph

import (
	"github.com/substrate-run/substrate/pkg/config"
	"github.com/substrate-run/substrate/pkg/models"
)

// Materialize converts a validated graph into task rows and dependency
// edges, applying the configured defaults to tasks that carry none.
func Materialize(g *Graph, sessionID string, defaults *config.Defaults) ([]*models.Task, []models.TaskDependency) {
	var (
		defaultAgent   string
		defaultRetries int
		defaultTimeout int
	)
	if defaults != nil {
		defaultAgent = defaults.Agent
		defaultRetries = defaults.MaxRetries
		defaultTimeout = int(defaults.TaskTimeout.Milliseconds())
	}

	tasks := make([]*models.Task, 0, len(g.Tasks))
	var deps []models.TaskDependency

	for _, id := range g.TaskIDs() {
		def := g.Tasks[id]

		task := &models.Task{
			ID:         id,
			SessionID:  sessionID,
			Name:       def.Name,
			Prompt:     def.Prompt,
			TaskType:   def.Type,
			Status:     models.TaskStatusPending,
			Agent:      def.Agent,
			Model:      def.Model,
			BudgetUSD:  def.BudgetUSD,
			TimeoutMS:  def.TimeoutMS,
			MaxRetries: defaultRetries,
		}
		if task.Agent == "" {
			task.Agent = defaultAgent
		}
		if def.MaxRetries != nil {
			task.MaxRetries = *def.MaxRetries
		}
		if task.TimeoutMS == 0 {
			task.TimeoutMS = defaultTimeout
		}
		tasks = append(tasks, task)

		for _, dep := range def.DependsOn {
			deps = append(deps, models.TaskDependency{TaskID: id, DependsOn: dep})
		}
	}
	return tasks, deps
}
