package taskgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validGraph() *Graph {
	return &Graph{
		Version: "1",
		Session: SessionDef{Name: "build-feature"},
		Tasks: map[string]TaskDef{
			"a": {Name: "Task A", Prompt: "do a"},
			"b": {Name: "Task B", Prompt: "do b", DependsOn: []string{"a"}},
			"c": {Name: "Task C", Prompt: "do c", DependsOn: []string{"a", "b"}},
		},
	}
}

func TestValidateAcceptsValidGraph(t *testing.T) {
	result, err := Validate(validGraph(), nil)
	require.NoError(t, err)
	assert.Empty(t, result.Warnings)
}

func TestValidateRejectsUnknownVersion(t *testing.T) {
	g := validGraph()
	g.Version = "99"
	_, err := Validate(g, nil)
	assert.ErrorIs(t, err, ErrIncompatibleFormat)
}

func TestValidateDetectsCycle(t *testing.T) {
	g := &Graph{
		Version: "1",
		Session: SessionDef{Name: "cyclic"},
		Tasks: map[string]TaskDef{
			"a": {Name: "A", Prompt: "p", DependsOn: []string{"b"}},
			"b": {Name: "B", Prompt: "p", DependsOn: []string{"a"}},
		},
	}
	_, err := Validate(g, nil)
	require.Error(t, err)

	var cycle *CycleError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{"a", "b", "a"}, cycle.Path)
	assert.Contains(t, cycle.Error(), "a -> b -> a")
}

func TestValidateMinimalCyclePath(t *testing.T) {
	// The cycle is b <-> c; a is outside it and must not appear in the path.
	g := &Graph{
		Version: "1",
		Session: SessionDef{Name: "nested-cycle"},
		Tasks: map[string]TaskDef{
			"a": {Name: "A", Prompt: "p", DependsOn: []string{"b"}},
			"b": {Name: "B", Prompt: "p", DependsOn: []string{"c"}},
			"c": {Name: "C", Prompt: "p", DependsOn: []string{"b"}},
		},
	}
	_, err := Validate(g, nil)
	var cycle *CycleError
	require.ErrorAs(t, err, &cycle)
	assert.NotContains(t, cycle.Path, "a")
	assert.Equal(t, cycle.Path[0], cycle.Path[len(cycle.Path)-1])
}

func TestValidateRejectsSelfDependency(t *testing.T) {
	g := validGraph()
	g.Tasks["d"] = TaskDef{Name: "D", Prompt: "p", DependsOn: []string{"d"}}
	_, err := Validate(g, nil)
	assert.ErrorIs(t, err, ErrSelfDependency)
}

func TestValidateRejectsDanglingReference(t *testing.T) {
	g := validGraph()
	g.Tasks["d"] = TaskDef{Name: "D", Prompt: "p", DependsOn: []string{"ghost"}}
	_, err := Validate(g, nil)
	assert.ErrorIs(t, err, ErrDanglingReference)
}

func TestValidateStructuralErrors(t *testing.T) {
	g := validGraph()
	g.Session.Name = ""
	_, err := Validate(g, nil)
	assert.ErrorIs(t, err, ErrInvalidGraph)

	g = validGraph()
	g.Tasks["empty"] = TaskDef{Name: "", Prompt: "p"}
	_, err = Validate(g, nil)
	assert.ErrorIs(t, err, ErrInvalidGraph)

	g = &Graph{Version: "1", Session: SessionDef{Name: "no-tasks"}}
	_, err = Validate(g, nil)
	assert.ErrorIs(t, err, ErrInvalidGraph)
}

func TestValidateSucceedsThenNoCycle(t *testing.T) {
	g := validGraph()
	_, err := Validate(g, nil)
	require.NoError(t, err)
	assert.NoError(t, detectCycle(g.Tasks))
}
