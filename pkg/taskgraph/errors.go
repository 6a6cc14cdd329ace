package taskgraph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrIncompatibleFormat indicates the graph file declares an unsupported
	// version.
	ErrIncompatibleFormat = errors.New("incompatible task graph format")

	// ErrInvalidGraph indicates a structural validation failure.
	ErrInvalidGraph = errors.New("invalid task graph")

	// ErrDanglingReference indicates a depends_on entry names a missing task.
	ErrDanglingReference = errors.New("dangling dependency reference")

	// ErrSelfDependency indicates a task depends on itself.
	ErrSelfDependency = errors.New("task depends on itself")
)

// CycleError reports a dependency cycle with its minimal path.
type CycleError struct {
	// Path is the cycle with the starting task repeated at the end,
	// e.g. [a b a].
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("task graph contains a cycle: %s", strings.Join(e.Path, " -> "))
}
