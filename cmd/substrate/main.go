// substrate — multi-agent code generation orchestrator. Drives the
// analysis/planning/solutioning/implementation pipeline, executing task
// graphs with external agent CLIs in isolated git worktrees.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/substrate-run/substrate/pkg/dispatch"
	"github.com/substrate-run/substrate/pkg/services"
	"github.com/substrate-run/substrate/pkg/taskgraph"
)

const (
	exitFailure    = 1
	exitValidation = 2
	exitNoAgent    = 127
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, dispatch.ErrAgentUnavailable):
		return exitNoAgent
	case services.IsValidationError(err),
		errors.Is(err, taskgraph.ErrInvalidGraph),
		errors.Is(err, taskgraph.ErrIncompatibleFormat),
		errors.Is(err, taskgraph.ErrDanglingReference),
		errors.Is(err, taskgraph.ErrSelfDependency),
		isCycleError(err):
		return exitValidation
	default:
		return exitFailure
	}
}

func isCycleError(err error) bool {
	var ce *taskgraph.CycleError
	return errors.As(err, &ce)
}
