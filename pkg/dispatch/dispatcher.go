// Package dispatch spawns external agent CLIs as child processes, captures
// their output, enforces timeouts, and parses the trailing structured YAML
// block. A dispatch is single-shot: retries belong to the caller, driven by
// gate outcomes.
package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/substrate-run/substrate/pkg/config"
	"github.com/substrate-run/substrate/pkg/tokens"
)

// Status is the terminal state of a dispatch.
type Status string

// Dispatch statuses.
const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
)

// unavailableExitCode is the shell convention for "command not found".
const unavailableExitCode = 127

// DefaultTimeout bounds dispatches whose adapter sets none.
const DefaultTimeout = 15 * time.Minute

// Request describes one sub-agent invocation.
type Request struct {
	// Agent names the adapter in the registry.
	Agent string

	// TaskType labels the dispatch for logging and token accounting.
	TaskType string

	// Prompt is written to the child's stdin, then stdin is closed.
	Prompt string

	// OutputSchema, when non-nil, validates the trailing YAML block.
	OutputSchema *jsonschema.Schema

	// EnvOverrides adds to the child's environment.
	EnvOverrides map[string]string

	// Timeout overrides the adapter timeout. Zero falls through.
	Timeout time.Duration

	// Dir is the child's working directory (a task worktree, usually).
	Dir string
}

// TokenEstimate is the heuristic token accounting for one dispatch.
type TokenEstimate struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// Result is the awaited outcome of one dispatch.
type Result struct {
	Status        Status         `json:"status"`
	Output        string         `json:"output"`
	Stderr        string         `json:"stderr"`
	Parsed        map[string]any `json:"parsed,omitempty"`
	ParseError    string         `json:"parse_error,omitempty"`
	TokenEstimate TokenEstimate  `json:"token_estimate"`
	Duration      time.Duration  `json:"duration"`
	ExitCode      int            `json:"exit_code"`
}

// DefaultShutdownGrace is how long a cancelled child gets between SIGTERM
// and SIGKILL.
const DefaultShutdownGrace = 10 * time.Second

// Dispatcher spawns sub-agent processes using registered adapters.
type Dispatcher struct {
	registry      *config.AgentRegistry
	shutdownGrace time.Duration
}

// New creates a Dispatcher over the agent registry.
func New(registry *config.AgentRegistry) *Dispatcher {
	return &Dispatcher{registry: registry, shutdownGrace: DefaultShutdownGrace}
}

// WithShutdownGrace overrides the SIGTERM-to-SIGKILL window.
func (d *Dispatcher) WithShutdownGrace(grace time.Duration) *Dispatcher {
	if grace > 0 {
		d.shutdownGrace = grace
	}
	return d
}

// Dispatch runs one sub-agent to completion. Process-level failures are
// reported in the Result, not as an error; the error return is reserved for
// unusable requests (unknown agent, missing binary).
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Result, error) {
	name, adapter, err := d.registry.Resolve(req.Agent)
	if err != nil {
		return nil, fmt.Errorf("%w: agent %q is not registered. Run: substrate adapters --health",
			ErrAgentUnavailable, req.Agent)
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = adapter.Timeout
	}
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, adapter.Binary, adapter.Args...)
	if req.Dir != "" {
		cmd.Dir = req.Dir
	}
	cmd.Env = childEnv(adapter.Env, req.EnvOverrides)
	// On cancellation the child gets SIGTERM, then SIGKILL after the grace
	// window if it ignores it.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = d.shutdownGrace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin pipe: %w", err)
	}

	started := time.Now()
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: binary %q not found on PATH. Run: substrate adapters --health",
				ErrAgentUnavailable, adapter.Binary)
		}
		return nil, fmt.Errorf("failed to start agent %s: %w", name, err)
	}

	go func() {
		_, _ = io.WriteString(stdin, req.Prompt)
		stdin.Close()
	}()

	waitErr := cmd.Wait()
	duration := time.Since(started)

	result := &Result{
		Output:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
		TokenEstimate: TokenEstimate{
			Input:  tokens.Count(req.Prompt),
			Output: tokens.Count(stdout.String()),
		},
	}

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		result.Status = StatusTimeout
		result.ExitCode = -1
		slog.Warn("Sub-agent timed out",
			"agent", name, "task_type", req.TaskType, "timeout", timeout)
		return result, nil
	case waitErr != nil:
		result.Status = StatusFailed
		result.ExitCode = exitCode(waitErr)
		if result.ExitCode == unavailableExitCode {
			return nil, fmt.Errorf("%w: %s exited 127. Run: substrate adapters --health",
				ErrAgentUnavailable, adapter.Binary)
		}
		slog.Warn("Sub-agent failed",
			"agent", name, "task_type", req.TaskType,
			"exit_code", result.ExitCode, "duration", duration)
		return result, nil
	}

	result.ExitCode = 0
	d.parseStructuredOutput(req, result)

	slog.Debug("Sub-agent completed",
		"agent", name, "task_type", req.TaskType,
		"status", result.Status, "duration", duration,
		"tokens_in", result.TokenEstimate.Input, "tokens_out", result.TokenEstimate.Output)
	return result, nil
}

// parseStructuredOutput extracts and validates the trailing YAML block,
// setting the result status accordingly.
func (d *Dispatcher) parseStructuredOutput(req Request, result *Result) {
	parsed, ok := ExtractYAMLBlock(result.Output)
	if !ok {
		if req.OutputSchema != nil {
			result.Status = StatusFailed
			result.ParseError = ErrNoStructuredOutput.Error()
			return
		}
		result.Status = StatusCompleted
		return
	}

	if req.OutputSchema != nil {
		if err := ValidateOutput(req.OutputSchema, parsed); err != nil {
			result.Status = StatusFailed
			result.ParseError = err.Error()
			return
		}
	}
	result.Parsed = parsed
	result.Status = StatusCompleted
}

func childEnv(adapterEnv, overrides map[string]string) []string {
	env := append([]string{}, os.Environ()...)
	for k, v := range adapterEnv {
		env = append(env, k+"="+v)
	}
	for k, v := range overrides {
		env = append(env, k+"="+v)
	}
	return env
}

func exitCode(waitErr error) int {
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
