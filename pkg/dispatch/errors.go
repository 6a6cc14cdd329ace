package dispatch

import "errors"

var (
	// ErrAgentUnavailable indicates the agent binary could not be found or
	// executed (exit code 127 territory).
	ErrAgentUnavailable = errors.New("agent unavailable")

	// ErrDispatchTimeout indicates the sub-agent exceeded its time budget
	// and was killed.
	ErrDispatchTimeout = errors.New("dispatch timed out")

	// ErrDispatchFailed indicates the sub-agent exited nonzero.
	ErrDispatchFailed = errors.New("dispatch failed")

	// ErrSchemaValidationFailed indicates the output's YAML block did not
	// conform to the task's output schema.
	ErrSchemaValidationFailed = errors.New("schema validation failed")

	// ErrNoStructuredOutput indicates no well-formed YAML block was found
	// in the agent's output.
	ErrNoStructuredOutput = errors.New("no structured output block found")

	// ErrAgentReportedFailure indicates the agent's structured output
	// declared result: failed.
	ErrAgentReportedFailure = errors.New("agent reported failure")
)
