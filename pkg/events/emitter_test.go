package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitWritesOneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(&buf)

	e.Emit(EventTaskStarted, TaskPayload{SessionID: "s1", TaskID: "t1"})
	e.Emit(EventTaskComplete, TaskPayload{SessionID: "s1", TaskID: "t1", CostUSD: 0.05})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "task:started", first["event"])
	assert.NotEmpty(t, first["ts"])
	data := first["data"].(map[string]any)
	assert.Equal(t, "t1", data["task_id"])
}

func TestNilEmitterDiscards(t *testing.T) {
	var e *Emitter
	assert.NotPanics(t, func() {
		e.Emit(EventPipelineStart, PipelineStartPayload{RunID: "r1"})
	})
	assert.Nil(t, NewEmitter(nil))
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("consumer went away")
}

func TestEmitSwallowsWriteErrors(t *testing.T) {
	e := NewEmitter(failingWriter{})
	assert.NotPanics(t, func() {
		e.Emit(EventBudgetExceeded, BudgetPayload{SessionID: "s1", Scope: "session"})
	})
}
