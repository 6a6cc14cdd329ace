package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var storyOutputSchema = map[string]any{
	"type":     "object",
	"required": []any{"result", "ac_met"},
	"properties": map[string]any{
		"result": map[string]any{"type": "string", "enum": []any{"success", "failed"}},
		"ac_met": map[string]any{"type": "string"},
		"tests": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pass": map[string]any{"type": "integer"},
				"fail": map[string]any{"type": "integer"},
			},
		},
	},
}

func TestCompileSchemaAndValidate(t *testing.T) {
	schema, err := CompileSchema(storyOutputSchema)
	require.NoError(t, err)

	err = ValidateOutput(schema, map[string]any{
		"result": "success",
		"ac_met": "yes",
		"tests":  map[string]any{"pass": 10, "fail": 0},
	})
	assert.NoError(t, err)
}

func TestValidateOutputMissingRequired(t *testing.T) {
	schema, err := CompileSchema(storyOutputSchema)
	require.NoError(t, err)

	err = ValidateOutput(schema, map[string]any{"result": "success"})
	assert.ErrorIs(t, err, ErrSchemaValidationFailed)
}

func TestValidateOutputEnumViolation(t *testing.T) {
	schema, err := CompileSchema(storyOutputSchema)
	require.NoError(t, err)

	err = ValidateOutput(schema, map[string]any{"result": "maybe", "ac_met": "yes"})
	assert.ErrorIs(t, err, ErrSchemaValidationFailed)
}

func TestValidateOutputNormalizesYAMLTypes(t *testing.T) {
	schema, err := CompileSchema(storyOutputSchema)
	require.NoError(t, err)

	// yaml.v3 yields int; the JSON round-trip must satisfy "integer".
	parsed, ok := ExtractYAMLBlock("```yaml\nresult: success\nac_met: \"yes\"\ntests:\n  pass: 3\n  fail: 0\n```")
	require.True(t, ok)
	assert.NoError(t, ValidateOutput(schema, parsed))
}

func TestCompileSchemaRejectsGarbage(t *testing.T) {
	_, err := CompileSchema(map[string]any{"type": 42})
	assert.Error(t, err)
}
