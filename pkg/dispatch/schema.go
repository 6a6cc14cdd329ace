package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// CompileSchema compiles a JSON-schema document (given as a Go value, e.g.
// decoded from a pack file) for validating structured agent output.
func CompileSchema(doc map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode schema: %w", err)
	}
	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("output-schema.json", parsed); err != nil {
		return nil, fmt.Errorf("failed to register schema: %w", err)
	}
	schema, err := c.Compile("output-schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return schema, nil
}

// ValidateOutput checks parsed YAML output against the schema. The value
// round-trips through JSON so YAML-specific types (ints, nested maps)
// normalize to what the validator expects.
func ValidateOutput(schema *jsonschema.Schema, value map[string]any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to normalize output: %w", err)
	}
	normalized, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return fmt.Errorf("failed to decode normalized output: %w", err)
	}
	if err := schema.Validate(normalized); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaValidationFailed, err)
	}
	return nil
}
