package dispatch

import (
	"strings"

	"gopkg.in/yaml.v3"
)

// ExtractYAMLBlock finds the last well-formed YAML mapping in the agent's
// output. Fenced blocks (```yaml or bare ```) are tried from the end of the
// text backwards; when no fence parses, the whole output is tried as a final
// fallback for agents that emit bare YAML.
func ExtractYAMLBlock(output string) (map[string]any, bool) {
	blocks := fencedBlocks(output)
	for i := len(blocks) - 1; i >= 0; i-- {
		if parsed, ok := parseYAMLMapping(blocks[i]); ok {
			return parsed, true
		}
	}
	if parsed, ok := parseYAMLMapping(output); ok {
		return parsed, true
	}
	return nil, false
}

// fencedBlocks returns the contents of all triple-backtick fences in order.
func fencedBlocks(text string) []string {
	var blocks []string
	rest := text
	for {
		start := strings.Index(rest, "```")
		if start < 0 {
			break
		}
		body := rest[start+3:]
		// Skip the info string (e.g. "yaml") up to the first newline.
		if nl := strings.IndexByte(body, '\n'); nl >= 0 {
			body = body[nl+1:]
		}
		end := strings.Index(body, "```")
		if end < 0 {
			break
		}
		blocks = append(blocks, body[:end])
		rest = body[end+3:]
	}
	return blocks
}

func parseYAMLMapping(text string) (map[string]any, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, false
	}
	var parsed map[string]any
	if err := yaml.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, false
	}
	if len(parsed) == 0 {
		return nil, false
	}
	return parsed, true
}
