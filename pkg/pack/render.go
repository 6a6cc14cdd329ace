package pack

import (
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{([a-zA-Z0-9_.-]+)\}\}`)

// Render substitutes {{var}} placeholders with values from the variable map.
// Placeholders without a registered value are left intact — downstream
// consumers treat leftover braces as literal text, not an error.
func Render(template string, vars Vars) string {
	values := vars.Map()
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := strings.TrimSuffix(strings.TrimPrefix(match, "{{"), "}}")
		if val, ok := values[name]; ok {
			return val
		}
		return match
	})
}
