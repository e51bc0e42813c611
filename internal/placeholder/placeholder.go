// Package placeholder substitutes {{field}} tokens in message templates.
package placeholder

import (
	"regexp"
	"strings"
)

// token pattern for template substitution: {{field_name}}
var tokenPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// Render substitutes {{field}} tokens in template with values from data.
// Unknown tokens are kept literally so a typo in a template is visible in
// the delivered message instead of silently vanishing. Rendering never
// fails; a template without tokens is returned unchanged.
func Render(template string, data map[string]string) string {
	if template == "" {
		return template
	}

	return tokenPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := strings.TrimSpace(match[2 : len(match)-2])
		if value, ok := data[name]; ok {
			return value
		}
		// Keep original if field not found
		return match
	})
}

// Fields returns the distinct token names referenced by template, in order
// of first appearance.
func Fields(template string) []string {
	var fields []string
	seen := make(map[string]bool)

	for _, m := range tokenPattern.FindAllStringSubmatch(template, -1) {
		name := strings.TrimSpace(m[1])
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		fields = append(fields, name)
	}

	return fields
}

// Merge combines variable maps with later maps taking precedence. Inputs
// are never mutated.
func Merge(maps ...map[string]string) map[string]string {
	result := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}
