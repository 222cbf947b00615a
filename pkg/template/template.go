// Package template provides field-reference resolution for dynamic step
// configuration: dotted paths into the execution context and {{placeholder}}
// substitution in output templates.
package template

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dukex/stepflow/pkg/models"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// ContextData builds the lookup root for an execution context. Condition and
// transform expressions address it with dotted paths such as
// "param.customer_id" or "steps.fetch_users.data".
func ContextData(executionCtx models.ExecutionContext) map[string]any {
	return map[string]any{
		"param":  executionCtx.Parameters,
		"params": executionCtx.Parameters,
		"steps":  executionCtx.StepResults,
		"vars":   executionCtx.GlobalVariables,
		"execution": map[string]any{
			"id":          executionCtx.ExecutionID,
			"workflow_id": executionCtx.WorkflowID,
			"user_id":     executionCtx.UserID,
		},
	}
}

// Lookup resolves a dotted path against nested map data. The second return
// value reports whether every segment of the path matched.
func Lookup(path string, data map[string]any) (any, bool) {
	if path == "" {
		return nil, false
	}

	var current any = data

	for segment := range strings.SplitSeq(path, ".") {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = node[segment]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

// Resolve substitutes placeholders in a template value against data. A value
// that is exactly one placeholder resolves to the referenced value with its
// type preserved; placeholders embedded in a longer string are stringified in
// place. Unmatched placeholders degrade to their literal form, and non-string
// values pass through untouched.
func Resolve(value any, data map[string]any) any {
	str, ok := value.(string)
	if !ok {
		return value
	}

	matches := placeholderPattern.FindStringSubmatch(str)
	if len(matches) == 2 && matches[0] == str {
		resolved, found := Lookup(matches[1], data)
		if !found {
			return str
		}

		return resolved
	}

	return placeholderPattern.ReplaceAllStringFunc(str, func(match string) string {
		path := placeholderPattern.FindStringSubmatch(match)[1]

		resolved, found := Lookup(path, data)
		if !found {
			return match
		}

		return fmt.Sprintf("%v", resolved)
	})
}

// ResolveMap applies Resolve to every value of a template map, returning a
// new map. Nested maps are resolved recursively.
func ResolveMap(tmpl map[string]any, data map[string]any) map[string]any {
	out := make(map[string]any, len(tmpl))

	for key, value := range tmpl {
		if nested, ok := value.(map[string]any); ok {
			out[key] = ResolveMap(nested, data)

			continue
		}

		out[key] = Resolve(value, data)
	}

	return out
}
