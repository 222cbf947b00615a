package models

import (
	"fmt"
	"strings"
)

// Condition is a single field/operator/value predicate used by the filter
// transform and the condition executor.
type Condition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// ConditionFromConfig reads a condition out of a step parameter map.
func ConditionFromConfig(config map[string]any) (Condition, bool) {
	raw, ok := config["condition"].(map[string]any)
	if !ok {
		return Condition{}, false
	}

	field, _ := raw["field"].(string)
	operator, _ := raw["operator"].(string)

	return Condition{Field: field, Operator: operator, Value: raw["value"]}, true
}

// EvaluateOperator applies an operator to an actual and expected value.
// "equals" is the baseline; the rest are extensions sharing its coercion
// rules. An unknown operator is an error, not a false match.
func EvaluateOperator(actual any, operator string, expected any) (bool, error) {
	switch operator {
	case "equals":
		return looselyEqual(actual, expected), nil
	case "not_equals":
		return !looselyEqual(actual, expected), nil
	case "greater_than":
		a, aok := asNumber(actual)
		b, bok := asNumber(expected)

		return aok && bok && a > b, nil
	case "less_than":
		a, aok := asNumber(actual)
		b, bok := asNumber(expected)

		return aok && bok && a < b, nil
	case "contains":
		return strings.Contains(fmt.Sprintf("%v", actual), fmt.Sprintf("%v", expected)), nil
	case "exists":
		return actual != nil, nil
	default:
		return false, fmt.Errorf("unsupported condition operator: %s", operator)
	}
}

// looselyEqual compares values with numeric coercion so that a JSON-decoded
// float64(1) matches an int(1) from in-code configuration.
func looselyEqual(actual, expected any) bool {
	if actual == nil || expected == nil {
		return actual == expected
	}

	if a, ok := asNumber(actual); ok {
		if b, ok := asNumber(expected); ok {
			return a == b
		}
	}

	return fmt.Sprintf("%v", actual) == fmt.Sprintf("%v", expected)
}

func asNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
