package nodes

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/canvasflow/engine/internal/domain/execution"
	"github.com/canvasflow/engine/internal/domain/workflow"
)

// evaluate applies one comparison operator to a record field. Numeric
// comparisons coerce both sides to float64; values that cannot be
// coerced fall back to lexicographic comparison.
func evaluate(record execution.Record, field, operator string, value interface{}) bool {
	actual := record[field]

	switch operator {
	case workflow.OpIsEmpty:
		return isEmpty(actual)
	case workflow.OpIsNotEmpty:
		return !isEmpty(actual)
	case workflow.OpEquals:
		return looseEqual(actual, value)
	case workflow.OpNotEquals:
		return !looseEqual(actual, value)
	case workflow.OpContains:
		return contains(actual, value)
	case workflow.OpGreaterThan:
		return compare(actual, value) > 0
	case workflow.OpLessThan:
		return compare(actual, value) < 0
	}
	return false
}

func isEmpty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []interface{}:
		return len(t) == 0
	case map[string]interface{}:
		return len(t) == 0
	}
	return false
}

func looseEqual(a, b interface{}) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return asString(a) == asString(b)
}

func contains(haystack, needle interface{}) bool {
	switch t := haystack.(type) {
	case string:
		return strings.Contains(t, asString(needle))
	case []interface{}:
		for _, item := range t {
			if looseEqual(item, needle) {
				return true
			}
		}
		return false
	}
	return false
}

func compare(a, b interface{}) int {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	return strings.Compare(asString(a), asString(b))
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	return 0, false
}

func asString(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
