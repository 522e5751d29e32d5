package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/atelierops/pulse/model"
)

// MatchesTrigger reports whether an event should start a workflow from the
// given template: the entity type and event name must match and every
// condition must hold. An empty condition list always holds.
func MatchesTrigger(spec model.TriggerSpec, entityType, event string, entity map[string]any) bool {
	if spec.EntityType != entityType || spec.Event != event {
		return false
	}
	return CheckConditions(spec.Conditions, entity)
}

// CheckConditions evaluates all conditions against an entity's fields.
// A missing field fails its condition rather than erroring.
func CheckConditions(conds []model.TriggerCondition, entity map[string]any) bool {
	for _, c := range conds {
		if !checkCondition(c, entity) {
			return false
		}
	}
	return true
}

func checkCondition(c model.TriggerCondition, entity map[string]any) bool {
	actual, ok := entity[c.Field]
	if !ok {
		return false
	}

	switch c.Operator {
	case "equals":
		return equalValues(actual, c.Value)
	case "not_equals":
		return !equalValues(actual, c.Value)
	case "in":
		return inList(actual, c.Value)
	case "not_in":
		return !inList(actual, c.Value)
	case "gt":
		a, aok := toFloat(actual)
		b, bok := toFloat(c.Value)
		return aok && bok && a > b
	case "lt":
		a, aok := toFloat(actual)
		b, bok := toFloat(c.Value)
		return aok && bok && a < b
	case "contains":
		return strings.Contains(asString(actual), asString(c.Value))
	default:
		return false
	}
}

// equalValues compares numerically when both sides are numbers, otherwise
// by string form. YAML and JSON decode numbers into different Go types, so
// a direct == is too strict.
func equalValues(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return asString(a) == asString(b)
}

func inList(actual, list any) bool {
	items, ok := list.([]any)
	if !ok {
		return false
	}
	for _, item := range items {
		if equalValues(actual, item) {
			return true
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
