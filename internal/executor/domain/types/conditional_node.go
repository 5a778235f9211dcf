package types

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/flowgraph-go/pkg/mapping"
)

// Condition compares one context field against a value.
type Condition struct {
	Field    string      `mapstructure:"field" validate:"required"`
	Operator string      `mapstructure:"operator" validate:"required"`
	Value    interface{} `mapstructure:"value"`
}

type conditionNodeConfig struct {
	Conditions  []Condition `mapstructure:"conditions" validate:"required,min=1,dive"`
	CombineMode string      `mapstructure:"combine_mode" validate:"omitempty,oneof=and or"`
}

// ConditionNodeExecutor evaluates conditions against the context and reports which branch holds.
// Edges are not pruned by the result; downstream nodes read "result" or "branch".
type ConditionNodeExecutor struct{}

func NewConditionNodeExecutor() *ConditionNodeExecutor {
	return &ConditionNodeExecutor{}
}

func (e *ConditionNodeExecutor) Execute(ctx context.Context, req *Request) (map[string]interface{}, error) {
	var cfg conditionNodeConfig
	if err := DecodeConfig(req.Node.Config, &cfg); err != nil {
		return nil, err
	}

	results := make([]interface{}, len(cfg.Conditions))
	final := cfg.CombineMode != "or"
	for i, cond := range cfg.Conditions {
		fieldValue, _ := mapping.Lookup(req.Context, cond.Field)
		ok, err := evaluateCondition(fieldValue, cond.Operator, cond.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate condition %d: %w", i, err)
		}
		results[i] = ok
		if cfg.CombineMode == "or" {
			final = final || ok
		} else {
			final = final && ok
		}
	}

	branch := "false"
	if final {
		branch = "true"
	}

	return map[string]interface{}{
		"result":     final,
		"branch":     branch,
		"conditions": results,
	}, nil
}

func evaluateCondition(fieldValue interface{}, operator string, value interface{}) (bool, error) {
	switch operator {
	case "equals", "==", "eq":
		return fmt.Sprint(fieldValue) == fmt.Sprint(value), nil
	case "notEquals", "!=", "ne":
		return fmt.Sprint(fieldValue) != fmt.Sprint(value), nil
	case "contains":
		return strings.Contains(fmt.Sprint(fieldValue), fmt.Sprint(value)), nil
	case "greaterThan", ">", "gt":
		return compareNumbers(fieldValue, value, func(a, b float64) bool { return a > b }), nil
	case "lessThan", "<", "lt":
		return compareNumbers(fieldValue, value, func(a, b float64) bool { return a < b }), nil
	case "greaterThanOrEqual", ">=", "gte":
		return compareNumbers(fieldValue, value, func(a, b float64) bool { return a >= b }), nil
	case "lessThanOrEqual", "<=", "lte":
		return compareNumbers(fieldValue, value, func(a, b float64) bool { return a <= b }), nil
	case "isEmpty":
		return isEmpty(fieldValue), nil
	case "isNotEmpty":
		return !isEmpty(fieldValue), nil
	case "in":
		return compareIn(fieldValue, value), nil
	case "regex", "matches":
		re, err := regexp.Compile(fmt.Sprint(value))
		if err != nil {
			return false, err
		}
		return re.MatchString(fmt.Sprint(fieldValue)), nil
	default:
		return false, fmt.Errorf("unknown operator: %s", operator)
	}
}

func toFloat64(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func compareNumbers(a, b interface{}, cmp func(a, b float64) bool) bool {
	aNum, ok1 := toFloat64(a)
	bNum, ok2 := toFloat64(b)
	return ok1 && ok2 && cmp(aNum, bNum)
}

func isEmpty(v interface{}) bool {
	if v == nil {
		return true
	}
	val := reflect.ValueOf(v)
	switch val.Kind() {
	case reflect.String, reflect.Array, reflect.Slice, reflect.Map:
		return val.Len() == 0
	default:
		return false
	}
}

func compareIn(a, b interface{}) bool {
	list, ok := b.([]interface{})
	if !ok {
		return false
	}
	needle := fmt.Sprint(a)
	for _, item := range list {
		if fmt.Sprint(item) == needle {
			return true
		}
	}
	return false
}
