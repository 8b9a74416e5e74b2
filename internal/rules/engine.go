// Package rules evaluates JSON predicate trees against transaction facts
// and selects the winning trigger rule per report family.
package rules

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/siamfx/naga/internal/domain"
)

// Evaluate interprets a rule tree against a fact. Malformed trees yield a
// rule-schema error, never an accidental match.
func Evaluate(node *domain.RuleNode, fact *domain.Fact) (bool, error) {
	ok, _, err := EvaluateWithTrace(node, fact)
	return ok, err
}

// EvaluateWithTrace interprets a rule tree and records every atomic
// comparison it visited with the actual fact value. The boolean result is
// always the projection of the trace's logic.
func EvaluateWithTrace(node *domain.RuleNode, fact *domain.Fact) (bool, *domain.Trace, error) {
	trace := &domain.Trace{}
	ok, err := evalNode(node, fact, trace)
	if err != nil {
		return false, nil, err
	}
	return ok, trace, nil
}

// Validate checks a rule tree structurally: known logic, known operators,
// fields present in the fact schema, list operands where required.
func Validate(node *domain.RuleNode) error {
	if node == nil {
		return domain.ErrRuleSchema("empty expression", nil)
	}
	if node.IsGroup() {
		if node.Logic != domain.LogicAnd && node.Logic != domain.LogicOr {
			return domain.ErrRuleSchema(fmt.Sprintf("unknown logic %q", node.Logic), nil)
		}
		if len(node.Conditions) == 0 {
			return domain.ErrRuleSchema("group has no conditions", nil)
		}
		for _, child := range node.Conditions {
			if err := Validate(child); err != nil {
				return err
			}
		}
		return nil
	}

	if node.Field == "" {
		return domain.ErrRuleSchema("atom missing field", nil)
	}
	if !domain.FactFields[node.Field] {
		return domain.ErrRuleSchema(fmt.Sprintf("unknown field %q", node.Field), nil)
	}
	switch node.Operator {
	case domain.OpEq, domain.OpNeq, domain.OpGt, domain.OpGte, domain.OpLt, domain.OpLte:
	case domain.OpIn, domain.OpNotIn:
		if _, ok := node.Value.([]any); !ok {
			return domain.ErrRuleSchema(node.Operator+" requires a list value", nil)
		}
	case domain.OpBetween:
		list, ok := node.Value.([]any)
		if !ok || len(list) != 2 {
			return domain.ErrRuleSchema("between requires [lo, hi]", nil)
		}
	case "":
		return domain.ErrRuleSchema("atom missing operator", nil)
	default:
		return domain.ErrRuleSchema(fmt.Sprintf("unknown operator %q", node.Operator), nil)
	}
	return nil
}

func evalNode(node *domain.RuleNode, fact *domain.Fact, trace *domain.Trace) (bool, error) {
	if node == nil {
		return false, domain.ErrRuleSchema("empty expression", nil)
	}

	if node.IsGroup() {
		switch node.Logic {
		case domain.LogicAnd:
			for _, child := range node.Conditions {
				ok, err := evalNode(child, fact, trace)
				if err != nil {
					return false, err
				}
				if !ok {
					return false, nil
				}
			}
			return true, nil
		case domain.LogicOr:
			for _, child := range node.Conditions {
				ok, err := evalNode(child, fact, trace)
				if err != nil {
					return false, err
				}
				if ok {
					return true, nil
				}
			}
			return false, nil
		default:
			return false, domain.ErrRuleSchema(fmt.Sprintf("unknown logic %q", node.Logic), nil)
		}
	}

	if node.Operator == "" {
		return false, domain.ErrRuleSchema("atom missing operator", nil)
	}

	actual, _ := fact.Get(node.Field)
	ok, err := compare(actual, node.Operator, node.Value)
	if err != nil {
		return false, err
	}

	at := domain.AtomTrace{
		Field:    node.Field,
		Operator: node.Operator,
		Value:    node.Value,
		Actual:   exportValue(actual),
	}
	if ok {
		trace.Matched = append(trace.Matched, at)
	} else {
		trace.Unmatched = append(trace.Unmatched, at)
	}
	return ok, nil
}

// compare applies one operator. A nil actual only ever matches == / != and
// contributes false under every ordering or membership operator.
func compare(actual any, operator string, expected any) (bool, error) {
	switch operator {
	case domain.OpEq:
		return equalValues(actual, expected), nil
	case domain.OpNeq:
		return !equalValues(actual, expected), nil
	}

	if actual == nil {
		return false, nil
	}

	switch operator {
	case domain.OpGt, domain.OpGte, domain.OpLt, domain.OpLte:
		a, aok := toDecimal(actual)
		b, bok := toDecimal(expected)
		if !aok || !bok {
			return false, nil
		}
		switch operator {
		case domain.OpGt:
			return a.GreaterThan(b), nil
		case domain.OpGte:
			return a.GreaterThanOrEqual(b), nil
		case domain.OpLt:
			return a.LessThan(b), nil
		default:
			return a.LessThanOrEqual(b), nil
		}

	case domain.OpIn, domain.OpNotIn:
		list, ok := expected.([]any)
		if !ok {
			return false, domain.ErrRuleSchema(operator+" requires a list value", nil)
		}
		found := false
		for _, item := range list {
			if equalValues(actual, item) {
				found = true
				break
			}
		}
		if operator == domain.OpIn {
			return found, nil
		}
		return !found, nil

	case domain.OpBetween:
		list, ok := expected.([]any)
		if !ok || len(list) != 2 {
			return false, domain.ErrRuleSchema("between requires [lo, hi]", nil)
		}
		a, aok := toDecimal(actual)
		lo, lok := toDecimal(list[0])
		hi, hok := toDecimal(list[1])
		if !aok || !lok || !hok {
			return false, nil
		}
		return a.GreaterThanOrEqual(lo) && a.LessThanOrEqual(hi), nil

	default:
		return false, domain.ErrRuleSchema(fmt.Sprintf("unknown operator %q", operator), nil)
	}
}

// equalValues compares with numeric coercion first, then exact match on
// strings and booleans. Strings are case-sensitive.
func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ad, aok := toDecimal(a); aok {
		if bd, bok := toDecimal(b); bok {
			return ad.Equal(bd)
		}
		return false
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return false
}

// toDecimal coerces numeric representations, including string decimals,
// into an exact decimal. Non-numeric strings fail the coercion.
func toDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, true
	case float64:
		return decimal.NewFromFloat(n), true
	case float32:
		return decimal.NewFromFloat32(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case string:
		d, err := decimal.NewFromString(n)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	}
	return decimal.Zero, false
}

// exportValue converts decimals to strings so traces marshal exactly.
func exportValue(v any) any {
	if d, ok := v.(decimal.Decimal); ok {
		return d.String()
	}
	return v
}
