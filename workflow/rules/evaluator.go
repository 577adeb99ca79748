package rules

import (
	"fmt"
	"reflect"
	"strings"
)

// View is the merged {data, metadata} JSON-like view a Rule is evaluated
// against. Both maps are searched by dot-separated path; data takes
// precedence on key collision.
type View struct {
	Data     map[string]any
	Metadata map[string]any
}

// Lookup resolves a dot-separated path, e.g. "author.name", first against
// Data then Metadata. ok is false if any segment is missing.
func (v View) Lookup(path string) (any, bool) {
	if val, ok := lookupIn(v.Data, path); ok {
		return val, true
	}
	return lookupIn(v.Metadata, path)
}

func lookupIn(m map[string]any, path string) (any, bool) {
	if m == nil {
		return nil, false
	}
	segments := strings.Split(path, ".")
	var cur any = m
	for _, seg := range segments {
		asMap, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = asMap[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Evaluate walks the Rule tree against view, producing a Result with a
// per-child explanation trail. And/Or short-circuit but still record every
// child visited before the short-circuit point, matching the reference
// engine's "still collect per-child results" contract.
func Evaluate(rule Rule, view View) Result {
	switch rule.Kind {
	case KindAnd:
		return evalAnd(rule, view)
	case KindOr:
		return evalOr(rule, view)
	case KindNot:
		return evalNot(rule, view)
	case KindFieldExists:
		return evalFieldExists(rule, view)
	case KindFieldEquals:
		return evalFieldEquals(rule, view)
	case KindFieldGreaterThan:
		return evalFieldCompare(rule, view, true)
	case KindFieldLessThan:
		return evalFieldCompare(rule, view, false)
	case KindFieldMatches:
		return evalFieldMatches(rule, view)
	default:
		return Result{RuleID: rule.ID, Passed: false, Explanation: fmt.Sprintf("unknown rule kind %q", rule.Kind)}
	}
}

func evalAnd(rule Rule, view View) Result {
	sub := make([]SubResult, 0, len(rule.Children))
	passed := true
	for _, child := range rule.Children {
		cr := Evaluate(child, view)
		sub = append(sub, SubResult{RuleID: cr.RuleID, Passed: cr.Passed})
		if !cr.Passed {
			passed = false
			break
		}
	}
	explanation := "all children passed"
	if !passed {
		explanation = fmt.Sprintf("child %q failed", sub[len(sub)-1].RuleID)
	}
	return Result{RuleID: rule.ID, Passed: passed, Explanation: explanation, SubResults: sub}
}

func evalOr(rule Rule, view View) Result {
	sub := make([]SubResult, 0, len(rule.Children))
	passed := false
	for _, child := range rule.Children {
		cr := Evaluate(child, view)
		sub = append(sub, SubResult{RuleID: cr.RuleID, Passed: cr.Passed})
		if cr.Passed {
			passed = true
			break
		}
	}
	explanation := "no child passed"
	if passed {
		explanation = fmt.Sprintf("child %q passed", sub[len(sub)-1].RuleID)
	}
	return Result{RuleID: rule.ID, Passed: passed, Explanation: explanation, SubResults: sub}
}

func evalNot(rule Rule, view View) Result {
	if rule.Child == nil {
		return Result{RuleID: rule.ID, Passed: false, Explanation: "not rule missing child"}
	}
	cr := Evaluate(*rule.Child, view)
	return Result{
		RuleID:      rule.ID,
		Passed:      !cr.Passed,
		Explanation: fmt.Sprintf("negation of %q (%v)", cr.RuleID, cr.Passed),
		SubResults:  []SubResult{{RuleID: cr.RuleID, Passed: cr.Passed}},
	}
}

func evalFieldExists(rule Rule, view View) Result {
	_, ok := view.Lookup(rule.Path)
	explanation := fmt.Sprintf("%s exists", rule.Path)
	if !ok {
		explanation = "path not found"
	}
	return Result{RuleID: rule.ID, Passed: ok, Explanation: explanation}
}

func evalFieldEquals(rule Rule, view View) Result {
	val, ok := view.Lookup(rule.Path)
	if !ok {
		return Result{RuleID: rule.ID, Passed: false, Explanation: "path not found"}
	}
	passed := reflect.DeepEqual(val, rule.Value)
	explanation := fmt.Sprintf("%v == %v", val, rule.Value)
	if !passed {
		explanation = fmt.Sprintf("%v != %v", val, rule.Value)
	}
	return Result{RuleID: rule.ID, Passed: passed, Explanation: explanation}
}

func evalFieldCompare(rule Rule, view View, greaterThan bool) Result {
	val, ok := view.Lookup(rule.Path)
	if !ok {
		return Result{RuleID: rule.ID, Passed: false, Explanation: "path not found"}
	}
	n, ok := numberCoerce(val)
	if !ok {
		return Result{RuleID: rule.ID, Passed: false, Explanation: fmt.Sprintf("%v is not numeric", val)}
	}
	var passed bool
	var op string
	if greaterThan {
		passed = n > rule.Number
		op = ">"
	} else {
		passed = n < rule.Number
		op = "<"
	}
	return Result{RuleID: rule.ID, Passed: passed, Explanation: fmt.Sprintf("%v %s %v: %v", n, op, rule.Number, passed)}
}

func evalFieldMatches(rule Rule, view View) Result {
	val, ok := view.Lookup(rule.Path)
	if !ok {
		return Result{RuleID: rule.ID, Passed: false, Explanation: "path not found"}
	}
	str, ok := val.(string)
	if !ok {
		return Result{RuleID: rule.ID, Passed: false, Explanation: fmt.Sprintf("%v is not a string", val)}
	}
	if rule.regex == nil {
		return Result{RuleID: rule.ID, Passed: false, Explanation: "rule not compiled"}
	}
	passed := rule.regex.MatchString(str)
	return Result{RuleID: rule.ID, Passed: passed, Explanation: fmt.Sprintf("%q matches %s: %v", str, rule.Pattern, passed)}
}
